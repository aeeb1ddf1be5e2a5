package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/llm"
	"github.com/giantsdigitaldev/cristos/internal/prompt"
)

// Completer is the slice of llm.Client the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, cfg llm.Config) llm.Result
}

// Options tune the summarization policy.
type Options struct {
	// Threshold is the message count above which the log is summarized.
	Threshold int
	// KeepRecent is how many trailing messages survive summarization.
	KeepRecent int
	// MaxMessageChars clips each message before it reaches the model.
	MaxMessageChars int
	// SummaryWords caps the summary length requested from the model.
	SummaryWords int
	// CacheSize enables a summary cache with this many conversations.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultOptions summarizes past 10 messages and keeps the last 5.
func DefaultOptions() Options {
	return Options{
		Threshold:       10,
		KeepRecent:      5,
		MaxMessageChars: 2000,
		SummaryWords:    200,
	}
}

// Context is what a turn sees of the conversation.
type Context struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
	// Total is the full log length before trimming.
	Total int `json:"total"`
	// Degraded is set when summarization failed and Summary is a placeholder.
	Degraded bool `json:"degraded,omitempty"`
}

// Memory builds conversation context for the assembly prompt.
type Memory struct {
	log    Log
	model  Completer
	pack   *prompt.Pack
	opts   Options
	cache  *summaryCache
	logger zerolog.Logger
}

// New creates a Memory. model may be nil, in which case long conversations
// get the fallback summary.
func New(log Log, model Completer, pack *prompt.Pack, opts Options, logger zerolog.Logger) *Memory {
	d := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = d.Threshold
	}
	if opts.KeepRecent <= 0 {
		opts.KeepRecent = d.KeepRecent
	}
	if opts.KeepRecent > opts.Threshold {
		opts.KeepRecent = opts.Threshold
	}
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = d.MaxMessageChars
	}
	if opts.SummaryWords <= 0 {
		opts.SummaryWords = d.SummaryWords
	}
	m := &Memory{
		log:    log,
		model:  model,
		pack:   pack,
		opts:   opts,
		logger: logger.With().Str("component", "memory").Logger(),
	}
	if opts.CacheSize > 0 {
		m.cache = newSummaryCache(opts.CacheSize, opts.CacheTTL)
	}
	return m
}

// GetMemory returns the conversation log, or a summary plus the most recent
// messages once the log is longer than the threshold. A failed summary
// degrades to a placeholder; only a log read failure is an error.
func (m *Memory) GetMemory(ctx context.Context, conversationID string) (*Context, error) {
	if conversationID == "" {
		return &Context{}, nil
	}
	msgs, err := m.log.List(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	for i := range msgs {
		msgs[i].Content = clip(msgs[i].Content, m.opts.MaxMessageChars)
	}

	out := &Context{Messages: msgs, Total: len(msgs)}
	if len(msgs) <= m.opts.Threshold {
		return out, nil
	}

	out.Messages = msgs[len(msgs)-min(m.opts.KeepRecent, len(msgs)):]

	if m.cache != nil {
		if s, ok := m.cache.get(conversationID, len(msgs)); ok {
			out.Summary = s
			return out, nil
		}
	}

	summary, err := m.summarize(ctx, msgs)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("conversation_id", conversationID).
			Int("messages", len(msgs)).
			Msg("summarization failed, using placeholder")
		out.Summary = m.pack.SummaryFallback
		out.Degraded = true
		return out, nil
	}

	out.Summary = summary
	if m.cache != nil {
		m.cache.put(conversationID, len(msgs), summary)
	}
	return out, nil
}

func (m *Memory) summarize(ctx context.Context, msgs []Message) (string, error) {
	if m.model == nil {
		return "", fmt.Errorf("no language model configured")
	}
	in := prompt.SummaryInput{MaxWords: m.opts.SummaryWords}
	for _, msg := range msgs {
		in.Messages = append(in.Messages, prompt.Message{Role: msg.Role, Content: msg.Content})
	}
	text, err := m.pack.RenderSummary(in)
	if err != nil {
		return "", err
	}

	res := m.model.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: text}}, llm.Config{
		// Roughly 1.5 tokens per word plus slack.
		MaxTokens:   m.opts.SummaryWords*2 + 64,
		Temperature: 0.2,
	})
	if !res.Success {
		return "", res.Err
	}
	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// clip shortens s to max runes, marking the cut.
func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
