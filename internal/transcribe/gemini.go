package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
)

const defaultGeminiModel = "gemini-2.5-flash"

const transcribeInstruction = `Transcribe the attached audio verbatim.
Respond with a single JSON object and nothing else:
{"text": "<transcript>", "language": "<BCP-47 code>", "confidence": <0..1>, "duration_ms": <audio length in ms>}
If nothing intelligible was said, use an empty text.`

// contentGenerator is the slice of *genai.Models the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider transcribes audio with a Gemini multimodal model.
type GeminiProvider struct {
	models contentGenerator
	model  string
	logger zerolog.Logger
}

// NewGeminiProvider creates a provider against the Gemini API.
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiProvider(client.Models, model, logger), nil
}

func newGeminiProvider(models contentGenerator, model string, logger zerolog.Logger) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		models: models,
		model:  model,
		logger: logger.With().Str("component", "gemini").Logger(),
	}
}

func (p *GeminiProvider) ModelID() string { return p.model }

// Transcribe sends the audio inline with the instruction.
func (p *GeminiProvider) Transcribe(ctx context.Context, audio Audio, opts Options) (*Transcript, error) {
	instruction := transcribeInstruction
	if opts.Language != "" {
		instruction += "\nThe speaker is expected to use " + opts.Language + "."
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromBytes(audio.Data, audio.MIMEType),
		}, genai.RoleUser),
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("gemini: nil response: %w", perrors.ErrUnavailable)
	}
	return parseTranscript(resp.Text()), nil
}

type geminiTranscript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
}

// parseTranscript reads the JSON reply. A reply that is not JSON is taken
// as the transcript itself with unknown confidence.
func parseTranscript(raw string) *Transcript {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")
	raw = strings.TrimSpace(raw)

	var gt geminiTranscript
	if err := json.Unmarshal([]byte(raw), &gt); err != nil {
		return &Transcript{Text: raw}
	}
	conf := gt.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &Transcript{
		Text:       strings.TrimSpace(gt.Text),
		Language:   gt.Language,
		Confidence: conf,
		DurationMs: gt.DurationMs,
	}
}

// classify maps genai failures onto the retryable taxonomy.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(perrors.ErrTimeout, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w: %v", perrors.ErrUnavailable, err)
	}
	e := perrors.NewAPIError("gemini", apiErr.Code, apiErr.Message)
	if apiErr.Code == 401 || apiErr.Code == 403 {
		e.Err = perrors.ErrAuthFailure
	}
	return e
}
