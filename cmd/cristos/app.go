package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/assembly"
	"github.com/giantsdigitaldev/cristos/internal/config"
	"github.com/giantsdigitaldev/cristos/internal/health"
	"github.com/giantsdigitaldev/cristos/internal/identity"
	"github.com/giantsdigitaldev/cristos/internal/imagejob"
	"github.com/giantsdigitaldev/cristos/internal/llm"
	"github.com/giantsdigitaldev/cristos/internal/memory"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/project"
	"github.com/giantsdigitaldev/cristos/internal/prompt"
	"github.com/giantsdigitaldev/cristos/internal/retry"
	"github.com/giantsdigitaldev/cristos/internal/store"
	"github.com/giantsdigitaldev/cristos/internal/transcribe"
	"github.com/giantsdigitaldev/cristos/internal/voice"
)

// app is the wired service graph shared by serve and turn.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	ds      *store.Store
	metrics *metrics.Metrics
	images  *imagejob.Queue
	engine  *assembly.Engine
	voice   *voice.Service // nil without a transcription key
	checker *health.Checker
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	ds, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pack, err := loadPack(cfg)
	if err != nil {
		ds.Close()
		return nil, err
	}

	m := metrics.New()
	ids := identity.NewStore(ds, logger)
	projects := project.NewStore(ds, logger)
	states := assembly.NewSQLiteStateStore(ds, logger)

	var provider llm.Provider = llm.DisabledProvider{}
	if cfg.LLMEnabled() {
		opts := []llm.AnthropicOption{
			llm.WithModel(cfg.LLMModel),
			llm.WithMaxTokens(cfg.LLMMaxTokens),
			llm.WithTemperature(cfg.LLMTemperature),
			llm.WithLogger(logger),
		}
		if cfg.AnthropicBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.AnthropicBaseURL))
		}
		provider = llm.NewAnthropicProvider(cfg.AnthropicAPIKey, opts...)
	} else {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, turns will return the apology")
	}
	model := llm.NewClient(provider,
		llm.WithPolicy(cfg.ModelPolicy()),
		llm.WithDefaults(llm.Config{Model: cfg.LLMModel, MaxTokens: cfg.LLMMaxTokens, Temperature: cfg.LLMTemperature}),
		llm.WithClientLogger(logger),
		llm.WithMetrics(m),
	)

	msgLog := memory.NewSQLiteLog(ds)
	mem := memory.New(msgLog, model.ForPurpose("summary"), pack, memory.Options{
		Threshold:       cfg.MemoryThreshold,
		KeepRecent:      cfg.MemoryKeepRecent,
		MaxMessageChars: cfg.MemoryMaxChars,
		CacheSize:       cfg.MemoryCacheSize,
		CacheTTL:        cfg.MemoryCacheTTL,
	}, logger)

	var gen imagejob.Generator = imagejob.NewLogGenerator(logger)
	if cfg.ImageWebhookEnabled() {
		gen = imagejob.NewWebhookGenerator(cfg.ImageWebhookURL, cfg.ImageTimeout, retry.DefaultConfig(), logger)
	}
	images := imagejob.New(imagejob.Config{
		Workers:   cfg.ImageWorkers,
		QueueSize: cfg.ImageQueueSize,
		Timeout:   cfg.ImageTimeout,
	}, gen, projects, ds, m, logger)

	committer := assembly.NewCommitter(states, projects, images, m, logger)
	engine := assembly.NewEngine(assembly.Deps{
		States:    states,
		Identity:  ids,
		Memory:    mem,
		Log:       msgLog,
		Model:     model,
		Pack:      pack,
		Committer: committer,
		Metrics:   m,
		Logger:    logger,
	})

	checker := health.NewChecker(logger)
	checker.Register("store", health.Ping(ds))
	checker.Register("llm", health.Configured(cfg.LLMEnabled()))
	checker.Register("transcription", health.Configured(cfg.TranscriptionEnabled()))

	a := &app{
		cfg:     cfg,
		logger:  logger,
		ds:      ds,
		metrics: m,
		images:  images,
		engine:  engine,
		checker: checker,
	}

	if cfg.TranscriptionEnabled() {
		gp, err := transcribe.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.TranscribeModel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to init transcription (non-fatal), voice disabled")
		} else {
			tc := transcribe.NewClient(gp,
				transcribe.WithPolicy(cfg.TranscriptionPolicy()),
				transcribe.WithMaxBytes(cfg.MaxAudioBytes),
				transcribe.WithLogger(logger),
				transcribe.WithMetrics(m),
			)
			a.voice = voice.NewService(ds, tc, engine, ids, logger)
		}
	} else {
		logger.Info().Msg("GEMINI_API_KEY not set, voice sessions disabled")
	}

	return a, nil
}

func loadPack(cfg *config.Config) (*prompt.Pack, error) {
	if cfg.PromptsPath == "" {
		return prompt.Default()
	}
	return prompt.Load(cfg.PromptsPath)
}

func (a *app) Close() {
	if err := a.ds.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close store")
	}
}
