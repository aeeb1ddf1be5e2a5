package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantsdigitaldev/cristos/internal/httpapi"
	"github.com/giantsdigitaldev/cristos/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the cover image workers and retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info().
				Str("environment", cfg.Environment).
				Str("addr", cfg.ListenAddr).
				Str("auth_mode", cfg.APIAuthMode).
				Bool("llm_enabled", cfg.LLMEnabled()).
				Bool("transcription_enabled", cfg.TranscriptionEnabled()).
				Bool("image_webhook_enabled", cfg.ImageWebhookEnabled()).
				Msg("starting cristos")

			var vs httpapi.VoiceService
			if a.voice != nil {
				vs = a.voice
			}
			srv := httpapi.NewServer(httpapi.ServerConfig{
				ListenAddr: cfg.ListenAddr,
				Auth: httpapi.AuthConfig{
					Mode:      cfg.APIAuthMode,
					APIKey:    cfg.APIKey,
					JWTSecret: cfg.JWTSecret,
				},
				RateLimit:   httpapi.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
				CORSOrigins: cfg.CORSOriginList(),
				BodyLimit:   cfg.MaxAudioBytes + 64<<10,
			}, a.engine, vs, a.checker, a.metrics, logger)

			a.images.Start(ctx)
			defer a.images.Stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				return srv.Shutdown()
			})
			g.Go(func() error {
				runRetention(gctx, a, store.RetentionPolicy{
					VoiceSessions: cfg.VoiceRetention,
					ImageJobs:     cfg.ImageJobRetention,
				})
				return nil
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("server stopped with error")
				return err
			}
			logger.Info().Msg("shutdown complete")
			return nil
		},
	}
}

// runRetention prunes finished voice sessions and image jobs until ctx ends.
func runRetention(ctx context.Context, a *app, p store.RetentionPolicy) {
	interval := a.cfg.RetentionInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ds.RunRetention(ctx, p); err != nil {
				a.logger.Warn().Err(err).Msg("retention run failed")
				continue
			}
			if size, err := a.ds.DBSizeBytes(); err == nil {
				a.logger.Debug().Int64("db_size_bytes", size).Msg("retention complete")
			}
		}
	}
}
