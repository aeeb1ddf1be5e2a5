// Command cristos runs the conversational project-assembly service.
//
// Usage:
//
//	ANTHROPIC_API_KEY=sk-... cristos serve
//	cristos user add --id u1 --email ana@example.com
//	cristos turn --user u1 --conversation c1 "Help me clean my room"
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/giantsdigitaldev/cristos/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cristos",
		Short:        "Conversational project assembly service",
		SilenceUsage: true,
		Version:      version,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTurnCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUserCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")
	return cmd
}

// newLogger builds the process logger: JSON on stdout, console output in
// development, level from LOG_LEVEL.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}

// loadConfig loads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
