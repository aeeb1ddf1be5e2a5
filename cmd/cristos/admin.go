package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantsdigitaldev/cristos/internal/identity"
	"github.com/giantsdigitaldev/cristos/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			// Migrations run on open.
			ds, err := store.New(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer ds.Close()

			v, err := ds.SchemaVersion()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %s\n", cfg.DBPath, v)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var u identity.User
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user so conversations can start for them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ds, err := store.New(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer ds.Close()

			created, err := identity.NewStore(ds, logger).CreateUser(cmd.Context(), u)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created user %s\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&u.ID, "id", "", "User id")
	cmd.Flags().StringVar(&u.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&u.DisplayName, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
