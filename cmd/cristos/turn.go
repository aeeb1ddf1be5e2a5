package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantsdigitaldev/cristos/internal/assembly"
)

func newTurnCmd() *cobra.Command {
	var (
		userID         string
		conversationID string
		showState      bool
	)
	cmd := &cobra.Command{
		Use:   "turn [text]",
		Short: "Run one conversation turn and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Cover images are generated by serve; turns here only record the job.
			res, err := a.engine.ProcessTurn(cmd.Context(), assembly.TurnInput{
				UserID:         userID,
				ConversationID: conversationID,
				Text:           strings.Join(args, " "),
				Source:         assembly.SourceText,
			})
			if res != nil && !showState {
				res.State = nil
			}
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (must exist, see `cristos user add`)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (empty uses the user's latest assembly)")
	cmd.Flags().BoolVar(&showState, "state", false, "Include the full assembly state in the output")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
