package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/client"
	"github.com/stemsi/exstem-attempt/internal/config"
)

func newShowCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <test-id>",
		Short: "Show a test before starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(cfg); err != nil {
				return err
			}
			testID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid test id: %w", err)
			}

			log := newLogger(cfg)
			api := client.New(cfg.APIBaseURL, cfg.StudentToken, cfg.HTTPTimeout, log)
			detail, err := api.FetchAttemptDetail(cmd.Context(), testID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", detail.Title)
			fmt.Fprintf(out, "  Thời gian: %s\n", formatClock(detail.TotalDurationSeconds))
			fmt.Fprintf(out, "  Số câu hỏi: %d\n", len(detail.Questions))
			if detail.MaxAttempts > 0 {
				fmt.Fprintf(out, "  Lượt làm: %d/%d\n", detail.AttemptNumber, detail.MaxAttempts)
			}
			if detail.Status != "" {
				fmt.Fprintf(out, "  Có lượt đang làm dở, còn %s. Dùng --resume để tiếp tục.\n", formatClock(detail.RemainingSeconds))
			}
			return nil
		},
	}
}
