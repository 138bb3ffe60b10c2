// Command examctl takes an assigned test from a terminal, with the simulation
// viewport served to a browser.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Take an ExStem test from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "attempt API base URL")
	root.PersistentFlags().StringVar(&cfg.StudentToken, "token", cfg.StudentToken, "student bearer token (STUDENT_TOKEN)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	root.AddCommand(newTakeCmd(cfg))
	root.AddCommand(newShowCmd(cfg))
	return root
}

// newLogger logs to stderr so the prompt owns stdout.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func requireToken(cfg *config.Config) error {
	if cfg.StudentToken == "" {
		return fmt.Errorf("no student token: pass --token or set STUDENT_TOKEN")
	}
	return nil
}
