// Command consultx runs consultation practice sessions against simulated
// clients, either over HTTP or interactively in the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/config"
	"github.com/tetraminz/consultation_x/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "consultx",
		Short: "ConsultationX - consultation practice against simulated clients",
		Long: `ConsultationX generates realistic client scenarios, lets a trainee talk to
an AI persona over text chat, email or phone, and grades the finished
conversation against a six-category rubric.

Configuration is read from consultx.yaml (or --config / CONSULTX_CONFIG).
API keys come from GROQ_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY and
GEMINI_API_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development, c.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (default consultx.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.serveCmd(),
		c.scenarioCmd(),
		c.practiceCmd(),
		c.sessionsCmd(),
		c.scoreCmd(),
		c.reportCmd(),
		c.exportCmd(),
		c.importCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
