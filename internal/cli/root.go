package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	verbose    bool
	logger     = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge: plan, write, review and lint a single source file with LLM agents",
	Long: `forge turns a requirements document into one source file.

A planner drafts a plan, an extractor structures it into tasks, and for every
task a developer writes the file and a reviewer corrects it. The final file is
written once and scored by static analysis (ESLint by default):
reward = 1 - sum of per-diagnostic penalties.

All state is stored in ~/.forge/ (SQLite or PostgreSQL for events, JSON for artifacts).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to forge.yaml (default: ./forge.yaml, then ~/.forge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
}
