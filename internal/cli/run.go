package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/config"
	"github.com/lucasnoah/codeforge/internal/orchestrator"
	"github.com/lucasnoah/codeforge/internal/reward"
)

var runCmd = &cobra.Command{
	Use:   "run [requirements-file | -]",
	Short: "Plan, write, review and score one source file",
	Long: `Reads requirements from a file, or from standard input when the argument
is "-" or omitted, and runs the whole pipeline. The final file is written to
output_dir (or --out) and scored; the reward is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requirements, source, err := readRequirements(cmd, args)
		if err != nil {
			return err
		}

		deps, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := runContext(cmd, deps.cfg)
		defer cancel()

		out, _ := cmd.Flags().GetString("out")
		res, err := deps.orch.Run(ctx, orchestrator.RunOpts{
			Requirements: requirements,
			Source:       source,
			OutputDir:    out,
		})
		if err != nil && !errors.Is(err, reward.ErrScoringUnavailable) {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if jerr := writeJSON(cmd, res); jerr != nil {
				return jerr
			}
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:    %s\n", res.RunID)
		fmt.Fprintf(w, "Tasks:  %d\n", len(res.Tasks))
		fmt.Fprintf(w, "Output: %s\n", res.OutputPath)
		if err != nil {
			fmt.Fprintf(w, "Reward: unavailable (%v)\n", err)
			return err
		}
		fmt.Fprintf(w, "Reward: %.4f\n", res.Score.Reward)
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan [requirements-file | -]",
	Short: "Draft and extract the project plan without writing code",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requirements, source, err := readRequirements(cmd, args)
		if err != nil {
			return err
		}

		deps, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := runContext(cmd, deps.cfg)
		defer cancel()

		res, err := deps.orch.Plan(ctx, orchestrator.RunOpts{Requirements: requirements, Source: source})
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, res.Plan)
		}
		fmt.Fprint(cmd.OutOrStdout(), res.Plan.Markdown())
		return nil
	},
}

// readRequirements reads args[0], or stdin when it is "-" or absent.
func readRequirements(cmd *cobra.Command, args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		in := cmd.InOrStdin()
		if len(args) == 0 && isTerminal(in) {
			return "", "", errors.New("no requirements: pass a file, or pipe them on stdin (use - to type them)")
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "-", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("read requirements: %w", err)
	}
	return string(data), args[0], nil
}

// isTerminal reports whether r is a character device such as an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// runContext is canceled on SIGINT/SIGTERM or when run_timeout elapses.
func runContext(cmd *cobra.Command, cfg *config.PipelineConfig) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	timeout := config.ParseDuration(cfg.Pipeline.RunTimeout, 30*time.Minute)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func init() {
	runCmd.Flags().String("out", "", "output directory (overrides output_dir)")
	runCmd.Flags().String("format", "text", "Output format: text or json")
	planCmd.Flags().String("format", "markdown", "Output format: markdown or json")
}
