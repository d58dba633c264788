package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/checks"
	"github.com/lucasnoah/codeforge/internal/reward"
)

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score an existing file with the configured checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ctx, cancel := runContext(cmd, cfg)
		defer cancel()

		res, err := newScorer(cfg).Score(ctx, args[0])
		if err != nil {
			var uerr *reward.UnavailableError
			if errors.As(err, &uerr) && res != nil {
				for _, r := range res.Checks {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: exit %d\n%s", r.CheckName, r.ExitCode, r.Stderr)
				}
			}
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, res)
		}

		w := cmd.OutOrStdout()
		for _, d := range res.Diagnostics {
			fmt.Fprintf(w, "%s:%d:%d  %-7s  %s  %s\n", d.File, d.Line, d.Column, checks.SeverityName(d.Severity), d.Message, d.Rule)
		}
		for _, sev := range res.Severities() {
			fmt.Fprintf(w, "%d %s(s)\n", res.Counts[sev], checks.SeverityName(sev))
		}
		fmt.Fprintf(w, "Penalty: %.4f\nReward:  %.4f\n", res.Penalty, res.Reward)
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("format", "text", "Output format: text or json")
}
