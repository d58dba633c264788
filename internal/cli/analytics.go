package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query run history analytics",
}

// withAnalyticsDB opens the database for an analytics subcommand.
func withAnalyticsDB(fn func(cmd *cobra.Command, d analytics.DB, since string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		since, _ := cmd.Flags().GetString("since")
		return fn(cmd, d, since)
	}
}

var analyticsRewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Reward average, median, min and max over scored runs",
	RunE: withAnalyticsDB(func(cmd *cobra.Command, d analytics.DB, since string) error {
		stats, err := analytics.QueryRewardStats(d, since)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, stats)
		}
		if stats.Scored == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scored runs.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORED\tCLEAN\tAVG\tP50\tMIN\tMAX")
		fmt.Fprintf(w, "%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n", stats.Scored, stats.Clean, stats.Avg, stats.P50, stats.Min, stats.Max)
		return w.Flush()
	}),
}

var analyticsOutcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Run counts per final status",
	RunE: withAnalyticsDB(func(cmd *cobra.Command, d analytics.DB, since string) error {
		results, err := analytics.QueryRunOutcomes(d, since)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tRUNS\tPCT")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", r.Status, r.Count, r.Pct)
		}
		return w.Flush()
	}),
}

var analyticsCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Model call latency, retries and failures per role",
	RunE: withAnalyticsDB(func(cmd *cobra.Command, d analytics.DB, since string) error {
		results, err := analytics.QueryCallLatency(d, since)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLE\tCALLS\tFAILED\tRETRIED\tAVG_MS\tP50_MS\tP95_MS\tTOKENS_IN\tTOKENS_OUT")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\t%.1f\t%.1f\t%d\t%d\n",
				r.Role, r.Calls, r.Failed, r.Retried, r.AvgMs, r.P50Ms, r.P95Ms, r.PromptTokens, r.CompletionTokens)
		}
		return w.Flush()
	}),
}

var analyticsChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "Check runs and failure rates",
	RunE: withAnalyticsDB(func(cmd *cobra.Command, d analytics.DB, since string) error {
		results, err := analytics.QueryCheckStats(d, since)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tRUNS\tFAILED\tFAIL%\tAVG_MS")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\n", r.CheckName, r.Runs, r.Failed, r.FailRate, r.AvgMs)
		}
		return w.Flush()
	}),
}

func init() {
	for _, c := range []*cobra.Command{analyticsRewardsCmd, analyticsOutcomesCmd, analyticsCallsCmd, analyticsChecksCmd} {
		c.Flags().String("since", "", "Only include entries at or after this timestamp (e.g. 2026-01-01)")
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
}
