package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/analytics"
	"github.com/lucasnoah/codeforge/internal/pipeline"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore(cfg.Pipeline.StateDir)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := store.List(statusFilter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTASKS\tFILE\tREWARD\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.CurrentTask, r.TaskCount, r.Filename, formatReward(r.Reward), r.CreatedAt)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's state and timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore(cfg.Pipeline.StateDir)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		timeline, err := analytics.QueryRunDetail(d, rs.ID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, map[string]interface{}{"run": rs, "timeline": timeline})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", rs.ID)
		fmt.Fprintf(w, "Status:   %s\n", rs.Status)
		fmt.Fprintf(w, "Source:   %s\n", rs.Source)
		fmt.Fprintf(w, "Tasks:    %d/%d\n", rs.CurrentTask, rs.TaskCount)
		if rs.OutputPath != "" {
			fmt.Fprintf(w, "Output:   %s\n", rs.OutputPath)
		}
		fmt.Fprintf(w, "Reward:   %s\n", formatReward(rs.Reward))
		if rs.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", rs.Error)
		}
		fmt.Fprintf(w, "Artifacts: %s\n", store.RunDir(rs.ID))

		if len(rs.TaskHistory) > 0 {
			fmt.Fprintln(w, "\nTasks:")
			for _, h := range rs.TaskHistory {
				changed := ""
				if h.Changed {
					changed = " (reviewer edited)"
				}
				fmt.Fprintf(w, "  %d. %s%s\n", h.Task, truncate(h.Description, 60), changed)
			}
		}

		if len(timeline) > 0 {
			fmt.Fprintln(w, "\nTimeline:")
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, e := range timeline {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.Timestamp, e.Type, e.Event, e.Detail)
			}
			return tw.Flush()
		}
		return nil
	},
}

func formatReward(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *r)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func init() {
	runsListCmd.Flags().String("status", "", "Filter by status")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsShowCmd.Flags().String("format", "text", "Output format: text or json")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
