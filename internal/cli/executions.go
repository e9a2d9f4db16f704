package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/notify"
)

var executionsCmd = &cobra.Command{
	Use:   "executions [pipeline-id]",
	Short: "Show recent executions of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "pipeline")
		if err != nil {
			return err
		}
		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := d.GetPipeline(cmd.Context(), id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("pipeline %d not found", id)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		execs, err := d.ListExecutions(cmd.Context(), id, limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if execs == nil {
				execs = []db.Execution{}
			}
			data, _ := json.MarshalIndent(execs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if len(execs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No executions recorded for %s.\n", p.Name)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-6s %-12s %-10s %-9s %-20s %-8s %s\n", "BUILD", "RUN", "STATUS", "DURATION", "BRANCH", "COMMIT", "STARTED")
		fmt.Fprintf(w, "%-6s %-12s %-10s %-9s %-20s %-8s %s\n",
			strings.Repeat("-", 6),
			strings.Repeat("-", 12),
			strings.Repeat("-", 10),
			strings.Repeat("-", 9),
			strings.Repeat("-", 20),
			strings.Repeat("-", 8),
			strings.Repeat("-", 7))
		for _, e := range execs {
			commit := e.CommitHash
			if len(commit) > 7 {
				commit = commit[:7]
			}
			started := ""
			if e.StartedAt != nil {
				started = e.StartedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%-6d %-12s %-10s %-9s %-20s %-8s %s\n",
				e.BuildNumber, truncate(e.ExternalID, 12), e.Status, notify.FormatDuration(e.DurationSeconds),
				truncate(e.Branch, 20), commit, started)
		}
		return nil
	},
}

func init() {
	executionsCmd.Flags().Int("limit", 20, "maximum executions to show (0 for all)")
	executionsCmd.Flags().String("format", "table", "output format: table or json")
}
