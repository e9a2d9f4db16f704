package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/poller"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every active pipeline once and apply what changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		token, _ := cmd.Flags().GetString("token")
		if _, err := a.seedCredentials(cmd.Context(), token); err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		defer a.credentials.ClearAll()

		var res *poller.Result
		if cmd.Flags().Changed("pipeline") {
			id, _ := cmd.Flags().GetInt64("pipeline")
			res, err = a.poller.PollPipeline(cmd.Context(), id)
		} else {
			res, err = a.poller.PollOnce(cmd.Context())
		}
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(res, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printPollResult(cmd, res)
		return nil
	},
}

func printPollResult(cmd *cobra.Command, res *poller.Result) {
	w := cmd.OutOrStdout()
	if len(res.Actions) == 0 {
		fmt.Fprintln(w, "No active pipelines.")
		return
	}
	fmt.Fprintf(w, "%-6s %-24s %-8s %-8s %-8s %s\n", "ID", "PIPELINE", "ACTION", "CREATED", "UPDATED", "MESSAGE")
	fmt.Fprintf(w, "%-6s %-24s %-8s %-8s %-8s %s\n",
		strings.Repeat("-", 6),
		strings.Repeat("-", 24),
		strings.Repeat("-", 8),
		strings.Repeat("-", 8),
		strings.Repeat("-", 8),
		strings.Repeat("-", 7))
	for _, act := range res.Actions {
		fmt.Fprintf(w, "%-6d %-24s %-8s %-8d %-8d %s\n",
			act.PipelineID, truncate(act.Pipeline, 24), act.Action, act.Created, act.Updated, act.Message)
	}
	fmt.Fprintf(w, "\n%d polled, %d skipped, %d errors in %s\n",
		res.Count(poller.ActionPolled), res.Count(poller.ActionSkipped), res.Count(poller.ActionError), res.Duration.Round(time.Millisecond))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	pollCmd.Flags().String("token", "", "GitHub token to use for every active pipeline")
	pollCmd.Flags().String("format", "table", "output format: table or json")
	pollCmd.Flags().Int64("pipeline", 0, "poll only this pipeline")
}
