package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/config"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/notify"
)

var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage email subscriptions",
}

// parseEvents turns "started,failure" into subscription flags.
func parseEvents(s string, sub *db.Subscription) error {
	for _, ev := range strings.Split(s, ",") {
		switch notify.Event(strings.TrimSpace(strings.ToLower(ev))) {
		case notify.EventStarted:
			sub.NotifyOnStarted = true
		case notify.EventSuccess:
			sub.NotifyOnSuccess = true
		case notify.EventFailure:
			sub.NotifyOnFailure = true
		case notify.EventStopped:
			sub.NotifyOnStopped = true
		case "all":
			sub.NotifyOnStarted, sub.NotifyOnSuccess, sub.NotifyOnFailure, sub.NotifyOnStopped = true, true, true, true
		case "":
		default:
			return fmt.Errorf("unknown event %q (want started, success, failure, stopped, or all)", ev)
		}
	}
	if !sub.NotifyOnStarted && !sub.NotifyOnSuccess && !sub.NotifyOnFailure && !sub.NotifyOnStopped {
		return fmt.Errorf("at least one event is required")
	}
	return nil
}

func subscriptionEvents(s db.Subscription) string {
	var evs []string
	if s.NotifyOnStarted {
		evs = append(evs, string(notify.EventStarted))
	}
	if s.NotifyOnSuccess {
		evs = append(evs, string(notify.EventSuccess))
	}
	if s.NotifyOnFailure {
		evs = append(evs, string(notify.EventFailure))
	}
	if s.NotifyOnStopped {
		evs = append(evs, string(notify.EventStopped))
	}
	return strings.Join(evs, ",")
}

var subscriptionAddCmd = &cobra.Command{
	Use:   "add [email]",
	Short: "Subscribe an address to pipeline events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := mail.ParseAddress(args[0])
		if err != nil {
			return fmt.Errorf("invalid email %q: %w", args[0], err)
		}
		sub := db.Subscription{Email: addr.Address}
		events, _ := cmd.Flags().GetString("on")
		if err := parseEvents(events, &sub); err != nil {
			return err
		}

		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if cmd.Flags().Changed("pipeline") {
			pid, _ := cmd.Flags().GetInt64("pipeline")
			p, err := d.GetPipeline(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("pipeline %d not found", pid)
			}
			sub.PipelineID = &pid
		}

		id, err := d.AddSubscription(cmd.Context(), sub)
		if err != nil {
			return err
		}
		scope := "all pipelines"
		if sub.PipelineID != nil {
			scope = fmt.Sprintf("pipeline %d", *sub.PipelineID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription %d: %s on %s for %s\n", id, sub.Email, subscriptionEvents(sub), scope)
		return nil
	},
}

var subscriptionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		var subs []db.Subscription
		if cmd.Flags().Changed("pipeline") {
			pid, _ := cmd.Flags().GetInt64("pipeline")
			subs, err = d.ListSubscriptionsForPipeline(cmd.Context(), pid)
		} else {
			subs, err = d.ListSubscriptions(cmd.Context())
		}
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if subs == nil {
				subs = []db.Subscription{}
			}
			data, _ := json.MarshalIndent(subs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-6s %-10s %-32s %s\n", "ID", "PIPELINE", "EMAIL", "EVENTS")
		fmt.Fprintf(w, "%-6s %-10s %-32s %s\n",
			strings.Repeat("-", 6),
			strings.Repeat("-", 10),
			strings.Repeat("-", 32),
			strings.Repeat("-", 6))
		for _, s := range subs {
			scope := "all"
			if s.PipelineID != nil {
				scope = strconv.FormatInt(*s.PipelineID, 10)
			}
			fmt.Fprintf(w, "%-6d %-10s %-32s %s\n", s.ID, scope, truncate(s.Email, 32), subscriptionEvents(s))
		}
		return nil
	},
}

var subscriptionRemoveCmd = &cobra.Command{
	Use:   "remove [subscription-id]",
	Short: "Remove a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "subscription")
		if err != nil {
			return err
		}
		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.RemoveSubscription(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription %d removed.\n", id)
		return nil
	},
}

var subscriptionTestCmd = &cobra.Command{
	Use:   "test [email]",
	Short: "Send a sample notification to check mail settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := mail.ParseAddress(args[0])
		if err != nil {
			return fmt.Errorf("invalid email %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			return fmt.Errorf("invalid config: %v", errs[0])
		}
		mailer, err := newMailer(cfg)
		if err != nil {
			return err
		}
		dispatcher, err := notify.NewDispatcher(nil, nil, mailer, nil, notify.Options{
			TemplateDir: cfg.Mail.TemplateDir,
			Location:    cfg.Mail.Location(),
		})
		if err != nil {
			return err
		}

		msg, err := dispatcher.SendTest(cmd.Context(), addr.Address)
		if errors.Is(err, notify.ErrMailNotConfigured) {
			return errors.New("mail is not configured: set mail.host and mail.from (or SMTP_HOST and SMTP_FROM)")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %q to %s\n", msg.Subject, addr.Address)
		return nil
	},
}

func init() {
	subscriptionAddCmd.Flags().Int64("pipeline", 0, "pipeline id (omit to subscribe to every pipeline)")
	subscriptionAddCmd.Flags().String("on", "success,failure", "comma-separated events: started, success, failure, stopped, all")
	subscriptionListCmd.Flags().Int64("pipeline", 0, "only subscriptions that apply to this pipeline")
	subscriptionListCmd.Flags().String("format", "table", "output format: table or json")

	subscriptionCmd.AddCommand(subscriptionAddCmd)
	subscriptionCmd.AddCommand(subscriptionListCmd)
	subscriptionCmd.AddCommand(subscriptionRemoveCmd)
	subscriptionCmd.AddCommand(subscriptionTestCmd)
}
