package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/github"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage tracked pipelines",
}

var pipelineAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Start tracking a pipeline",
	Long: `Start tracking a pipeline. The repository is given either as --url
(https, ssh, or owner/repo form) or as --owner and --repo. With --token the
repository is checked against GitHub and --workflow is resolved to its id.

If the name is taken, a " (n)" suffix is added.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		kindStr, _ := cmd.Flags().GetString("kind")
		rawURL, _ := cmd.Flags().GetString("url")
		owner, _ := cmd.Flags().GetString("owner")
		repo, _ := cmd.Flags().GetString("repo")
		workflow, _ := cmd.Flags().GetString("workflow")
		token, _ := cmd.Flags().GetString("token")

		kind, err := pipeline.ParseKind(kindStr)
		if err != nil {
			return err
		}
		if owner == "" || repo == "" {
			if rawURL == "" {
				return errors.New("either --url or both --owner and --repo are required")
			}
			owner, repo, err = pipeline.ParseRepositoryURL(rawURL)
			if err != nil {
				return err
			}
		}

		cfg, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		np := db.NewPipeline{
			Name:          name,
			Kind:          string(kind),
			RepositoryURL: rawURL,
			Owner:         owner,
			Repo:          repo,
			WorkflowID:    workflow,
		}
		if token == "" {
			token = cfg.GitHub.Token
		}
		if token != "" {
			if err := resolveUpstream(cmd, newGitHubClient(cfg), token, &np); err != nil {
				return err
			}
		}
		if np.Name == "" {
			np.Name = np.Repo
		}

		p, err := d.CreatePipeline(cmd.Context(), np)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created pipeline %d %q (%s/%s)\n", p.ID, p.Name, p.Owner, p.Repo)
		return nil
	},
}

// resolveUpstream checks the repository exists and pins the workflow to its id.
func resolveUpstream(cmd *cobra.Command, client *github.Client, token string, np *db.NewPipeline) error {
	r, err := client.GetRepository(cmd.Context(), token, np.Owner, np.Repo)
	if err != nil {
		return fmt.Errorf("look up %s/%s: %w", np.Owner, np.Repo, err)
	}
	np.Owner, np.Repo = r.Owner.Login, r.Name
	if np.RepositoryURL == "" {
		np.RepositoryURL = r.HTMLURL
	}
	if np.WorkflowID == "" {
		return nil
	}

	workflows, err := client.ListWorkflows(cmd.Context(), token, np.Owner, np.Repo)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	w, ok := github.FindWorkflow(workflows, np.WorkflowID)
	if !ok {
		names := make([]string, 0, len(workflows))
		for _, w := range workflows {
			names = append(names, w.Path)
		}
		return fmt.Errorf("workflow %q not found in %s/%s (have: %s)", np.WorkflowID, np.Owner, np.Repo, strings.Join(names, ", "))
	}
	np.WorkflowID = strconv.FormatInt(w.ID, 10)
	np.WorkflowName = w.Name
	return nil
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		all, _ := cmd.Flags().GetBool("all")
		pipelines, err := d.ListPipelines(cmd.Context(), !all)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if pipelines == nil {
				pipelines = []db.Pipeline{}
			}
			data, _ := json.MarshalIndent(pipelines, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(pipelines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-6s %-24s %-30s %-20s %-7s %s\n", "ID", "NAME", "REPOSITORY", "WORKFLOW", "ACTIVE", "WEBHOOK")
		fmt.Fprintf(w, "%-6s %-24s %-30s %-20s %-7s %s\n",
			strings.Repeat("-", 6),
			strings.Repeat("-", 24),
			strings.Repeat("-", 30),
			strings.Repeat("-", 20),
			strings.Repeat("-", 7),
			strings.Repeat("-", 7))
		for _, p := range pipelines {
			owner, repo, _ := pipeline.LocatorOf(&p).Resolve()
			workflow := p.WorkflowName
			if workflow == "" {
				workflow = p.WorkflowID
			}
			if workflow == "" {
				workflow = "(all)"
			}
			fmt.Fprintf(w, "%-6d %-24s %-30s %-20s %-7s %s\n",
				p.ID, truncate(p.Name, 24), truncate(owner+"/"+repo, 30), truncate(workflow, 20), yesNo(p.Active), p.WebhookID)
		}
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [pipeline-id]",
		Short: short,
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

			if err := d.SetPipelineActive(cmd.Context(), id, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %d %sd.\n", id, use)
			return nil
		},
	}
}

var pipelineDeleteCmd = &cobra.Command{
	Use:   "delete [pipeline-id]",
	Short: "Stop tracking a pipeline and delete its history (destructive!)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "pipeline")
		if err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("refusing to delete without --yes")
		}
		_, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.DeletePipeline(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %d deleted.\n", id)
		return nil
	},
}

var pipelineHookCmd = &cobra.Command{
	Use:   "hook [pipeline-id]",
	Short: "Register the workflow_run webhook on the pipeline's repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "pipeline")
		if err != nil {
			return err
		}
		cfg, d, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = cfg.GitHub.Token
		}
		if token == "" {
			return errors.New("a GitHub token is required (--token or github.token)")
		}
		base, _ := cmd.Flags().GetString("public-url")
		if base == "" {
			base = cfg.Server.PublicURL
		}
		if base == "" {
			return errors.New("a public URL is required (--public-url or server.public_url)")
		}
		if cfg.GitHub.WebhookSecret == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: github.webhook_secret is empty; deliveries will not be signed")
		}

		p, err := d.GetPipeline(cmd.Context(), id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("pipeline %d not found", id)
		}
		owner, repo, ok := pipeline.LocatorOf(p).Resolve()
		if !ok {
			return fmt.Errorf("pipeline %d has no resolvable repository", id)
		}

		callback := strings.TrimRight(base, "/") + "/webhooks/github"
		hookID, err := newGitHubClient(cfg).RegisterWebhook(cmd.Context(), token, owner, repo, callback, cfg.GitHub.WebhookSecret)
		if err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		if err := d.SetPipelineWebhook(cmd.Context(), id, strconv.FormatInt(hookID, 10)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered webhook %d on %s/%s -> %s\n", hookID, owner, repo, callback)
		return nil
	},
}

func init() {
	pipelineAddCmd.Flags().String("name", "", "display name (defaults to the repository name)")
	pipelineAddCmd.Flags().String("kind", string(pipeline.KindGitHub), "pipeline kind")
	pipelineAddCmd.Flags().String("url", "", "repository URL or owner/repo")
	pipelineAddCmd.Flags().String("owner", "", "repository owner")
	pipelineAddCmd.Flags().String("repo", "", "repository name")
	pipelineAddCmd.Flags().String("workflow", "", "workflow id, file name, or name (empty tracks all workflows)")
	pipelineAddCmd.Flags().String("token", "", "GitHub token used to verify the repository")

	pipelineListCmd.Flags().Bool("all", false, "include disabled pipelines")
	pipelineListCmd.Flags().String("format", "table", "output format: table or json")

	pipelineDeleteCmd.Flags().Bool("yes", false, "confirm deletion")

	pipelineHookCmd.Flags().String("token", "", "GitHub token with admin:repo_hook scope")
	pipelineHookCmd.Flags().String("public-url", "", "externally reachable base URL of autoflow serve")

	pipelineCmd.AddCommand(pipelineAddCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(setActiveCmd("disable", "Stop polling and ignore webhooks for a pipeline", false))
	pipelineCmd.AddCommand(setActiveCmd("enable", "Resume tracking a disabled pipeline", true))
	pipelineCmd.AddCommand(pipelineDeleteCmd)
	pipelineCmd.AddCommand(pipelineHookCmd)
}
