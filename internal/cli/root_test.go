package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
)

// resetFlags restores every flag in the tree to its default, including the
// lazily added --help, so one test's flags do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// testEnv writes a config file and returns the flags pointing every command
// at it and at a fresh SQLite database.
func testEnv(t *testing.T, extraConfig string) []string {
	t.Helper()
	for _, k := range []string{"GITHUB_TOKEN", "GITHUB_WEBHOOK_SECRET", "SMTP_HOST", "DATABASE_URL", "AUTOFLOW_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "autoflow.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: error\n"+extraConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return []string{"--config", cfgPath, "--db", filepath.Join(dir, "autoflow.db")}
}

func run(t *testing.T, env []string, args ...string) string {
	t.Helper()
	out, err := executeCommand(append(append([]string{}, env...), args...)...)
	if err != nil {
		t.Fatalf("autoflow %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"serve", "poll", "pipeline", "subscription", "executions",
		"webhook", "db", "config", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestPipelineSubcommands(t *testing.T) {
	subcmds := []string{"add", "list", "disable", "enable", "delete", "hook"}
	for _, sub := range subcmds {
		out, err := executeCommand("pipeline", sub, "--help")
		if err != nil {
			t.Errorf("pipeline %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("pipeline %s --help produced no output", sub)
		}
	}
}

func TestSubscriptionSubcommands(t *testing.T) {
	for _, sub := range []string{"add", "list", "remove", "test"} {
		out, err := executeCommand("subscription", sub, "--help")
		if err != nil {
			t.Errorf("subscription %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("subscription %s --help produced no output", sub)
		}
	}
}

func TestFlagsResetBetweenRuns(t *testing.T) {
	env := testEnv(t, "")
	if _, err := executeCommand("pipeline", "add", "--help"); err != nil {
		t.Fatalf("pipeline add --help: %v", err)
	}

	out := run(t, env, "pipeline", "add", "--url", "acme/api", "--name", "api", "--workflow", "ci.yml")
	if !strings.Contains(out, `Created pipeline 1 "api"`) {
		t.Fatalf("add after --help did not create a pipeline: %s", out)
	}
	out = run(t, env, "pipeline", "add", "--url", "acme/web")
	if !strings.Contains(out, `Created pipeline 2 "web"`) {
		t.Fatalf("flags from the previous run leaked: %s", out)
	}
}

func TestPipelineAddListDisable(t *testing.T) {
	env := testEnv(t, "")

	out := run(t, env, "pipeline", "add", "--url", "git@github.com:acme/api.git", "--name", "api", "--workflow", "")
	if !strings.Contains(out, `Created pipeline 1 "api" (acme/api)`) {
		t.Errorf("unexpected add output: %s", out)
	}
	out = run(t, env, "pipeline", "add", "--url", "https://github.com/acme/api", "--name", "api", "--workflow", "ci.yml")
	if !strings.Contains(out, `"api (1)"`) {
		t.Errorf("duplicate name should get a suffix: %s", out)
	}

	out = run(t, env, "pipeline", "list", "--format", "json", "--all=false")
	var pipelines []db.Pipeline
	if err := json.Unmarshal([]byte(out), &pipelines); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(pipelines) != 2 || pipelines[1].WorkflowID != "ci.yml" {
		t.Fatalf("unexpected pipelines: %+v", pipelines)
	}

	run(t, env, "pipeline", "disable", "1")
	out = run(t, env, "pipeline", "list", "--format", "json", "--all=false")
	pipelines = nil
	if err := json.Unmarshal([]byte(out), &pipelines); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(pipelines) != 1 || pipelines[0].ID != 2 {
		t.Errorf("disabled pipeline still listed: %+v", pipelines)
	}
	out = run(t, env, "pipeline", "list", "--format", "table", "--all")
	if strings.Count(out, "acme/api") != 2 {
		t.Errorf("--all should list both pipelines: %s", out)
	}
}

func TestPipelineAdd_RequiresRepository(t *testing.T) {
	env := testEnv(t, "")
	args := append(append([]string{}, env...), "pipeline", "add", "--url", "", "--owner", "", "--repo", "", "--name", "x")
	if _, err := executeCommand(args...); err == nil {
		t.Error("expected error without a repository")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := testEnv(t, "")
	run(t, env, "pipeline", "add", "--url", "acme/web", "--name", "web", "--workflow", "")

	out := run(t, env, "subscription", "add", "dev@example.com", "--pipeline", "1", "--on", "started,failure")
	if !strings.Contains(out, "Subscription 1: dev@example.com on started,failure for pipeline 1") {
		t.Errorf("unexpected add output: %s", out)
	}

	out = run(t, env, "subscription", "list", "--format", "table")
	if !strings.Contains(out, "dev@example.com") || !strings.Contains(out, "started,failure") {
		t.Errorf("unexpected list output: %s", out)
	}

	run(t, env, "subscription", "remove", "1")
	out = run(t, env, "subscription", "list", "--format", "table")
	if !strings.Contains(out, "No subscriptions found.") {
		t.Errorf("subscription not removed: %s", out)
	}
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		check   func(db.Subscription) bool
	}{
		{"success,failure", false, func(s db.Subscription) bool { return s.NotifyOnSuccess && s.NotifyOnFailure && !s.NotifyOnStarted }},
		{"all", false, func(s db.Subscription) bool {
			return s.NotifyOnStarted && s.NotifyOnSuccess && s.NotifyOnFailure && s.NotifyOnStopped
		}},
		{" Stopped ", false, func(s db.Subscription) bool { return s.NotifyOnStopped && !s.NotifyOnSuccess }},
		{"", true, nil},
		{"finished", true, nil},
	}
	for _, tt := range tests {
		var sub db.Subscription
		err := parseEvents(tt.in, &sub)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEvents(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.check != nil && !tt.check(sub) {
			t.Errorf("parseEvents(%q) flags = %+v", tt.in, sub)
		}
	}
}

func TestWebhookReplay(t *testing.T) {
	env := testEnv(t, "github:\n  webhook_secret: replay-secret\npolling:\n  enabled: false\n")
	run(t, env, "pipeline", "add", "--url", "acme/api", "--name", "api", "--workflow", "")

	payload := `{
		"action": "completed",
		"workflow_run": {"id": 4242, "status": "completed", "conclusion": "success", "run_attempt": 1,
			"created_at": "2025-03-01T12:00:00Z", "updated_at": "2025-03-01T12:02:00Z", "head_branch": "main"},
		"repository": {"name": "api", "full_name": "acme/api", "owner": {"login": "acme"}}
	}`
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	out := run(t, env, "webhook", "replay", path, "--event", "workflow_run")
	if !strings.Contains(out, `"build_number": 1`) || !strings.Contains(out, `"status": "success"`) {
		t.Errorf("unexpected replay output: %s", out)
	}

	out = run(t, env, "executions", "1", "--format", "table", "--limit", "20")
	if !strings.Contains(out, "4242") || !strings.Contains(out, "2m 0s") {
		t.Errorf("unexpected executions output: %s", out)
	}
}

func TestDBResetRequiresYes(t *testing.T) {
	env := testEnv(t, "")
	args := append(append([]string{}, env...), "db", "reset", "--yes=false")
	if _, err := executeCommand(args...); err == nil {
		t.Error("expected db reset to refuse without --yes")
	}
	run(t, env, "db", "reset", "--yes")
	out := run(t, env, "db", "migrate")
	if !strings.Contains(out, "sqlite") {
		t.Errorf("unexpected migrate output: %s", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := testEnv(t, "github:\n  webhook_secret: do-not-print\n")
	out := run(t, env, "config", "show")
	if strings.Contains(out, "do-not-print") {
		t.Errorf("secret leaked in config show: %s", out)
	}
	if !strings.Contains(out, "********") {
		t.Errorf("expected redaction marker: %s", out)
	}
}

func TestSubscriptionTest_RequiresMail(t *testing.T) {
	env := testEnv(t, "")
	out, err := executeCommand(append(append([]string{}, env...), "subscription", "test", "dev@example.com")...)
	if err == nil || !strings.Contains(err.Error(), "mail is not configured") {
		t.Fatalf("expected mail not configured error, got %v\n%s", err, out)
	}

	if _, err := executeCommand(append(append([]string{}, env...), "subscription", "test", "not-an-address")...); err == nil {
		t.Error("expected error for invalid address")
	}
}
