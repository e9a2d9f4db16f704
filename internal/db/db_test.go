package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testPipeline(t *testing.T, d *DB, name string) *Pipeline {
	t.Helper()
	p, err := d.CreatePipeline(context.Background(), NewPipeline{
		Name: name, Kind: "github", Owner: "acme", Repo: "api",
	})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	return p
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "pipelines", "executions", "subscriptions", "notifications"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	p := testPipeline(t, d, "api")

	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, err := d.GetPipeline(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get pipeline after reset: %v", err)
	}
	if got != nil {
		t.Error("expected nil pipeline after reset")
	}
}

func TestRebind(t *testing.T) {
	d := &DB{dialect: Postgres}
	got := d.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	d.dialect = SQLite
	if got := d.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	tests := map[string]bool{
		"postgres://u:p@localhost/autoflow":   true,
		"postgresql://localhost/autoflow":     true,
		"/home/me/.autoflow/autoflow.db":      false,
		":memory:":                            false,
		"file:autoflow.db?cache=shared":       false,
	}
	for dsn, want := range tests {
		if got := IsPostgresDSN(dsn); got != want {
			t.Errorf("IsPostgresDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestCreatePipeline_UniqueName(t *testing.T) {
	d := testDB(t)

	names := []string{}
	for i := 0; i < 3; i++ {
		p := testPipeline(t, d, "deploy")
		names = append(names, p.Name)
	}
	want := []string{"deploy", "deploy (1)", "deploy (2)"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("pipeline %d name = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestPipelineLifecycle(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	if !p.Active {
		t.Error("new pipeline should be active")
	}
	if p.Kind != "github" || p.Owner != "acme" || p.Repo != "api" {
		t.Errorf("unexpected pipeline: %+v", p)
	}

	if err := d.SetPipelineActive(ctx, p.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	active, err := d.ListPipelines(ctx, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active pipelines, want 0", len(active))
	}
	all, err := d.ListPipelines(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d pipelines, want 1", len(all))
	}

	if err := d.UpdatePipelineLocator(ctx, p.ID, "acme", "web", "42", "CI"); err != nil {
		t.Fatalf("update locator: %v", err)
	}
	if err := d.SetPipelineWebhook(ctx, p.ID, "9001"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	got, err := d.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Repo != "web" || got.WorkflowID != "42" || got.WorkflowName != "CI" || got.WebhookID != "9001" {
		t.Errorf("unexpected pipeline after update: %+v", got)
	}

	if err := d.SetPipelineActive(ctx, 999, true); err == nil {
		t.Error("expected error for missing pipeline")
	}
}

func TestDeletePipeline_Cascades(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	e, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: "1", Status: status.Running})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := d.AddSubscription(ctx, Subscription{PipelineID: &p.ID, Email: "dev@example.com", NotifyOnFailure: true}); err != nil {
		t.Fatalf("add subscription: %v", err)
	}

	if err := d.DeletePipeline(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := d.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got != nil {
		t.Error("execution should be deleted with its pipeline")
	}
	subs, err := d.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("got %d subscriptions, want 0", len(subs))
	}
}

func TestInsertExecution_BuildNumbers(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := testPipeline(t, d, "a")
	b := testPipeline(t, d, "b")

	for i, id := range []string{"100", "101", "102"} {
		e, err := d.InsertExecution(ctx, NewExecution{PipelineID: a.ID, ExternalID: id, Status: status.Running})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		if e.BuildNumber != i+1 {
			t.Errorf("build number for %s = %d, want %d", id, e.BuildNumber, i+1)
		}
	}

	// Build numbers are per pipeline.
	e, err := d.InsertExecution(ctx, NewExecution{PipelineID: b.ID, ExternalID: "100", Status: status.Success})
	if err != nil {
		t.Fatalf("insert into b: %v", err)
	}
	if e.BuildNumber != 1 {
		t.Errorf("build number in b = %d, want 1", e.BuildNumber)
	}
}

func TestInsertExecution_Duplicate(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	if _, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: "7", Status: status.Running}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: "7", Status: status.Success})
	if !errors.Is(err, ErrDuplicateExecution) {
		t.Fatalf("second insert err = %v, want ErrDuplicateExecution", err)
	}

	list, err := d.ListExecutions(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d executions, want 1", len(list))
	}
}

func TestGetExecutionByExternalID(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	started := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	dur := int64(42)
	inserted, err := d.InsertExecution(ctx, NewExecution{
		PipelineID: p.ID, ExternalID: "55", Status: status.Success, RunAttempt: 2,
		DurationSeconds: &dur, CommitHash: "abc123", CommitMessage: "fix build", Branch: "main",
		RunURL: "https://github.com/acme/api/actions/runs/55", StartedAt: &started,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := d.GetExecutionByExternalID(ctx, p.ID, "55")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected execution")
	}
	if got.ID != inserted.ID || got.Status != status.Success || got.RunAttempt != 2 {
		t.Errorf("unexpected execution: %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 42 {
		t.Errorf("duration = %v, want 42", got.DurationSeconds)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", got.CompletedAt)
	}
	if got.CommitMessage != "fix build" || got.Branch != "main" {
		t.Errorf("commit fields not stored: %+v", got)
	}

	missing, err := d.GetExecutionByExternalID(ctx, p.ID, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown external id")
	}
}

func TestListExecutions_NewestFirst(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	for _, id := range []string{"1", "2", "3"} {
		if _, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: id, Status: status.Success}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	list, err := d.ListExecutions(ctx, p.ID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d, want 2", len(list))
	}
	if list[0].BuildNumber != 3 || list[1].BuildNumber != 2 {
		t.Errorf("order = %d,%d, want 3,2", list[0].BuildNumber, list[1].BuildNumber)
	}
}

func TestCompareAndSetExecutionStatus(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")

	e, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: "9", Status: status.Running})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	completed := time.Date(2024, 1, 15, 10, 5, 0, 0, time.UTC)
	dur := int64(300)
	ok, err := d.CompareAndSetExecutionStatus(ctx, e.ID, status.Running, ExecutionUpdate{
		Status: status.Success, DurationSeconds: &dur, CompletedAt: &completed,
	})
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !ok {
		t.Fatal("expected first CAS to apply")
	}

	// Stale expectation loses.
	ok, err = d.CompareAndSetExecutionStatus(ctx, e.ID, status.Running, ExecutionUpdate{Status: status.Failure})
	if err != nil {
		t.Fatalf("second cas: %v", err)
	}
	if ok {
		t.Error("expected CAS with stale expectation to be rejected")
	}

	got, err := d.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != status.Success {
		t.Errorf("status = %q, want success", got.Status)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 300 {
		t.Errorf("duration = %v, want 300", got.DurationSeconds)
	}
	if got.BuildNumber != 1 {
		t.Errorf("build number changed to %d", got.BuildNumber)
	}

	// A restart clears completion data.
	ok, err = d.CompareAndSetExecutionStatus(ctx, e.ID, status.Success, ExecutionUpdate{
		Status: status.Running, RunAttempt: 2, Restart: true,
	})
	if err != nil || !ok {
		t.Fatalf("restart cas: ok=%v err=%v", ok, err)
	}
	got, _ = d.GetExecution(ctx, e.ID)
	if got.DurationSeconds != nil || got.CompletedAt != nil {
		t.Errorf("restart kept completion data: %+v", got)
	}
	if got.RunAttempt != 2 {
		t.Errorf("run attempt = %d, want 2", got.RunAttempt)
	}
}

func TestSubscriptions(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := testPipeline(t, d, "a")
	b := testPipeline(t, d, "b")

	if _, err := d.AddSubscription(ctx, Subscription{PipelineID: &a.ID, Email: "a@example.com", NotifyOnFailure: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := d.AddSubscription(ctx, Subscription{PipelineID: &b.ID, Email: "b@example.com", NotifyOnSuccess: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	allID, err := d.AddSubscription(ctx, Subscription{Email: "ops@example.com", NotifyOnStarted: true})
	if err != nil {
		t.Fatalf("add global: %v", err)
	}

	subs, err := d.ListSubscriptionsForPipeline(ctx, a.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions for a, want 2", len(subs))
	}
	if subs[0].Email != "a@example.com" || !subs[0].NotifyOnFailure || subs[0].NotifyOnSuccess {
		t.Errorf("unexpected first subscription: %+v", subs[0])
	}
	if subs[1].PipelineID != nil || subs[1].Email != "ops@example.com" {
		t.Errorf("unexpected global subscription: %+v", subs[1])
	}

	if err := d.RemoveSubscription(ctx, allID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := d.RemoveSubscription(ctx, allID); err == nil {
		t.Error("expected error removing twice")
	}
	if _, err := d.AddSubscription(ctx, Subscription{}); err == nil {
		t.Error("expected error for missing email")
	}
}

func TestNotifications(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	p := testPipeline(t, d, "api")
	e, err := d.InsertExecution(ctx, NewExecution{PipelineID: p.ID, ExternalID: "1", Status: status.Failure})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	records := []NotificationRecord{
		{ExecutionID: e.ID, Channel: "email", Recipient: "a@example.com", Event: "failure", Outcome: OutcomeSent},
		{ExecutionID: e.ID, Channel: "email", Recipient: "b@example.com", Event: "failure", Outcome: OutcomeFailed, Detail: "550 mailbox unavailable"},
	}
	for _, r := range records {
		if err := d.LogNotification(ctx, r); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	got, err := d.ListNotifications(ctx, e.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[1].Outcome != OutcomeFailed || got[1].Detail != "550 mailbox unavailable" {
		t.Errorf("unexpected record: %+v", got[1])
	}
	if got[0].SentAt.IsZero() {
		t.Error("sent_at should default to now")
	}

	bad := NotificationRecord{ExecutionID: e.ID, Channel: "email", Recipient: "x", Event: "failure", Outcome: "bounced"}
	if err := d.LogNotification(ctx, bad); err == nil {
		t.Error("expected check constraint failure for unknown outcome")
	}
}

func TestClosedDB_Unavailable(t *testing.T) {
	d := testDB(t)
	d.Close()

	_, err := d.ListPipelines(context.Background(), false)
	if !IsUnavailable(err) {
		t.Errorf("err = %v, want store unavailable", err)
	}
}
