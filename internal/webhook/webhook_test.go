package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/github"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/reconcile"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

const secret = "s3cret"

type fixture struct {
	db      *db.DB
	handler *Handler
	rec     *reconcile.Reconciler
	p       *db.Pipeline
}

func setup(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { d.Close() })

	p, err := d.CreatePipeline(context.Background(), db.NewPipeline{
		Name: "api", Kind: "github", Owner: "acme", Repo: "api",
	})
	require.NoError(t, err)

	rec := reconcile.New(execution.NewStore(d, zap.NewNop()), nil, nil, zap.NewNop(), 0)
	rec.Start()
	t.Cleanup(rec.Close)

	return &fixture{db: d, handler: NewHandler(secret, d, pipeline.NewRegistry(github.NewSource(nil)), rec, zap.NewNop()), rec: rec, p: p}
}

func payload(t *testing.T, owner, repo string, runID int64, phase, conclusion string, attempt int) []byte {
	t.Helper()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := map[string]any{
		"id":             runID,
		"workflow_id":    77,
		"path":           ".github/workflows/ci.yml",
		"status":         phase,
		"conclusion":     conclusion,
		"head_sha":       "0123456789abcdef",
		"head_branch":    "main",
		"html_url":       "https://github.com/acme/api/actions/runs/1",
		"run_attempt":    attempt,
		"run_started_at": started,
		"created_at":     started,
		"updated_at":     started.Add(95 * time.Second),
		"head_commit":    map[string]any{"id": "0123456789abcdef", "message": "fix build\n\nbody"},
	}
	if conclusion == "" {
		run["conclusion"] = nil
	}
	body, err := json.Marshal(map[string]any{
		"action":       "completed",
		"workflow_run": run,
		"repository": map[string]any{
			"name":      repo,
			"full_name": owner + "/" + repo,
			"owner":     map[string]any{"login": owner},
		},
	})
	require.NoError(t, err)
	return body
}

func delivery(body []byte) Delivery {
	return Delivery{ID: "d-1", Event: "workflow_run", Signature: Sign([]byte(secret), body), Body: body}
}

func TestSignAndParse(t *testing.T) {
	body := []byte(`{"zen":"hi"}`)
	sig := Sign([]byte(secret), body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)

	raw, err := ParseSignatureHeader(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	for _, bad := range []string{"", "sha1=abc", "sha256=zz", "sha256=abcd"} {
		_, err := ParseSignatureHeader(bad)
		assert.ErrorIs(t, err, ErrInvalidSignature, bad)
	}
}

func TestApply_RejectsBadSignature(t *testing.T) {
	f := setup(t)
	body := payload(t, "acme", "api", 1, "in_progress", "", 1)
	ctx := context.Background()

	cases := map[string]string{
		"missing":    "",
		"wrong key":  Sign([]byte("other"), body),
		"malformed":  "sha256=nothex",
		"wrong algo": "sha1=0123",
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			d := delivery(body)
			d.Signature = sig
			_, err := f.handler.Apply(ctx, d)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}

	execs, err := f.db.ListExecutions(ctx, f.p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestApply_TamperedBody(t *testing.T) {
	f := setup(t)
	body := payload(t, "acme", "api", 1, "in_progress", "", 1)
	d := delivery(body)
	d.Body = payload(t, "acme", "api", 2, "in_progress", "", 1)

	_, err := f.handler.Apply(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestApply_NoSecretAcceptsUnsigned(t *testing.T) {
	f := setup(t)
	h := NewHandler("", f.db, pipeline.NewRegistry(github.NewSource(nil)), f.rec, zap.NewNop())
	body := payload(t, "acme", "api", 5, "in_progress", "", 1)

	res, err := h.Apply(context.Background(), Delivery{Event: "workflow_run", Body: body})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Created)
}

func TestApply_PingIgnored(t *testing.T) {
	f := setup(t)
	body := []byte(`{"zen":"Keep it logically awesome."}`)
	d := delivery(body)
	d.Event = "ping"

	res, err := f.handler.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.Ignored)
	assert.Nil(t, res.Execution)
}

func TestApply_MalformedPayload(t *testing.T) {
	f := setup(t)
	body := []byte(`{"workflow_run":`)

	_, err := f.handler.Apply(context.Background(), delivery(body))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestApply_UnknownRepositoryIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	body := payload(t, "someone", "else", 9, "completed", "success", 1)

	res, err := f.handler.Apply(ctx, delivery(body))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Ignored, "someone/else")

	execs, err := f.db.ListExecutions(ctx, f.p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestApply_InactivePipelineIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.db.SetPipelineActive(ctx, f.p.ID, false))

	res, err := f.handler.Apply(ctx, delivery(payload(t, "acme", "api", 3, "queued", "", 1)))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Ignored)
}

func TestApply_CreatesAndCompletesExecution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.handler.Apply(ctx, delivery(payload(t, "ACME", "Api", 42, "in_progress", "", 1)))
	require.NoError(t, err)
	require.NotNil(t, res.Execution)
	assert.True(t, res.Created)
	assert.Equal(t, status.Running, res.Execution.Status)
	assert.Equal(t, 1, res.Execution.BuildNumber)
	assert.Equal(t, "42", res.Execution.ExternalID)
	assert.Equal(t, "fix build\n\nbody", res.Execution.CommitMessage)

	res, err = f.handler.Apply(ctx, delivery(payload(t, "acme", "api", 42, "completed", "failure", 1)))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, status.Failure, res.Execution.Status)
	require.NotNil(t, res.Execution.DurationSeconds)
	assert.Equal(t, int64(95), *res.Execution.DurationSeconds)
	assert.Equal(t, 1, res.Execution.BuildNumber)
}

func TestApply_WorkflowBoundPipelinePreferred(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bound, err := f.db.CreatePipeline(ctx, db.NewPipeline{
		Name: "api-ci", Kind: "github", Owner: "acme", Repo: "api", WorkflowID: "ci.yml",
	})
	require.NoError(t, err)
	_, err = f.db.CreatePipeline(ctx, db.NewPipeline{
		Name: "api-deploy", Kind: "github", Owner: "acme", Repo: "api", WorkflowID: "deploy.yml",
	})
	require.NoError(t, err)

	res, err := f.handler.Apply(ctx, delivery(payload(t, "acme", "api", 8, "queued", "", 1)))
	require.NoError(t, err)
	require.NotNil(t, res.Execution)
	assert.Equal(t, bound.ID, res.Execution.PipelineID)
}

func TestWebhookThenPoll_SingleExecution(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.handler.Apply(ctx, delivery(payload(t, "acme", "api", 500, "in_progress", "", 1)))
	require.NoError(t, err)
	require.True(t, res.Created)

	// The poller observes the same run completed.
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)
	dur := int64(60)
	polled, err := f.rec.Apply(ctx, f.p, execution.ObservedRun{
		ExternalID:      "500",
		Status:          status.Success,
		RunAttempt:      1,
		StartedAt:       &started,
		CompletedAt:     &done,
		DurationSeconds: &dur,
	})
	require.NoError(t, err)
	assert.False(t, polled.Created)
	assert.Equal(t, res.Execution.ID, polled.Execution.ID)
	assert.Equal(t, status.Success, polled.Execution.Status)

	execs, err := f.db.ListExecutions(ctx, f.p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

type failingApplier struct{ err error }

func (a failingApplier) Apply(context.Context, *db.Pipeline, execution.ObservedRun) (execution.Result, error) {
	return execution.Result{}, a.err
}

func TestApply_StoreUnavailablePropagates(t *testing.T) {
	f := setup(t)
	h := NewHandler(secret, f.db, pipeline.NewRegistry(github.NewSource(nil)), failingApplier{err: db.ErrStoreUnavailable}, zap.NewNop())

	_, err := h.Apply(context.Background(), delivery(payload(t, "acme", "api", 1, "queued", "", 1)))
	assert.True(t, errors.Is(err, db.ErrStoreUnavailable))
}
