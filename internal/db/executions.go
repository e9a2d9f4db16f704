package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

// Execution represents a row in the executions table.
type Execution struct {
	ID              int64         `json:"id"`
	PipelineID      int64         `json:"pipeline_id"`
	ExternalID      string        `json:"external_id"`
	Status          status.Status `json:"status"`
	BuildNumber     int           `json:"build_number"`
	RunAttempt      int           `json:"run_attempt"`
	DurationSeconds *int64        `json:"duration_seconds"`
	CommitHash      string        `json:"commit_hash"`
	CommitMessage   string        `json:"commit_message"`
	Branch          string        `json:"branch"`
	LogRef          string        `json:"log_ref"`
	RunURL          string        `json:"run_url,omitempty"`
	StartedAt       *time.Time    `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewExecution holds the fields of a first-seen run. The build number is
// allocated by InsertExecution.
type NewExecution struct {
	PipelineID      int64
	ExternalID      string
	Status          status.Status
	RunAttempt      int
	DurationSeconds *int64
	CommitHash      string
	CommitMessage   string
	Branch          string
	LogRef          string
	RunURL          string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// ExecutionUpdate carries the mutable fields applied on a status transition.
// Nil pointers leave the stored value unchanged.
type ExecutionUpdate struct {
	Status          status.Status
	RunAttempt      int
	DurationSeconds *int64
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RunURL          string
	// Restart clears duration and completion time before applying the update,
	// for a re-run attempt that begins a new lifecycle.
	Restart bool
}

const executionColumns = `id, pipeline_id, external_id, status, build_number, run_attempt, duration_seconds,
	commit_hash, commit_message, branch, log_ref, run_url, started_at, completed_at, created_at, updated_at`

func scanExecution(s rowScanner) (*Execution, error) {
	var (
		e           Execution
		st          string
		duration    sql.NullInt64
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := s.Scan(&e.ID, &e.PipelineID, &e.ExternalID, &st, &e.BuildNumber, &e.RunAttempt, &duration,
		&e.CommitHash, &e.CommitMessage, &e.Branch, &e.LogRef, &e.RunURL, &startedAt, &completedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = status.Status(st)
	if duration.Valid {
		v := duration.Int64
		e.DurationSeconds = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// InsertExecution creates an execution, allocating the next build number for
// its pipeline within the same statement. A collision on either
// (pipeline_id, external_id) or (pipeline_id, build_number) returns
// ErrDuplicateExecution; the caller decides which by re-reading.
func (d *DB) InsertExecution(ctx context.Context, ne NewExecution) (*Execution, error) {
	if !ne.Status.Valid() {
		return nil, fmt.Errorf("insert execution: invalid status %q", ne.Status)
	}
	attempt := ne.RunAttempt
	if attempt < 1 {
		attempt = 1
	}
	now := d.now()

	var (
		id          int64
		buildNumber int
	)
	err := d.queryRow(ctx,
		`INSERT INTO executions (pipeline_id, external_id, status, build_number, run_attempt, duration_seconds,
			commit_hash, commit_message, branch, log_ref, run_url, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(build_number), 0) + 1 FROM executions WHERE pipeline_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id, build_number`,
		ne.PipelineID, ne.ExternalID, string(ne.Status), ne.PipelineID,
		attempt, nullInt(ne.DurationSeconds), ne.CommitHash, ne.CommitMessage, ne.Branch, ne.LogRef, ne.RunURL,
		nullTime(ne.StartedAt), nullTime(ne.CompletedAt), now, now,
	).Scan(&id, &buildNumber)
	if err = classify(err); err != nil {
		if errors.Is(err, errUniqueViolation) {
			return nil, fmt.Errorf("insert execution %s: %w", ne.ExternalID, ErrDuplicateExecution)
		}
		return nil, fmt.Errorf("insert execution %s: %w", ne.ExternalID, err)
	}

	return &Execution{
		ID:              id,
		PipelineID:      ne.PipelineID,
		ExternalID:      ne.ExternalID,
		Status:          ne.Status,
		BuildNumber:     buildNumber,
		RunAttempt:      attempt,
		DurationSeconds: ne.DurationSeconds,
		CommitHash:      ne.CommitHash,
		CommitMessage:   ne.CommitMessage,
		Branch:          ne.Branch,
		LogRef:          ne.LogRef,
		RunURL:          ne.RunURL,
		StartedAt:       ne.StartedAt,
		CompletedAt:     ne.CompletedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// GetExecution returns an execution by ID, or nil if it does not exist.
func (d *DB) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	e, err := scanExecution(d.queryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, classify(err))
	}
	return e, nil
}

// GetExecutionByExternalID returns the execution for an upstream run id, or nil if none exists.
func (d *DB) GetExecutionByExternalID(ctx context.Context, pipelineID int64, externalID string) (*Execution, error) {
	e, err := scanExecution(d.queryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE pipeline_id = ? AND external_id = ?`,
		pipelineID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", externalID, classify(err))
	}
	return e, nil
}

// ListExecutions returns a pipeline's executions, newest build first.
// A limit of zero or less returns all of them.
func (d *DB) ListExecutions(ctx context.Context, pipelineID int64, limit int) ([]Execution, error) {
	q := `SELECT ` + executionColumns + ` FROM executions WHERE pipeline_id = ? ORDER BY build_number DESC`
	args := []any{pipelineID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	return executions, classify(rows.Err())
}

// CompareAndSetExecutionStatus applies u only if the row still has status
// expected. It reports whether the update took effect; false means another
// writer changed the status first.
func (d *DB) CompareAndSetExecutionStatus(ctx context.Context, id int64, expected status.Status, u ExecutionUpdate) (bool, error) {
	if !u.Status.Valid() {
		return false, fmt.Errorf("update execution %d: invalid status %q", id, u.Status)
	}
	attempt := u.RunAttempt
	if attempt < 1 {
		attempt = 1
	}
	res, err := d.exec(ctx,
		`UPDATE executions SET
			status = ?,
			run_attempt = ?,
			duration_seconds = CASE WHEN ? THEN ? ELSE COALESCE(?, duration_seconds) END,
			started_at = COALESCE(?, started_at),
			completed_at = CASE WHEN ? THEN ? ELSE COALESCE(?, completed_at) END,
			run_url = CASE WHEN ? = '' THEN run_url ELSE ? END,
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(u.Status), attempt,
		u.Restart, nullInt(u.DurationSeconds), nullInt(u.DurationSeconds),
		nullTime(u.StartedAt),
		u.Restart, nullTime(u.CompletedAt), nullTime(u.CompletedAt),
		u.RunURL, u.RunURL, d.now(), id, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("update execution %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update execution %d: %w", id, err)
	}
	return n == 1, nil
}
