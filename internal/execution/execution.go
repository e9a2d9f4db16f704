// Package execution reconciles observed upstream runs into the stored
// execution history. Both ingestion paths go through Store.Upsert.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

const (
	// maxInsertAttempts bounds retries after a build-number collision.
	maxInsertAttempts = 5
	// maxCASAttempts bounds re-reads after losing a status update race.
	maxCASAttempts = 10
)

// ErrContention means the upsert kept losing races and gave up.
var ErrContention = errors.New("execution upsert contention")

// ObservedRun is a provider-neutral snapshot of an upstream run.
type ObservedRun struct {
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

// Result reports what Upsert did. Previous is nil when the row was created;
// otherwise it holds the status the row had before this observation.
type Result struct {
	Execution *db.Execution
	Previous  *status.Status
	Created   bool
}

// Changed reports whether the observation created the row or moved its status.
func (r Result) Changed() bool {
	if r.Created {
		return true
	}
	return r.Previous != nil && r.Execution != nil && *r.Previous != r.Execution.Status
}

// Store applies observations to the database.
type Store struct {
	db     *db.DB
	logger *zap.Logger
}

// NewStore creates a Store over d.
func NewStore(d *db.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: d, logger: logger}
}

// Upsert records run, creating the execution on first sight and applying a
// compare-and-set status transition otherwise. Concurrent calls for the same
// run converge on one row; each distinct transition is reported as changed
// to exactly one caller.
func (s *Store) Upsert(ctx context.Context, run ObservedRun) (Result, error) {
	if run.ExternalID == "" {
		return Result{}, errors.New("upsert execution: external id is required")
	}
	if !run.Status.Valid() {
		return Result{}, fmt.Errorf("upsert execution %s: invalid status %q", run.ExternalID, run.Status)
	}

	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		created, err := s.db.InsertExecution(ctx, db.NewExecution{
			PipelineID:      run.PipelineID,
			ExternalID:      run.ExternalID,
			Status:          run.Status,
			RunAttempt:      run.RunAttempt,
			DurationSeconds: run.DurationSeconds,
			CommitHash:      run.CommitHash,
			CommitMessage:   run.CommitMessage,
			Branch:          run.Branch,
			LogRef:          run.LogRef,
			RunURL:          run.RunURL,
			StartedAt:       run.StartedAt,
			CompletedAt:     run.CompletedAt,
		})
		if err == nil {
			return Result{Execution: created, Created: true}, nil
		}
		if !errors.Is(err, db.ErrDuplicateExecution) {
			return Result{}, fmt.Errorf("upsert execution %s: %w", run.ExternalID, err)
		}

		existing, err := s.db.GetExecutionByExternalID(ctx, run.PipelineID, run.ExternalID)
		if err != nil {
			return Result{}, fmt.Errorf("upsert execution %s: %w", run.ExternalID, err)
		}
		if existing == nil {
			// Lost the build number to a concurrent insert of another run.
			s.logger.Debug("build number collision, retrying insert",
				zap.Int64("pipeline_id", run.PipelineID),
				zap.String("external_id", run.ExternalID),
				zap.Int("attempt", attempt))
			continue
		}
		return s.update(ctx, existing, run)
	}
	return Result{}, fmt.Errorf("upsert execution %s: %w", run.ExternalID, ErrContention)
}

func (s *Store) update(ctx context.Context, current *db.Execution, run ObservedRun) (Result, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		prev := current.Status
		if prev == run.Status {
			return Result{Execution: current, Previous: &prev}, nil
		}

		restart := false
		if prev.Terminal() {
			switch {
			case !run.Status.Terminal() && run.RunAttempt > current.RunAttempt:
				restart = true
			case !run.Status.Terminal():
				s.logger.Debug("ignoring stale observation",
					zap.Int64("execution_id", current.ID),
					zap.String("stored", string(prev)),
					zap.String("observed", string(run.Status)))
				return Result{Execution: current, Previous: &prev}, nil
			default:
				s.logger.Warn("terminal status overwritten",
					zap.Int64("execution_id", current.ID),
					zap.String("from", string(prev)),
					zap.String("to", string(run.Status)))
			}
		}

		runAttempt := run.RunAttempt
		if runAttempt < current.RunAttempt {
			runAttempt = current.RunAttempt
		}
		ok, err := s.db.CompareAndSetExecutionStatus(ctx, current.ID, prev, db.ExecutionUpdate{
			Status:          run.Status,
			RunAttempt:      runAttempt,
			DurationSeconds: run.DurationSeconds,
			StartedAt:       run.StartedAt,
			CompletedAt:     run.CompletedAt,
			RunURL:          run.RunURL,
			Restart:         restart,
		})
		if err != nil {
			return Result{}, fmt.Errorf("update execution %d: %w", current.ID, err)
		}

		next, err := s.db.GetExecution(ctx, current.ID)
		if err != nil {
			return Result{}, fmt.Errorf("update execution %d: %w", current.ID, err)
		}
		if next == nil {
			return Result{}, fmt.Errorf("execution %d disappeared during update", current.ID)
		}
		if ok {
			return Result{Execution: next, Previous: &prev}, nil
		}
		current = next
	}
	return Result{}, fmt.Errorf("update execution %d: %w", current.ID, ErrContention)
}

// Get returns an execution by ID, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*db.Execution, error) {
	return s.db.GetExecution(ctx, id)
}

// GetByExternalID returns the execution for an upstream run, or nil.
func (s *Store) GetByExternalID(ctx context.Context, pipelineID int64, externalID string) (*db.Execution, error) {
	return s.db.GetExecutionByExternalID(ctx, pipelineID, externalID)
}

// ListByPipeline returns up to limit executions, newest build first.
func (s *Store) ListByPipeline(ctx context.Context, pipelineID int64, limit int) ([]db.Execution, error) {
	return s.db.ListExecutions(ctx, pipelineID, limit)
}
