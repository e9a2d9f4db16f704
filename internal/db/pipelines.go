package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxNameSuffix bounds the " (n)" suffix search when a pipeline name collides.
const maxNameSuffix = 1000

// Pipeline represents a row in the pipelines table.
type Pipeline struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	RepositoryURL string    `json:"repository_url"`
	Owner         string    `json:"owner"`
	Repo          string    `json:"repo"`
	WorkflowID    string    `json:"workflow_id"`
	WorkflowName  string    `json:"workflow_name"`
	WebhookID     string    `json:"webhook_id,omitempty"`
	Active        bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewPipeline holds the fields supplied when importing a pipeline.
type NewPipeline struct {
	Name          string
	Kind          string
	RepositoryURL string
	Owner         string
	Repo          string
	WorkflowID    string
	WorkflowName  string
}

const pipelineColumns = `id, name, kind, repository_url, owner, repo, workflow_id, workflow_name, webhook_id, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(s rowScanner) (*Pipeline, error) {
	var p Pipeline
	err := s.Scan(&p.ID, &p.Name, &p.Kind, &p.RepositoryURL, &p.Owner, &p.Repo,
		&p.WorkflowID, &p.WorkflowName, &p.WebhookID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePipeline inserts a pipeline. If the name is taken, " (1)", " (2)", ... is
// appended until the insert succeeds.
func (d *DB) CreatePipeline(ctx context.Context, np NewPipeline) (*Pipeline, error) {
	if np.Name == "" {
		return nil, errors.New("create pipeline: name is required")
	}
	now := d.now()
	for i := 0; i <= maxNameSuffix; i++ {
		name := np.Name
		if i > 0 {
			name = fmt.Sprintf("%s (%d)", np.Name, i)
		}
		var id int64
		err := d.queryRow(ctx,
			`INSERT INTO pipelines (name, kind, repository_url, owner, repo, workflow_id, workflow_name, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			name, np.Kind, np.RepositoryURL, np.Owner, np.Repo, np.WorkflowID, np.WorkflowName, true, now, now,
		).Scan(&id)
		if err = classify(err); err != nil {
			if errors.Is(err, errUniqueViolation) {
				continue
			}
			return nil, fmt.Errorf("create pipeline: %w", err)
		}
		return d.GetPipeline(ctx, id)
	}
	return nil, fmt.Errorf("create pipeline: no free name for %q", np.Name)
}

// GetPipeline returns a pipeline by ID, or nil if it does not exist.
func (d *DB) GetPipeline(ctx context.Context, id int64) (*Pipeline, error) {
	p, err := scanPipeline(d.queryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline %d: %w", id, classify(err))
	}
	return p, nil
}

// ListPipelines returns pipelines ordered by ID. With activeOnly, disabled pipelines are excluded.
func (d *DB) ListPipelines(ctx context.Context, activeOnly bool) ([]Pipeline, error) {
	q := `SELECT ` + pipelineColumns + ` FROM pipelines`
	var args []any
	if activeOnly {
		q += ` WHERE is_active = ?`
		args = append(args, true)
	}
	q += ` ORDER BY id ASC`

	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, classify(rows.Err())
}

// SetPipelineActive enables or soft-disables a pipeline.
func (d *DB) SetPipelineActive(ctx context.Context, id int64, active bool) error {
	return d.updatePipeline(ctx, id, `is_active = ?`, active)
}

// UpdatePipelineLocator stores resolved source-locator fields.
func (d *DB) UpdatePipelineLocator(ctx context.Context, id int64, owner, repo, workflowID, workflowName string) error {
	return d.updatePipeline(ctx, id, `owner = ?, repo = ?, workflow_id = ?, workflow_name = ?`, owner, repo, workflowID, workflowName)
}

// SetPipelineWebhook records the upstream webhook registered for a pipeline.
func (d *DB) SetPipelineWebhook(ctx context.Context, id int64, webhookID string) error {
	return d.updatePipeline(ctx, id, `webhook_id = ?`, webhookID)
}

func (d *DB) updatePipeline(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, d.now(), id)
	res, err := d.exec(ctx, `UPDATE pipelines SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update pipeline %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pipeline %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("pipeline %d not found", id)
	}
	return nil
}

// DeletePipeline removes a pipeline; its executions and subscriptions cascade.
func (d *DB) DeletePipeline(ctx context.Context, id int64) error {
	res, err := d.exec(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %d not found", id)
	}
	return nil
}
