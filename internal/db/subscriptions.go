package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Subscription represents a row in the subscriptions table. A nil PipelineID
// subscribes to every pipeline.
type Subscription struct {
	ID              int64     `json:"id"`
	PipelineID      *int64    `json:"pipeline_id"`
	Email           string    `json:"email"`
	NotifyOnStarted bool      `json:"notify_on_started"`
	NotifyOnSuccess bool      `json:"notify_on_success"`
	NotifyOnFailure bool      `json:"notify_on_failure"`
	NotifyOnStopped bool      `json:"notify_on_stopped"`
	CreatedAt       time.Time `json:"created_at"`
}

const subscriptionColumns = `id, pipeline_id, email, notify_on_started, notify_on_success, notify_on_failure, notify_on_stopped, created_at`

func scanSubscription(s rowScanner) (*Subscription, error) {
	var (
		sub Subscription
		pid sql.NullInt64
	)
	if err := s.Scan(&sub.ID, &pid, &sub.Email, &sub.NotifyOnStarted, &sub.NotifyOnSuccess,
		&sub.NotifyOnFailure, &sub.NotifyOnStopped, &sub.CreatedAt); err != nil {
		return nil, err
	}
	if pid.Valid {
		v := pid.Int64
		sub.PipelineID = &v
	}
	return &sub, nil
}

// AddSubscription stores a subscription and returns its ID.
func (d *DB) AddSubscription(ctx context.Context, s Subscription) (int64, error) {
	if s.Email == "" {
		return 0, fmt.Errorf("add subscription: email is required")
	}
	var pid any
	if s.PipelineID != nil {
		pid = *s.PipelineID
	}
	var id int64
	err := d.queryRow(ctx,
		`INSERT INTO subscriptions (pipeline_id, email, notify_on_started, notify_on_success, notify_on_failure, notify_on_stopped, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		pid, s.Email, s.NotifyOnStarted, s.NotifyOnSuccess, s.NotifyOnFailure, s.NotifyOnStopped, d.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add subscription: %w", classify(err))
	}
	return id, nil
}

// ListSubscriptionsForPipeline returns the subscriptions that apply to a
// pipeline: its own plus the all-pipelines ones.
func (d *DB) ListSubscriptionsForPipeline(ctx context.Context, pipelineID int64) ([]Subscription, error) {
	return d.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE pipeline_id = ? OR pipeline_id IS NULL ORDER BY id ASC`,
		pipelineID)
}

// ListSubscriptions returns every subscription.
func (d *DB) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return d.listSubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id ASC`)
}

func (d *DB) listSubscriptions(ctx context.Context, q string, args ...any) ([]Subscription, error) {
	rows, err := d.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, classify(rows.Err())
}

// RemoveSubscription deletes a subscription by ID.
func (d *DB) RemoveSubscription(ctx context.Context, id int64) error {
	res, err := d.exec(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove subscription %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d not found", id)
	}
	return nil
}
