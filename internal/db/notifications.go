package db

import (
	"context"
	"fmt"
	"time"
)

// Notification outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// NotificationRecord is one delivery attempt to one recipient.
type NotificationRecord struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"execution_id"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	Event       string    `json:"event"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// LogNotification records a delivery outcome.
func (d *DB) LogNotification(ctx context.Context, r NotificationRecord) error {
	sentAt := r.SentAt
	if sentAt.IsZero() {
		sentAt = d.now()
	}
	_, err := d.exec(ctx,
		`INSERT INTO notifications (execution_id, channel, recipient, event, outcome, detail, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ExecutionID, r.Channel, r.Recipient, r.Event, r.Outcome, r.Detail, sentAt)
	if err != nil {
		return fmt.Errorf("log notification: %w", err)
	}
	return nil
}

// ListNotifications returns the delivery records for an execution in insertion order.
func (d *DB) ListNotifications(ctx context.Context, executionID int64) ([]NotificationRecord, error) {
	rows, err := d.query(ctx,
		`SELECT id, execution_id, channel, recipient, event, outcome, detail, sent_at
		 FROM notifications WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.Channel, &r.Recipient, &r.Event, &r.Outcome, &r.Detail, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		records = append(records, r)
	}
	return records, classify(rows.Err())
}
