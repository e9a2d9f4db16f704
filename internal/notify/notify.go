// Package notify turns execution status transitions into subscriber emails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

// ChannelEmail is the only delivery channel.
const ChannelEmail = "email"

// Event is the notification category derived from a transition.
type Event string

const (
	EventStarted Event = "started"
	EventSuccess Event = "success"
	EventFailure Event = "failure"
	EventStopped Event = "stopped"
)

// DeriveEvent classifies a transition. Transitions outside the four known
// shapes yield the raw status name.
func DeriveEvent(previous *status.Status, current status.Status) Event {
	if previous == nil {
		if current == status.Running {
			return EventStarted
		}
		return Event(current)
	}
	if *previous == status.Running {
		switch current {
		case status.Success:
			return EventSuccess
		case status.Failure, status.Timeout, status.Unknown:
			return EventFailure
		case status.Cancelled:
			return EventStopped
		}
	}
	return Event(current)
}

// Label is the upper-case event text used in subjects.
func (e Event) Label() string {
	return strings.ToUpper(e.Title())
}

// Title is the human-readable event description.
func (e Event) Title() string {
	switch e {
	case EventStarted:
		return "Started"
	case EventSuccess:
		return "Completed Successfully"
	case EventFailure:
		return "Failed"
	case EventStopped:
		return "Stopped"
	}
	return "Updated"
}

// Wants reports whether sub opted in to event. Events other than the four
// flagged ones are sent to anyone subscribed to success or failure.
func Wants(sub db.Subscription, event Event) bool {
	switch event {
	case EventStarted:
		return sub.NotifyOnStarted
	case EventSuccess:
		return sub.NotifyOnSuccess
	case EventFailure:
		return sub.NotifyOnFailure
	case EventStopped:
		return sub.NotifyOnStopped
	}
	return sub.NotifyOnSuccess || sub.NotifyOnFailure
}

// FormatDuration renders seconds as "1h 2m", "3m 4s", or "5s".
// Missing or zero durations render as "N/A".
func FormatDuration(seconds *int64) string {
	if seconds == nil || *seconds <= 0 {
		return "N/A"
	}
	s := *seconds
	switch {
	case s > 3600:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	case s > 60:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// RunLink returns the stored run URL, or one built from the pipeline's
// repository when the URL was never recorded.
func RunLink(e *db.Execution, p *db.Pipeline) string {
	if e.RunURL != "" {
		return e.RunURL
	}
	if p == nil || e.ExternalID == "" {
		return ""
	}
	owner, repo, ok := pipeline.LocatorOf(p).Resolve()
	if !ok {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s/actions/runs/%s", owner, repo, e.ExternalID)
}

// Transition is one applied status change.
type Transition struct {
	Execution *db.Execution
	Previous  *status.Status
	Pipeline  *db.Pipeline
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// SubscriptionLister looks up who to notify.
type SubscriptionLister interface {
	ListSubscriptionsForPipeline(ctx context.Context, pipelineID int64) ([]db.Subscription, error)
}

// Recorder persists delivery outcomes.
type Recorder interface {
	LogNotification(ctx context.Context, r db.NotificationRecord) error
}

// Options tunes message rendering.
type Options struct {
	// TemplateDir overrides built-in templates with files of the same name.
	TemplateDir string
	// Location is used for timestamps in message bodies. Defaults to UTC.
	Location *time.Location
}

// Dispatcher delivers notifications for transitions.
type Dispatcher struct {
	subs     SubscriptionLister
	recorder Recorder
	mailer   Mailer
	logger   *zap.Logger
	loc      *time.Location
	subject  string
	body     string
}

// NewDispatcher creates a Dispatcher. recorder may be nil.
func NewDispatcher(subs SubscriptionLister, recorder Recorder, mailer Mailer, logger *zap.Logger, opts Options) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = NopMailer{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	subject, err := LoadTemplate(SubjectTemplate, opts.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("load subject template: %w", err)
	}
	body, err := LoadTemplate(BodyTemplate, opts.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("load body template: %w", err)
	}
	return &Dispatcher{
		subs:     subs,
		recorder: recorder,
		mailer:   mailer,
		logger:   logger,
		loc:      loc,
		subject:  subject,
		body:     body,
	}, nil
}

// Compose renders the subject and body for a transition.
func (d *Dispatcher) Compose(t Transition, event Event) (Message, error) {
	vars := d.vars(t, event)
	subject, err := Render(d.subject, vars)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := Render(d.body, vars)
	if err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func (d *Dispatcher) vars(t Transition, event Event) Vars {
	e := t.Execution
	name := ""
	if t.Pipeline != nil {
		name = t.Pipeline.Name
	}
	triggeredBy := firstLine(e.CommitMessage)
	if triggeredBy == "" {
		triggeredBy = "manual trigger"
	}
	commit := e.CommitHash
	if len(commit) > 7 {
		commit = commit[:7]
	}

	v := Vars{
		"pipeline_name": name,
		"build_number":  strconv.Itoa(e.BuildNumber),
		"event":         string(event),
		"event_label":   event.Label(),
		"event_title":   event.Title(),
		"status":        strings.ToUpper(string(e.Status)),
		"logs":          "",
		"triggered_by":  triggeredBy,
		"branch":        e.Branch,
		"commit":        commit,
		"run_url":       RunLink(e, t.Pipeline),
		"duration":      "",
		"started_at":    "",
		"completed_at":  "",
	}
	if event == EventFailure || e.Status == status.Failure || e.Status == status.Timeout {
		v["logs"] = e.LogRef
	}
	if event != EventStarted {
		v["duration"] = FormatDuration(e.DurationSeconds)
		if e.CompletedAt != nil {
			v["completed_at"] = e.CompletedAt.In(d.loc).Format("2006-01-02 15:04:05 MST")
		}
	}
	if e.StartedAt != nil {
		v["started_at"] = e.StartedAt.In(d.loc).Format("2006-01-02 15:04:05 MST")
	}
	return v
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// Dispatch sends one message per interested subscriber and records each
// outcome. A delivery failure for one subscriber does not affect the others;
// the returned error only reports a failed subscription lookup.
func (d *Dispatcher) Dispatch(ctx context.Context, t Transition) ([]db.NotificationRecord, error) {
	if t.Execution == nil {
		return nil, errors.New("dispatch: missing execution")
	}
	event := DeriveEvent(t.Previous, t.Execution.Status)

	subs, err := d.subs.ListSubscriptionsForPipeline(ctx, t.Execution.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s for execution %d: %w", event, t.Execution.ID, err)
	}

	var (
		msg      Message
		composed bool
		records  []db.NotificationRecord
	)
	for _, sub := range subs {
		if !Wants(sub, event) {
			continue
		}
		if !composed {
			msg, err = d.Compose(t, event)
			if err != nil {
				return nil, fmt.Errorf("dispatch %s for execution %d: %w", event, t.Execution.ID, err)
			}
			composed = true
		}

		rec := db.NotificationRecord{
			ExecutionID: t.Execution.ID,
			Channel:     ChannelEmail,
			Recipient:   sub.Email,
			Event:       string(event),
			Outcome:     db.OutcomeSent,
		}
		m := msg
		m.To = sub.Email
		if err := d.mailer.Send(ctx, m); err != nil {
			if errors.Is(err, ErrMailNotConfigured) {
				rec.Outcome = db.OutcomeSkipped
			} else {
				rec.Outcome = db.OutcomeFailed
				d.logger.Warn("notification delivery failed",
					zap.String("recipient", sub.Email),
					zap.String("event", string(event)),
					zap.Int64("execution_id", t.Execution.ID),
					zap.Error(err))
			}
			rec.Detail = err.Error()
		} else {
			d.logger.Info("notification sent",
				zap.String("recipient", sub.Email),
				zap.String("event", string(event)),
				zap.Int64("execution_id", t.Execution.ID))
		}
		records = append(records, rec)

		if d.recorder != nil {
			if err := d.recorder.LogNotification(ctx, rec); err != nil {
				d.logger.Warn("record notification outcome", zap.Error(err))
			}
		}
	}
	return records, nil
}

// SendTest sends a sample success notification to one address so the mail
// setup can be checked without a real transition. Nothing is recorded.
func (d *Dispatcher) SendTest(ctx context.Context, to string) (Message, error) {
	now := time.Now().UTC()
	started := now.Add(-2*time.Minute - 5*time.Second)
	dur := int64(125)
	running := status.Running
	t := Transition{
		Pipeline: &db.Pipeline{Name: "AutoFlow test"},
		Previous: &running,
		Execution: &db.Execution{
			Status:          status.Success,
			BuildNumber:     1,
			CommitMessage:   "Test notification",
			Branch:          "main",
			DurationSeconds: &dur,
			StartedAt:       &started,
			CompletedAt:     &now,
		},
	}
	msg, err := d.Compose(t, EventSuccess)
	if err != nil {
		return Message{}, fmt.Errorf("compose test notification: %w", err)
	}
	msg.To = to
	msg.Subject = "[TEST] " + msg.Subject
	if err := d.mailer.Send(ctx, msg); err != nil {
		return msg, err
	}
	d.logger.Info("test notification sent", zap.String("recipient", to))
	return msg, nil
}
