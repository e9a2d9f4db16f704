// Package reconcile applies observed runs to the execution store and fans
// applied transitions out to notifications and realtime listeners. The
// webhook and polling paths share one Reconciler.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/notify"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/realtime"
)

// DefaultQueueSize is the fan-out backlog before Apply starts waiting.
const DefaultQueueSize = 256

// dispatchTimeout bounds one transition's notification delivery.
const dispatchTimeout = 2 * time.Minute

// enqueueTimeout bounds how long Apply waits for room in a full queue.
const enqueueTimeout = 30 * time.Second

var (
	// ErrClosed is returned by Apply after Close.
	ErrClosed = errors.New("reconciler closed")
	// ErrQueueFull means fan-out stayed backed up for enqueueTimeout.
	ErrQueueFull = errors.New("reconciler fan-out queue full")
)

// Upserter applies an observation to the store.
type Upserter interface {
	Upsert(ctx context.Context, run execution.ObservedRun) (execution.Result, error)
}

// Notifier delivers notifications for a transition.
type Notifier interface {
	Dispatch(ctx context.Context, t notify.Transition) ([]db.NotificationRecord, error)
}

// Publisher broadcasts realtime notices.
type Publisher interface {
	Publish(n realtime.Notice)
}

type item struct {
	ctx        context.Context
	transition notify.Transition
	created    bool
}

// Reconciler serializes fan-out behind successful store applies.
type Reconciler struct {
	store     Upserter
	notifier  Notifier
	publisher Publisher
	logger    *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan item
	done    chan struct{}
}

// New creates a Reconciler. notifier and publisher may be nil.
func New(store Upserter, notifier Notifier, publisher Publisher, logger *zap.Logger, queueSize int) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Reconciler{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan item, queueSize),
		done:      make(chan struct{}),
	}
}

// Changed reports whether a result created a row or moved its status.
func Changed(r execution.Result) bool {
	return r.Changed()
}

// Start launches the fan-out worker. It is safe to call more than once.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.run()
}

// Close stops accepting work and waits for queued fan-out to finish.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	started := r.started
	close(r.queue)
	r.mu.Unlock()

	if !started {
		// Drain inline so nothing queued before Start is lost.
		r.drain()
		close(r.done)
		return
	}
	<-r.done
}

// Apply upserts run and, when the store reports a change, queues the
// transition for notification and broadcast. The store result is returned
// as soon as the transition is queued.
func (r *Reconciler) Apply(ctx context.Context, p *db.Pipeline, run execution.ObservedRun) (execution.Result, error) {
	if p == nil {
		return execution.Result{}, errors.New("apply: pipeline is required")
	}
	run.PipelineID = p.ID

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return execution.Result{}, ErrClosed
	}

	res, err := r.store.Upsert(ctx, run)
	if err != nil {
		return res, fmt.Errorf("apply run %s to pipeline %d: %w", run.ExternalID, p.ID, err)
	}
	if !res.Changed() {
		return res, nil
	}

	it := item{
		ctx:        context.WithoutCancel(ctx),
		transition: notify.Transition{Execution: res.Execution, Previous: res.Previous, Pipeline: p},
		created:    res.Created,
	}
	if err := r.enqueue(it); err != nil {
		r.logger.Warn("transition applied but not queued for fan-out",
			zap.Int64("execution_id", res.Execution.ID),
			zap.Error(err))
	}
	return res, nil
}

// enqueue queues a transition whose store write already committed. The
// caller's context is not consulted: a cancelled request must not lose the
// fan-out for a change it already saved.
func (r *Reconciler) enqueue(it item) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- it:
		return nil
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case r.queue <- it:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

func (r *Reconciler) run() {
	defer close(r.done)
	r.drain()
}

func (r *Reconciler) drain() {
	for it := range r.queue {
		r.fanOut(it)
	}
}

func (r *Reconciler) fanOut(it item) {
	e := it.transition.Execution
	if r.publisher != nil {
		typ := realtime.ExecutionUpdated
		if it.created {
			typ = realtime.ExecutionCreated
		}
		r.publisher.Publish(realtime.Notice{
			Type:        typ,
			PipelineID:  e.PipelineID,
			ExecutionID: e.ID,
			Status:      string(e.Status),
		})
	}

	if r.notifier != nil {
		ctx, cancel := context.WithTimeout(it.ctx, dispatchTimeout)
		defer cancel()
		if _, err := r.notifier.Dispatch(ctx, it.transition); err != nil {
			r.logger.Error("notification dispatch failed",
				zap.Int64("execution_id", e.ID),
				zap.String("status", string(e.Status)),
				zap.Error(err))
		}
	}
}
