// Package poller periodically pulls recent runs for every active pipeline
// and applies them through the shared reconciler. It is the fallback for
// webhook deliveries that never arrive.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/logging"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultLimit    = 10
)

// Per-pipeline outcomes of a poll.
const (
	ActionPolled  = "polled"
	ActionSkipped = "skipped"
	ActionError   = "error"
)

// ErrPipelineNotFound is returned by PollPipeline for an unknown id.
var ErrPipelineNotFound = errors.New("pipeline not found")

// PipelineLister returns pipelines.
type PipelineLister interface {
	ListPipelines(ctx context.Context, activeOnly bool) ([]db.Pipeline, error)
	GetPipeline(ctx context.Context, id int64) (*db.Pipeline, error)
}

// Credentials supplies per-pipeline upstream tokens.
type Credentials interface {
	Get(pipelineID int64) (string, bool)
	ClearAll()
}

// Applier applies an observation through the shared reconciler.
type Applier interface {
	Apply(ctx context.Context, p *db.Pipeline, run execution.ObservedRun) (execution.Result, error)
}

// Action is what one poll did for one pipeline.
type Action struct {
	PipelineID int64  `json:"pipeline_id"`
	Pipeline   string `json:"pipeline"`
	Action     string `json:"action"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Message    string `json:"message,omitempty"`
}

// Result summarizes one poll.
type Result struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Actions   []Action      `json:"actions"`
}

// Count returns how many actions have the given outcome.
func (r *Result) Count(action string) int {
	n := 0
	for _, a := range r.Actions {
		if a.Action == action {
			n++
		}
	}
	return n
}

// Config tunes a Poller.
type Config struct {
	Interval time.Duration
	Limit    int
}

// Poller runs PollOnce on a schedule.
type Poller struct {
	pipelines PipelineLister
	sources   *pipeline.Registry
	creds     Credentials
	applier   Applier
	logger    *zap.Logger
	interval  time.Duration
	limit     int

	// tick serializes scheduled and manual polls.
	tick sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Poller.
func New(pipelines PipelineLister, sources *pipeline.Registry, creds Credentials, applier Applier, logger *zap.Logger, cfg Config) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Poller{
		pipelines: pipelines,
		sources:   sources,
		creds:     creds,
		applier:   applier,
		logger:    logger.Named("poller"),
		interval:  cfg.Interval,
		limit:     cfg.Limit,
	}
}

// Interval returns the configured tick interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start schedules PollOnce every interval. Ticks that would overlap a
// running poll are skipped. Calling Start twice is a no-op.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	cl := logging.CronLogger(p.logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := c.AddFunc(spec, func() { p.scheduled(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule poller %q: %w", spec, err)
	}
	c.Start()

	p.cron, p.ctx, p.cancel = c, ctx, cancel
	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	return nil
}

func (p *Poller) scheduled(ctx context.Context) {
	res, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error("poll failed", zap.Error(err))
		return
	}
	p.logger.Debug("poll finished",
		zap.Int("polled", res.Count(ActionPolled)),
		zap.Int("skipped", res.Count(ActionSkipped)),
		zap.Int("errors", res.Count(ActionError)),
		zap.Duration("took", res.Duration))
}

// Stop stops scheduling, waits for an in-flight poll, and drops all
// credentials. If ctx ends first the in-flight poll is cancelled.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()

	defer p.creds.ClearAll()
	if c == nil {
		return nil
	}
	defer cancel()

	select {
	case <-c.Stop().Done():
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("stop poller: %w", ctx.Err())
	}
}

// PollOnce polls every active pipeline once, sequentially. Per-pipeline
// failures are reported in the result; only failing to list pipelines is
// an error. A call made while another poll runs waits for it.
func (p *Poller) PollOnce(ctx context.Context) (*Result, error) {
	p.tick.Lock()
	defer p.tick.Unlock()

	res := &Result{StartedAt: time.Now().UTC()}
	pipelines, err := p.pipelines.ListPipelines(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("poll: list pipelines: %w", err)
	}

	for i := range pipelines {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		res.Actions = append(res.Actions, p.pollPipeline(ctx, &pipelines[i]))
	}
	res.Duration = time.Since(res.StartedAt)
	return res, nil
}

// PollPipeline polls a single pipeline now, waiting for any in-flight poll
// first. A disabled pipeline is reported as skipped.
func (p *Poller) PollPipeline(ctx context.Context, id int64) (*Result, error) {
	p.tick.Lock()
	defer p.tick.Unlock()

	res := &Result{StartedAt: time.Now().UTC()}
	pl, err := p.pipelines.GetPipeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("poll pipeline %d: %w", id, err)
	}
	if pl == nil {
		return nil, fmt.Errorf("poll pipeline %d: %w", id, ErrPipelineNotFound)
	}
	if !pl.Active {
		res.Actions = append(res.Actions, Action{PipelineID: pl.ID, Pipeline: pl.Name, Action: ActionSkipped, Message: "pipeline disabled"})
	} else {
		res.Actions = append(res.Actions, p.pollPipeline(ctx, pl))
	}
	res.Duration = time.Since(res.StartedAt)
	return res, nil
}

func (p *Poller) pollPipeline(ctx context.Context, pl *db.Pipeline) Action {
	act := Action{PipelineID: pl.ID, Pipeline: pl.Name}
	log := p.logger.With(zap.Int64("pipeline_id", pl.ID), zap.String("pipeline", pl.Name))

	token, ok := p.creds.Get(pl.ID)
	if !ok {
		act.Action = ActionSkipped
		act.Message = "no credential"
		log.Debug("pipeline skipped: no credential")
		return act
	}

	src, ok := p.sources.Lookup(pipeline.Kind(pl.Kind))
	if !ok {
		act.Action = ActionSkipped
		act.Message = fmt.Sprintf("no source for kind %q", pl.Kind)
		log.Warn("pipeline skipped: unsupported kind", zap.String("kind", pl.Kind))
		return act
	}

	runs, err := src.ListRecentRuns(ctx, token, pipeline.LocatorOf(pl), p.limit)
	if err != nil {
		act.Action = ActionError
		act.Message = err.Error()
		if src.Transient(err) {
			log.Info("upstream unavailable; retrying next poll", zap.Error(err))
		} else {
			log.Warn("list recent runs failed", zap.Error(err))
		}
		return act
	}

	act.Action = ActionPolled
	for _, run := range runs {
		r, err := p.applier.Apply(ctx, pl, run.Observed(pl.ID, src))
		if err != nil {
			act.Action = ActionError
			act.Message = err.Error()
			if errors.Is(err, db.ErrStoreUnavailable) {
				log.Error("store unavailable; abandoning pipeline for this poll", zap.Error(err))
				return act
			}
			log.Warn("apply run failed", zap.String("run", run.ExternalID), zap.Error(err))
			continue
		}
		switch {
		case r.Created:
			act.Created++
		case r.Changed():
			act.Updated++
		}
	}
	log.Debug("pipeline polled",
		zap.Int("runs", len(runs)),
		zap.Int("created", act.Created),
		zap.Int("updated", act.Updated))
	return act
}
