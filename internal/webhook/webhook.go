// Package webhook ingests GitHub workflow_run deliveries.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/github"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrInvalidSignature means the signature was missing or did not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload means the body could not be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Delivery is one webhook request.
type Delivery struct {
	ID        string
	Event     string
	Signature string
	Body      []byte
}

// Result reports how a delivery was handled. Ignored explains why an
// accepted delivery produced no execution.
type Result struct {
	Accepted  bool          `json:"accepted"`
	Ignored   string        `json:"ignored,omitempty"`
	Execution *db.Execution `json:"execution,omitempty"`
	Created   bool          `json:"created,omitempty"`
}

// PipelineLister returns pipelines.
type PipelineLister interface {
	ListPipelines(ctx context.Context, activeOnly bool) ([]db.Pipeline, error)
}

// Applier applies an observation through the shared reconciler.
type Applier interface {
	Apply(ctx context.Context, p *db.Pipeline, run execution.ObservedRun) (execution.Result, error)
}

// Handler verifies, matches, and applies deliveries.
type Handler struct {
	secret    []byte
	pipelines PipelineLister
	sources   *pipeline.Registry
	applier   Applier
	logger    *zap.Logger
}

// NewHandler creates a Handler. An empty secret accepts unsigned deliveries.
// Run statuses are normalized by the source registered for the matched
// pipeline's kind.
func NewHandler(secret string, pipelines PipelineLister, sources *pipeline.Registry, applier Applier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{secret: []byte(secret), pipelines: pipelines, sources: sources, applier: applier, logger: logger}
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ParseSignatureHeader decodes a "sha256=<hex>" header value.
func ParseSignatureHeader(v string) ([]byte, error) {
	if !strings.HasPrefix(v, signaturePrefix) {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidSignature, signaturePrefix)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(v, signaturePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if len(sig) != sha256.Size {
		return nil, fmt.Errorf("%w: wrong length", ErrInvalidSignature)
	}
	return sig, nil
}

// Verify checks the delivery signature against the configured secret.
func (h *Handler) Verify(body []byte, header string) error {
	if len(h.secret) == 0 {
		return nil
	}
	if header == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, SignatureHeader)
	}
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}

// Apply handles one delivery. Deliveries that verify but cannot be used
// (other event types, unknown repositories) are accepted and ignored so the
// sender does not retry them.
func (h *Handler) Apply(ctx context.Context, d Delivery) (Result, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	log := h.logger.With(zap.String("delivery", d.ID), zap.String("event", d.Event))

	if err := h.Verify(d.Body, d.Signature); err != nil {
		log.Warn("webhook rejected", zap.Error(err))
		return Result{}, err
	}

	if d.Event != github.EventWorkflowRun {
		log.Debug("webhook event ignored")
		return Result{Accepted: true, Ignored: fmt.Sprintf("event %q not handled", d.Event)}, nil
	}

	ev, err := github.ParseWorkflowRunEvent(d.Body)
	if err != nil {
		log.Warn("webhook payload rejected", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	p, err := h.match(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	repoName := ev.Owner() + "/" + ev.Repo()
	if p == nil {
		log.Info("no pipeline for repository", zap.String("repository", repoName))
		return Result{Accepted: true, Ignored: fmt.Sprintf("no active pipeline for %s", repoName)}, nil
	}

	src, ok := h.sources.Lookup(pipeline.Kind(p.Kind))
	if !ok {
		log.Warn("no source for pipeline kind", zap.Int64("pipeline_id", p.ID), zap.String("kind", p.Kind))
		return Result{Accepted: true, Ignored: fmt.Sprintf("no source for kind %q", p.Kind)}, nil
	}

	run := github.ToRun(&ev.WorkflowRun)
	obs := run.Observed(p.ID, src)
	res, err := h.applier.Apply(ctx, p, obs)
	if err != nil {
		log.Error("apply webhook run",
			zap.Int64("pipeline_id", p.ID),
			zap.String("run", run.ExternalID),
			zap.Error(err))
		return Result{}, err
	}

	log.Info("webhook run applied",
		zap.Int64("pipeline_id", p.ID),
		zap.String("run", run.ExternalID),
		zap.String("status", string(obs.Status)),
		zap.Bool("created", res.Created),
		zap.Bool("changed", res.Changed()))
	return Result{Accepted: true, Execution: res.Execution, Created: res.Created}, nil
}

// match picks the active GitHub pipeline for the event's repository. A
// pipeline bound to this run's workflow wins over one bound to no workflow;
// pipelines bound to other workflows never match.
func (h *Handler) match(ctx context.Context, ev *github.WorkflowRunEvent) (*db.Pipeline, error) {
	pipelines, err := h.pipelines.ListPipelines(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}

	var fallback *db.Pipeline
	for i := range pipelines {
		p := &pipelines[i]
		if pipeline.Kind(p.Kind) != pipeline.KindGitHub {
			continue
		}
		owner, repo, ok := pipeline.LocatorOf(p).Resolve()
		if !ok || !strings.EqualFold(owner, ev.Owner()) || !strings.EqualFold(repo, ev.Repo()) {
			continue
		}
		switch {
		case p.WorkflowID == "":
			if fallback == nil {
				fallback = p
			}
		case ev.WorkflowRun.MatchesWorkflow(p.WorkflowID):
			return p, nil
		}
	}
	return fallback, nil
}
