// Package pipeline holds the provider-neutral pipeline model: source kinds,
// source locators, and the capability interface each kind implements.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

// Kind identifies where a pipeline's runs come from.
type Kind string

// KindGitHub is a hosted-CI pipeline backed by GitHub Actions workflows.
const KindGitHub Kind = "github"

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindGitHub:
		return KindGitHub, nil
	}
	return "", fmt.Errorf("unknown pipeline kind %q", s)
}

// Locator addresses a pipeline's runs upstream. RepositoryURL is a fallback
// for when Owner and Repo are not stored explicitly.
type Locator struct {
	Owner         string
	Repo          string
	WorkflowID    string
	RepositoryURL string
}

// LocatorOf extracts the locator fields from a stored pipeline.
func LocatorOf(p *db.Pipeline) Locator {
	return Locator{
		Owner:         p.Owner,
		Repo:          p.Repo,
		WorkflowID:    p.WorkflowID,
		RepositoryURL: p.RepositoryURL,
	}
}

// Resolve returns the owner and repo, deriving them from RepositoryURL when
// the explicit fields are empty. ok is false when neither source yields both.
func (l Locator) Resolve() (owner, repo string, ok bool) {
	if l.Owner != "" && l.Repo != "" {
		return l.Owner, l.Repo, true
	}
	owner, repo, err := ParseRepositoryURL(l.RepositoryURL)
	if err != nil {
		return "", "", false
	}
	return owner, repo, true
}

// ParseRepositoryURL extracts owner/repo from an https, ssh, or bare
// "owner/repo" reference. A trailing ".git" is stripped.
func ParseRepositoryURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", fmt.Errorf("empty repository url")
	}

	var path string
	switch {
	case strings.HasPrefix(s, "git@"):
		// git@github.com:owner/repo.git
		i := strings.Index(s, ":")
		if i < 0 {
			return "", "", fmt.Errorf("invalid repository url %q", raw)
		}
		path = s[i+1:]
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", fmt.Errorf("invalid repository url %q: %w", raw, perr)
		}
		path = u.Path
	default:
		path = s
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q has no owner/repo", raw)
	}
	return parts[0], parts[1], nil
}

// Run is one upstream run as reported by a Source. Phase and Conclusion are
// in the provider's vocabulary; the Source's Normalizer maps them.
type Run struct {
	ExternalID    string
	Phase         string
	Conclusion    string
	RunAttempt    int
	CommitHash    string
	CommitMessage string
	Branch        string
	RunURL        string
	LogRef        string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// DurationSeconds returns floor(completed - started) when both ends are known.
func (r Run) DurationSeconds() *int64 {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return nil
	}
	d := int64(r.CompletedAt.Sub(*r.StartedAt) / time.Second)
	if d < 0 {
		d = 0
	}
	return &d
}

// Observed converts r into the store's observation for pipelineID, with the
// status normalized by n.
func (r Run) Observed(pipelineID int64, n Normalizer) execution.ObservedRun {
	return execution.ObservedRun{
		PipelineID:      pipelineID,
		ExternalID:      r.ExternalID,
		Status:          n.NormalizeStatus(r.Phase, r.Conclusion),
		RunAttempt:      r.RunAttempt,
		DurationSeconds: r.DurationSeconds(),
		CommitHash:      r.CommitHash,
		CommitMessage:   r.CommitMessage,
		Branch:          r.Branch,
		LogRef:          r.LogRef,
		RunURL:          r.RunURL,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// Normalizer maps a provider's phase and conclusion to a canonical status.
type Normalizer interface {
	NormalizeStatus(phase, conclusion string) status.Status
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(phase, conclusion string) status.Status

func (f NormalizerFunc) NormalizeStatus(phase, conclusion string) status.Status {
	return f(phase, conclusion)
}

// Source is the capability each pipeline kind provides to the ingestion paths.
type Source interface {
	Normalizer
	Kind() Kind
	// ListRecentRuns returns up to limit runs, most recent first.
	ListRecentRuns(ctx context.Context, token string, loc Locator, limit int) ([]Run, error)
	// Transient reports whether a ListRecentRuns error is likely to clear
	// by the next poll (outage, rate limit).
	Transient(err error) bool
}

// Registry maps kinds to their sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[Kind]Source
}

// NewRegistry creates a registry holding the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[Kind]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the source for its kind.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = s
}

// Lookup returns the source for kind.
func (r *Registry) Lookup(kind Kind) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	return s, ok
}
