package github

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

// Source adapts Client to pipeline.Source for GitHub Actions pipelines.
type Source struct {
	client *Client
}

// NewSource creates a pipeline source backed by client.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Kind() pipeline.Kind {
	return pipeline.KindGitHub
}

func (s *Source) NormalizeStatus(phase, conclusion string) status.Status {
	return status.Normalize(phase, conclusion)
}

func (s *Source) Transient(err error) bool {
	return Transient(err)
}

// ListRecentRuns lists the pipeline's most recent runs as normalized runs.
func (s *Source) ListRecentRuns(ctx context.Context, token string, loc pipeline.Locator, limit int) ([]pipeline.Run, error) {
	owner, repo, ok := loc.Resolve()
	if !ok {
		return nil, fmt.Errorf("pipeline locator has no owner/repo")
	}
	runs, err := s.client.ListRecentRuns(ctx, token, owner, repo, loc.WorkflowID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Run, 0, len(runs))
	for i := range runs {
		out = append(out, ToRun(&runs[i]))
	}
	return out, nil
}

// MatchesWorkflow reports whether a stored workflow reference (numeric id or
// workflow file name) names the workflow this run belongs to.
func (r *WorkflowRun) MatchesWorkflow(ref string) bool {
	if ref == "" {
		return false
	}
	if r.WorkflowID != 0 && ref == strconv.FormatInt(r.WorkflowID, 10) {
		return true
	}
	return r.Path != "" && (ref == r.Path || ref == path.Base(r.Path))
}

// ToRun converts an API or webhook workflow run into a pipeline run.
// Completion time is only known once the run is completed, in which case
// updated_at marks it.
func ToRun(r *WorkflowRun) pipeline.Run {
	run := pipeline.Run{
		ExternalID: strconv.FormatInt(r.ID, 10),
		Phase:      r.Status,
		Conclusion: r.Conclusion,
		RunAttempt: r.RunAttempt,
		CommitHash: r.HeadSHA,
		Branch:     r.HeadBranch,
		RunURL:     r.HTMLURL,
		LogRef:     r.LogsURL,
	}
	if r.HeadCommit != nil {
		run.CommitMessage = r.HeadCommit.Message
	}
	if run.RunAttempt < 1 {
		run.RunAttempt = 1
	}

	switch {
	case r.RunStartedAt != nil && !r.RunStartedAt.IsZero():
		t := r.RunStartedAt.UTC()
		run.StartedAt = &t
	case !r.CreatedAt.IsZero():
		t := r.CreatedAt.UTC()
		run.StartedAt = &t
	}
	if r.Status == status.PhaseCompleted && !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt.UTC()
		run.CompletedAt = &t
	}
	return run
}

// FindWorkflow picks the workflow a user reference names: numeric id, file
// path, file name, or display name (case-insensitive), in that order.
func FindWorkflow(workflows []Workflow, ref string) (*Workflow, bool) {
	if ref == "" {
		return nil, false
	}
	for i := range workflows {
		if strconv.FormatInt(workflows[i].ID, 10) == ref {
			return &workflows[i], true
		}
	}
	for i := range workflows {
		if workflows[i].Path == ref || path.Base(workflows[i].Path) == ref {
			return &workflows[i], true
		}
	}
	for i := range workflows {
		if strings.EqualFold(workflows[i].Name, ref) {
			return &workflows[i], true
		}
	}
	return nil, false
}
