package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// maxPerPage is the largest page size the Actions API accepts.
const maxPerPage = 100

// ListRecentRuns returns up to limit workflow runs, most recent first. With a
// workflowID only that workflow's runs are listed.
func (c *Client) ListRecentRuns(ctx context.Context, token, owner, repo, workflowID string, limit int) ([]WorkflowRun, error) {
	if limit <= 0 || limit > maxPerPage {
		limit = maxPerPage
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/runs", url.PathEscape(owner), url.PathEscape(repo))
	if workflowID != "" {
		path = fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs",
			url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(workflowID))
	}
	path += "?per_page=" + strconv.Itoa(limit)

	var resp struct {
		TotalCount   int           `json:"total_count"`
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	if err := c.do(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list runs for %s/%s: %w", owner, repo, err)
	}
	runs := resp.WorkflowRuns
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListWorkflows returns the workflows defined in a repository.
func (c *Client) ListWorkflows(ctx context.Context, token, owner, repo string) ([]Workflow, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows?per_page=%d", url.PathEscape(owner), url.PathEscape(repo), maxPerPage)
	var resp struct {
		TotalCount int        `json:"total_count"`
		Workflows  []Workflow `json:"workflows"`
	}
	if err := c.do(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list workflows for %s/%s: %w", owner, repo, err)
	}
	return resp.Workflows, nil
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, token, owner, repo string) (*Repository, error) {
	var r Repository
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.do(ctx, token, http.MethodGet, path, nil, &r); err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	return &r, nil
}

// RegisterWebhook creates a repository webhook delivering workflow_run events
// to callbackURL, signed with secret. It returns the hook ID.
func (c *Client) RegisterWebhook(ctx context.Context, token, owner, repo, callbackURL, secret string) (int64, error) {
	if callbackURL == "" {
		return 0, fmt.Errorf("register webhook on %s/%s: callback url is required", owner, repo)
	}
	req := createHookRequest{
		Name:   "web",
		Active: true,
		Events: []string{EventWorkflowRun},
		Config: hookConfig{URL: callbackURL, ContentType: "json", Secret: secret, InsecureSSL: "0"},
	}
	var hook Hook
	path := fmt.Sprintf("/repos/%s/%s/hooks", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.do(ctx, token, http.MethodPost, path, req, &hook); err != nil {
		return 0, fmt.Errorf("register webhook on %s/%s: %w", owner, repo, err)
	}
	return hook.ID, nil
}
