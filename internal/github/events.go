package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook event names, as sent in X-GitHub-Event.
const (
	EventWorkflowRun = "workflow_run"
	EventPing        = "ping"
)

// WorkflowRunEvent is the payload of a workflow_run webhook delivery.
type WorkflowRunEvent struct {
	Action      string      `json:"action"`
	WorkflowRun WorkflowRun `json:"workflow_run"`
	Repository  struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// Owner returns the repository owner login, falling back to full_name.
func (e *WorkflowRunEvent) Owner() string {
	if e.Repository.Owner.Login != "" {
		return e.Repository.Owner.Login
	}
	owner, _ := splitFullName(e.Repository.FullName)
	return owner
}

// Repo returns the repository name, falling back to full_name.
func (e *WorkflowRunEvent) Repo() string {
	if e.Repository.Name != "" {
		return e.Repository.Name
	}
	_, repo := splitFullName(e.Repository.FullName)
	return repo
}

func splitFullName(full string) (string, string) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok {
		return "", ""
	}
	return owner, repo
}

// ParseWorkflowRunEvent decodes a workflow_run payload.
func ParseWorkflowRunEvent(body []byte) (*WorkflowRunEvent, error) {
	var e WorkflowRunEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("parse workflow_run payload: %w", err)
	}
	if e.WorkflowRun.ID == 0 {
		return nil, errors.New("parse workflow_run payload: missing workflow_run.id")
	}
	if e.Owner() == "" || e.Repo() == "" {
		return nil, errors.New("parse workflow_run payload: missing repository")
	}
	return &e, nil
}
