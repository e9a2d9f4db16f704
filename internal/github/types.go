package github

import "time"

// WorkflowRun is a GitHub Actions workflow run.
type WorkflowRun struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	WorkflowID   int64       `json:"workflow_id"`
	Path         string      `json:"path"`
	Status       string      `json:"status"`
	Conclusion   string      `json:"conclusion"`
	HeadSHA      string      `json:"head_sha"`
	HeadBranch   string      `json:"head_branch"`
	HTMLURL      string      `json:"html_url"`
	LogsURL      string      `json:"logs_url"`
	RunAttempt   int         `json:"run_attempt"`
	RunStartedAt *time.Time  `json:"run_started_at"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	HeadCommit   *HeadCommit `json:"head_commit"`
}

// HeadCommit is the commit a run was triggered for.
type HeadCommit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Repository is the subset of repository fields AutoFlow uses.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Workflow is a workflow definition in a repository.
type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

// Hook is a repository webhook.
type Hook struct {
	ID     int64    `json:"id"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
}

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret,omitempty"`
	InsecureSSL string `json:"insecure_ssl"`
}

type createHookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}
