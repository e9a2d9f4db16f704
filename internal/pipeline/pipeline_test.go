package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/status"
)

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
		wantErr     bool
	}{
		{"https://github.com/acme/api", "acme", "api", false},
		{"https://github.com/acme/api.git", "acme", "api", false},
		{"https://github.com/acme/api/", "acme", "api", false},
		{"git@github.com:acme/api.git", "acme", "api", false},
		{"acme/api", "acme", "api", false},
		{"https://github.com/acme", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		owner, repo, err := ParseRepositoryURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRepositoryURL(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepositoryURL(%q): %v", tt.in, err)
			continue
		}
		if owner != tt.owner || repo != tt.repo {
			t.Errorf("ParseRepositoryURL(%q) = %s/%s, want %s/%s", tt.in, owner, repo, tt.owner, tt.repo)
		}
	}
}

func TestLocatorResolve(t *testing.T) {
	owner, repo, ok := Locator{Owner: "acme", Repo: "api", RepositoryURL: "https://github.com/other/thing"}.Resolve()
	if !ok || owner != "acme" || repo != "api" {
		t.Errorf("explicit fields should win, got %s/%s ok=%v", owner, repo, ok)
	}

	owner, repo, ok = Locator{RepositoryURL: "https://github.com/acme/web.git"}.Resolve()
	if !ok || owner != "acme" || repo != "web" {
		t.Errorf("derived = %s/%s ok=%v, want acme/web", owner, repo, ok)
	}

	if _, _, ok := (Locator{Owner: "acme"}).Resolve(); ok {
		t.Error("expected unresolvable locator")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("GitHub"); err != nil || k != KindGitHub {
		t.Errorf("ParseKind(GitHub) = %q, %v", k, err)
	}
	if _, err := ParseKind("jenkins"); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestRunDurationSeconds(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(2*time.Minute + 5*time.Second + 900*time.Millisecond)

	r := Run{StartedAt: &start, CompletedAt: &end}
	d := r.DurationSeconds()
	if d == nil || *d != 125 {
		t.Errorf("duration = %v, want 125", d)
	}
	if (Run{StartedAt: &start}).DurationSeconds() != nil {
		t.Error("expected nil duration without completion time")
	}
}

func TestRunObserved(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	r := Run{ExternalID: "77", Phase: "done", Conclusion: "ok", RunAttempt: 2, Branch: "main", StartedAt: &start, CompletedAt: &end}

	var gotPhase, gotConclusion string
	n := NormalizerFunc(func(phase, conclusion string) status.Status {
		gotPhase, gotConclusion = phase, conclusion
		return status.Success
	})
	o := r.Observed(3, n)
	if gotPhase != "done" || gotConclusion != "ok" {
		t.Errorf("normalizer saw %q/%q, want done/ok", gotPhase, gotConclusion)
	}
	if o.PipelineID != 3 || o.ExternalID != "77" || o.Status != status.Success || o.RunAttempt != 2 || o.Branch != "main" {
		t.Errorf("unexpected observation: %+v", o)
	}
	if o.DurationSeconds == nil || *o.DurationSeconds != 60 {
		t.Errorf("duration = %v, want 60", o.DurationSeconds)
	}
}

type fakeSource struct{ kind Kind }

func (f fakeSource) Kind() Kind { return f.kind }
func (f fakeSource) ListRecentRuns(context.Context, string, Locator, int) ([]Run, error) {
	return nil, nil
}
func (f fakeSource) NormalizeStatus(phase, conclusion string) status.Status {
	return status.Normalize(phase, conclusion)
}
func (f fakeSource) Transient(error) bool { return false }

func TestRegistry(t *testing.T) {
	r := NewRegistry(fakeSource{kind: KindGitHub})
	if _, ok := r.Lookup(KindGitHub); !ok {
		t.Error("expected github source")
	}
	if _, ok := r.Lookup(Kind("jenkins")); ok {
		t.Error("unexpected source for unregistered kind")
	}
}
