package status

import "fmt"

// Status is the canonical execution status, independent of any CI provider's vocabulary.
type Status string

const (
	Pending   Status = "pending"
	Queued    Status = "queued"
	Running   Status = "running"
	Success   Status = "success"
	Failure   Status = "failure"
	Cancelled Status = "cancelled"
	Skipped   Status = "skipped"
	Timeout   Status = "timeout"
	Unknown   Status = "unknown"
)

// All lists every canonical status in a stable order.
var All = []Status{Pending, Queued, Running, Success, Failure, Cancelled, Skipped, Timeout, Unknown}

// Provider lifecycle phases.
const (
	PhaseQueued     = "queued"
	PhaseInProgress = "in_progress"
	PhasePending    = "pending"
	PhaseWaiting    = "waiting"
	PhaseRequested  = "requested"
	PhaseCompleted  = "completed"
)

// Provider conclusions, only meaningful once the phase is completed.
const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionCancelled      = "cancelled"
	ConclusionSkipped        = "skipped"
	ConclusionTimedOut       = "timed_out"
	ConclusionActionRequired = "action_required"
	ConclusionNeutral        = "neutral"
	ConclusionStale          = "stale"
)

// Normalize maps a provider (phase, conclusion) pair to a canonical status.
// Every phase other than completed is treated as running. The mapping is total:
// unrecognized conclusions yield Unknown.
func Normalize(phase, conclusion string) Status {
	if phase != PhaseCompleted {
		return Running
	}
	switch conclusion {
	case ConclusionSuccess:
		return Success
	case ConclusionFailure:
		return Failure
	case ConclusionTimedOut:
		return Timeout
	case ConclusionCancelled:
		return Cancelled
	case ConclusionSkipped:
		return Skipped
	case ConclusionActionRequired:
		return Pending
	default:
		return Unknown
	}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state for a run attempt.
func (s Status) Terminal() bool {
	switch s {
	case Success, Failure, Cancelled, Skipped, Timeout, Unknown:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Parse converts a stored string back into a Status.
func Parse(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q", v)
	}
	return s, nil
}
