package ending

import (
	"fmt"
	"time"
)

// Outcome classifies one (host, task) execution.
type Outcome int

const (
	// OutcomeOK means the task ran and found the desired state already in place.
	OutcomeOK Outcome = iota
	// OutcomeChanged means the task altered observable system state.
	OutcomeChanged
	// OutcomeUnreachable means the host's session could not be established.
	OutcomeUnreachable
	// OutcomeFailed means the task ran and reported failure.
	OutcomeFailed
	// OutcomeSkipped means a conditional guard or tag filter excluded the task.
	OutcomeSkipped
)

// String returns the lowercase label used in recap output.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeChanged:
		return "changed"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// TaskResult is the outcome of one task on one host.
type TaskResult struct {
	Host     string
	Task     string
	Module   string
	Outcome  Outcome
	Message  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	// Attempts counts executions including retries; 1 when no retry fired.
	Attempts int
	// Ignored marks a failed result that ignore_errors downgraded.
	Ignored bool
}

// Failed reports whether this result counts against the run, taking
// ignore_errors into account.
func (r *TaskResult) Failed() bool {
	if r.Ignored {
		return false
	}
	return r.Outcome == OutcomeFailed || r.Outcome == OutcomeUnreachable
}

// Vars returns the result as a var map for `register` and `until`
// expressions.
func (r *TaskResult) Vars() map[string]interface{} {
	return map[string]interface{}{
		"outcome":  r.Outcome.String(),
		"changed":  r.Outcome == OutcomeChanged,
		"failed":   r.Outcome == OutcomeFailed,
		"skipped":  r.Outcome == OutcomeSkipped,
		"msg":      r.Message,
		"stdout":   r.Stdout,
		"stderr":   r.Stderr,
		"rc":       r.ExitCode,
		"attempts": r.Attempts,
	}
}
