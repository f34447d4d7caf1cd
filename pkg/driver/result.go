package driver

import (
	"fmt"
	"time"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/executor"
)

// Disposition is the final state of one step.
type Disposition int

const (
	NotRun Disposition = iota
	Completed
	Cancelled
)

func (d Disposition) String() string {
	switch d {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "not-run"
	}
}

func (d Disposition) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Disposition) UnmarshalText(text []byte) error {
	switch string(text) {
	case "not-run":
		*d = NotRun
	case "completed":
		*d = Completed
	case "cancelled":
		*d = Cancelled
	default:
		return fmt.Errorf("unknown disposition %q", text)
	}
	return nil
}

// StepResult records what happened to one step. Err holds a ConfigError for
// steps rejected before the job started, or a LaunchError / wait error for
// steps that ran.
type StepResult struct {
	Index       int
	Description string
	Disposition Disposition
	Invocation  *builder.Invocation
	Status      executor.ExitStatus
	Err         error
	Started     time.Time
	Duration    time.Duration

	// OnCancel is the result of the step's cancel command, when it ran.
	OnCancel *StepResult
}

// Passed reports whether the step ran to a successful exit.
func (r StepResult) Passed() bool {
	return r.Disposition == Completed && r.Err == nil && r.Status.Success()
}

// JobResult is the ordered record of every step plus the final outcome.
type JobResult struct {
	Steps   []StepResult
	Outcome builder.Outcome
}

// Timeline lists the steps that were started, in execution order. A cancel
// command appears before the step it cleaned up after.
func (j JobResult) Timeline() []StepResult {
	var out []StepResult
	for _, s := range j.Steps {
		if s.Disposition == NotRun {
			continue
		}
		if s.OnCancel != nil {
			out = append(out, *s.OnCancel)
		}
		out = append(out, s)
	}
	return out
}

func (j JobResult) Counts() (ran, skipped int) {
	for _, s := range j.Steps {
		if s.Disposition == NotRun {
			skipped++
		} else {
			ran++
		}
	}
	return ran, skipped
}
