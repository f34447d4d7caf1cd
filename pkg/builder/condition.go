package builder

import (
	"fmt"
	"strings"
)

// RunCondition decides whether a step runs given the job's aggregate outcome.
// The zero value is OnSuccess.
type RunCondition int

const (
	OnSuccess RunCondition = iota
	OnFailure
	Always
)

func (c RunCondition) String() string {
	switch c {
	case OnFailure:
		return "failed"
	case Always:
		return "any"
	default:
		return "passed"
	}
}

// ShouldRun evaluates the condition against the aggregate outcome of the
// steps executed so far.
func (c RunCondition) ShouldRun(outcome Outcome) bool {
	switch c {
	case Always:
		return true
	case OnFailure:
		return outcome == Failure
	default:
		return outcome == Success
	}
}

// ParseRunCondition accepts the agent vocabulary (passed, failed, any) and
// the long forms (on_success, on_failure, always).
func ParseRunCondition(s string) (RunCondition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "passed", "on_success", "onsuccess", "success":
		return OnSuccess, nil
	case "failed", "on_failure", "onfailure", "failure":
		return OnFailure, nil
	case "any", "always":
		return Always, nil
	}
	return OnSuccess, fmt.Errorf("unknown run condition %q", s)
}

func (c RunCondition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *RunCondition) UnmarshalText(text []byte) error {
	parsed, err := ParseRunCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Outcome is the aggregate result of a job. It starts as Success and becomes
// Failure, permanently, once any executed step fails.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Failure:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "passed"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "passed":
		*o = Success
	case "failed":
		*o = Failure
	case "cancelled":
		*o = Cancelled
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// After returns the aggregate outcome once a step that actually ran has
// finished with the given success flag.
func (o Outcome) After(stepPassed bool) Outcome {
	if o == Cancelled {
		return o
	}
	if !stepPassed {
		return Failure
	}
	return o
}
