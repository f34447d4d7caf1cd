package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/stepagent/pkg/builder"
)

var ErrProcessNotStarted = errors.New("process not started")

// Engine knows how to start an invocation, locally or over some transport.
type Engine interface {
	Spawn(ctx context.Context, inv builder.Invocation) (Process, error)
}

// Process is a running invocation. Wait must be called exactly once.
// Terminate may be called any number of times, concurrently with Wait;
// a forceful terminate kills the process without giving it a chance to
// clean up.
type Process interface {
	Wait() (ExitStatus, error)
	Terminate(forceful bool) error
}

// ExitStatus is how a process ended. Code is -1 when the process did not
// exit normally (killed by a signal, lost connection).
type ExitStatus struct {
	Code     int  `json:"code"`
	Signaled bool `json:"signaled,omitempty"`
}

func (s ExitStatus) Success() bool {
	return s.Code == 0 && !s.Signaled
}

// LaunchError means the engine could not start the invocation at all.
type LaunchError struct {
	Invocation builder.Invocation
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Invocation.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
