package driver

import (
	"context"
	"errors"
	"sync"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
)

// behavior scripts how a fake process named by its program behaves.
type behavior struct {
	code       int
	block      bool // run until terminated
	ignoreTerm bool // a cooperative terminate does nothing
	launchErr  error
}

type fakeEngine struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	spawned   []builder.Invocation
	procs     map[string]*fakeProcess
	started   chan string
}

func newFakeEngine(b map[string]behavior) *fakeEngine {
	return &fakeEngine{behaviors: b, procs: map[string]*fakeProcess{}, started: make(chan string, 64)}
}

// program maps an invocation back to the program name, for both OS shapes.
func program(inv builder.Invocation) string {
	if inv.Executable == builder.WindowsInterpreter && len(inv.Argv) > 1 {
		return inv.Argv[1]
	}
	return inv.Executable
}

func (e *fakeEngine) Spawn(ctx context.Context, inv builder.Invocation) (executor.Process, error) {
	name := program(inv)
	e.mu.Lock()
	e.spawned = append(e.spawned, inv)
	b := e.behaviors[name]
	e.mu.Unlock()

	if b.launchErr != nil {
		return nil, &executor.LaunchError{Invocation: inv, Err: b.launchErr}
	}
	if err := ctx.Err(); err != nil {
		return nil, &executor.LaunchError{Invocation: inv, Err: err}
	}
	p := &fakeProcess{exit: make(chan executor.ExitStatus, 1), waited: make(chan struct{}), ignoreTerm: b.ignoreTerm}
	if !b.block {
		p.exit <- executor.ExitStatus{Code: b.code}
	}
	e.mu.Lock()
	e.procs[name] = p
	e.mu.Unlock()
	e.started <- name
	return p, nil
}

func (e *fakeEngine) programs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, inv := range e.spawned {
		out = append(out, program(inv))
	}
	return out
}

func (e *fakeEngine) process(name string) *fakeProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.procs[name]
}

type fakeProcess struct {
	mu           sync.Mutex
	exit         chan executor.ExitStatus
	waited       chan struct{} // closed once Wait has the exit status
	ignoreTerm   bool
	terminations []bool
}

func (p *fakeProcess) Wait() (executor.ExitStatus, error) {
	st := <-p.exit
	close(p.waited)
	return st, nil
}

func (p *fakeProcess) Terminate(forceful bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminations = append(p.terminations, forceful)
	if forceful || !p.ignoreTerm {
		select {
		case p.exit <- executor.ExitStatus{Code: -1, Signaled: true}:
		default:
		}
	}
	return nil
}

func (p *fakeProcess) terms() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.terminations...)
}

// scriptedSource answers the n-th Load (counting from 1) with load(n) and
// never reports a change, so the driver only sees what Load returns.
type scriptedSource struct {
	mu    sync.Mutex
	loads int
	load  func(n int) instruction.Instruction
}

func (s *scriptedSource) Load() instruction.Instruction {
	s.mu.Lock()
	s.loads++
	n := s.loads
	s.mu.Unlock()
	return s.load(n)
}

func (s *scriptedSource) Changed() <-chan struct{} { return nil }

var errNotFound = errors.New("executable file not found in $PATH")
