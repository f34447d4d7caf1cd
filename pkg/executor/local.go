package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/lg"
)

// LocalEngine runs invocations as child processes of the agent, each in its
// own process group so termination reaches everything the step spawned.
type LocalEngine struct {
	Env    []string // nil inherits the agent environment
	Stdout io.Writer
	Stderr io.Writer
	Logger lg.Logger
}

func NewLocalEngine(logger lg.Logger) *LocalEngine {
	if logger == nil {
		logger = lg.Discard
	}
	return &LocalEngine{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

func (e *LocalEngine) Spawn(ctx context.Context, inv builder.Invocation) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Invocation: inv, Err: err}
	}
	cmd := exec.Command(inv.Executable, inv.Argv...)
	cmd.Dir = inv.Dir
	cmd.Env = e.Env
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Invocation: inv, Err: err}
	}
	e.Logger.Debug("process started", lg.String("invocation", inv.String()), lg.Int("pid", cmd.Process.Pid))
	return &localProcess{cmd: cmd}, nil
}

type localProcess struct {
	cmd *exec.Cmd
}

func (p *localProcess) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	if err == nil {
		return ExitStatus{Code: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return ExitStatus{Code: code, Signaled: code == -1}, nil
	}
	return ExitStatus{Code: -1}, err
}

func (p *localProcess) Terminate(forceful bool) error {
	if p.cmd.Process == nil {
		return ErrProcessNotStarted
	}
	if forceful {
		return killGroup(p.cmd)
	}
	return interruptGroup(p.cmd)
}
