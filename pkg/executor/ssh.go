package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/lg"
)

// SSHEngine runs invocations on a remote POSIX host. Each invocation gets
// its own session.
type SSHEngine struct {
	client *ResilientSSHClient
	Stdout io.Writer
	Stderr io.Writer
	Logger lg.Logger
}

func NewSSHEngine(client *ResilientSSHClient, logger lg.Logger) *SSHEngine {
	if logger == nil {
		logger = lg.Discard
	}
	return &SSHEngine{client: client, Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

func (e *SSHEngine) Spawn(ctx context.Context, inv builder.Invocation) (Process, error) {
	var sess *ssh.Session
	operation := func() error {
		s, err := e.client.newSession()
		if err != nil {
			return fmt.Errorf("new session: %w", err)
		}
		sess = s
		return nil
	}
	// ExponentialBackOff is stateful; every spawn gets its own copy.
	bo := *e.client.ResConf.BackoffSettings
	bo.Reset()
	b := backoff.WithContext(&bo, ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, &LaunchError{Invocation: inv, Err: err}
	}

	sess.Stdout = e.Stdout
	sess.Stderr = e.Stderr
	script := RemoteCommand(inv)
	if err := sess.Start(script); err != nil {
		sess.Close()
		return nil, &LaunchError{Invocation: inv, Err: fmt.Errorf("start: %w", err)}
	}
	e.Logger.Debug("remote process started", lg.String("remote", e.client.SSHClient.RemoteAddr().String()), lg.String("script", script))
	return &sshProcess{sess: sess}, nil
}

type sshProcess struct {
	sess      *ssh.Session
	closeOnce sync.Once
}

func (p *sshProcess) Wait() (ExitStatus, error) {
	err := p.sess.Wait()
	p.close()
	return sshExitStatus(err)
}

func sshExitStatus(err error) (ExitStatus, error) {
	if err == nil {
		return ExitStatus{Code: 0}, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Signal() != "" {
			return ExitStatus{Code: -1, Signaled: true}, nil
		}
		return ExitStatus{Code: exitErr.ExitStatus()}, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return ExitStatus{Code: -1, Signaled: true}, nil
	}
	return ExitStatus{Code: -1}, err
}

// Terminate signals the remote process. Servers that ignore signal requests
// still lose the process on a forceful terminate because the session is closed.
func (p *sshProcess) Terminate(forceful bool) error {
	if !forceful {
		return p.sess.Signal(ssh.SIGTERM)
	}
	err := p.sess.Signal(ssh.SIGKILL)
	p.close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (p *sshProcess) close() {
	p.closeOnce.Do(func() { p.sess.Close() })
}

// RemoteCommand renders inv as a POSIX shell command line, quoting every
// token so that arguments reach the program unsplit.
func RemoteCommand(inv builder.Invocation) string {
	var sb strings.Builder
	if inv.Dir != "" {
		sb.WriteString("cd ")
		sb.WriteString(shellQuote(inv.Dir))
		sb.WriteString(" && ")
	}
	sb.WriteString("exec ")
	sb.WriteString(shellQuote(inv.Executable))
	for _, a := range inv.Argv {
		sb.WriteByte(' ')
		sb.WriteString(shellQuote(a))
	}
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
