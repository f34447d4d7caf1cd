//go:build !windows

package executor

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/lg"
)

func quietEngine() *LocalEngine {
	e := NewLocalEngine(lg.Discard)
	e.Stdout = io.Discard
	e.Stderr = io.Discard
	return e
}

func TestLocalEngineExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		code    int
		success bool
	}{
		{name: "success", argv: []string{"-c", "exit 0"}, code: 0, success: true},
		{name: "failure", argv: []string{"-c", "exit 3"}, code: 3, success: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := quietEngine().Spawn(context.Background(), builder.Invocation{Executable: "sh", Argv: tt.argv, Dir: t.TempDir()})
			require.NoError(t, err)
			st, err := p.Wait()
			require.NoError(t, err)
			assert.Equal(t, tt.code, st.Code)
			assert.Equal(t, tt.success, st.Success())
		})
	}
}

func TestLocalEngineLaunchErrors(t *testing.T) {
	e := quietEngine()

	_, err := e.Spawn(context.Background(), builder.Invocation{Executable: "definitely-not-a-real-binary-xyz", Dir: t.TempDir()})
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "definitely-not-a-real-binary-xyz", le.Invocation.Executable)

	_, err = e.Spawn(context.Background(), builder.Invocation{Executable: "sh", Argv: []string{"-c", "true"}, Dir: filepath.Join(t.TempDir(), "missing")})
	assert.True(t, errors.As(err, &le))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Spawn(ctx, builder.Invocation{Executable: "sh", Dir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalEngineTerminate(t *testing.T) {
	for _, forceful := range []bool{false, true} {
		p, err := quietEngine().Spawn(context.Background(), builder.Invocation{Executable: "sleep", Argv: []string{"30"}, Dir: t.TempDir()})
		require.NoError(t, err)

		done := make(chan ExitStatus, 1)
		go func() {
			st, _ := p.Wait()
			done <- st
		}()
		require.NoError(t, p.Terminate(forceful))

		select {
		case st := <-done:
			assert.False(t, st.Success())
			assert.True(t, st.Signaled)
		case <-time.After(5 * time.Second):
			t.Fatalf("process survived terminate(forceful=%v)", forceful)
		}
	}
}
