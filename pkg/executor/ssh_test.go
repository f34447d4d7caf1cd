package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andrej220/stepagent/pkg/builder"
)

func TestRemoteCommand(t *testing.T) {
	inv := builder.Invocation{Executable: "./build.sh", Argv: []string{"release", "it's here"}, Dir: "/srv/repo"}
	assert.Equal(t, `cd '/srv/repo' && exec './build.sh' 'release' 'it'\''s here'`, RemoteCommand(inv))

	assert.Equal(t, `exec 'make'`, RemoteCommand(builder.Invocation{Executable: "make"}))
}

func TestSSHExitStatus(t *testing.T) {
	st, err := sshExitStatus(nil)
	assert.NoError(t, err)
	assert.True(t, st.Success())

	st, err = sshExitStatus(errors.New("connection lost"))
	assert.Error(t, err)
	assert.Equal(t, -1, st.Code)
}

func TestSSHOptionsRequireAuth(t *testing.T) {
	_, err := SSHOptions{User: "agent"}.ClientConfig()
	assert.Error(t, err)

	cfg, err := SSHOptions{User: "agent", Password: "secret"}.ClientConfig()
	assert.NoError(t, err)
	assert.Equal(t, "agent", cfg.User)
	assert.NotZero(t, cfg.Timeout)
}
