package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRun(t *testing.T) {
	tests := []struct {
		cond    RunCondition
		outcome Outcome
		want    bool
	}{
		{Always, Success, true},
		{Always, Failure, true},
		{OnSuccess, Success, true},
		{OnSuccess, Failure, false},
		{OnFailure, Success, false},
		{OnFailure, Failure, true},
		{OnSuccess, Cancelled, false},
		{OnFailure, Cancelled, false},
		{Always, Cancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.cond.String()+"/"+tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.ShouldRun(tt.outcome))
		})
	}
}

func TestOutcomeAfterIsSticky(t *testing.T) {
	o := Success.After(true)
	assert.Equal(t, Success, o)
	o = o.After(false)
	assert.Equal(t, Failure, o)
	o = o.After(true)
	assert.Equal(t, Failure, o)
	assert.Equal(t, Cancelled, Cancelled.After(false))
}

func TestParseRunCondition(t *testing.T) {
	for in, want := range map[string]RunCondition{
		"":           OnSuccess,
		"passed":     OnSuccess,
		"on_success": OnSuccess,
		"failed":     OnFailure,
		"ON_FAILURE": OnFailure,
		"any":        Always,
		"always":     Always,
	} {
		got, err := ParseRunCondition(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRunCondition("sometimes")
	assert.Error(t, err)
}

func TestRunConditionText(t *testing.T) {
	var c RunCondition
	require.NoError(t, c.UnmarshalText([]byte("always")))
	assert.Equal(t, Always, c)
	b, err := c.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "any", string(b))
}
