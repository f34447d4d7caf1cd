package instruction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceImpliesCancel(t *testing.T) {
	i := New(false, true)
	assert.True(t, i.ShouldCancel())
	assert.True(t, i.ShouldForceCancel())
	assert.True(t, ForceCancel().ShouldCancel())
	assert.False(t, Cancel().ShouldForceCancel())
	assert.False(t, None().ShouldCancel())
}

func TestEqualConsidersForceFlag(t *testing.T) {
	assert.True(t, Cancel().Equal(New(true, false)))
	assert.False(t, Cancel().Equal(ForceCancel()))
	assert.True(t, None().Equal(Instruction{}))
}

func TestChannelOnlyEscalates(t *testing.T) {
	c := NewChannel()
	assert.Equal(t, None(), c.Load())

	assert.True(t, c.Set(Cancel()))
	assert.False(t, c.Set(Cancel()))
	assert.False(t, c.Set(None()))
	assert.Equal(t, "cancel", c.Load().String())

	assert.True(t, c.Set(ForceCancel()))
	assert.False(t, c.Set(Cancel()))
	assert.Equal(t, ForceCancel(), c.Load())
}

func TestChannelWakesWaiters(t *testing.T) {
	c := NewChannel()
	changed := c.Changed()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Set(ForceCancel())
	}()

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.True(t, c.Load().ShouldForceCancel())

	select {
	case <-c.Changed():
		t.Fatal("fresh change channel must stay open")
	default:
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ch := r.Open("job-1")
	changed, err := r.Deliver("job-1", Cancel())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, ch.Load().ShouldCancel())
	assert.Same(t, ch, r.Open("job-1"))
	assert.Equal(t, 1, r.Len())

	r.Close("job-1")
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Open("job-1").Load().ShouldCancel())
}

func TestRegistryIgnoresUnknownIDs(t *testing.T) {
	r := NewRegistry()
	r.Open("job-1")
	r.Close("job-1")

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		changed, err := r.Deliver(id, ForceCancel())
		assert.ErrorIs(t, err, ErrUnknownID)
		assert.False(t, changed)
	}
	assert.Equal(t, 0, r.Len())
	_, ok := r.Lookup("job-1")
	assert.False(t, ok)

	assert.False(t, r.Open("job-1").Load().ShouldCancel(), "a late instruction must not reach a resubmitted job")
}

func TestStaticSource(t *testing.T) {
	var s Source = Static(ForceCancel())
	assert.True(t, s.Load().ShouldForceCancel())
	assert.Nil(t, s.Changed())
}
