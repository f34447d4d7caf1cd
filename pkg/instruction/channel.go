package instruction

import "sync"

// Source is the read side of a Channel, as seen by a job driver.
type Source interface {
	// Load returns the latest instruction.
	Load() Instruction
	// Changed returns a channel that is closed the next time the
	// instruction changes.
	Changed() <-chan struct{}
}

// Channel holds the latest instruction for one job. Writers may only
// escalate it: none, then cancel, then force-cancel.
type Channel struct {
	mu      sync.Mutex
	current Instruction
	changed chan struct{}
}

func NewChannel() *Channel {
	return &Channel{changed: make(chan struct{})}
}

// Set records i if it is stronger than the current instruction and wakes
// every waiter. It reports whether the value changed.
func (c *Channel) Set(i Instruction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !i.Stronger(c.current) {
		return false
	}
	c.current = i
	close(c.changed)
	c.changed = make(chan struct{})
	return true
}

func (c *Channel) Load() Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Channel) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Static is a Source that never changes.
type Static Instruction

func (s Static) Load() Instruction { return Instruction(s) }

func (s Static) Changed() <-chan struct{} { return nil }
