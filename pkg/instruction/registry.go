package instruction

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownID = errors.New("no instruction channel for id")

// Registry maps job execution IDs to their instruction channels.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Open returns the channel for id, creating it if needed.
func (r *Registry) Open(id string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		ch = NewChannel()
		r.channels[id] = ch
	}
	return ch
}

func (r *Registry) Lookup(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Deliver sets i on the open channel for id and reports whether it changed.
// An id without an open channel is an ErrUnknownID and leaves no state
// behind.
func (r *Registry) Deliver(id string, i Instruction) (bool, error) {
	ch, ok := r.Lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return ch.Set(i), nil
}

func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
