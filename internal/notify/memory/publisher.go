// Package memory contains an in-memory publisher for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records published payloads for inspection. Publish can be
// forced to fail with SetError.
type Publisher struct {
	mu      sync.RWMutex
	entries []Entry
	err     error
}

// Entry captures one publish call along with the ID it was assigned.
type Entry struct {
	ID      string
	Topic   string
	Payload any
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID, or the error set
// via SetError.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("memory-%d", len(p.entries)+1)
	p.entries = append(p.entries, Entry{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// SetError makes subsequent Publish calls fail with err. Pass nil to
// clear it.
func (p *Publisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Entries returns a copy of the recorded publishes.
func (p *Publisher) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len reports how many publishes have been recorded.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
