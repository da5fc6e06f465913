// ABOUTME: Pending handles for operations that finish in the background
// ABOUTME: Callers may ignore them, poll Done, or block on Wait

package conversation

import (
	"context"
	"sync"
)

// Pending settles when a background reconciliation with the server ends.
type Pending struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func settledPending(err error) *Pending {
	p := newPending()
	p.resolve(err)
	return p
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the operation settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the outcome; nil until Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the operation settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingSend is the handle returned by SendMessage. MessageID identifies
// the optimistic user message.
type PendingSend struct {
	*Pending
	MessageID string
}
