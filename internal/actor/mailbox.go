// Package actor provides the mailbox and reply primitives shared by every actor:
// a bounded FIFO queue drained by one goroutine, and single-use reply channels.
package actor

import (
	"context"
	"sync"

	"ragcore/internal/types"
)

// DefaultCapacity is the mailbox size used by all actors.
const DefaultCapacity = 32

// Message is implemented by every mailbox message. Abandon closes the message's
// reply without a value so the caller observes an internal error.
type Message interface {
	Abandon()
}

// Mailbox is a bounded ordered queue with a single consumer.
// The message channel itself is never closed; stopping is signalled through done.
type Mailbox[M Message] struct {
	ch   chan M
	done chan struct{}
	once sync.Once
}

// NewMailbox creates a mailbox holding up to capacity queued messages.
func NewMailbox[M Message](capacity int) *Mailbox[M] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox[M]{
		ch:   make(chan M, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues msg and returns once it is queued, not once it is processed.
// A full queue blocks the caller until space frees up, ctx ends, or the mailbox closes.
func (m *Mailbox[M]) Send(ctx context.Context, msg M) error {
	select {
	case <-m.done:
		return types.InternalError("send", types.ErrMailboxClosed)
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	case <-m.done:
		return types.InternalError("send", types.ErrMailboxClosed)
	case <-ctx.Done():
		return types.TimeoutError("send", ctx.Err())
	}
}

// Receive is the consumer side. Only the owning actor reads from it.
func (m *Mailbox[M]) Receive() <-chan M {
	return m.ch
}

// Done is closed once the mailbox stops accepting messages.
func (m *Mailbox[M]) Done() <-chan struct{} {
	return m.done
}

// Closed reports whether Close has been called.
func (m *Mailbox[M]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued messages.
func (m *Mailbox[M]) Len() int {
	return len(m.ch)
}

// Close stops accepting messages. Safe to call more than once.
func (m *Mailbox[M]) Close() {
	m.once.Do(func() { close(m.done) })
}

// Shutdown closes the mailbox and abandons whatever is still queued. It returns
// the number of abandoned messages. Only the consumer calls it.
func (m *Mailbox[M]) Shutdown() int {
	m.Close()
	n := 0
	for {
		select {
		case msg := <-m.ch:
			msg.Abandon()
			n++
		default:
			return n
		}
	}
}
