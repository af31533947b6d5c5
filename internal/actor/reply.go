package actor

import (
	"context"
	"sync/atomic"

	"ragcore/internal/types"
)

// Result is the single value carried by a Reply.
type Result[T any] struct {
	Value T
	Err   error
}

// Reply is a single-use conduit: it carries at most one Result and then closes.
// The receiving actor is its only writer.
type Reply[T any] struct {
	ch   chan Result[T]
	used atomic.Bool
}

// NewReply creates an unused reply channel.
func NewReply[T any]() *Reply[T] {
	return &Reply[T]{ch: make(chan Result[T], 1)}
}

// Send delivers the result. Only the first Send or Abandon has any effect;
// later calls report false.
func (r *Reply[T]) Send(value T, err error) bool {
	if !r.used.CompareAndSwap(false, true) {
		return false
	}
	r.ch <- Result[T]{Value: value, Err: err}
	close(r.ch)
	return true
}

// Abandon closes the reply without a value.
func (r *Reply[T]) Abandon() {
	if r.used.CompareAndSwap(false, true) {
		close(r.ch)
	}
}

// Wait blocks for the result. A reply closed without a value, or an actor that
// stopped before answering, yields an internal error; ctx ending yields a timeout.
func (r *Reply[T]) Wait(ctx context.Context, op string, stopped <-chan struct{}) (T, error) {
	var zero T
	select {
	case res, ok := <-r.ch:
		if !ok {
			return zero, types.InternalError(op, types.ErrNoReply)
		}
		return res.Value, res.Err
	case <-ctx.Done():
		return zero, types.TimeoutError(op, ctx.Err())
	case <-stopped:
		select {
		case res, ok := <-r.ch:
			if ok {
				return res.Value, res.Err
			}
			return zero, types.InternalError(op, types.ErrNoReply)
		default:
			return zero, types.InternalError(op, types.ErrMailboxClosed)
		}
	}
}

// Call packages a request with a fresh reply, enqueues it, and waits for the answer.
func Call[M Message, T any](ctx context.Context, mb *Mailbox[M], op string, build func(*Reply[T]) M) (T, error) {
	reply := NewReply[T]()
	if err := mb.Send(ctx, build(reply)); err != nil {
		var zero T
		return zero, err
	}
	return reply.Wait(ctx, op, mb.Done())
}
