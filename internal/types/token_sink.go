package types

import "sync"

// Token is one streamed fragment. A non-nil Err marks a fragment that could not
// be decoded; the stream continues after it.
type Token struct {
	Text string
	Err  error
}

// TokenSink is the bounded channel a streaming completion writes into.
// The consumer owns closing it; sends after Close are dropped.
type TokenSink struct {
	ch     chan Token
	closed chan struct{}
	once   sync.Once
}

// NewTokenSink creates a sink with the given buffer size.
func NewTokenSink(buffer int) *TokenSink {
	if buffer < 0 {
		buffer = 0
	}
	return &TokenSink{
		ch:     make(chan Token, buffer),
		closed: make(chan struct{}),
	}
}

// Send delivers t, blocking while the buffer is full. It reports false when the
// consumer has already closed the sink.
func (s *TokenSink) Send(t Token) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- t:
		return true
	case <-s.closed:
		return false
	}
}

// Tokens returns the receive side. The channel itself is never closed so that a
// late producer can never panic; consumers stop reading when the producer returns.
func (s *TokenSink) Tokens() <-chan Token {
	return s.ch
}

// Close tells producers to stop delivering. Safe to call more than once.
func (s *TokenSink) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Closed reports whether Close has been called.
func (s *TokenSink) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
