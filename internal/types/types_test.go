package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "User", RoleUser.Label())
	assert.Equal(t, "Assistant", RoleAssistant.Label())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("system").Valid())
}

func TestConversationMessageString(t *testing.T) {
	msg := ConversationMessage{Role: RoleAssistant, Content: "hello there"}
	assert.Equal(t, "Assistant: hello there", msg.String())
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"configuration", ConfigurationError("search", ErrNotReady), KindConfiguration},
		{"validation", ValidationError("process", "content is empty"), KindValidation},
		{"internal", InternalError("call", ErrNoReply), KindInternal},
		{"timeout", TimeoutError("call", errors.New("deadline")), KindTimeout},
		{"retrieval", RetrievalError("ingest", errors.New("disk full")), KindRetrieval},
		{"untyped", errors.New("plain"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.kind))
		})
	}
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	err := ConfigurationError("search", ErrNotReady)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, "configuration error: search: not ready", err.Error())

	wrapped := fmt.Errorf("turn failed: %w", err)
	assert.Equal(t, KindConfiguration, KindOf(wrapped))

	noCause := NewError(KindInternal, "", nil)
	assert.Equal(t, "internal error: internal", noCause.Error())
}

func TestTokenSinkDeliversInOrder(t *testing.T) {
	sink := NewTokenSink(4)
	require.True(t, sink.Send(Token{Text: "a"}))
	require.True(t, sink.Send(Token{Text: "b"}))

	assert.Equal(t, "a", (<-sink.Tokens()).Text)
	assert.Equal(t, "b", (<-sink.Tokens()).Text)
}

func TestTokenSinkDropsAfterClose(t *testing.T) {
	sink := NewTokenSink(0)
	sink.Close()
	sink.Close()
	assert.True(t, sink.Closed())

	done := make(chan bool, 1)
	go func() { done <- sink.Send(Token{Text: "late"}) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a closed sink")
	}
}

func TestTokenSinkUnblocksProducerOnClose(t *testing.T) {
	sink := NewTokenSink(0)
	done := make(chan bool, 1)
	go func() { done <- sink.Send(Token{Text: "stuck"}) }()

	time.Sleep(10 * time.Millisecond)
	sink.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("producer stayed blocked after Close")
	}
}
