package types

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by conversation stores for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Generator produces completions. The generation actor handle is the production
// implementation; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// StreamGenerate forwards tokens into sink and returns once the upstream
	// stream has ended. It never closes sink; the consumer does.
	StreamGenerate(ctx context.Context, req GenerateRequest, sink *TokenSink) error
}

// Retriever ingests and searches the knowledge base.
type Retriever interface {
	Ingest(ctx context.Context, content, metadata string) (string, error)
	Search(ctx context.Context, query string, filters []string, limit int) ([]string, error)
}

// ConversationStore is the narrow CRUD contract the orchestrator consumes.
type ConversationStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	AddMessage(ctx context.Context, sessionID string, role Role, content string) (*ConversationMessage, error)
	// GetSessionMessages returns the history ordered by creation time ascending.
	GetSessionMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)
}

// SessionStore extends the turn contract with the operations used by the CLI and
// HTTP surfaces.
type SessionStore interface {
	ConversationStore
	CreateSession(ctx context.Context, title string, cfg ModelConfig) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	Close() error
}

// Notifier receives fire-and-forget progress events for the turn running in
// sessionID. Implementations must not block.
type Notifier interface {
	ThinkingStep(sessionID, label string)
	ChatToken(sessionID, token string)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) ThinkingStep(string, string) {}
func (NopNotifier) ChatToken(string, string)    {}
