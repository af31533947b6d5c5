// Package types provides the shared data model and request contracts used by the
// generation, retrieval and orchestration actors.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label returns the prefix used when a message is rendered into a prompt.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// ModelConfig is the per-session generation configuration.
type ModelConfig struct {
	Model        string   `json:"model" yaml:"model"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Session is a conversation container. It is owned by the conversation store and
// read once per turn by the orchestrator.
type Session struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	CreatedAt   time.Time   `json:"created_at"`
	ModelConfig ModelConfig `json:"model_config"`
}

// ConversationMessage is one append-only row in a session's history.
type ConversationMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// String renders the message the way it appears in an assembled prompt.
func (m ConversationMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Role.Label(), m.Content)
}

// =============================================================================
// RETRIEVAL TYPES
// =============================================================================

// EmbeddingDimensions is the fixed vector length stored alongside every chunk.
const EmbeddingDimensions = 384

// DocumentChunk is a unit of ingested text with its embedding.
type DocumentChunk struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Metadata string    `json:"metadata,omitempty"`
	Vector   []float32 `json:"-"`
}

// SearchResult is a chunk returned by a similarity search.
// Distance is the cosine distance to the query (lower is closer).
type SearchResult struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Metadata string  `json:"metadata,omitempty"`
	Distance float64 `json:"distance"`
}

// RetrievalStats summarizes the retrieval actor's state.
type RetrievalStats struct {
	Ready       bool   `json:"ready"`
	Model       string `json:"model"`
	TableExists bool   `json:"table_exists"`
	Chunks      int    `json:"chunks"`
	CacheSize   int    `json:"cache_size"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
}

// =============================================================================
// GENERATION TYPES
// =============================================================================

// GenerateRequest carries the inputs shared by blocking and streaming completions.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  *float64
}

// Float64 returns a pointer to v. Handy for optional temperatures.
func Float64(v float64) *float64 {
	return &v
}
