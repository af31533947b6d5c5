// Package tokens counts prompt tokens so conversation history can be trimmed
// to a budget.
package tokens

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"ragcore/internal/actor"
	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// Counter counts tokens with a BPE encoding loaded on first use. When the
// encoding cannot be loaded (offline, unknown name) it falls back to Estimate.
type Counter struct {
	encoding string
	enc      *actor.Holder[*tiktoken.Tiktoken]
}

// NewCounter returns a counter for the named encoding, e.g. "cl100k_base".
func NewCounter(encoding string) *Counter {
	return &Counter{
		encoding: encoding,
		enc: actor.NewHolder(func() (*tiktoken.Tiktoken, error) {
			enc, err := tiktoken.GetEncoding(encoding)
			if err != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("Token encoding %s unavailable, estimating: %v", encoding, err)
				return nil, err
			}
			return enc, nil
		}),
	}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil {
		return Estimate(text)
	}
	enc, err := c.enc.Get()
	if err != nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// Estimate approximates a token count as one token per four characters.
func Estimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TrimHistory keeps the newest messages whose rendered lines fit in budget
// tokens, preserving chronological order. A non-positive budget keeps all.
func (c *Counter) TrimHistory(history []types.ConversationMessage, budget int) []types.ConversationMessage {
	if budget <= 0 {
		return history
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := c.Count(history[i].String())
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	if start > 0 {
		logging.OrchestratorDebug("History trimmed: dropped %d of %d messages (budget=%d)", start, len(history), budget)
	}
	return history[start:]
}
