package tokens

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"ragcore/internal/types"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("abc"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 2, Estimate("abcde"))
	assert.Equal(t, 1, Estimate("日本語"), "counts runes, not bytes")
}

func TestCounter_UnknownEncodingFallsBack(t *testing.T) {
	c := NewCounter("no-such-encoding")
	assert.Equal(t, Estimate("hello there world"), c.Count("hello there world"))

	var nilCounter *Counter
	assert.Equal(t, 2, nilCounter.Count("12345678"))
}

func TestTrimHistory(t *testing.T) {
	c := NewCounter("no-such-encoding")
	history := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "first question here"},
		{Role: types.RoleAssistant, Content: "first answer"},
		{Role: types.RoleUser, Content: "second question"},
		{Role: types.RoleAssistant, Content: "second answer is long"},
	}

	// Rendered lines estimate to 7, 6, 6 and 8 tokens.
	got := c.TrimHistory(history, 14)
	if diff := cmp.Diff(history[2:], got); diff != "" {
		t.Errorf("TrimHistory mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, c.TrimHistory(history, 0), 4)
	assert.Empty(t, c.TrimHistory(history, 3))
	assert.Len(t, c.TrimHistory(history, 1000), 4)
}
