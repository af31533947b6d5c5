package usage

import "time"

// Data is the persisted document.
type Data struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Aggregate Aggregate `json:"aggregate"`
}

// Aggregate holds counters broken down by dimension.
type Aggregate struct {
	Total       TokenCounts            `json:"total"`
	ByBackend   map[string]TokenCounts `json:"by_backend"`
	ByOperation map[string]TokenCounts `json:"by_operation"` // turn, generate
	BySession   map[string]TokenCounts `json:"by_session"`
}

// TokenCounts holds prompt and completion sums.
type TokenCounts struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
	Requests   int64 `json:"requests"`
}

func (tc *TokenCounts) Add(prompt, completion int) {
	tc.Prompt += int64(prompt)
	tc.Completion += int64(completion)
	tc.Total += int64(prompt + completion)
	tc.Requests++
}

func newAggregate() Aggregate {
	return Aggregate{
		ByBackend:   make(map[string]TokenCounts),
		ByOperation: make(map[string]TokenCounts),
		BySession:   make(map[string]TokenCounts),
	}
}
