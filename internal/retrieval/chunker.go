package retrieval

import "strings"

// DefaultMinChunkLength is the length a trimmed line must exceed to be kept.
const DefaultMinChunkLength = 20

// Chunk splits content into one chunk per line. Lines are trimmed and only
// those longer than minLen characters survive. The result keeps input order.
func Chunk(content string, minLen int) []string {
	if minLen < 0 {
		minLen = DefaultMinChunkLength
	}
	var chunks []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > minLen {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}
