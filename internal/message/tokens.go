package message

import (
	"math"
	"strings"
)

// EstimateTokens estimates token count using a word-based heuristic
// (1.3 tokens per whitespace-separated word).
func EstimateTokens(text string) int {
	words := strings.Fields(strings.TrimSpace(text))
	return int(math.Ceil(float64(len(words)) * 1.3))
}

// EstimateWireTokens sums EstimateTokens over the content of ws.
func EstimateWireTokens(ws []Wire) int {
	total := 0
	for _, w := range ws {
		total += EstimateTokens(w.Content.String())
	}
	return total
}
