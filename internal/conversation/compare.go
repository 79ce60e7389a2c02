package conversation

import (
	"strings"

	"github.com/hpungsan/convo/internal/message"
)

// CompareReport describes how a full export differs from the previous one.
// A provider can reuse its prompt cache only for the unchanged prefix.
type CompareReport struct {
	Before  int   `json:"before"`
	After   int   `json:"after"`
	Changed []int `json:"changed_indices"`

	// Added and Removed count messages appended to or dropped from the end.
	Added   int `json:"added"`
	Removed int `json:"removed"`

	BeforeChars    int `json:"before_chars"`
	AfterChars     int `json:"after_chars"`
	CacheableChars int `json:"cacheable_chars"`

	// ProperSuperset is true when the new stream starts with the unchanged prefix.
	ProperSuperset bool `json:"proper_superset"`

	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`
}

// CompareExports compares two full exports by message content.
func CompareExports(before, after []message.Wire) CompareReport {
	r := CompareReport{
		Before:       len(before),
		After:        len(after),
		TokensBefore: message.EstimateWireTokens(before),
		TokensAfter:  message.EstimateWireTokens(after),
	}

	common := min(len(before), len(after))
	prefix := common
	for i := 0; i < common; i++ {
		if before[i].Content.String() != after[i].Content.String() {
			if prefix == common {
				prefix = i
			}
			r.Changed = append(r.Changed, i)
		}
	}
	if len(after) > len(before) {
		r.Added = len(after) - len(before)
	} else {
		r.Removed = len(before) - len(after)
	}

	r.BeforeChars = contentChars(before)
	r.AfterChars = contentChars(after)
	r.CacheableChars = contentChars(before[:prefix])
	r.ProperSuperset = strings.HasPrefix(joinContent(after), joinContent(before[:prefix]))
	return r
}

func contentChars(ws []message.Wire) int {
	n := 0
	for _, w := range ws {
		n += len(w.Content.String())
	}
	return n
}

func joinContent(ws []message.Wire) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Content.String()
	}
	return strings.Join(parts, "\n")
}
