package conversation

import (
	"slices"
	"strings"

	"github.com/hpungsan/convo/internal/message"
)

const (
	contextPrefix   = "<context"
	userInputPrefix = `<context name="user_input">`
)

// DefaultCacheRoles returns the roles eligible for trailing breakpoints.
func DefaultCacheRoles() []message.Role {
	return []message.Role{message.RoleSystem, message.RoleUser, message.RoleAssistant}
}

// MarkCacheBoundaries returns a copy of wires with up to three prompt-cache
// breakpoints:
//   - the last message of the leading run of system messages;
//   - the last qualifying message;
//   - the qualifying message before it.
//
// A message qualifies when its role is in roles, it has no pending tool
// calls, and it is not a transient <context> block. The user_input context
// block is always eligible. The input slice is not modified.
func MarkCacheBoundaries(wires []message.Wire, roles []message.Role) []message.Wire {
	out := message.CloneWires(wires)
	if len(out) == 0 {
		return out
	}

	leading := -1
	for i, w := range out {
		if w.Role != message.RoleSystem {
			break
		}
		leading = i
	}

	last := -1
	for i := len(out) - 1; i >= 0; i-- {
		if qualifies(out[i], roles) {
			last = i
			break
		}
	}

	penultimate := -1
	for i := last - 1; i >= 0; i-- {
		if qualifies(out[i], roles) {
			penultimate = i
			break
		}
	}

	for _, idx := range []int{leading, last, penultimate} {
		if idx >= 0 && !out[idx].Content.HasCacheControl() {
			out[idx] = out[idx].WithCacheControl()
		}
	}
	return out
}

// StripCacheControl returns a copy of wires with every breakpoint removed.
func StripCacheControl(wires []message.Wire) []message.Wire {
	out := make([]message.Wire, len(wires))
	for i, w := range wires {
		out[i] = w.Clone().WithoutCacheControl()
	}
	return out
}

// CountCacheControl returns how many messages carry a breakpoint.
func CountCacheControl(wires []message.Wire) int {
	n := 0
	for _, w := range wires {
		if w.Content.HasCacheControl() {
			n++
		}
	}
	return n
}

func qualifies(w message.Wire, roles []message.Role) bool {
	if len(w.ToolCalls) > 0 {
		return false
	}
	if w.Content.Blocks == nil {
		text := strings.TrimSpace(w.Content.Text)
		if strings.HasPrefix(text, contextPrefix) && !strings.HasPrefix(text, userInputPrefix) {
			return false
		}
	}
	return slices.Contains(roles, w.Role)
}
