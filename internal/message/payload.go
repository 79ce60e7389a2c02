package message

import (
	"strings"

	convoerr "github.com/hpungsan/convo/internal/errors"
)

// Role is the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole returns the Role for s, or false if s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return r, true
	}
	return "", false
}

// Payload is the provider-facing body of a message. It is one of Text,
// ToolCalls or ToolResult.
type Payload interface {
	role() Role
}

// Text is a plain message. Parts, when set, carries multimodal content and
// takes precedence over Content on the wire.
type Text struct {
	Role    Role
	Content string
	Parts   []ContentBlock
}

func (t Text) role() Role { return t.Role }

// ToolCalls is an assistant turn that requests one or more tool invocations.
type ToolCalls struct {
	Role    Role
	Content string
	Calls   []ToolCall
}

func (t ToolCalls) role() Role { return t.Role }

// ToolResult answers a single tool call.
type ToolResult struct {
	CallID  string
	Content string
}

func (ToolResult) role() Role { return RoleTool }

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// RoleOf returns the role of p, or "" for a nil payload.
func RoleOf(p Payload) Role {
	if p == nil {
		return ""
	}
	return p.role()
}

// ContentOf returns the text content of p. Multimodal parts contribute their
// text blocks.
func ContentOf(p Payload) string {
	switch v := p.(type) {
	case Text:
		if v.Parts != nil {
			return blocksText(v.Parts)
		}
		return v.Content
	case ToolCalls:
		return v.Content
	case ToolResult:
		return v.Content
	}
	return ""
}

// Validate checks that p carries a role valid for its kind and some content
// or tool calls.
func Validate(p Payload) error {
	switch v := p.(type) {
	case nil:
		return convoerr.NewInvalidMessage("payload is required")
	case Text:
		switch v.Role {
		case "":
			return convoerr.NewInvalidMessage("role is required")
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return convoerr.NewInvalidMessage("unsupported role " + string(v.Role))
		}
	case ToolCalls:
		if v.Role == "" {
			return convoerr.NewInvalidMessage("role is required")
		}
		if v.Role != RoleAssistant {
			return convoerr.NewInvalidMessage("tool calls require role assistant")
		}
		if len(v.Calls) == 0 && v.Content == "" {
			return convoerr.NewInvalidMessage("content or tool_calls is required")
		}
	case ToolResult:
		if v.CallID == "" {
			return convoerr.NewInvalidMessage("tool_call_id is required")
		}
	default:
		return convoerr.NewInvalidMessage("unsupported payload type")
	}
	return nil
}
