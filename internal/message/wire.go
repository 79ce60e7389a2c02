package message

import (
	"bytes"
	"encoding/json"
	"strings"

	convoerr "github.com/hpungsan/convo/internal/errors"
)

// CacheControl is a provider prompt-cache breakpoint.
type CacheControl struct {
	Type string `json:"type"`
}

// Ephemeral is the only breakpoint type emitted.
var Ephemeral = CacheControl{Type: "ephemeral"}

// ImageURL references inline or remote image data.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentBlock is one element of list-form content.
type ContentBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	ImageURL     *ImageURL     `json:"image_url,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// Content is message content in either string form or list form. It encodes
// as a JSON string unless Blocks is set.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, a list of blocks, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = Content{Blocks: blocks}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Content{Text: s}
	return nil
}

// String returns the text of c; list-form content joins its text blocks.
func (c Content) String() string {
	if c.Blocks != nil {
		return blocksText(c.Blocks)
	}
	return c.Text
}

// HasCacheControl reports whether any block carries a breakpoint.
func (c Content) HasCacheControl() bool {
	for _, b := range c.Blocks {
		if b.CacheControl != nil {
			return true
		}
	}
	return false
}

// Wire is the provider-ready form of a message.
type Wire struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToWire projects a payload to its wire form. The result shares no slices with p.
func ToWire(p Payload) Wire {
	switch v := p.(type) {
	case Text:
		w := Wire{Role: v.Role, Content: Content{Text: v.Content}}
		if v.Parts != nil {
			w.Content = Content{Blocks: cloneBlocks(v.Parts)}
		}
		return w
	case ToolCalls:
		return Wire{
			Role:      v.Role,
			Content:   Content{Text: v.Content},
			ToolCalls: append([]ToolCall(nil), v.Calls...),
		}
	case ToolResult:
		return Wire{Role: RoleTool, Content: Content{Text: v.Content}, ToolCallID: v.CallID}
	}
	return Wire{}
}

// FromWire converts a decoded wire message into a validated payload.
func FromWire(w Wire) (Payload, error) {
	role, ok := ParseRole(string(w.Role))
	if !ok {
		if w.Role == "" {
			return nil, convoerr.NewInvalidMessage("role is required")
		}
		return nil, convoerr.NewInvalidMessage("unsupported role " + string(w.Role))
	}

	var p Payload
	switch {
	case role == RoleTool:
		p = ToolResult{CallID: w.ToolCallID, Content: w.Content.String()}
	case len(w.ToolCalls) > 0:
		p = ToolCalls{Role: role, Content: w.Content.String(), Calls: append([]ToolCall(nil), w.ToolCalls...)}
	default:
		t := Text{Role: role, Content: w.Content.Text}
		if w.Content.Blocks != nil {
			t = Text{Role: role, Parts: cloneBlocks(w.Content.Blocks)}
		}
		p = t
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// WithCacheControl returns a copy of w whose content is in list form with a
// breakpoint on its last block. String content becomes a single text block.
func (w Wire) WithCacheControl() Wire {
	out := w
	out.ToolCalls = append([]ToolCall(nil), w.ToolCalls...)
	if w.Content.Blocks == nil || len(w.Content.Blocks) == 0 {
		out.Content = Content{Blocks: []ContentBlock{{Type: "text", Text: w.Content.Text}}}
	} else {
		out.Content = Content{Blocks: cloneBlocks(w.Content.Blocks)}
	}
	cc := Ephemeral
	out.Content.Blocks[len(out.Content.Blocks)-1].CacheControl = &cc
	return out
}

// WithoutCacheControl reverses WithCacheControl. A single plain text block
// collapses back to string content.
func (w Wire) WithoutCacheControl() Wire {
	if !w.Content.HasCacheControl() {
		return w
	}
	out := w
	blocks := cloneBlocks(w.Content.Blocks)
	for i := range blocks {
		blocks[i].CacheControl = nil
	}
	if len(blocks) == 1 && blocks[0].Type == "text" && blocks[0].ImageURL == nil {
		out.Content = Content{Text: blocks[0].Text}
		return out
	}
	out.Content = Content{Blocks: blocks}
	return out
}

func cloneBlocks(in []ContentBlock) []ContentBlock {
	if in == nil {
		return nil
	}
	out := make([]ContentBlock, len(in))
	for i, b := range in {
		out[i] = b
		if b.ImageURL != nil {
			u := *b.ImageURL
			out[i].ImageURL = &u
		}
		if b.CacheControl != nil {
			cc := *b.CacheControl
			out[i].CacheControl = &cc
		}
	}
	return out
}

func blocksText(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// Clone returns a deep copy of w.
func (w Wire) Clone() Wire {
	out := w
	out.Content = Content{Text: w.Content.Text, Blocks: cloneBlocks(w.Content.Blocks)}
	if w.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), w.ToolCalls...)
	}
	return out
}

// CloneWires deep-copies a wire list.
func CloneWires(ws []Wire) []Wire {
	if ws == nil {
		return nil
	}
	out := make([]Wire, len(ws))
	for i, w := range ws {
		out[i] = w.Clone()
	}
	return out
}
