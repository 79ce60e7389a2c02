package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	convoerr "github.com/hpungsan/convo/internal/errors"
)

func TestIdentity_ContentBased(t *testing.T) {
	a := Identity(Text{Role: RoleUser, Content: "hi"}, nil)
	b := Identity(Text{Role: RoleUser, Content: "hi"}, nil)
	c := Identity(Text{Role: RoleAssistant, Content: "hi"}, nil)
	d := Identity(Text{Role: RoleUser, Content: "hi!"}, nil)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Equal(t, Fingerprint("user:hi"), a)
}

func TestIdentity_PartsIncludeImages(t *testing.T) {
	parts := func(url string) []ContentBlock {
		return []ContentBlock{
			{Type: "text", Text: "Screenshot"},
			{Type: "image_url", ImageURL: &ImageURL{URL: url}},
		}
	}
	a := Identity(Text{Role: RoleUser, Parts: parts("data:image/png;base64,AAAA")}, nil)
	b := Identity(Text{Role: RoleUser, Parts: parts("data:image/png;base64,BBBB")}, nil)
	c := Identity(Text{Role: RoleUser, Parts: parts("data:image/png;base64,AAAA")}, nil)
	imageOnly := Identity(Text{Role: RoleUser, Parts: parts("x")[1:]}, nil)
	otherImageOnly := Identity(Text{Role: RoleUser, Parts: parts("y")[1:]}, nil)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.NotEqual(t, imageOnly, otherImageOnly)
}

func TestIdentity_CustomKeyIgnoresContent(t *testing.T) {
	key := Key{"file_user", "/repo/main.go"}
	a := Identity(Text{Role: RoleUser, Content: "v1"}, key)
	b := Identity(Text{Role: RoleUser, Content: "v2"}, key)
	c := Identity(Text{Role: RoleUser, Content: "v1"}, Key{"file_user", "/repo/other.go"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIdentity_ToolResultsNeverCollide(t *testing.T) {
	p := ToolResult{CallID: "call_1", Content: "done"}
	a := Identity(p, nil)
	b := Identity(p, nil)
	assert.NotEqual(t, a, b)

	// A key does not make tool results dedupe either.
	assert.NotEqual(t, Identity(p, Key{"k"}), Identity(p, Key{"k"}))
}

func TestIdentity_ToolCallsIncluded(t *testing.T) {
	call := func(args string) ToolCalls {
		return ToolCalls{
			Role: RoleAssistant,
			Calls: []ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: FunctionCall{Name: "read", Arguments: args},
			}},
		}
	}
	a := Identity(call(`{"path":"a"}`), nil)
	b := Identity(call(`{"path":"a"}`), nil)
	c := Identity(call(`{"path":"b"}`), nil)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, Identity(Text{Role: RoleAssistant, Content: ""}, nil))
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	got := canonicalJSON([]ToolCall{{ID: "x", Type: "function", Function: FunctionCall{Name: "n", Arguments: "{}"}}})
	assert.Equal(t, `[{"function":{"arguments":"{}","name":"n"},"id":"x","type":"function"}]`, got)
}

func TestKey(t *testing.T) {
	k := Key{"file_user", "a.go"}
	assert.Equal(t, "file_user/a.go", k.String())
	assert.True(t, k.Equal(Key{"file_user", "a.go"}))
	assert.False(t, k.Equal(Key{"file_user"}))
	assert.True(t, k.HasPrefix("file_user"))
	assert.False(t, k.HasPrefix("file_assistant"))
	assert.False(t, Key{"a"}.HasPrefix("a", "b"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"text ok", Text{Role: RoleUser, Content: "hi"}, false},
		{"empty content allowed", Text{Role: RoleAssistant}, false},
		{"missing role", Text{Content: "hi"}, true},
		{"tool role on text", Text{Role: RoleTool, Content: "hi"}, true},
		{"nil payload", nil, true},
		{"tool calls ok", ToolCalls{Role: RoleAssistant, Calls: []ToolCall{{ID: "1"}}}, false},
		{"tool calls content only", ToolCalls{Role: RoleAssistant, Content: "thinking"}, false},
		{"tool calls empty", ToolCalls{Role: RoleAssistant}, true},
		{"tool calls wrong role", ToolCalls{Role: RoleUser, Calls: []ToolCall{{ID: "1"}}}, true},
		{"tool result ok", ToolResult{CallID: "1", Content: "out"}, false},
		{"tool result missing id", ToolResult{Content: "out"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, convoerr.Is(err, convoerr.ErrInvalidMessage))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewRecord(t *testing.T) {
	r, err := NewRecord(Text{Role: RoleSystem, Content: "sys"}, TagSystem, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Priority)
	assert.Equal(t, RoleSystem, r.Role())
	assert.False(t, r.IsExpired())

	r.Expiry = IntPtr(0)
	assert.False(t, r.IsExpired())
	r.Expiry = IntPtr(-1)
	assert.True(t, r.IsExpired())

	_, err = NewRecord(Text{Role: RoleUser, Content: "x"}, Tag("nope"), nil)
	assert.True(t, convoerr.Is(err, convoerr.ErrUnknownTag))

	_, err = NewRecord(Text{Content: "x"}, TagCur, nil)
	assert.True(t, convoerr.Is(err, convoerr.ErrInvalidMessage))
}

func TestLess(t *testing.T) {
	a := &Record{Priority: 100, Timestamp: 5, Seq: 3}
	b := &Record{Priority: 200, Timestamp: 1, Seq: 1}
	c := &Record{Priority: 100, Timestamp: 5, Seq: 4}
	d := &Record{Priority: 100, Timestamp: 4, Seq: 9}

	assert.True(t, Less(a, b))
	assert.True(t, Less(a, c))
	assert.True(t, Less(d, a))
	assert.False(t, Less(c, a))
}
