package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/convo/internal/message"
)

var tagNames = func() []string {
	var names []string
	for _, t := range message.Tags() {
		names = append(names, string(t))
	}
	return names
}()

var addToolDef = mcp.NewTool("convo_add",
	mcp.WithDescription("Add a message to the conversation under a tag. Messages are deduplicated by content, or by key when one is given."),
	mcp.WithString("tag", mcp.Required(), mcp.Description("Message tag"), mcp.Enum(tagNames...)),
	mcp.WithString("role", mcp.Required(), mcp.Description("system, user, assistant or tool"), mcp.Enum("system", "user", "assistant", "tool")),
	mcp.WithString("content", mcp.Description("Message text")),
	mcp.WithArray("tool_calls", mcp.Description("Assistant tool calls, OpenAI shape")),
	mcp.WithString("tool_call_id", mcp.Description("Tool call answered by a tool message")),
	mcp.WithArray("key", mcp.Description("Stable identity parts, e.g. [\"static\", \"env\"]"), mcp.Items(map[string]any{"type": "string"})),
	mcp.WithNumber("priority", mcp.Description("Overrides the tag's default priority")),
	mcp.WithNumber("expiry", mcp.Description("Turns the message survives; 0 means it lasts one turn")),
	mcp.WithBoolean("force", mcp.Description("Overwrite an existing message with the same identity")),
)

var exportToolDef = mcp.NewTool("convo_export",
	mcp.WithDescription("Export the ordered message list. A full export carries cache breakpoints when enabled."),
	mcp.WithString("tag", mcp.Description("Restrict the export to one tag"), mcp.Enum(tagNames...)),
	mcp.WithBoolean("reload", mcp.Description("Bypass the per-tag cache")),
)

var clearTagToolDef = mcp.NewTool("convo_clear_tag",
	mcp.WithDescription("Remove every message carrying a tag."),
	mcp.WithString("tag", mcp.Required(), mcp.Description("Message tag"), mcp.Enum(tagNames...)),
)

var removeKeyToolDef = mcp.NewTool("convo_remove_key",
	mcp.WithDescription("Remove keyed messages."),
	mcp.WithArray("key", mcp.Required(), mcp.Description("Key parts"), mcp.Items(map[string]any{"type": "string"})),
	mcp.WithBoolean("prefix", mcp.Description("Remove every message whose key starts with these parts")),
)

var sweepToolDef = mcp.NewTool("convo_sweep",
	mcp.WithDescription("End the turn: age transient messages and drop expired ones."),
)

var resetToolDef = mcp.NewTool("convo_reset",
	mcp.WithDescription("Drop all messages, tracked files and file selections."),
)

var trackFileToolDef = mcp.NewTool("convo_track_file",
	mcp.WithDescription("Select or drop a file and refresh file messages. Changed files produce diff messages."),
	mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
	mcp.WithString("mode", mcp.Description("How the file is shown (default editable)"), mcp.Enum(trackModes...)),
)

var fileDiffToolDef = mcp.NewTool("convo_file_diff",
	mcp.WithDescription("Diff a tracked file against the content last shown to the model."),
	mcp.WithString("path", mcp.Required(), mcp.Description("File path")),
	mcp.WithBoolean("advance", mcp.Description("Move the baseline to the current content")),
)

var statsToolDef = mcp.NewTool("convo_stats",
	mcp.WithDescription("Summarize the message stream, file cache and token estimate."),
)

var turnsToolDef = mcp.NewTool("convo_turns",
	mcp.WithDescription("List archived turns, newest first. Requires the archive to be enabled."),
	mcp.WithString("session", mcp.Description("Restrict to one session")),
	mcp.WithNumber("limit", mcp.Description("Maximum turns to return (default 20)")),
)
