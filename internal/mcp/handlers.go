package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/convo/internal/archive"
	"github.com/hpungsan/convo/internal/config"
	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/files"
	"github.com/hpungsan/convo/internal/message"
	"github.com/hpungsan/convo/internal/turn"
)

// File selection modes accepted by convo_track_file.
const (
	modeEditable = "editable"
	modeReadOnly = "read_only"
	modeStub     = "stub"
	modeDrop     = "drop"
)

var trackModes = []string{modeEditable, modeReadOnly, modeStub, modeDrop}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sess    *turn.Session
	archive *sql.DB
	cfg     *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sess *turn.Session, archive *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{sess: sess, archive: archive, cfg: cfg}
}

// Request types for each tool

// AddRequest represents the arguments for convo_add.
type AddRequest struct {
	Tag        string             `json:"tag"`
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []message.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Key        []string           `json:"key,omitempty"`
	Priority   *int               `json:"priority,omitempty"`
	Expiry     *int               `json:"expiry,omitempty"`
	Force      bool               `json:"force,omitempty"`
}

// ExportRequest represents the arguments for convo_export.
type ExportRequest struct {
	Tag    string `json:"tag,omitempty"`
	Reload bool   `json:"reload,omitempty"`
}

// ClearTagRequest represents the arguments for convo_clear_tag.
type ClearTagRequest struct {
	Tag string `json:"tag"`
}

// RemoveKeyRequest represents the arguments for convo_remove_key.
type RemoveKeyRequest struct {
	Key    []string `json:"key"`
	Prefix bool     `json:"prefix,omitempty"`
}

// TrackFileRequest represents the arguments for convo_track_file.
type TrackFileRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// FileDiffRequest represents the arguments for convo_file_diff.
type FileDiffRequest struct {
	Path    string `json:"path"`
	Advance bool   `json:"advance,omitempty"`
}

// TurnsRequest represents the arguments for convo_turns.
type TurnsRequest struct {
	Session string `json:"session,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Response types

// AddResult describes the stored record.
type AddResult struct {
	ID        string      `json:"id"`
	Tag       message.Tag `json:"tag"`
	Priority  int         `json:"priority"`
	Timestamp int64       `json:"timestamp"`
	Expiry    *int        `json:"expiry,omitempty"`
}

// ExportResult is an exported message list.
type ExportResult struct {
	Messages       []message.Wire `json:"messages"`
	Count          int            `json:"count"`
	TokensEstimate int            `json:"tokens_estimate"`
}

// CountResult reports how many messages an operation affected.
type CountResult struct {
	Count int `json:"count"`
}

// TrackFileResult reports the selection after a change.
type TrackFileResult struct {
	Files        turn.Selection `json:"files"`
	Cleaned      int            `json:"cleaned"`
	MessageCount int            `json:"message_count"`
}

// FileDiffResult is a file's pending diff.
type FileDiffResult struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
	Diff    string `json:"diff,omitempty"`
}

// StatsResult summarizes session state.
type StatsResult struct {
	Stream         conversation.StreamInfo     `json:"stream"`
	Files          files.CacheInfo             `json:"files"`
	TokensEstimate int                         `json:"tokens_estimate"`
	LastCompare    *conversation.CompareReport `json:"last_compare,omitempty"`
}

// TurnsResult lists archived turns.
type TurnsResult struct {
	Turns []archive.Turn `json:"turns"`
}

// Handler implementations

// HandleAdd handles the convo_add tool call.
func (h *Handlers) HandleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	tag, err := message.ParseTag(input.Tag)
	if err != nil {
		return errorResult(err), nil
	}
	payload, err := message.FromWire(message.Wire{
		Role:       message.Role(input.Role),
		Content:    message.Content{Text: input.Content},
		ToolCalls:  input.ToolCalls,
		ToolCallID: input.ToolCallID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	var result AddResult
	err = h.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		rec, err := store.Add(payload, tag, conversation.AddOptions{
			Priority: input.Priority,
			Expiry:   input.Expiry,
			Key:      message.Key(input.Key),
			Force:    input.Force,
		})
		if err != nil {
			return err
		}
		result = AddResult{ID: rec.ID, Tag: rec.Tag, Priority: rec.Priority, Timestamp: rec.Timestamp, Expiry: rec.Expiry}
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the convo_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var wires []message.Wire
	if input.Tag == "" {
		wires, err = h.sess.Messages(ctx)
	} else {
		tag, perr := message.ParseTag(input.Tag)
		if perr != nil {
			return errorResult(perr), nil
		}
		err = h.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
			var xerr error
			wires, xerr = store.Export(ctx, conversation.ExportOptions{Tag: &tag, Reload: input.Reload})
			return xerr
		})
	}
	if err != nil {
		return errorResult(err), nil
	}
	if wires == nil {
		wires = []message.Wire{}
	}

	return successResult(ExportResult{
		Messages:       wires,
		Count:          len(wires),
		TokensEstimate: message.EstimateWireTokens(wires),
	})
}

// HandleClearTag handles the convo_clear_tag tool call.
func (h *Handlers) HandleClearTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearTagRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	tag, err := message.ParseTag(input.Tag)
	if err != nil {
		return errorResult(err), nil
	}

	var n int
	err = h.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		var cerr error
		n, cerr = store.ClearTag(tag)
		return cerr
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(CountResult{Count: n})
}

// HandleRemoveKey handles the convo_remove_key tool call.
func (h *Handlers) HandleRemoveKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RemoveKeyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if len(input.Key) == 0 {
		return errorResult(errors.NewInvalidRequest("key is required")), nil
	}
	key := message.Key(input.Key)

	n := 0
	_ = h.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		if input.Prefix {
			n = store.RemoveByKeyFunc(func(k message.Key) bool { return k.HasPrefix(key...) })
		} else if store.RemoveByKey(key) {
			n = 1
		}
		return nil
	})
	if n == 0 && !input.Prefix {
		return errorResult(errors.NewNotFound("message key", key.String())), nil
	}

	return successResult(CountResult{Count: n})
}

// HandleSweep handles the convo_sweep tool call.
func (h *Handlers) HandleSweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(CountResult{Count: h.sess.EndTurn()})
}

// HandleReset handles the convo_reset tool call.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sess.Reset()
	return successResult(map[string]bool{"reset": true})
}

// HandleTrackFile handles the convo_track_file tool call.
func (h *Handlers) HandleTrackFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TrackFileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	switch input.Mode {
	case "", modeEditable:
		h.sess.AddEditable(input.Path)
	case modeReadOnly:
		h.sess.AddReadOnly(input.Path)
	case modeStub:
		h.sess.AddReadOnlyStubs(input.Path)
	case modeDrop:
		h.sess.DropFiles(input.Path)
	default:
		return errorResult(errors.NewInvalidRequest("unknown mode: " + input.Mode)), nil
	}

	cleaned := h.sess.CleanupFiles()
	if err := h.sess.AddReadOnlyFiles(ctx); err != nil {
		return errorResult(err), nil
	}
	if err := h.sess.AddChatFiles(ctx); err != nil {
		return errorResult(err), nil
	}

	result := TrackFileResult{Files: h.sess.Files(), Cleaned: cleaned}
	_ = h.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		result.MessageCount = store.Len()
		return nil
	})
	return successResult(result)
}

// HandleFileDiff handles the convo_file_diff tool call.
func (h *Handlers) HandleFileDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileDiffRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	result := FileDiffResult{Path: files.Abs(input.Path)}
	err = h.sess.Do(func(_ *conversation.Store, tracker *files.Tracker) error {
		if _, ok := tracker.Snapshot(input.Path); !ok {
			return errors.NewNotFound("tracked file", result.Path)
		}
		if input.Advance {
			result.Diff, result.Changed = tracker.UpdateDiff(input.Path)
		} else {
			result.Diff, result.Changed = tracker.PreviewDiff(input.Path)
		}
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the convo_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var result StatsResult
	_ = h.sess.Do(func(store *conversation.Store, tracker *files.Tracker) error {
		result.Stream = store.Info()
		result.Files = tracker.Info()
		if report, ok := store.LastReport(); ok {
			result.LastCompare = &report
		}
		for _, rec := range store.Records() {
			result.TokensEstimate += message.EstimateTokens(message.ContentOf(rec.Payload))
		}
		return nil
	})

	return successResult(result)
}

// HandleTurns handles the convo_turns tool call.
func (h *Handlers) HandleTurns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TurnsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.archive == nil {
		return errorResult(errors.NewInvalidRequest("turn archive is not enabled")), nil
	}

	turns, err := archive.ListTurns(ctx, h.archive, archive.TurnQuery{Session: input.Session, Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	if turns == nil {
		turns = []archive.Turn{}
	}

	return successResult(TurnsResult{Turns: turns})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if convoErr, ok := errors.As(err); ok {
		msg := convoErr.Message
		if err.Error() != convoErr.Error() {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    convoErr.Code,
			"message": msg,
			"status":  convoErr.Status,
		}
		if convoErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if convoErr.Details != nil {
			errorObj["details"] = convoErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
