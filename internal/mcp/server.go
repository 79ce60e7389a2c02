package mcp

import (
	"database/sql"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/convo/internal/config"
	"github.com/hpungsan/convo/internal/turn"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"convo_add": {
		def:     addToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAdd },
	},
	"convo_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"convo_clear_tag": {
		def:     clearTagToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClearTag },
	},
	"convo_remove_key": {
		def:     removeKeyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRemoveKey },
	},
	"convo_sweep": {
		def:     sweepToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSweep },
	},
	"convo_reset": {
		def:     resetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReset },
	},
	"convo_track_file": {
		def:     trackFileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrackFile },
	},
	"convo_file_diff": {
		def:     fileDiffToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileDiff },
	},
	"convo_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"convo_turns": {
		def:     turnsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurns },
	},
}

// AllToolNames returns every valid tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server bound to one conversation session.
// Tools listed in cfg.DisabledTools are excluded from registration. The
// archive may be nil, in which case convo_turns reports an error.
func NewServer(sess *turn.Session, archive *sql.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"convo",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(sess, archive, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(sess *turn.Session, archive *sql.DB, cfg *config.Config, version string) error {
	s := NewServer(sess, archive, cfg, version)
	return server.ServeStdio(s)
}
