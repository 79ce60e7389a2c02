package web

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/hpungsan/convo/internal/archive"
	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

// Handlers contains HTTP route handlers for the archive viewer.
type Handlers struct {
	db       *sql.DB
	renderer *Renderer
}

// HandleList handles GET /turns, newest first, optionally for one session.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	limit := parseIntParam(r, "limit", 50)

	turns, err := archive.ListTurns(r.Context(), h.db, archive.TurnQuery{
		Session: session,
		Limit:   limit,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"turns": turns,
			"count": len(turns),
		})
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{Title: "Turns", Version: h.renderer.version},
		Turns:    turns,
		Session:  session,
		Limit:    limit,
	})
}

// HandleDetail handles GET /turns/{id}, showing every message of the export.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("turn ID is required"))
		return
	}

	t, err := archive.GetTurn(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	wires, err := t.Messages()
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"turn":     t,
			"messages": wires,
		})
		return
	}

	views := messageViews(wires)
	cached := 0
	for _, v := range views {
		if v.Cached {
			cached++
		}
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{Title: "Turn " + strconv.Itoa(t.Turn), Version: h.renderer.version},
		Turn:     t,
		Messages: views,
		Cached:   cached,
	})
}

func messageViews(wires []message.Wire) []MessageView {
	views := make([]MessageView, len(wires))
	for i, w := range wires {
		text := w.Content.String()
		v := MessageView{
			Index:      i,
			Role:       string(w.Role),
			HTML:       renderMarkdown(text),
			Cached:     w.Content.HasCacheControl(),
			ToolCallID: w.ToolCallID,
			Tokens:     message.EstimateTokens(text),
		}
		for _, b := range w.Content.Blocks {
			if b.ImageURL != nil {
				v.Images++
			}
		}
		for _, c := range w.ToolCalls {
			v.ToolCalls = append(v.ToolCalls, ToolCallView{
				ID:        c.ID,
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			})
		}
		views[i] = v
	}
	return views
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
