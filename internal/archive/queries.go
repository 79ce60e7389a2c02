package archive

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Turn is one archived full export.
type Turn struct {
	ID             string `json:"id"`
	Session        string `json:"session"`
	Turn           int    `json:"turn"`
	CreatedAt      int64  `json:"created_at"`
	MessageCount   int    `json:"message_count"`
	TokensEstimate int    `json:"tokens_estimate"`
	Payload        string `json:"-"`
}

// Messages decodes the archived export.
func (t *Turn) Messages() ([]message.Wire, error) {
	var wires []message.Wire
	if err := json.Unmarshal([]byte(t.Payload), &wires); err != nil {
		return nil, errors.NewInternal(err)
	}
	return wires, nil
}

// NewTurn builds an archive row for an export. ID and CreatedAt are filled in.
func NewTurn(session string, turn int, wires []message.Wire) (*Turn, error) {
	payload, err := json.Marshal(wires)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &Turn{
		ID:             newID(),
		Session:        session,
		Turn:           turn,
		CreatedAt:      time.Now().Unix(),
		MessageCount:   len(wires),
		TokensEstimate: message.EstimateWireTokens(wires),
		Payload:        string(payload),
	}, nil
}

// SaveTurn inserts t.
func SaveTurn(ctx context.Context, db *sql.DB, t *Turn) error {
	query := `
		INSERT INTO turns (
			id, session, turn, created_at, message_count, tokens_estimate, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		t.ID, t.Session, t.Turn, t.CreatedAt, t.MessageCount, t.TokensEstimate, t.Payload,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetTurn retrieves a turn, payload included, by its ULID.
func GetTurn(ctx context.Context, db *sql.DB, id string) (*Turn, error) {
	query := `
		SELECT id, session, turn, created_at, message_count, tokens_estimate, payload
		FROM turns
		WHERE id = ?
	`
	var t Turn
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Session, &t.Turn, &t.CreatedAt, &t.MessageCount, &t.TokensEstimate, &t.Payload,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("turn", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &t, nil
}

// TurnQuery filters ListTurns.
type TurnQuery struct {
	// Session restricts results to one session when set.
	Session string

	// Limit defaults to 20 and is capped at 500.
	Limit int
}

// ListTurns returns turn summaries, newest first. Payloads are not loaded.
func ListTurns(ctx context.Context, db *sql.DB, q TurnQuery) ([]Turn, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, session, turn, created_at, message_count, tokens_estimate
		FROM turns
	`
	args := []any{}
	if q.Session != "" {
		query += " WHERE session = ?"
		args = append(args, q.Session)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Session, &t.Turn, &t.CreatedAt, &t.MessageCount, &t.TokensEstimate); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// LastTurn returns the highest turn number archived for session, or 0.
func LastTurn(ctx context.Context, db *sql.DB, session string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(turn), 0) FROM turns WHERE session = ?", session,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// NewSessionID returns a fresh ULID for naming a session.
func NewSessionID() string {
	return newID()
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
