package archive

import (
	"context"
	"database/sql"
	"sync"

	"github.com/hpungsan/convo/internal/message"
)

// Sink archives every export it receives as the next turn of Session. It
// satisfies conversation.SentSink, so turns keep their cache breakpoints.
type Sink struct {
	DB      *sql.DB
	Session string

	mu   sync.Mutex
	turn int
	init bool
}

// DumpsSent implements conversation.SentSink.
func (s *Sink) DumpsSent() bool { return true }

// Dump implements conversation.DumpSink.
func (s *Sink) Dump(ctx context.Context, wires []message.Wire) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.init {
		last, err := LastTurn(ctx, s.DB, s.Session)
		if err != nil {
			return err
		}
		s.turn = last
		s.init = true
	}

	t, err := NewTurn(s.Session, s.turn+1, wires)
	if err != nil {
		return err
	}
	if err := SaveTurn(ctx, s.DB, t); err != nil {
		return err
	}
	s.turn++
	return nil
}
