package archive

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleWires() []message.Wire {
	return []message.Wire{
		{Role: message.RoleSystem, Content: message.Content{Text: "be brief"}},
		{Role: message.RoleUser, Content: message.Content{Text: "hello there"}},
	}
}

func TestSaveAndGetTurn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	turn, err := NewTurn("s1", 1, sampleWires())
	if err != nil {
		t.Fatalf("NewTurn failed: %v", err)
	}
	if turn.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", turn.MessageCount)
	}
	if turn.TokensEstimate <= 0 {
		t.Errorf("TokensEstimate = %d, want > 0", turn.TokensEstimate)
	}

	if err := SaveTurn(ctx, db, turn); err != nil {
		t.Fatalf("SaveTurn failed: %v", err)
	}

	got, err := GetTurn(ctx, db, turn.ID)
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if got.Session != "s1" || got.Turn != 1 {
		t.Errorf("got session=%q turn=%d, want s1/1", got.Session, got.Turn)
	}

	wires, err := got.Messages()
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(wires) != 2 || wires[1].Content.Text != "hello there" {
		t.Errorf("Messages() = %+v", wires)
	}
}

func TestGetTurn_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := GetTurn(context.Background(), db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetTurn error = %v, want NOT_FOUND", err)
	}
}

func TestListTurns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, session := range []string{"a", "a", "b"} {
		turn, err := NewTurn(session, i+1, sampleWires())
		if err != nil {
			t.Fatalf("NewTurn failed: %v", err)
		}
		if err := SaveTurn(ctx, db, turn); err != nil {
			t.Fatalf("SaveTurn failed: %v", err)
		}
	}

	all, err := ListTurns(ctx, db, TurnQuery{})
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].Payload != "" {
		t.Errorf("ListTurns should not load payloads")
	}

	onlyA, err := ListTurns(ctx, db, TurnQuery{Session: "a"})
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("len(onlyA) = %d, want 2", len(onlyA))
	}

	limited, err := ListTurns(ctx, db, TurnQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestLastTurn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := LastTurn(ctx, db, "s")
	if err != nil {
		t.Fatalf("LastTurn failed: %v", err)
	}
	if n != 0 {
		t.Errorf("LastTurn on empty archive = %d, want 0", n)
	}

	turn, _ := NewTurn("s", 7, sampleWires())
	if err := SaveTurn(ctx, db, turn); err != nil {
		t.Fatalf("SaveTurn failed: %v", err)
	}
	n, err = LastTurn(ctx, db, "s")
	if err != nil {
		t.Fatalf("LastTurn failed: %v", err)
	}
	if n != 7 {
		t.Errorf("LastTurn = %d, want 7", n)
	}
}

func TestSink_NumbersTurns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed, _ := NewTurn("s", 3, sampleWires())
	if err := SaveTurn(ctx, db, seed); err != nil {
		t.Fatalf("SaveTurn failed: %v", err)
	}

	sink := &Sink{DB: db, Session: "s"}
	for i := 0; i < 2; i++ {
		if err := sink.Dump(ctx, sampleWires()); err != nil {
			t.Fatalf("Dump failed: %v", err)
		}
	}

	n, err := LastTurn(ctx, db, "s")
	if err != nil {
		t.Fatalf("LastTurn failed: %v", err)
	}
	if n != 5 {
		t.Errorf("LastTurn after two dumps = %d, want 5", n)
	}
}

func TestSink_KeepsCacheBreakpoints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sink := &Sink{DB: db, Session: "s1"}
	store := conversation.New(conversation.Options{
		AddCacheHeaders: true,
		CacheRoles:      conversation.DefaultCacheRoles(),
		Verbose:         true,
		Dump:            conversation.MultiDump{sink},
	})
	if _, err := store.Add(message.Text{Role: message.RoleSystem, Content: "be brief"}, message.TagSystem, conversation.AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.Add(message.Text{Role: message.RoleUser, Content: "hello"}, message.TagCur, conversation.AddOptions{}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	sent, err := store.Export(ctx, conversation.ExportOptions{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	turns, err := ListTurns(ctx, db, TurnQuery{Session: "s1"})
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("archived %d turns, want 1", len(turns))
	}
	got, err := GetTurn(ctx, db, turns[0].ID)
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	archived, err := got.Messages()
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}

	want := conversation.CountCacheControl(sent)
	if want == 0 {
		t.Fatal("expected the export to carry breakpoints")
	}
	if n := conversation.CountCacheControl(archived); n != want {
		t.Errorf("archived breakpoints = %d, want %d", n, want)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if len(a) != 26 {
		t.Errorf("len(NewSessionID()) = %d, want 26", len(a))
	}
	if a == b {
		t.Errorf("NewSessionID returned duplicate %q", a)
	}
}
