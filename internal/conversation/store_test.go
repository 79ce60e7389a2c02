package conversation

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	convoerr "github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

func text(role message.Role, content string) message.Text {
	return message.Text{Role: role, Content: content}
}

func mustAdd(t *testing.T, s *Store, p message.Payload, tag message.Tag, opts AddOptions) *message.Record {
	t.Helper()
	rec, err := s.Add(p, tag, opts)
	require.NoError(t, err)
	return rec
}

func TestAdd_Idempotent(t *testing.T) {
	s := New(Options{})

	first := mustAdd(t, s, text(message.RoleUser, "hi"), message.TagCur, AddOptions{})
	second := mustAdd(t, s, text(message.RoleUser, "hi"), message.TagCur, AddOptions{})

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, s.Len())

	wires, err := s.Export(context.Background(), ExportOptions{})
	require.NoError(t, err)
	require.Len(t, wires, 1)
	assert.Equal(t, "hi", wires[0].Content.Text)
}

func TestAdd_DuplicateReturnsExistingUnchanged(t *testing.T) {
	s := New(Options{})
	key := message.Key{"static", "rules"}

	mustAdd(t, s, text(message.RoleSystem, "v1"), message.TagStatic, AddOptions{Key: key})
	got := mustAdd(t, s, text(message.RoleSystem, "v2"), message.TagStatic, AddOptions{Key: key})

	assert.Equal(t, "v1", message.ContentOf(got.Payload))
	assert.Equal(t, 1, s.Len())
}

func TestAdd_Ordering(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "cur"), message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "remind"), message.TagReminder, AddOptions{})
	mustAdd(t, s, text(message.RoleSystem, "sys"), message.TagSystem, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "map"), message.TagRepo, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "ex"), message.TagExamples, AddOptions{})

	var priorities []int
	for _, r := range s.Records() {
		priorities = append(priorities, r.Priority)
	}
	assert.Equal(t, []int{0, 75, 100, 200, 300}, priorities)
}

func TestAdd_TiesKeepInsertionOrder(t *testing.T) {
	s := New(Options{})
	ts := int64(7)
	mustAdd(t, s, text(message.RoleUser, "a"), message.TagCur, AddOptions{Timestamp: &ts})
	mustAdd(t, s, text(message.RoleAssistant, "b"), message.TagDone, AddOptions{Timestamp: &ts})
	mustAdd(t, s, text(message.RoleUser, "c"), message.TagChatFiles, AddOptions{Timestamp: &ts})

	var got []string
	for _, r := range s.Records() {
		got = append(got, message.ContentOf(r.Payload))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAdd_PriorityOverride(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "late"), message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "early"), message.TagCur, AddOptions{Priority: message.IntPtr(10)})

	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "early", message.ContentOf(recs[0].Payload))
}

func TestAdd_ForceUpdatesInPlace(t *testing.T) {
	s := New(Options{})
	key := message.Key{"file_user", "/repo/a.go"}

	first := mustAdd(t, s, text(message.RoleUser, "v1"), message.TagChatFiles, AddOptions{Key: key})
	updated := mustAdd(t, s, text(message.RoleUser, "v2"), message.TagEditFiles, AddOptions{Key: key, Force: true})

	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, first.Seq, updated.Seq)
	assert.Equal(t, message.TagEditFiles, updated.Tag)
	assert.Equal(t, 1, s.Len())

	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "v2", message.ContentOf(recs[0].Payload))
}

func TestAdd_ForceInvalidatesBothTagCaches(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	key := message.Key{"k"}
	chat := message.TagChatFiles
	edit := message.TagEditFiles

	mustAdd(t, s, text(message.RoleUser, "v1"), chat, AddOptions{Key: key})
	before, err := s.Export(ctx, ExportOptions{Tag: &chat})
	require.NoError(t, err)
	require.Len(t, before, 1)
	_, err = s.Export(ctx, ExportOptions{Tag: &edit})
	require.NoError(t, err)

	mustAdd(t, s, text(message.RoleUser, "v2"), edit, AddOptions{Key: key, Force: true})

	chatAfter, err := s.Export(ctx, ExportOptions{Tag: &chat})
	require.NoError(t, err)
	assert.Empty(t, chatAfter)

	editAfter, err := s.Export(ctx, ExportOptions{Tag: &edit})
	require.NoError(t, err)
	require.Len(t, editAfter, 1)
	assert.Equal(t, "v2", editAfter[0].Content.Text)
}

func TestAdd_Errors(t *testing.T) {
	s := New(Options{})

	_, err := s.Add(message.Text{Content: "x"}, message.TagCur, AddOptions{})
	assert.True(t, convoerr.Is(err, convoerr.ErrInvalidMessage))

	_, err = s.Add(text(message.RoleUser, "x"), message.Tag("nope"), AddOptions{})
	assert.True(t, convoerr.Is(err, convoerr.ErrUnknownTag))

	assert.Zero(t, s.Len())
}

func TestAdd_ToolResultsNeverDeduplicated(t *testing.T) {
	s := New(Options{})
	p := message.ToolResult{CallID: "c1", Content: "ok"}
	a := mustAdd(t, s, p, message.TagCur, AddOptions{})
	b := mustAdd(t, s, p, message.TagCur, AddOptions{})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, s.Len())
}

func TestAdd_ReturnedRecordIsCopy(t *testing.T) {
	s := New(Options{})
	rec := mustAdd(t, s, text(message.RoleUser, "x"), message.TagCur, AddOptions{Expiry: message.IntPtr(2)})

	*rec.Expiry = -5
	rec.Priority = 999

	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 2, *recs[0].Expiry)
	assert.Equal(t, 200, recs[0].Priority)
}

func TestSweepExpiry_CountdownZeroSurvivesOneSweep(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "once"), message.TagPostMessage, AddOptions{Expiry: message.IntPtr(0)})
	mustAdd(t, s, text(message.RoleUser, "forever"), message.TagCur, AddOptions{})

	assert.Equal(t, 0, s.SweepExpiry())
	assert.Len(t, s.Records(), 2)

	assert.Equal(t, 1, s.SweepExpiry())
	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "forever", message.ContentOf(recs[0].Payload))
	require.NoError(t, s.ValidateState())
}

func TestRecords_DropsAlreadyExpired(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "gone"), message.TagCur, AddOptions{Expiry: message.IntPtr(-1)})

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Records())
	assert.Equal(t, 0, s.Len())
}

func TestClearTag(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleSystem, "sys"), message.TagSystem, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "q1"), message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleAssistant, "a1"), message.TagCur, AddOptions{})

	n, err := s.ClearTag(message.TagCur)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, message.TagSystem, recs[0].Tag)

	_, err = s.ClearTag(message.Tag("bogus"))
	assert.True(t, convoerr.Is(err, convoerr.ErrUnknownTag))
}

func TestClearTag_AllowsReAdd(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "q"), message.TagCur, AddOptions{})
	_, err := s.ClearTag(message.TagCur)
	require.NoError(t, err)

	mustAdd(t, s, text(message.RoleUser, "q"), message.TagCur, AddOptions{})
	assert.Equal(t, 1, s.Len())
}

func TestRemoveByKey(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "a"), message.TagChatFiles, AddOptions{Key: message.Key{"file_user", "a"}})
	mustAdd(t, s, text(message.RoleUser, "b"), message.TagChatFiles, AddOptions{Key: message.Key{"file_user", "b"}})

	assert.True(t, s.RemoveByKey(message.Key{"file_user", "a"}))
	assert.False(t, s.RemoveByKey(message.Key{"file_user", "a"}))
	assert.False(t, s.RemoveByKey(nil))
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.ValidateState())
}

func TestRemoveByKeyFunc(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "a"), message.TagChatFiles, AddOptions{Key: message.Key{"file_user", "a"}})
	mustAdd(t, s, text(message.RoleAssistant, "ok"), message.TagChatFiles, AddOptions{Key: message.Key{"file_assistant", "a"}})
	mustAdd(t, s, text(message.RoleUser, "map"), message.TagRepo, AddOptions{Key: message.Key{"repo", "user", "h"}})
	mustAdd(t, s, text(message.RoleUser, "plain"), message.TagCur, AddOptions{})

	n := s.RemoveByKeyFunc(func(k message.Key) bool {
		return len(k) == 2 && k[1] == "a"
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Len())
}

func TestTagRecords(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "r1"), message.TagRepo, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "c1"), message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "r2"), message.TagRepo, AddOptions{})

	recs, err := s.TagRecords(message.TagRepo)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", message.ContentOf(recs[0].Payload))
	assert.Equal(t, 2, s.CountTag(message.TagRepo))

	_, err = s.TagRecords(message.Tag("x"))
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	s := New(Options{})
	rec := mustAdd(t, s, text(message.RoleUser, "x"), message.TagCur, AddOptions{})
	s.Reset()

	assert.Zero(t, s.Len())
	assert.False(t, s.Has(rec.ID))
	require.NoError(t, s.ValidateState())
}

func TestValidateState_DetectsCorruption(t *testing.T) {
	s := New(Options{})
	rec := mustAdd(t, s, text(message.RoleUser, "x"), message.TagCur, AddOptions{})
	require.NoError(t, s.ValidateState())

	delete(s.index, rec.ID)
	assert.Error(t, s.ValidateState())
}

func TestInfoAndWriteStream(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleSystem, "you are helpful"), message.TagSystem, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "hello\nthere"), message.TagCur, AddOptions{})

	info := s.Info()
	assert.Equal(t, 2, info.Length)
	assert.Equal(t, []message.Tag{message.TagSystem, message.TagCur}, info.Tags)
	assert.Equal(t, []int{0, 200}, info.Priorities)
	assert.Len(t, info.IDs[0], 8)

	var buf bytes.Buffer
	require.NoError(t, s.WriteStream(&buf))
	out := buf.String()
	assert.Contains(t, out, "Conversation Stream (2 messages):")
	assert.Contains(t, out, "hello there")
}

func TestSweepExpiry_ForceRestartsGrace(t *testing.T) {
	s := New(Options{})
	key := message.Key{"post_message", "hint"}
	add := func() {
		mustAdd(t, s, text(message.RoleUser, "hint"), message.TagPostMessage,
			AddOptions{Key: key, Expiry: message.IntPtr(0), Force: true})
	}

	add()
	s.SweepExpiry()
	add()
	s.SweepExpiry()
	assert.Equal(t, 1, s.Len(), "re-added block survives while refreshed every turn")

	s.SweepExpiry()
	assert.Zero(t, s.Len())
}

func TestSweepExpiry_LongerCountdown(t *testing.T) {
	s := New(Options{})
	mustAdd(t, s, text(message.RoleUser, "x"), message.TagCur, AddOptions{Expiry: message.IntPtr(1)})

	s.SweepExpiry()
	s.SweepExpiry()
	assert.Equal(t, 1, s.Len())
	s.SweepExpiry()
	assert.Zero(t, s.Len())
}

func TestRetag(t *testing.T) {
	s := New(Options{})
	call := mustAdd(t, s, message.ToolResult{CallID: "c1", Content: "ok"}, message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleUser, "q"), message.TagCur, AddOptions{})
	mustAdd(t, s, text(message.RoleSystem, "sys"), message.TagSystem, AddOptions{})
	before := s.Generation(message.TagDone)

	n, err := s.Retag(message.TagCur, message.TagDone)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.CountTag(message.TagCur))
	assert.Equal(t, 2, s.CountTag(message.TagDone))
	assert.True(t, s.Has(call.ID))
	assert.Greater(t, s.Generation(message.TagDone), before)

	_, err = s.Retag(message.TagCur, "bogus")
	assert.True(t, convoerr.Is(err, convoerr.ErrUnknownTag))
}
