package files

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFS is an in-memory Reader and Stater.
type memFS struct {
	mu      sync.Mutex
	content map[string]string
	mtime   map[string]time.Time
	reads   int
	clock   time.Time
}

func newMemFS() *memFS {
	return &memFS{
		content: make(map[string]string),
		mtime:   make(map[string]time.Time),
		clock:   time.Unix(1_700_000_000, 0),
	}
}

func (m *memFS) write(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	m.content[path] = content
	m.mtime[path] = m.clock
}

func (m *memFS) remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, path)
	delete(m.mtime, path)
}

func (m *memFS) Read(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	c, ok := m.content[path]
	return c, ok
}

func (m *memFS) ModTime(path string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.mtime[path]
	return t, ok
}

func newTestTracker(fs *memFS) *Tracker {
	return New(Options{Reader: fs, Stat: fs})
}

type prefixStubber struct{}

func (prefixStubber) Stub(path, content string) (string, bool) {
	return "stub of " + filepath.Base(path), true
}

func TestAdd_ReadsAndTracks(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "package a\n")
	tr := newTestTracker(fs)

	assert.Equal(t, "package a\n", tr.Add("/repo/a.go", AddOptions{}))
	assert.True(t, tr.IsTracked("/repo/a.go"))
	assert.False(t, tr.HasChanged("/repo/a.go"))

	orig, ok := tr.Original("/repo/a.go")
	require.True(t, ok)
	snap, ok := tr.Snapshot("/repo/a.go")
	require.True(t, ok)
	assert.Equal(t, orig, snap)
}

func TestAdd_ExistingIsNoOpWithoutRefresh(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "v1")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	fs.write("/repo/a.go", "v2")
	assert.Equal(t, "v1", tr.Add("/repo/a.go", AddOptions{}))
	assert.Equal(t, "v2", tr.Add("/repo/a.go", AddOptions{Refresh: true}))
}

func TestAdd_ExplicitContentAndUnreadable(t *testing.T) {
	fs := newMemFS()
	tr := newTestTracker(fs)

	content := "given"
	assert.Equal(t, "given", tr.Add("/repo/x.txt", AddOptions{Content: &content}))
	assert.Zero(t, fs.reads)

	assert.Equal(t, "", tr.Add("/repo/missing.txt", AddOptions{}))
	assert.True(t, tr.IsTracked("/repo/missing.txt"))
	assert.True(t, tr.HasChanged("/repo/missing.txt"))
}

func TestHasChanged(t *testing.T) {
	fs := newMemFS()
	tr := newTestTracker(fs)

	assert.True(t, tr.HasChanged("/repo/untracked.go"))

	fs.write("/repo/a.go", "x")
	tr.Add("/repo/a.go", AddOptions{})
	assert.False(t, tr.HasChanged("/repo/a.go"))

	fs.write("/repo/a.go", "y")
	assert.True(t, tr.HasChanged("/repo/a.go"))

	fs.remove("/repo/a.go")
	assert.True(t, tr.HasChanged("/repo/a.go"))
}

func TestGenerateDiff_Idempotent(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "one\ntwo\nthree\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	_, ok := tr.GenerateDiff("/repo/a.go")
	assert.False(t, ok, "no change since original")

	fs.write("/repo/a.go", "one\n2\nthree\n")
	diff, ok := tr.GenerateDiff("/repo/a.go")
	require.True(t, ok)
	want := strings.Join([]string{
		"--- /repo/a.go (snapshot)",
		"+++ /repo/a.go (current)",
		"@@ -1,3 +1,3 @@",
		" one",
		"-two",
		"+2",
		" three",
	}, "\n")
	assert.Equal(t, want, diff)

	_, ok = tr.GenerateDiff("/repo/a.go")
	assert.False(t, ok, "snapshot advanced after the first diff")

	// The original content is untouched by snapshot movement.
	orig, _ := tr.Original("/repo/a.go")
	assert.Equal(t, "one\ntwo\nthree\n", orig)
}

func TestPreviewDiff_DoesNotAdvance(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "one\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	_, ok := tr.PreviewDiff("/repo/a.go")
	assert.False(t, ok)

	fs.write("/repo/a.go", "uno\n")
	first, ok := tr.PreviewDiff("/repo/a.go")
	require.True(t, ok)
	second, ok := tr.PreviewDiff("/repo/a.go")
	require.True(t, ok)
	assert.Equal(t, first, second)

	snap, _ := tr.Snapshot("/repo/a.go")
	assert.Equal(t, "one\n", snap)

	_, ok = tr.PreviewDiff("/repo/missing.go")
	assert.False(t, ok)
}

func TestGenerateDiff_UntrackedAndUnreadable(t *testing.T) {
	fs := newMemFS()
	tr := newTestTracker(fs)

	_, ok := tr.GenerateDiff("/repo/none.go")
	assert.False(t, ok)

	fs.write("/repo/a.go", "x")
	tr.Add("/repo/a.go", AddOptions{})
	fs.remove("/repo/a.go")
	_, ok = tr.GenerateDiff("/repo/a.go")
	assert.False(t, ok)
}

func TestGenerateDiff_ContextLines(t *testing.T) {
	fs := newMemFS()
	var lines []string
	for i := 1; i <= 20; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	fs.write("/repo/a.txt", strings.Join(lines, "\n"))
	tr := New(Options{Reader: fs, Stat: fs, ContextLines: 1})
	tr.Add("/repo/a.txt", AddOptions{})

	lines[10] = "changed"
	fs.write("/repo/a.txt", strings.Join(lines, "\n"))
	diff, ok := tr.GenerateDiff("/repo/a.txt")
	require.True(t, ok)
	assert.Contains(t, diff, "@@ -10,3 +10,3 @@")
}

func TestGenerateDiff_TrailingNewlineIgnored(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.txt", "a\nb")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.txt", AddOptions{})

	fs.write("/repo/a.txt", "a\nb\n")
	_, ok := tr.GenerateDiff("/repo/a.txt")
	assert.False(t, ok)
}

func TestUpdateDiff_RecordsDiffAndMtime(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "a\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	fs.write("/repo/a.go", "b\n")
	require.True(t, tr.HasChanged("/repo/a.go"))

	diff, ok := tr.UpdateDiff("/repo/a.go")
	require.True(t, ok)
	last, ok := tr.LastDiff("/repo/a.go")
	require.True(t, ok)
	assert.Equal(t, diff, last)
	assert.False(t, tr.HasChanged("/repo/a.go"))
	assert.Equal(t, 1, tr.Info().DiffCount)
	assert.Equal(t, 1, tr.Info().SnapshotDiffCount)
}

func TestContent_Stubbing(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/big.go", strings.Repeat("x", 100))
	tr := New(Options{Reader: fs, Stat: fs, Stubber: prefixStubber{}})

	full := tr.Content("/repo/big.go", ContentOptions{})
	assert.Len(t, full, 100)

	assert.Len(t, tr.Content("/repo/big.go", ContentOptions{Stub: true, Threshold: 10}), 100,
		"context management disabled")
	assert.Len(t, tr.Content("/repo/big.go", ContentOptions{Stub: true, ContextManagement: true, Threshold: 100}), 100,
		"at threshold")
	assert.Equal(t, "stub of big.go",
		tr.Content("/repo/big.go", ContentOptions{Stub: true, ContextManagement: true, Threshold: 99}))

	noStubber := newTestTracker(fs)
	assert.Len(t, noStubber.Content("/repo/big.go", ContentOptions{Stub: true, ContextManagement: true, Threshold: 1}), 100)
}

func TestRefresh(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "a1\n")
	fs.write("/repo/b.go", "b1\n")
	fs.write("/repo/c.go", "c1\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})
	tr.Add("/repo/b.go", AddOptions{})

	fs.write("/repo/b.go", "b2\n")
	changes, err := tr.Refresh(context.Background(), []string{"/repo/a.go", "/repo/b.go", "/repo/c.go", "/repo/b.go"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "/repo/b.go", changes[0].Path)
	assert.Contains(t, changes[0].Diff, "+b2")
	assert.True(t, tr.IsTracked("/repo/c.go"))

	again, err := tr.Refresh(context.Background(), []string{"/repo/a.go", "/repo/b.go", "/repo/c.go"})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRefresh_TouchedUnchangedReadOnce(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "same\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	fs.write("/repo/a.go", "same\n")
	before := fs.reads
	for i := 0; i < 3; i++ {
		changes, err := tr.Refresh(context.Background(), []string{"/repo/a.go"})
		require.NoError(t, err)
		assert.Empty(t, changes)
	}
	assert.Equal(t, 1, fs.reads-before)
	assert.False(t, tr.HasChanged("/repo/a.go"))
}

func TestRefresh_Canceled(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "a\n")
	tr := newTestTracker(fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Refresh(ctx, []string{"/repo/a.go"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.IsTracked("/repo/a.go"))
}

func TestImagesAndClear(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "a")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})
	tr.AddImage("/repo/logo.png")

	assert.Equal(t, []string{"/repo/a.go", "/repo/logo.png"}, tr.Tracked())
	assert.Equal(t, 1, tr.Info().ImageCount)

	tr.RemoveImage("/repo/logo.png")
	assert.False(t, tr.IsTracked("/repo/logo.png"))

	tr.AddImage("/repo/logo.png")
	tr.Clear("/repo/logo.png")
	tr.Clear("/repo/a.go")
	assert.Empty(t, tr.Tracked())

	tr.Add("/repo/a.go", AddOptions{})
	tr.AddImage("/repo/logo.png")
	tr.ClearAll()
	assert.Equal(t, []string{"/repo/logo.png"}, tr.Tracked())
	tr.Reset()
	assert.Empty(t, tr.Tracked())
}

func TestWriteCache(t *testing.T) {
	fs := newMemFS()
	fs.write("/repo/a.go", "a\nb\n")
	tr := newTestTracker(fs)
	tr.Add("/repo/a.go", AddOptions{})

	var buf bytes.Buffer
	require.NoError(t, tr.WriteCache(&buf))
	assert.Contains(t, buf.String(), "File Cache (1 files):")
	assert.Contains(t, buf.String(), "/repo/a.go: CACHED")
	assert.Contains(t, buf.String(), "lines=2")
}

func TestOSReader(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0600))
	bin := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0xff, 0xfe, 0x00}, 0600))

	got, ok := OSReader{}.Read(text)
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	_, ok = OSReader{}.Read(bin)
	assert.False(t, ok)
	_, ok = OSReader{}.Read(dir)
	assert.False(t, ok)
	_, ok = OSReader{}.Read(filepath.Join(dir, "missing"))
	assert.False(t, ok)
	_, ok = OSReader{MaxBytes: 2}.Read(text)
	assert.False(t, ok)

	_, ok = OSStat.ModTime(text)
	assert.True(t, ok)
	_, ok = OSStat.ModTime(filepath.Join(dir, "missing"))
	assert.False(t, ok)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("/a/b.PNG"))
	assert.True(t, IsImageFile("doc.pdf"))
	assert.False(t, IsImageFile("main.go"))
	assert.False(t, IsImageFile("noext"))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"\n"}, splitLines("\n"))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines("a\nb"))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines("a\r\nb\r\n"))
}
