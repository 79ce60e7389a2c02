// Package files tracks the content of files shown to the model and turns
// external edits into unified diffs.
//
// A Tracker is owned by a single session and is not safe for concurrent use.
package files

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/convo/internal/logging"
)

const (
	defaultContextLines = 3
	defaultConcurrency  = 8
)

// Options configures a Tracker.
type Options struct {
	Reader  Reader
	Stat    Stater
	Stubber Stubber

	// ContextLines is the number of unchanged lines around each diff hunk.
	ContextLines int

	// Concurrency bounds parallel reads in Refresh.
	Concurrency int

	Logger *zap.Logger
}

type entry struct {
	original string
	snapshot string
	mtime    time.Time
	diff     string
}

// Tracker caches file content per absolute path. The original content is
// what the model was shown; the snapshot is the diff baseline and advances
// each time a non-empty diff is produced.
type Tracker struct {
	opts    Options
	log     *zap.Logger
	entries map[string]*entry
	images  map[string]bool
}

// AddOptions controls Add.
type AddOptions struct {
	// Content is used instead of reading the file when non-nil.
	Content *string

	// Refresh re-reads an already tracked file.
	Refresh bool
}

// ContentOptions controls Content.
type ContentOptions struct {
	// Stub requests an outline for files longer than Threshold characters.
	Stub bool

	// ContextManagement must also be on for a stub to be produced.
	ContextManagement bool

	Threshold int
}

// New returns an empty tracker. A nil Reader defaults to OSReader and a nil
// Stat to OSStat.
func New(opts Options) *Tracker {
	if opts.Reader == nil {
		opts.Reader = OSReader{}
	}
	if opts.Stat == nil {
		opts.Stat = OSStat
	}
	if opts.ContextLines <= 0 {
		opts.ContextLines = defaultContextLines
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Tracker{
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("files"),
		entries: make(map[string]*entry),
		images:  make(map[string]bool),
	}
}

// Add starts tracking path and returns its original content. Unreadable
// files are tracked with empty content. An already tracked path is left
// alone unless Refresh is set.
func (t *Tracker) Add(path string, opts AddOptions) string {
	abs := Abs(path)
	if e, ok := t.entries[abs]; ok && !opts.Refresh {
		return e.original
	}

	content := ""
	if opts.Content != nil {
		content = *opts.Content
	} else {
		content = t.read(abs)
	}
	t.store(abs, content, t.modTime(abs))
	return content
}

// Content returns the tracked content of path, reading it first if needed.
// A stub replaces content longer than Threshold when Stub and
// ContextManagement are both set and a Stubber is configured.
func (t *Tracker) Content(path string, opts ContentOptions) string {
	abs := Abs(path)
	e, ok := t.entries[abs]
	if !ok {
		t.Add(abs, AddOptions{})
		e = t.entries[abs]
	}

	content := e.original
	if !opts.Stub || !opts.ContextManagement || len(content) <= opts.Threshold {
		return content
	}
	if t.opts.Stubber == nil {
		return content
	}
	if stub, ok := t.opts.Stubber.Stub(abs, content); ok {
		return stub
	}
	return content
}

// Original returns the content first recorded for path.
func (t *Tracker) Original(path string) (string, bool) {
	e, ok := t.entries[Abs(path)]
	if !ok {
		return "", false
	}
	return e.original, true
}

// Snapshot returns the current diff baseline for path.
func (t *Tracker) Snapshot(path string) (string, bool) {
	e, ok := t.entries[Abs(path)]
	if !ok {
		return "", false
	}
	return e.snapshot, true
}

// HasChanged reports whether path is untracked, missing, or modified after
// the last recorded mtime.
func (t *Tracker) HasChanged(path string) bool {
	abs := Abs(path)
	e, ok := t.entries[abs]
	if !ok {
		return true
	}
	mtime, ok := t.opts.Stat.ModTime(abs)
	if !ok {
		return true
	}
	return mtime.After(e.mtime)
}

// GenerateDiff diffs the snapshot of path against its live content. When a
// diff is produced the snapshot advances to the live content, so a second
// call without an intervening edit reports no diff. Untracked or unreadable
// files report no diff.
func (t *Tracker) GenerateDiff(path string) (string, bool) {
	abs := Abs(path)
	if _, ok := t.entries[abs]; !ok {
		return "", false
	}
	live, ok := t.opts.Reader.Read(abs)
	if !ok {
		return "", false
	}
	return t.diffAgainst(abs, live)
}

// PreviewDiff diffs the snapshot of path against its live content without
// advancing the snapshot.
func (t *Tracker) PreviewDiff(path string) (string, bool) {
	abs := Abs(path)
	e, ok := t.entries[abs]
	if !ok {
		return "", false
	}
	live, ok := t.opts.Reader.Read(abs)
	if !ok {
		return "", false
	}
	diff, err := unifiedDiff(e.snapshot, live, abs, t.opts.ContextLines)
	if err != nil || strings.TrimSpace(diff) == "" {
		return "", false
	}
	return diff, true
}

// UpdateDiff runs GenerateDiff and remembers the result as the file's
// latest diff.
func (t *Tracker) UpdateDiff(path string) (string, bool) {
	abs := Abs(path)
	mtime, _ := t.opts.Stat.ModTime(abs)
	diff, ok := t.GenerateDiff(abs)
	if !ok {
		return "", false
	}
	t.record(abs, diff, mtime)
	return diff, true
}

// LastDiff returns the most recent diff recorded by UpdateDiff.
func (t *Tracker) LastDiff(path string) (string, bool) {
	e, ok := t.entries[Abs(path)]
	if !ok || e.diff == "" {
		return "", false
	}
	return e.diff, true
}

// Change is a diff produced by Refresh.
type Change struct {
	Path string
	Diff string
}

// Refresh brings several files up to date. Untracked files are added and
// changed files are diffed. File reads run concurrently; bookkeeping stays
// on the calling goroutine. Changes are returned in input order.
func (t *Tracker) Refresh(ctx context.Context, paths []string) ([]Change, error) {
	type job struct {
		path    string
		tracked bool
		mtime   time.Time
		content string
		ok      bool
	}

	var jobs []*job
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs := Abs(p)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		_, tracked := t.entries[abs]
		if tracked && !t.HasChanged(abs) {
			continue
		}
		mtime, _ := t.opts.Stat.ModTime(abs)
		jobs = append(jobs, &job{path: abs, tracked: tracked, mtime: mtime})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j.content, j.ok = t.opts.Reader.Read(j.path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var changes []Change
	for _, j := range jobs {
		if !j.tracked {
			if !j.ok {
				t.log.Debug("file unreadable", zap.String("path", j.path))
			}
			t.store(j.path, j.content, j.mtime)
			continue
		}
		if !j.ok {
			continue
		}
		diff, ok := t.diffAgainst(j.path, j.content)
		if !ok {
			// Touched but unchanged: advance mtime so the file is not re-read.
			t.touch(j.path, j.mtime)
			continue
		}
		t.record(j.path, diff, j.mtime)
		changes = append(changes, Change{Path: j.path, Diff: diff})
	}
	return changes, nil
}

// Clear stops tracking path, including its image flag.
func (t *Tracker) Clear(path string) {
	abs := Abs(path)
	delete(t.entries, abs)
	delete(t.images, abs)
}

// ClearAll stops tracking every text file. Image flags are kept.
func (t *Tracker) ClearAll() {
	t.entries = make(map[string]*entry)
}

// Reset drops all state.
func (t *Tracker) Reset() {
	t.entries = make(map[string]*entry)
	t.images = make(map[string]bool)
}

// AddImage tracks path as an image file. Images have no text content.
func (t *Tracker) AddImage(path string) {
	t.images[Abs(path)] = true
}

// RemoveImage stops tracking the image at path.
func (t *Tracker) RemoveImage(path string) {
	delete(t.images, Abs(path))
}

// IsTracked reports whether path is tracked as text or image.
func (t *Tracker) IsTracked(path string) bool {
	abs := Abs(path)
	_, ok := t.entries[abs]
	return ok || t.images[abs]
}

// Tracked returns every tracked path, text and image, sorted.
func (t *Tracker) Tracked() []string {
	out := make([]string, 0, len(t.entries)+len(t.images))
	for p := range t.entries {
		out = append(out, p)
	}
	for p := range t.images {
		if _, dup := t.entries[p]; !dup {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// CacheInfo summarizes tracker state for debugging.
type CacheInfo struct {
	CacheSize         int `json:"cache_size"`
	SnapshotDiffCount int `json:"snapshot_diff_count"`
	DiffCount         int `json:"diff_count"`
	ImageCount        int `json:"image_count"`
}

// Info returns a CacheInfo.
func (t *Tracker) Info() CacheInfo {
	info := CacheInfo{CacheSize: len(t.entries), ImageCount: len(t.images)}
	for _, e := range t.entries {
		if e.snapshot != e.original {
			info.SnapshotDiffCount++
		}
		if e.diff != "" {
			info.DiffCount++
		}
	}
	return info
}

// WriteCache prints one line per tracked text file.
func (t *Tracker) WriteCache(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "File Cache (%d files):\n", len(t.entries)); err != nil {
		return err
	}
	for _, p := range t.Tracked() {
		e, ok := t.entries[p]
		if !ok {
			continue
		}
		status := "CACHED"
		if t.HasChanged(p) {
			status = "CHANGED"
		}
		snapshot := "SAME"
		if e.snapshot != e.original {
			snapshot = "DIFFERS"
		}
		lines := len(splitLines(e.original))
		_, err := fmt.Fprintf(w, "  %s: %s, mtime=%d, lines=%d, cached_len=%d, snapshot=%s\n",
			p, status, e.mtime.Unix(), lines, len(e.original), snapshot)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) read(abs string) string {
	content, ok := t.opts.Reader.Read(abs)
	if !ok {
		t.log.Debug("file unreadable", zap.String("path", abs))
		return ""
	}
	return content
}

func (t *Tracker) modTime(abs string) time.Time {
	mtime, _ := t.opts.Stat.ModTime(abs)
	return mtime
}

func (t *Tracker) store(abs, content string, mtime time.Time) {
	t.entries[abs] = &entry{original: content, snapshot: content, mtime: mtime}
}

func (t *Tracker) diffAgainst(abs, live string) (string, bool) {
	e := t.entries[abs]
	diff, err := unifiedDiff(e.snapshot, live, abs, t.opts.ContextLines)
	if err != nil {
		t.log.Warn("diff failed", zap.String("path", abs), zap.Error(err))
		return "", false
	}
	if strings.TrimSpace(diff) == "" {
		return "", false
	}
	e.snapshot = live
	return diff, true
}

func (t *Tracker) record(abs, diff string, mtime time.Time) {
	t.entries[abs].diff = diff
	t.touch(abs, mtime)
}

func (t *Tracker) touch(abs string, mtime time.Time) {
	e := t.entries[abs]
	if mtime.After(e.mtime) {
		e.mtime = mtime
	}
}
