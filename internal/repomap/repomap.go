// Package repomap models the repository symbol map collaborator and renders
// it for the conversation.
package repomap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hpungsan/convo/internal/message"
)

// Symbol is one definition in a file. Lines are zero-based; a negative line
// is unknown.
type Symbol struct {
	Kind      string `json:"kind" yaml:"kind"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line" yaml:"end_line"`
}

// Files maps a relative path to its symbols by name.
type Files map[string]map[string]Symbol

// Snapshot is one repo-map result. Combined holds everything seen so far and
// New only what was not shown before. Files is a legacy single view used
// when both Combined and New are empty.
type Snapshot struct {
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Combined Files  `json:"combined,omitempty" yaml:"combined,omitempty"`
	New      Files  `json:"new,omitempty" yaml:"new,omitempty"`
	Files    Files  `json:"files,omitempty" yaml:"files,omitempty"`
}

// Source produces repo-map snapshots. A nil snapshot with a nil error means
// no map is available this turn.
type Source interface {
	RepoMap(ctx context.Context) (*Snapshot, error)
}

// Resetter is implemented by sources that can forget what they have shown,
// so the next snapshot starts a fresh combined view.
type Resetter interface {
	ResetCombined()
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Snapshot, error)

// RepoMap implements Source.
func (f SourceFunc) RepoMap(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// Views returns the combined and new views, falling back to Files for both.
func (s *Snapshot) Views() (combined, fresh Files) {
	if s == nil {
		return nil, nil
	}
	if len(s.Combined) == 0 && len(s.New) == 0 && len(s.Files) > 0 {
		return s.Files, s.Files
	}
	return s.Combined, s.New
}

// Unchanged reports whether the combined and new views are identical, which
// is the case the first time a map is produced.
func (s *Snapshot) Unchanged() bool {
	combined, fresh := s.Views()
	return Hash(combined) == Hash(fresh)
}

// Hash fingerprints a view by its key-sorted JSON encoding.
func Hash(f Files) string {
	if f == nil {
		f = Files{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return message.Fingerprint(string(raw))
}

// Format renders the new view: an optional prefix, then one "### path"
// section per file listing its symbols with one-based line numbers.
func Format(s *Snapshot) string {
	if s == nil {
		return ""
	}
	_, fresh := s.Views()

	var lines []string
	if s.Prefix != "" {
		lines = append(lines, s.Prefix, "")
	}

	for _, path := range sortedKeys(fresh) {
		lines = append(lines, "### "+path)
		for _, name := range sortedSymbols(fresh[path]) {
			sym := fresh[path][name]
			start, end := displayLine(sym.StartLine), displayLine(sym.EndLine)
			if start == end {
				lines = append(lines, fmt.Sprintf("- %s (%s, line %s)", name, sym.Kind, start))
			} else {
				lines = append(lines, fmt.Sprintf("- %s (%s, lines %s-%s)", name, sym.Kind, start, end))
			}
		}
		lines = append(lines, "")
	}

	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

// StaticSource serves a fixed snapshot. The first call returns it with
// Combined == New; later calls return an empty New view until ResetCombined.
type StaticSource struct {
	Snapshot *Snapshot
	shown    bool
}

// RepoMap implements Source.
func (s *StaticSource) RepoMap(context.Context) (*Snapshot, error) {
	if s.Snapshot == nil {
		return nil, nil
	}
	combined, fresh := s.Snapshot.Views()
	out := &Snapshot{Prefix: s.Snapshot.Prefix, Combined: combined, New: fresh}
	if s.shown {
		out.New = Files{}
	}
	s.shown = true
	return out, nil
}

// ResetCombined implements Resetter.
func (s *StaticSource) ResetCombined() {
	s.shown = false
}

// LoadSnapshot reads a JSON snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse repo map %s: %w", path, err)
	}
	return &s, nil
}

func displayLine(n int) string {
	if n < 0 {
		return "?"
	}
	return fmt.Sprint(n + 1)
}

func sortedKeys(f Files) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedSymbols(syms map[string]Symbol) []string {
	names := make([]string, 0, len(syms))
	for name := range syms {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if d := syms[a].StartLine - syms[b].StartLine; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return names
}
