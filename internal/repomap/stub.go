package repomap

import (
	"bytes"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const gap = "⋮"

var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func getMarkdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New()
	})
	return markdownParser
}

// MarkdownStubber outlines Markdown files as their headings, each prefixed
// with its one-based line number.
type MarkdownStubber struct{}

// Stub implements files.Stubber.
func (MarkdownStubber) Stub(path, content string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
	default:
		return "", false
	}

	source := []byte(content)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	var lines []string
	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		line := 0
		if segs := heading.Lines(); segs.Len() > 0 {
			line = bytes.Count(source[:segs.At(0).Start], []byte("\n")) + 1
		}
		title := strings.Repeat("#", heading.Level) + " " + inlineText(heading, source)
		lines = append(lines, fmt.Sprintf("%d│%s", line, title))
		return ast.WalkSkipChildren, nil
	})

	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"+gap+"\n"), true
}

func inlineText(node ast.Node, source []byte) string {
	var sb strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
			continue
		}
		sb.WriteString(inlineText(child, source))
	}
	return sb.String()
}

// SymbolStubber outlines source files as the first line of each known
// symbol, using the most recent combined repo map. Paths in the map are
// relative to Root.
type SymbolStubber struct {
	Root string

	mu    sync.RWMutex
	files Files
}

// Update replaces the symbol table, usually with a snapshot's combined view.
func (s *SymbolStubber) Update(f Files) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = f
}

// Stub implements files.Stubber.
func (s *SymbolStubber) Stub(path, content string) (string, bool) {
	s.mu.RLock()
	syms := s.lookup(path)
	s.mu.RUnlock()
	if len(syms) == 0 {
		return "", false
	}

	source := strings.Split(content, "\n")
	var starts []int
	for _, sym := range syms {
		if sym.StartLine >= 0 && sym.StartLine < len(source) {
			starts = append(starts, sym.StartLine)
		}
	}
	if len(starts) == 0 {
		return "", false
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)

	var out []string
	prev := -1
	for _, n := range starts {
		if n != prev+1 {
			out = append(out, gap)
		}
		out = append(out, fmt.Sprintf("%d│%s", n+1, source[n]))
		prev = n
	}
	if prev < len(source)-1 {
		out = append(out, gap)
	}
	return strings.Join(out, "\n"), true
}

func (s *SymbolStubber) lookup(path string) map[string]Symbol {
	if syms, ok := s.files[path]; ok {
		return syms
	}
	if s.Root == "" {
		return nil
	}
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return nil
	}
	return s.files[filepath.ToSlash(rel)]
}

// Stubber replaces file content with a summary. It matches files.Stubber.
type Stubber interface {
	Stub(path, content string) (stub string, ok bool)
}

// Stubbers tries each stubber in order.
type Stubbers []Stubber

// Stub implements files.Stubber.
func (c Stubbers) Stub(path, content string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if stub, ok := s.Stub(path, content); ok {
			return stub, true
		}
	}
	return "", false
}
