package files

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiff renders a unified diff of a against b with the given number
// of context lines. Trailing newline differences are ignored. An empty
// string means no change.
func unifiedDiff(a, b, path string, context int) (string, error) {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(a),
		B:        splitLines(b),
		FromFile: path + " (snapshot)",
		ToFile:   path + " (current)",
		Context:  context,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// splitLines splits s into lines, each terminated by "\n". A final line
// without a terminator gets one, so "a\nb" and "a\nb\n" compare equal.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}
