package files

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Reader loads file content. It must not fail: an unreadable file reports false.
type Reader interface {
	Read(path string) (string, bool)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (string, bool)

// Read implements Reader.
func (f ReaderFunc) Read(path string) (string, bool) { return f(path) }

// Stater reports a file's modification time, or false if it does not exist.
type Stater interface {
	ModTime(path string) (time.Time, bool)
}

// StaterFunc adapts a function to Stater.
type StaterFunc func(path string) (time.Time, bool)

// ModTime implements Stater.
func (f StaterFunc) ModTime(path string) (time.Time, bool) { return f(path) }

// Stubber condenses a large file to an outline. ok is false when no stub
// can be produced, in which case the full content is used.
type Stubber interface {
	Stub(path, content string) (stub string, ok bool)
}

// OSReader reads UTF-8 text files from disk. Directories, binary files and
// files larger than MaxBytes (when set) are unreadable.
type OSReader struct {
	MaxBytes int64
}

// Read implements Reader.
func (r OSReader) Read(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if r.MaxBytes > 0 && info.Size() > r.MaxBytes {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// OSStat is the default Stater.
var OSStat = StaterFunc(func(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
})

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
	".pdf":  true,
}

// IsImageFile reports whether path has an image (or PDF) extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Abs returns the absolute, cleaned form of path. It falls back to
// filepath.Clean when the working directory is unavailable.
func Abs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
