package turn

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ImageLoader turns an image path into a URL the model can fetch, usually a
// data URL.
type ImageLoader interface {
	ImageURL(path string) (string, error)
}

// ImageLoaderFunc adapts a function to ImageLoader.
type ImageLoaderFunc func(path string) (string, error)

// ImageURL implements ImageLoader.
func (f ImageLoaderFunc) ImageURL(path string) (string, error) { return f(path) }

// DataURLLoader reads images from disk and base64-encodes them.
type DataURLLoader struct {
	// MaxBytes rejects larger files when set.
	MaxBytes int64
}

// ImageURL implements ImageLoader.
func (l DataURLLoader) ImageURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return "", fmt.Errorf("image %s is %d bytes, limit %d", path, info.Size(), l.MaxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + mimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	switch ext {
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
