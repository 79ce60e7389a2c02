package conversation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	convoerr "github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

// notSerializable replaces any message that fails to encode.
const notSerializable = `"<not serializable>"`

// DumpSink receives the unannotated full export when verbose mode is on.
type DumpSink interface {
	Dump(ctx context.Context, wires []message.Wire) error
}

// SentSink is a DumpSink that wants the export as sent to the provider,
// cache breakpoints included, instead of the plain stream.
type SentSink interface {
	DumpSink
	DumpsSent() bool
}

// DumpFunc adapts a function to DumpSink.
type DumpFunc func(ctx context.Context, wires []message.Wire) error

// Dump implements DumpSink.
func (f DumpFunc) Dump(ctx context.Context, wires []message.Wire) error {
	return f(ctx, wires)
}

// MultiDump fans a dump out to several sinks, stopping at the first error.
type MultiDump []DumpSink

// Dump implements DumpSink.
func (m MultiDump) Dump(ctx context.Context, wires []message.Wire) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Dump(ctx, wires); err != nil {
			return err
		}
	}
	return nil
}

// dumpExport hands each sink, descending into MultiDump, the plain or the
// sent export. Each sink gets its own copy.
func dumpExport(ctx context.Context, sink DumpSink, plain, sent []message.Wire) error {
	switch v := sink.(type) {
	case nil:
		return nil
	case MultiDump:
		for _, d := range v {
			if err := dumpExport(ctx, d, plain, sent); err != nil {
				return err
			}
		}
		return nil
	case SentSink:
		if v.DumpsSent() {
			return v.Dump(ctx, message.CloneWires(sent))
		}
	}
	return sink.Dump(ctx, message.CloneWires(plain))
}

// FileDump overwrites Path with the export as indented JSON.
type FileDump struct {
	Path string
}

// Dump implements DumpSink.
func (d FileDump) Dump(ctx context.Context, wires []message.Wire) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeDump(wires)
	if err != nil {
		return convoerr.NewInternal(err)
	}
	return writeFileAtomic(d.Path, data)
}

// EncodeDump renders wires as a 4-space indented JSON array. A message that
// cannot be encoded is written as "<not serializable>".
func EncodeDump(wires []message.Wire) ([]byte, error) {
	items := make([]json.RawMessage, len(wires))
	for i, w := range wires {
		raw, err := json.Marshal(w)
		if err != nil {
			raw = json.RawMessage(notSerializable)
		}
		items[i] = raw
	}
	return json.MarshalIndent(items, "", "    ")
}

// writeFileAtomic writes data to a temp file beside path, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return convoerr.NewInternal(fmt.Errorf("failed to create dump directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return convoerr.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return convoerr.NewInternal(fmt.Errorf("failed to create dump file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return convoerr.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return convoerr.NewInternal(fmt.Errorf("failed to close dump file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return convoerr.NewInvalidRequest("dump path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		return convoerr.NewInternal(fmt.Errorf("failed to finalize dump: %w", err))
	}

	success = true
	return nil
}
