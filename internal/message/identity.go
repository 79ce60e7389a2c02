package message

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// Key is a caller-chosen identity for a message. Records sharing a key are
// the same logical message even when their content differs.
type Key []string

// String joins the key parts with "/".
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Equal reports whether k and o have identical parts.
func (k Key) Equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether k starts with the given parts.
func (k Key) HasPrefix(parts ...string) bool {
	if len(parts) > len(k) {
		return false
	}
	for i, p := range parts {
		if k[i] != p {
			return false
		}
	}
	return true
}

// Identity derives the deduplication id for a message:
//   - tool results get a fresh ULID and never collide;
//   - a custom key is fingerprinted on its own;
//   - otherwise role and content are fingerprinted, plus the tool calls as
//     key-sorted JSON when present;
//   - multimodal content is fingerprinted as key-sorted JSON of every part,
//     so images count.
func Identity(p Payload, key Key) string {
	if _, ok := p.(ToolResult); ok {
		return newULID()
	}
	if len(key) > 0 {
		return Fingerprint(strings.Join(key, "\x00"))
	}

	data := string(RoleOf(p)) + ":" + ContentOf(p)
	if t, ok := p.(Text); ok && t.Parts != nil {
		data = string(t.Role) + ":" + canonicalJSON(t.Parts)
	}
	if tc, ok := p.(ToolCalls); ok && len(tc.Calls) > 0 {
		data += ":" + canonicalJSON(tc.Calls)
	}
	return Fingerprint(data)
}

// Fingerprint returns the first 128 bits of the BLAKE3 digest of s, hex encoded.
func Fingerprint(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// canonicalJSON encodes v with object keys sorted at every depth.
func canonicalJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	sorted, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(sorted)
}

func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
