// Package conversation holds the ordered, deduplicated message store that
// produces the per-turn LLM message list.
//
// A Store is owned by a single session and is not safe for concurrent use.
package conversation

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/zap"

	convoerr "github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/logging"
	"github.com/hpungsan/convo/internal/message"
)

// Options configures a Store.
type Options struct {
	// AddCacheHeaders enables cache breakpoints on full exports.
	AddCacheHeaders bool

	// CachesByDefault suppresses breakpoints for providers that cache implicitly.
	CachesByDefault bool

	// CacheRoles are the roles eligible for the trailing breakpoints.
	// Empty means DefaultCacheRoles.
	CacheRoles []message.Role

	// Verbose enables the compare report and the dump on every full export.
	Verbose bool

	// Dump receives every full export when Verbose is set. May be nil.
	Dump DumpSink

	Logger *zap.Logger
}

// Store is an ordered, identity-indexed collection of message records.
type Store struct {
	opts Options
	log  *zap.Logger

	records []*message.Record
	index   map[string]*message.Record

	// unswept holds records added or force-updated since the last sweep.
	// Their countdown starts on the following sweep.
	unswept map[*message.Record]bool

	gens  map[message.Tag]uint64
	cache map[message.Tag]cachedExport

	clock int64
	seq   uint64

	previous   []message.Wire
	lastReport *CompareReport
}

// AddOptions overrides the tag defaults for a single Add.
type AddOptions struct {
	Priority  *int
	Timestamp *int64
	Expiry    *int
	Key       message.Key

	// Force overwrites an existing record with the same identity.
	Force bool
}

// New returns an empty store.
func New(opts Options) *Store {
	if len(opts.CacheRoles) == 0 {
		opts.CacheRoles = DefaultCacheRoles()
	}
	return &Store{
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("conversation"),
		index:   make(map[string]*message.Record),
		unswept: make(map[*message.Record]bool),
		gens:    make(map[message.Tag]uint64),
		cache:   make(map[message.Tag]cachedExport),
	}
}

// Add inserts p under tag unless a record with the same identity exists.
// With Force, the existing record's payload, tag, priority, timestamp and
// expiry are overwritten in place. The returned record is a copy.
func (s *Store) Add(p message.Payload, tag message.Tag, opts AddOptions) (*message.Record, error) {
	rec, err := message.NewRecord(p, tag, opts.Key)
	if err != nil {
		return nil, err
	}

	if opts.Priority != nil {
		rec.Priority = *opts.Priority
	}
	s.clock++
	rec.Timestamp = s.clock + tag.TimestampOffset()
	if opts.Timestamp != nil {
		rec.Timestamp = *opts.Timestamp
	}
	if opts.Expiry != nil {
		rec.Expiry = message.IntPtr(*opts.Expiry)
	}

	if existing, ok := s.index[rec.ID]; ok {
		if !opts.Force {
			s.log.Debug("duplicate message ignored",
				zap.String("id", rec.ID), zap.String("tag", string(tag)))
			return existing.Clone(), nil
		}
		oldTag := existing.Tag
		existing.Payload = rec.Payload
		existing.Tag = rec.Tag
		existing.Priority = rec.Priority
		existing.Timestamp = rec.Timestamp
		existing.Expiry = rec.Expiry
		if len(rec.Key) > 0 {
			existing.Key = rec.Key
		}
		s.unswept[existing] = true
		s.bump(oldTag)
		s.bump(rec.Tag)
		s.log.Debug("message updated",
			zap.String("id", rec.ID), zap.String("tag", string(tag)))
		return existing.Clone(), nil
	}

	s.seq++
	rec.Seq = s.seq
	s.records = append(s.records, rec)
	s.index[rec.ID] = rec
	s.unswept[rec] = true
	s.bump(rec.Tag)
	return rec.Clone(), nil
}

// Records returns every live record in (priority, timestamp, insertion) order.
// Records whose countdown is already negative are removed first.
func (s *Store) Records() []message.Record {
	ordered := s.ordered()
	out := make([]message.Record, len(ordered))
	for i, r := range ordered {
		out[i] = *r.Clone()
	}
	return out
}

// TagRecords returns the records of a single tag in order.
func (s *Store) TagRecords(tag message.Tag) ([]message.Record, error) {
	if !tag.Valid() {
		return nil, convoerr.NewUnknownTag(string(tag))
	}
	var out []message.Record
	for _, r := range s.ordered() {
		if r.Tag == tag {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored records, expired ones included.
func (s *Store) Len() int {
	return len(s.records)
}

// CountTag returns the number of stored records carrying tag.
func (s *Store) CountTag(tag message.Tag) int {
	n := 0
	for _, r := range s.records {
		if r.Tag == tag {
			n++
		}
	}
	return n
}

// Has reports whether a record with the given identity is stored.
func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// ClearTag removes every record carrying tag and returns how many were removed.
func (s *Store) ClearTag(tag message.Tag) (int, error) {
	if !tag.Valid() {
		return 0, convoerr.NewUnknownTag(string(tag))
	}
	n := s.removeWhere(func(r *message.Record) bool { return r.Tag == tag })
	s.bump(tag)
	return n, nil
}

// Retag moves every record carrying from to tag to, keeping identity,
// priority and timestamp. It returns how many records moved.
func (s *Store) Retag(from, to message.Tag) (int, error) {
	for _, t := range []message.Tag{from, to} {
		if !t.Valid() {
			return 0, convoerr.NewUnknownTag(string(t))
		}
	}
	n := 0
	for _, r := range s.records {
		if r.Tag == from {
			r.Tag = to
			n++
		}
	}
	if n > 0 {
		s.bump(from)
		s.bump(to)
	}
	return n, nil
}

// RemoveByKey removes the first record whose custom key equals key.
func (s *Store) RemoveByKey(key message.Key) bool {
	if len(key) == 0 {
		return false
	}
	for _, r := range s.records {
		if r.Key.Equal(key) {
			s.remove(r)
			return true
		}
	}
	return false
}

// RemoveByKeyFunc removes every keyed record for which match returns true.
func (s *Store) RemoveByKeyFunc(match func(message.Key) bool) int {
	return s.removeWhere(func(r *message.Record) bool {
		return len(r.Key) > 0 && match(r.Key)
	})
}

// SweepExpiry decrements every countdown and removes records that drop
// below zero. The sweep that closes the turn a record was added in does not
// count, so a record added with countdown 0 survives one sweep and is
// removed by the second.
func (s *Store) SweepExpiry() int {
	for _, r := range s.records {
		if s.unswept[r] {
			delete(s.unswept, r)
			continue
		}
		if r.Expiry != nil {
			*r.Expiry--
		}
	}
	n := s.removeWhere((*message.Record).IsExpired)
	if n > 0 {
		s.log.Debug("expired messages swept", zap.Int("count", n))
	}
	return n
}

// Reset drops every record, cache entry and debug state.
func (s *Store) Reset() {
	s.records = nil
	s.index = make(map[string]*message.Record)
	s.unswept = make(map[*message.Record]bool)
	s.gens = make(map[message.Tag]uint64)
	s.cache = make(map[message.Tag]cachedExport)
	s.previous = nil
	s.lastReport = nil
}

// ValidateState checks that the record list and the identity index agree.
func (s *Store) ValidateState() error {
	seen := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		if seen[r.ID] {
			return convoerr.NewInternal(fmt.Errorf("duplicate record id %s", r.ID))
		}
		seen[r.ID] = true
		if s.index[r.ID] != r {
			return convoerr.NewInternal(fmt.Errorf("record %s missing from index", r.ID))
		}
		if !r.Tag.Valid() {
			return convoerr.NewInternal(fmt.Errorf("record %s has unknown tag %q", r.ID, r.Tag))
		}
	}
	for id, r := range s.index {
		if r.ID != id {
			return convoerr.NewInternal(fmt.Errorf("index entry %s points at record %s", id, r.ID))
		}
		if !seen[id] {
			return convoerr.NewInternal(fmt.Errorf("index entry %s not in record list", id))
		}
	}
	return nil
}

// StreamInfo summarizes the ordered stream for debugging.
type StreamInfo struct {
	Length     int           `json:"stream_length"`
	IDs        []string      `json:"ids"`
	Tags       []message.Tag `json:"tags"`
	Priorities []int         `json:"priorities"`
}

// Info returns a StreamInfo for the current ordered stream. IDs are shortened
// to their first 8 characters.
func (s *Store) Info() StreamInfo {
	ordered := s.ordered()
	info := StreamInfo{
		Length:     len(ordered),
		IDs:        make([]string, len(ordered)),
		Tags:       make([]message.Tag, len(ordered)),
		Priorities: make([]int, len(ordered)),
	}
	for i, r := range ordered {
		info.IDs[i] = shortID(r.ID)
		info.Tags[i] = r.Tag
		info.Priorities[i] = r.Priority
	}
	return info
}

// WriteStream prints one line per record: index, priority, timestamp, tag,
// role, short id and a content preview.
func (s *Store) WriteStream(w io.Writer) error {
	ordered := s.ordered()
	if _, err := fmt.Fprintf(w, "Conversation Stream (%d messages):\n", len(ordered)); err != nil {
		return err
	}
	for i, r := range ordered {
		preview := message.ContentOf(r.Payload)
		if len(preview) > 50 {
			preview = preview[:50]
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		_, err := fmt.Fprintf(w, "  %3d. [%3d] %8d %-15s %-9s %s... '%s'\n",
			i, r.Priority, r.Timestamp, r.Tag, r.Role(), shortID(r.ID), preview)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ordered() []*message.Record {
	s.removeWhere((*message.Record).IsExpired)
	out := slices.Clone(s.records)
	slices.SortStableFunc(out, func(a, b *message.Record) int {
		switch {
		case message.Less(a, b):
			return -1
		case message.Less(b, a):
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) removeWhere(pred func(*message.Record) bool) int {
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if pred(r) {
			delete(s.index, r.ID)
			delete(s.unswept, r)
			s.bump(r.Tag)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	clear(s.records[len(kept):])
	s.records = kept
	return removed
}

func (s *Store) remove(target *message.Record) {
	s.removeWhere(func(r *message.Record) bool { return r == target })
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
