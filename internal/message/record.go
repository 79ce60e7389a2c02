package message

import (
	convoerr "github.com/hpungsan/convo/internal/errors"
)

// Record is a payload plus the metadata that orders it, expires it and
// identifies it in a store.
type Record struct {
	Payload   Payload
	Tag       Tag
	Priority  int
	Timestamp int64
	ID        string

	// Expiry is the remaining sweep countdown; nil means permanent.
	Expiry *int

	// Key is the custom identity key, if any.
	Key Key

	// Seq is the insertion index assigned by the store. It breaks ties
	// between equal (Priority, Timestamp) pairs.
	Seq uint64
}

// NewRecord validates p and computes its identity. Priority and timestamp
// are left for the store to fill.
func NewRecord(p Payload, tag Tag, key Key) (*Record, error) {
	if !tag.Valid() {
		return nil, convoerr.NewUnknownTag(string(tag))
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return &Record{
		Payload:  p,
		Tag:      tag,
		Priority: tag.DefaultPriority(),
		ID:       Identity(p, key),
		Key:      append(Key(nil), key...),
	}, nil
}

// IsExpired reports whether the countdown has gone below zero.
func (r *Record) IsExpired() bool {
	return r.Expiry != nil && *r.Expiry < 0
}

// Role returns the payload's role.
func (r *Record) Role() Role {
	return RoleOf(r.Payload)
}

// Wire returns the provider-ready form of the record's payload.
func (r *Record) Wire() Wire {
	return ToWire(r.Payload)
}

// Less orders records by priority, then timestamp, then insertion index.
func Less(a, b *Record) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

// IntPtr returns a pointer to n, for Expiry and priority overrides.
func IntPtr(n int) *int {
	return &n
}

// Clone returns a copy of r that shares no mutable metadata with it.
func (r *Record) Clone() *Record {
	out := *r
	if r.Expiry != nil {
		out.Expiry = IntPtr(*r.Expiry)
	}
	out.Key = append(Key(nil), r.Key...)
	if len(r.Key) == 0 {
		out.Key = nil
	}
	return &out
}
