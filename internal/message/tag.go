package message

import (
	convoerr "github.com/hpungsan/convo/internal/errors"
)

// Tag is the logical category of a message. It selects the default priority
// and is the unit of bulk removal and of the per-tag export cache.
type Tag string

const (
	TagSystem        Tag = "system"
	TagStatic        Tag = "static"
	TagExamples      Tag = "examples"
	TagRepo          Tag = "repo"
	TagPreMessage    Tag = "pre_message"
	TagReadOnlyFiles Tag = "readonly_files"
	TagChatFiles     Tag = "chat_files"
	TagEditFiles     Tag = "edit_files"
	TagCur           Tag = "cur"
	TagDone          Tag = "done"
	TagPostMessage   Tag = "post_message"
	TagReminder      Tag = "reminder"
)

type tagSpec struct {
	priority int
	offset   int64
}

// schema is the closed tag table. Offsets are all zero; they exist so ties
// between tags sharing a priority can be tuned without touching priorities.
var schema = map[Tag]tagSpec{
	TagSystem:        {priority: 0},
	TagStatic:        {priority: 50},
	TagExamples:      {priority: 75},
	TagRepo:          {priority: 100},
	TagPreMessage:    {priority: 125},
	TagReadOnlyFiles: {priority: 200},
	TagChatFiles:     {priority: 200},
	TagEditFiles:     {priority: 200},
	TagCur:           {priority: 200},
	TagDone:          {priority: 200},
	TagPostMessage:   {priority: 250},
	TagReminder:      {priority: 300},
}

// Tags returns every tag in default-priority order.
func Tags() []Tag {
	return []Tag{
		TagSystem, TagStatic, TagExamples, TagRepo, TagPreMessage,
		TagReadOnlyFiles, TagChatFiles, TagEditFiles, TagCur, TagDone,
		TagPostMessage, TagReminder,
	}
}

// Valid reports whether t is one of the enumerated tags.
func (t Tag) Valid() bool {
	_, ok := schema[t]
	return ok
}

// DefaultPriority returns the priority used when an add does not override it.
func (t Tag) DefaultPriority() int {
	return schema[t].priority
}

// TimestampOffset returns the value added to the logical clock for t.
func (t Tag) TimestampOffset() int64 {
	return schema[t].offset
}

// ParseTag converts a wire string to a Tag.
func ParseTag(s string) (Tag, error) {
	t := Tag(s)
	if !t.Valid() {
		return "", convoerr.NewUnknownTag(s)
	}
	return t, nil
}
