// Package turn assembles the per-turn conversation: prompts, context blocks,
// repository map, tracked files and the running exchange.
package turn

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/convo/internal/config"
	"github.com/hpungsan/convo/internal/conversation"
	convoerr "github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/files"
	"github.com/hpungsan/convo/internal/logging"
	"github.com/hpungsan/convo/internal/message"
	"github.com/hpungsan/convo/internal/repomap"
)

// Assistant acknowledgements paired with context the user supplies.
const (
	fileAck  = "Ok, I will view and/or modify this file as is necessary."
	imageAck = "Ok, I will use this image as a reference."
	repoAck  = "Ok, I won't try and edit those files without asking first."
)

const (
	examplesPriority     = 75
	repoUpdatePriority   = 200
	fileListPriority     = 275
	fileListReminderKey  = "file_list_reminder"
	fileListContextStart = `<context name="file_list">`
)

// Options configures a Session.
type Options struct {
	// Config supplies cache, stub and repo-map settings. Nil means defaults.
	Config *config.Config

	// Root is the repository root used for relative paths in reminders.
	Root string

	RepoMap repomap.Source
	Images  ImageLoader

	Reader files.Reader
	Stat   files.Stater

	// Dump receives every full export, enabling the compare report even
	// when the config is not verbose. When nil and the config is verbose,
	// exports are written to the configured debug log path.
	Dump conversation.DumpSink

	Logger *zap.Logger
}

// Session owns one conversation. All methods are safe for concurrent use;
// each runs under the session lock.
type Session struct {
	mu sync.Mutex

	cfg     *config.Config
	root    string
	log     *zap.Logger
	store   *conversation.Store
	tracker *files.Tracker
	repo    repomap.Source
	symbols *repomap.SymbolStubber
	images  ImageLoader

	readOnly map[string]bool
	stubs    map[string]bool
	editable map[string]bool
}

// New returns an empty session.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	roles, err := parseRoles(cfg.CacheRoles)
	if err != nil {
		return nil, err
	}
	log := logging.OrNop(opts.Logger)

	dump := opts.Dump
	explicit := dump != nil
	if dump == nil && cfg.Verbose && cfg.DebugLogPath != "" {
		path := cfg.DebugLogPath
		if !filepath.IsAbs(path) && opts.Root != "" {
			path = filepath.Join(opts.Root, path)
		}
		dump = conversation.FileDump{Path: path}
	}

	symbols := &repomap.SymbolStubber{Root: opts.Root}
	images := opts.Images
	if images == nil {
		images = DataURLLoader{}
	}

	return &Session{
		cfg:  cfg,
		root: opts.Root,
		log:  log.Named("turn"),
		store: conversation.New(conversation.Options{
			AddCacheHeaders: cfg.AddCacheHeaders,
			CachesByDefault: cfg.CachesByDefault,
			CacheRoles:      roles,
			Verbose:         cfg.Verbose || explicit,
			Dump:            dump,
			Logger:          log,
		}),
		tracker: files.New(files.Options{
			Reader:       opts.Reader,
			Stat:         opts.Stat,
			Stubber:      repomap.Stubbers{repomap.MarkdownStubber{}, symbols},
			ContextLines: cfg.DiffContextLines,
			Concurrency:  cfg.ReadConcurrency,
			Logger:       log,
		}),
		repo:     opts.RepoMap,
		symbols:  symbols,
		images:   images,
		readOnly: make(map[string]bool),
		stubs:    make(map[string]bool),
		editable: make(map[string]bool),
	}, nil
}

func parseRoles(names []string) ([]message.Role, error) {
	roles := make([]message.Role, 0, len(names))
	for _, n := range names {
		r, ok := message.ParseRole(n)
		if !ok {
			return nil, convoerr.NewInvalidRequest("unknown cache role: " + n)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Store exposes the underlying message store. Callers must not use it
// concurrently with the session.
func (s *Session) Store() *conversation.Store { return s.store }

// Tracker exposes the underlying file tracker. Callers must not use it
// concurrently with the session.
func (s *Session) Tracker() *files.Tracker { return s.tracker }

// Prompts are the fixed prompt material for a session.
type Prompts struct {
	// Prefix is a model-specific line placed before the system prompt.
	Prefix   string
	System   string
	Examples []message.Wire
	Reminder string
}

// AddSystemMessages adds the system prompt, the few-shot examples and the
// system reminder.
func (s *Session) AddSystemMessages(p Prompts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.System != "" {
		content := p.System
		if p.Prefix != "" {
			content = p.Prefix + "\n" + content
		}
		if err := s.add(message.Text{Role: message.RoleSystem, Content: content}, message.TagSystem, conversation.AddOptions{}); err != nil {
			return err
		}
	}

	for i, w := range p.Examples {
		payload, err := message.FromWire(w)
		if err != nil {
			return err
		}
		if err := s.add(payload, message.TagExamples, conversation.AddOptions{Priority: message.IntPtr(examplesPriority + i)}); err != nil {
			return err
		}
	}

	if p.Reminder != "" {
		return s.add(message.Text{Role: message.RoleSystem, Content: p.Reminder}, message.TagReminder, conversation.AddOptions{})
	}
	return nil
}

// AddStaticBlocks adds named system blocks that rarely change, such as the
// environment description or directory layout.
func (s *Session) AddStaticBlocks(blocks map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBlocks(blocks, message.TagStatic, false)
}

// AddPreMessageBlocks adds named system blocks placed after the repository
// map and before the files.
func (s *Session) AddPreMessageBlocks(blocks map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBlocks(blocks, message.TagPreMessage, false)
}

// AddPostMessageBlocks adds named system blocks placed after the exchange.
// They are replaced each turn and expire after one turn.
func (s *Session) AddPostMessageBlocks(blocks map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBlocks(blocks, message.TagPostMessage, true)
}

func (s *Session) addBlocks(blocks map[string]string, tag message.Tag, transient bool) error {
	names := make([]string, 0, len(blocks))
	for name, content := range blocks {
		if content != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		opts := conversation.AddOptions{Key: message.Key{string(tag), name}}
		if transient {
			opts.Expiry = message.IntPtr(0)
			opts.Force = true
		}
		if err := s.add(message.Text{Role: message.RoleSystem, Content: blocks[name]}, tag, opts); err != nil {
			return err
		}
	}
	return nil
}

// AddUserMessage appends a user message to the current exchange.
func (s *Session) AddUserMessage(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(message.Text{Role: message.RoleUser, Content: content}, message.TagCur, conversation.AddOptions{})
}

// AddAssistantReply appends the model's reply, with any tool calls it made.
func (s *Session) AddAssistantReply(content string, calls []message.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p message.Payload = message.Text{Role: message.RoleAssistant, Content: content}
	if len(calls) > 0 {
		p = message.ToolCalls{Role: message.RoleAssistant, Content: content, Calls: calls}
	}
	return s.add(p, message.TagCur, conversation.AddOptions{})
}

// AddToolResult appends the result of a tool call.
func (s *Session) AddToolResult(callID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(message.ToolResult{CallID: callID, Content: content}, message.TagCur, conversation.AddOptions{})
}

// MoveToDone files the current exchange under the completed history.
func (s *Session) MoveToDone() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Retag(message.TagCur, message.TagDone)
}

// ClearConversation drops the current exchange and the completed history.
func (s *Session) ClearConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range []message.Tag{message.TagCur, message.TagDone} {
		if _, err := s.store.ClearTag(tag); err != nil {
			s.log.Warn("clear tag failed", zap.String("tag", string(tag)), zap.Error(err))
		}
	}
}

// EndTurn ages transient messages and returns how many expired.
func (s *Session) EndTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SweepExpiry()
}

// Reset drops every message, tracked file and file selection.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset()
	s.tracker.Reset()
	s.readOnly = make(map[string]bool)
	s.stubs = make(map[string]bool)
	s.editable = make(map[string]bool)
	if r, ok := s.repo.(repomap.Resetter); ok {
		r.ResetCombined()
	}
}

// Messages returns the full export for this turn.
func (s *Session) Messages(ctx context.Context) ([]message.Wire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Export(ctx, conversation.ExportOptions{})
}

// Do runs fn with exclusive access to the store and tracker.
func (s *Session) Do(fn func(store *conversation.Store, tracker *files.Tracker) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store, s.tracker)
}

func (s *Session) add(p message.Payload, tag message.Tag, opts conversation.AddOptions) error {
	_, err := s.store.Add(p, tag, opts)
	return err
}
