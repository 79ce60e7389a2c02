package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/files"
	"github.com/hpungsan/convo/internal/message"
	"github.com/hpungsan/convo/internal/repomap"
	"github.com/hpungsan/convo/internal/turn"
)

// Script is a replayable conversation. Paths are relative to the script's
// directory. JSON scripts parse as YAML.
type Script struct {
	Prefix   string          `yaml:"prefix"`
	System   string          `yaml:"system"`
	Examples []ScriptMessage `yaml:"examples"`
	Reminder string          `yaml:"reminder"`

	// RepoMap is a snapshot file served by a static repo-map source.
	RepoMap string `yaml:"repo_map"`

	Turns []ScriptTurn `yaml:"turns"`
}

// ScriptTurn is one turn of a script. Steps run in field order.
type ScriptTurn struct {
	Static      map[string]string `yaml:"static"`
	PreMessage  map[string]string `yaml:"pre_message"`
	RepoMap     bool              `yaml:"repo_map"`
	Files       *ScriptFiles      `yaml:"files"`
	FileList    bool              `yaml:"file_list"`
	Clear       []string          `yaml:"clear"`
	RemoveKeys  [][]string        `yaml:"remove_keys"`
	Add         []ScriptMessage   `yaml:"add"`
	User        string            `yaml:"user"`
	Assistant   string            `yaml:"assistant"`
	PostMessage map[string]string `yaml:"post_message"`

	// Done files the exchange under the completed history when the turn ends.
	Done bool `yaml:"done"`
}

// ScriptFiles replaces the file selection for a turn.
type ScriptFiles struct {
	ReadOnly []string `yaml:"read_only"`
	Stubs    []string `yaml:"stubs"`
	Editable []string `yaml:"editable"`
}

// ScriptMessage is a message added directly to the store.
type ScriptMessage struct {
	Tag        string             `yaml:"tag"`
	Role       string             `yaml:"role"`
	Content    string             `yaml:"content"`
	ToolCalls  []message.ToolCall `yaml:"tool_calls"`
	ToolCallID string             `yaml:"tool_call_id"`
	Key        []string           `yaml:"key"`
	Priority   *int               `yaml:"priority"`
	Expiry     *int               `yaml:"expiry"`
	Force      bool               `yaml:"force"`
}

func (m ScriptMessage) wire() message.Wire {
	return message.Wire{
		Role:       message.Role(m.Role),
		Content:    message.Content{Text: m.Content},
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// LoadScript reads a JSON or YAML script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("read script: %v", err))
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("parse script %s: %v", path, err))
	}
	return &s, nil
}

// scriptRunner replays a script against a session.
type scriptRunner struct {
	sess *turn.Session
	dir  string
}

// newScriptSession builds the session a script runs in, wiring the script's
// repo-map snapshot when it names one.
func newScriptSession(s *Script, dir string, opts turn.Options) (*turn.Session, error) {
	opts.Root = dir
	if s.RepoMap != "" {
		snap, err := repomap.LoadSnapshot(resolve(dir, s.RepoMap))
		if err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
		opts.RepoMap = &repomap.StaticSource{Snapshot: snap}
	}
	return turn.New(opts)
}

// Run replays every turn. Each turn but the last ends with a sweep, after
// the exchange is filed as done when the turn asks for it.
func (r *scriptRunner) Run(ctx context.Context, s *Script) error {
	examples := make([]message.Wire, len(s.Examples))
	for i, m := range s.Examples {
		examples[i] = m.wire()
	}
	err := r.sess.AddSystemMessages(turn.Prompts{
		Prefix:   s.Prefix,
		System:   s.System,
		Examples: examples,
		Reminder: s.Reminder,
	})
	if err != nil {
		return err
	}

	for i, t := range s.Turns {
		if err := r.runTurn(ctx, t); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if i == len(s.Turns)-1 {
			break
		}
		if t.Done {
			if _, err := r.sess.MoveToDone(); err != nil {
				return fmt.Errorf("turn %d: %w", i+1, err)
			}
		}
		r.sess.EndTurn()
	}
	return nil
}

func (r *scriptRunner) runTurn(ctx context.Context, t ScriptTurn) error {
	if err := r.sess.AddStaticBlocks(t.Static); err != nil {
		return err
	}
	if err := r.sess.AddPreMessageBlocks(t.PreMessage); err != nil {
		return err
	}
	if t.RepoMap {
		if err := r.sess.AddRepoMap(ctx); err != nil {
			return err
		}
	}
	if t.Files != nil {
		if err := r.selectFiles(ctx, t.Files); err != nil {
			return err
		}
	}
	if t.FileList {
		if err := r.sess.AddFileListReminder(); err != nil {
			return err
		}
	}

	for _, name := range t.Clear {
		tag, err := message.ParseTag(name)
		if err != nil {
			return err
		}
		if err := r.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
			_, err := store.ClearTag(tag)
			return err
		}); err != nil {
			return err
		}
	}
	for _, key := range t.RemoveKeys {
		_ = r.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
			store.RemoveByKey(message.Key(key))
			return nil
		})
	}
	for _, m := range t.Add {
		if err := r.add(m); err != nil {
			return err
		}
	}

	if t.User != "" {
		if err := r.sess.AddUserMessage(t.User); err != nil {
			return err
		}
	}
	if t.Assistant != "" {
		if err := r.sess.AddAssistantReply(t.Assistant, nil); err != nil {
			return err
		}
	}
	return r.sess.AddPostMessageBlocks(t.PostMessage)
}

func (r *scriptRunner) selectFiles(ctx context.Context, f *ScriptFiles) error {
	current := r.sess.Files()
	r.sess.DropFiles(current.ReadOnly...)
	r.sess.DropFiles(current.Stubs...)
	r.sess.DropFiles(current.Editable...)

	r.sess.AddReadOnly(r.paths(f.ReadOnly)...)
	r.sess.AddReadOnlyStubs(r.paths(f.Stubs)...)
	r.sess.AddEditable(r.paths(f.Editable)...)

	r.sess.CleanupFiles()
	if err := r.sess.AddReadOnlyFiles(ctx); err != nil {
		return err
	}
	return r.sess.AddChatFiles(ctx)
}

func (r *scriptRunner) add(m ScriptMessage) error {
	tag := message.TagCur
	if m.Tag != "" {
		var err error
		if tag, err = message.ParseTag(m.Tag); err != nil {
			return err
		}
	}
	payload, err := message.FromWire(m.wire())
	if err != nil {
		return err
	}
	return r.sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		_, err := store.Add(payload, tag, conversation.AddOptions{
			Priority: m.Priority,
			Expiry:   m.Expiry,
			Key:      message.Key(m.Key),
			Force:    m.Force,
		})
		return err
	})
}

func (r *scriptRunner) paths(in []string) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = resolve(r.dir, p)
	}
	return out
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
