package turn

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/files"
	"github.com/hpungsan/convo/internal/message"
)

// AddReadOnly selects files the model may read but not edit.
func (s *Session) AddReadOnly(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		abs := files.Abs(p)
		delete(s.editable, abs)
		delete(s.stubs, abs)
		s.readOnly[abs] = true
	}
}

// AddReadOnlyStubs selects read-only files that are always shown as an
// outline when one can be produced.
func (s *Session) AddReadOnlyStubs(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		abs := files.Abs(p)
		delete(s.editable, abs)
		delete(s.readOnly, abs)
		s.stubs[abs] = true
	}
}

// AddEditable selects files the model may edit.
func (s *Session) AddEditable(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		abs := files.Abs(p)
		delete(s.readOnly, abs)
		delete(s.stubs, abs)
		s.editable[abs] = true
	}
}

// DropFiles deselects files. Their messages are removed by CleanupFiles.
func (s *Session) DropFiles(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		abs := files.Abs(p)
		delete(s.readOnly, abs)
		delete(s.stubs, abs)
		delete(s.editable, abs)
	}
}

// Selection lists the selected files by kind, sorted.
type Selection struct {
	ReadOnly []string `json:"read_only"`
	Stubs    []string `json:"stubs,omitempty"`
	Editable []string `json:"editable"`
}

// Files returns the current selection.
func (s *Session) Files() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Selection{
		ReadOnly: sortedSet(s.readOnly),
		Stubs:    sortedSet(s.stubs),
		Editable: sortedSet(s.editable),
	}
}

// AddReadOnlyFiles refreshes the read-only files and adds their content,
// and any changes since they were last shown, to the conversation.
func (s *Session) AddReadOnlyFiles(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regular, images := splitImages(append(sortedSet(s.readOnly), sortedSet(s.stubs)...))
	slices.Sort(regular)
	if err := s.refresh(ctx, regular); err != nil {
		return err
	}
	for _, path := range regular {
		if err := s.addFile(path, message.TagReadOnlyFiles, s.stubs[path]); err != nil {
			return err
		}
	}
	return s.addImages(images, message.TagReadOnlyFiles)
}

// AddChatFiles refreshes the editable files and adds their content, and
// any changes since they were last shown, to the conversation.
func (s *Session) AddChatFiles(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regular, images := splitImages(sortedSet(s.editable))
	if err := s.refresh(ctx, regular); err != nil {
		return err
	}
	for _, path := range regular {
		if err := s.addFile(path, message.TagChatFiles, false); err != nil {
			return err
		}
	}
	return s.addImages(images, message.TagChatFiles)
}

// CleanupFiles forgets files that are no longer selected and removes the
// messages that showed them.
func (s *Session) CleanupFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, path := range s.tracker.Tracked() {
		if s.readOnly[path] || s.stubs[path] || s.editable[path] {
			continue
		}
		s.tracker.Clear(path)
		for _, kind := range []string{"file_user", "file_assistant", "image_user", "image_assistant"} {
			if s.store.RemoveByKey(message.Key{kind, path}) {
				removed++
			}
		}
	}
	return removed
}

// AddFileListReminder adds a one-turn reminder listing the selected files
// relative to the repository root.
func (s *Session) AddFileListReminder() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	readOnly := s.relative(sortedSet(s.readOnly))
	editable := s.relative(sortedSet(s.editable))
	if len(readOnly) == 0 && len(editable) == 0 {
		return nil
	}

	lines := []string{fileListContextStart}
	if len(readOnly) > 0 {
		lines = append(lines, "Read-only files:")
		for _, f := range readOnly {
			lines = append(lines, "  - "+f)
		}
	}
	if len(editable) > 0 {
		lines = append(lines, "", "Editable files:")
		for _, f := range editable {
			lines = append(lines, "  - "+f)
		}
	}
	lines = append(lines, "</context>\n")

	role := message.RoleSystem
	if s.cfg.ReminderRole == string(message.RoleUser) {
		role = message.RoleUser
	}
	return s.add(message.Text{Role: role, Content: strings.Join(lines, "\n")}, message.TagReminder, conversation.AddOptions{
		Priority: message.IntPtr(fileListPriority),
		Key:      message.Key{fileListReminderKey},
		Expiry:   message.IntPtr(0),
		Force:    true,
	})
}

// refresh diffs changed files and adds each diff as a user message. Diffs of
// editable files go under edit_files, others under chat_files.
func (s *Session) refresh(ctx context.Context, paths []string) error {
	changes, err := s.tracker.Refresh(ctx, paths)
	if err != nil {
		return err
	}
	for _, c := range changes {
		tag := message.TagChatFiles
		if s.editable[c.Path] {
			tag = message.TagEditFiles
		}
		content := fmt.Sprintf("File %s has changed:\n\n%s", c.Path, c.Diff)
		if err := s.add(message.Text{Role: message.RoleUser, Content: content}, tag, conversation.AddOptions{}); err != nil {
			return err
		}
		s.log.Debug("file changed", zap.String("path", c.Path), zap.String("tag", string(tag)))
	}
	return nil
}

func (s *Session) addFile(path string, tag message.Tag, stub bool) error {
	opts := files.ContentOptions{
		Stub:              true,
		ContextManagement: s.cfg.ContextManagement,
		Threshold:         s.cfg.LargeFileThreshold,
	}
	if stub {
		opts.ContextManagement = true
		opts.Threshold = 0
	}
	content := s.tracker.Content(path, opts)
	if content == "" {
		return nil
	}

	user := message.Text{Role: message.RoleUser, Content: fmt.Sprintf("File Contents %s:\n\n%s", path, content)}
	if err := s.add(user, tag, conversation.AddOptions{Key: message.Key{"file_user", path}}); err != nil {
		return err
	}
	ack := message.Text{Role: message.RoleAssistant, Content: fileAck}
	return s.add(ack, tag, conversation.AddOptions{Key: message.Key{"file_assistant", path}})
}

func (s *Session) addImages(paths []string, tag message.Tag) error {
	for _, path := range paths {
		url, err := s.images.ImageURL(path)
		if err != nil {
			s.log.Warn("image unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		s.tracker.AddImage(path)

		user := message.Text{Role: message.RoleUser, Parts: []message.ContentBlock{
			{Type: "text", Text: "Image file: " + path},
			{Type: "image_url", ImageURL: &message.ImageURL{URL: url}},
		}}
		if err := s.add(user, tag, conversation.AddOptions{Key: message.Key{"image_user", path}}); err != nil {
			return err
		}
		ack := message.Text{Role: message.RoleAssistant, Content: imageAck}
		if err := s.add(ack, tag, conversation.AddOptions{Key: message.Key{"image_assistant", path}, Force: true}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) relative(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p
		if s.root == "" {
			continue
		}
		if rel, err := filepath.Rel(s.root, p); err == nil && !strings.HasPrefix(rel, "..") {
			out[i] = filepath.ToSlash(rel)
		}
	}
	return out
}

func splitImages(paths []string) (regular, images []string) {
	for _, p := range paths {
		if files.IsImageFile(p) {
			images = append(images, p)
		} else {
			regular = append(regular, p)
		}
	}
	return regular, images
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
