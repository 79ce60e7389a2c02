package turn

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/message"
	"github.com/hpungsan/convo/internal/repomap"
)

// AddRepoMap adds the newly revealed part of the repository map as a
// user/assistant pair. The first map keeps the repo priority; later maps
// only add new symbols and sit with the files. Once the repo tag holds
// RepoMessageLimit messages it is cleared and the source starts over.
func (s *Session) AddRepoMap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if limit := s.cfg.RepoMessageLimit; limit > 0 && s.store.CountTag(message.TagRepo) >= limit {
		n, err := s.store.ClearTag(message.TagRepo)
		if err != nil {
			return err
		}
		if r, ok := s.repo.(repomap.Resetter); ok {
			r.ResetCombined()
		}
		s.log.Debug("repo map reset", zap.Int("cleared", n))
	}

	snap, err := s.repo.RepoMap(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	combined, _ := snap.Views()
	s.symbols.Update(combined)

	content := repomap.Format(snap)
	if content == "" {
		return nil
	}

	var priority *int
	if !snap.Unchanged() {
		priority = message.IntPtr(repoUpdatePriority)
	}
	hash := message.Fingerprint(content)

	pair := []message.Text{
		{Role: message.RoleUser, Content: content},
		{Role: message.RoleAssistant, Content: repoAck},
	}
	for _, p := range pair {
		opts := conversation.AddOptions{
			Priority: priority,
			Key:      message.Key{"repo", string(p.Role), hash},
		}
		if err := s.add(p, message.TagRepo, opts); err != nil {
			return err
		}
	}
	return nil
}
