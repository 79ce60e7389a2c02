package conversation

import (
	"context"

	"go.uber.org/zap"

	convoerr "github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/message"
)

// ExportOptions selects what Export returns.
type ExportOptions struct {
	// Tag restricts the export to one tag. Tag-filtered exports are cached
	// per tag and never carry cache breakpoints.
	Tag *message.Tag

	// Reload bypasses the per-tag cache.
	Reload bool
}

// Export returns the ordered wire-form messages. A full export is annotated
// with cache breakpoints when enabled and, in verbose mode, compared with the
// previous full export and written to the dump sink. The returned slice is
// always a fresh copy.
func (s *Store) Export(ctx context.Context, opts ExportOptions) ([]message.Wire, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Tag != nil {
		return s.exportTag(*opts.Tag, opts.Reload)
	}

	wires := wiresOf(s.ordered())
	sent := wires
	if s.opts.AddCacheHeaders && !s.opts.CachesByDefault {
		sent = MarkCacheBoundaries(wires, s.opts.CacheRoles)
	}
	if s.opts.Verbose {
		s.debugExport(ctx, wires, sent)
	}
	return sent, nil
}

// LastReport returns the compare report of the most recent verbose full export.
func (s *Store) LastReport() (CompareReport, bool) {
	if s.lastReport == nil {
		return CompareReport{}, false
	}
	return *s.lastReport, true
}

func (s *Store) exportTag(tag message.Tag, reload bool) ([]message.Wire, error) {
	if !tag.Valid() {
		return nil, convoerr.NewUnknownTag(string(tag))
	}
	if !reload {
		if wires, ok := s.cached(tag); ok {
			return message.CloneWires(wires), nil
		}
	}

	var recs []*message.Record
	for _, r := range s.ordered() {
		if r.Tag == tag {
			recs = append(recs, r)
		}
	}
	wires := wiresOf(recs)
	s.remember(tag, wires)
	return message.CloneWires(wires), nil
}

func (s *Store) debugExport(ctx context.Context, wires, sent []message.Wire) {
	report := CompareExports(s.previous, wires)
	s.lastReport = &report
	s.previous = message.CloneWires(wires)

	s.log.Debug("conversation export",
		zap.Int("before", report.Before),
		zap.Int("after", report.After),
		zap.Ints("changed_indices", report.Changed),
		zap.Int("added", report.Added),
		zap.Int("removed", report.Removed),
		zap.Int("cacheable_chars", report.CacheableChars),
		zap.Int("delta_chars", report.AfterChars-report.CacheableChars),
		zap.Bool("proper_superset", report.ProperSuperset),
		zap.Int("tokens_estimate", report.TokensAfter),
	)

	if s.opts.Dump == nil {
		return
	}
	if err := dumpExport(ctx, s.opts.Dump, wires, sent); err != nil {
		s.log.Warn("conversation dump failed", zap.Error(err))
	}
}

func wiresOf(recs []*message.Record) []message.Wire {
	out := make([]message.Wire, len(recs))
	for i, r := range recs {
		out[i] = r.Wire()
	}
	return out
}
