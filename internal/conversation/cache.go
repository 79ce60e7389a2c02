package conversation

import "github.com/hpungsan/convo/internal/message"

// cachedExport is a tag-filtered export valid while its tag generation is unchanged.
type cachedExport struct {
	gen   uint64
	wires []message.Wire
}

// bump invalidates the cached export of tag. Every mutation touching a
// record of tag calls it before returning.
func (s *Store) bump(tag message.Tag) {
	s.gens[tag]++
	delete(s.cache, tag)
}

func (s *Store) cached(tag message.Tag) ([]message.Wire, bool) {
	entry, ok := s.cache[tag]
	if !ok || entry.gen != s.gens[tag] {
		return nil, false
	}
	return entry.wires, true
}

func (s *Store) remember(tag message.Tag, wires []message.Wire) {
	s.cache[tag] = cachedExport{gen: s.gens[tag], wires: wires}
}

// Generation returns the mutation counter of tag.
func (s *Store) Generation(tag message.Tag) uint64 {
	return s.gens[tag]
}
