package broadcast

// peerSet is the ordered set of entity ids one consumer has been told about.
type peerSet struct {
	order []string
	index map[string]struct{}
}

func newPeerSet() *peerSet {
	return &peerSet{index: make(map[string]struct{})}
}

func (s *peerSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *peerSet) add(id string) {
	if s.has(id) {
		return
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
}

// dropMissing removes every id for which present returns false, calling
// removed for each in insertion order.
func (s *peerSet) dropMissing(present func(string) bool, removed func(string)) {
	kept := s.order[:0]
	for _, id := range s.order {
		if present(id) {
			kept = append(kept, id)
			continue
		}
		delete(s.index, id)
		removed(id)
	}
	clear(s.order[len(kept):])
	s.order = kept
}

func (s *peerSet) len() int {
	return len(s.order)
}
