package storage

import (
	"sync"

	"github.com/0xnonso/angstrom/pkg/consensus"
)

// InMemoryStore backs tests and ephemeral dev runs.
type InMemoryStore struct {
	mu      sync.Mutex
	bundles map[uint64]*consensus.Bundle
	latest  uint64
	has     bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bundles: make(map[uint64]*consensus.Bundle)}
}

func (s *InMemoryStore) SaveBundle(b *consensus.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[b.Height] = b
	if !s.has || b.Height > s.latest {
		s.latest = b.Height
		s.has = true
	}
	return nil
}

func (s *InMemoryStore) GetBundle(height uint64) (*consensus.Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[height]
	return b, ok
}

func (s *InMemoryStore) LatestHeight() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

func (s *InMemoryStore) RecentBundles(limit int) []*consensus.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*consensus.Bundle, 0, limit)
	if !s.has {
		return out
	}
	for h := s.latest; len(out) < limit; h-- {
		if b, ok := s.bundles[h]; ok {
			out = append(out, b)
		}
		if h == 0 {
			break
		}
	}
	return out
}

var (
	_ consensus.BundleStore = (*InMemoryStore)(nil)
	_ BundleReader          = (*InMemoryStore)(nil)
)
