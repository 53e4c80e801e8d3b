// Package storage persists committed bundles. The store is append-mostly:
// consensus writes one bundle per committed round, the API reads them back
// by height or in recent-first pages.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/0xnonso/angstrom/pkg/consensus"
)

// BundleReader is the query side used by the API server.
type BundleReader interface {
	GetBundle(height uint64) (*consensus.Bundle, bool)
	LatestHeight() (uint64, bool)
	RecentBundles(limit int) []*consensus.Bundle
}

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: u:<8-byte-height> per bundle, ul = latest height
func kBundle(h uint64) []byte { return append([]byte("u:"), heightKey(h)...) }
func kLatest() []byte         { return []byte("ul") }

func (s *PebbleStore) SaveBundle(b *consensus.Bundle) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBundle(b.Height), val, nil); err != nil {
		return err
	}
	if err := batch.Set(kLatest(), heightKey(b.Height), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetBundle(height uint64) (*consensus.Bundle, bool) {
	val, closer, err := s.db.Get(kBundle(height))
	if err != nil {
		return nil, false
	}
	defer closer.Close()
	var out consensus.Bundle
	if err := decodeGob(val, &out); err != nil {
		return nil, false
	}
	return &out, true
}

func (s *PebbleStore) LatestHeight() (uint64, bool) {
	val, closer, err := s.db.Get(kLatest())
	if err != nil {
		return 0, false
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false
	}
	var h uint64
	for _, b := range val {
		h = h<<8 | uint64(b)
	}
	return h, true
}

func (s *PebbleStore) RecentBundles(limit int) []*consensus.Bundle {
	lower := kBundle(0)
	upper := append([]byte("u:"), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil
	}
	defer iter.Close()

	var out []*consensus.Bundle
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var b consensus.Bundle
		if err := decodeGob(iter.Value(), &b); err != nil {
			continue
		}
		out = append(out, &b)
	}
	return out
}

var (
	_ consensus.BundleStore = (*PebbleStore)(nil)
	_ BundleReader          = (*PebbleStore)(nil)
)
