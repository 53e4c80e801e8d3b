package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is one AMM pool the committee batches orders for.
type Pool struct {
	ID          uint64
	Asset0      common.Address // ascending address order, Asset0 < Asset1
	Asset1      common.Address
	TickSpacing uint16
	FeeInE6     uint32
}

// pairKey is the 40-byte directed lookup key assetIn||assetOut.
type pairKey [40]byte

func directedKey(assetIn, assetOut common.Address) pairKey {
	var k pairKey
	copy(k[:20], assetIn.Bytes())
	copy(k[20:], assetOut.Bytes())
	return k
}

type direction struct {
	id    uint64
	isBid bool
}

// Registry maps asset pairs to pool configuration. It is rebuilt from the
// chain oracle on every new block; reads are concurrent with refresh.
type Registry struct {
	mu    sync.RWMutex
	block uint64
	pools map[uint64]Pool
	byDir map[pairKey]direction
}

func New() *Registry {
	return &Registry{
		pools: make(map[uint64]Pool),
		byDir: make(map[pairKey]direction),
	}
}

// Update replaces the registry contents with the entries read at block. Each
// packed word must carry the partial key matching its asset pair; mismatches
// mean the oracle gave us a stale or corrupt table.
func (r *Registry) Update(block uint64, pairs [][2]common.Address, words [][32]byte) error {
	if len(pairs) != len(words) {
		return fmt.Errorf("pairs/words length mismatch: %d != %d", len(pairs), len(words))
	}

	pools := make(map[uint64]Pool)
	byDir := make(map[pairKey]direction)
	var id uint64
	for i, pair := range pairs {
		entry, ok := DecodeConfigEntry(words[i])
		if !ok {
			// empty slot in the on-chain table
			continue
		}
		asset0, asset1 := pair[0], pair[1]
		if asset1.Cmp(asset0) < 0 {
			asset0, asset1 = asset1, asset0
		}
		if PartialKeyFor(asset0, asset1) != entry.PartialKey {
			return fmt.Errorf("config entry %d: partial key does not match pair %s/%s",
				i, asset0.Hex(), asset1.Hex())
		}
		p := Pool{
			ID:          id,
			Asset0:      asset0,
			Asset1:      asset1,
			TickSpacing: entry.TickSpacing,
			FeeInE6:     entry.FeeInE6,
		}
		pools[id] = p
		// A bid pays asset1 (quote) for asset0 (base).
		byDir[directedKey(asset1, asset0)] = direction{id: id, isBid: true}
		byDir[directedKey(asset0, asset1)] = direction{id: id, isBid: false}
		id++
	}

	r.mu.Lock()
	r.block = block
	r.pools = pools
	r.byDir = byDir
	r.mu.Unlock()
	return nil
}

// OrderInfo resolves which pool an order trades in and on which side, from
// its input/output assets.
func (r *Registry) OrderInfo(assetIn, assetOut common.Address) (uint64, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byDir[directedKey(assetIn, assetOut)]
	return d.id, d.isBid, ok
}

func (r *Registry) Pool(id uint64) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	return p, ok
}

// Pools returns all pools in ascending ID order. Matching iterates this so
// multi-pool results recombine deterministically.
func (r *Registry) Pools() []Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Block() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.block
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
