package orderpool

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xnonso/angstrom/pkg/order"
)

type atomicView struct {
	p atomic.Pointer[view]
}

func (a *atomicView) load() *view   { return a.p.Load() }
func (a *atomicView) store(v *view) { a.p.Store(v) }

// Snapshot is the immutable order set a consensus round works over. Orders
// are sorted by hash ascending, which is reproducible regardless of gossip
// arrival order; Digest commits to the cutoff height and the exact order
// set.
type Snapshot struct {
	Height uint64
	Orders []*order.ValidOrder
	Digest common.Hash
}

// Snapshot cuts the working set at the given block height. Lock-free: the
// returned order slice aliases the current copy-on-write view and must not
// be mutated.
func (p *Pool) Snapshot(height uint64) Snapshot {
	v := p.cur.load()
	return Snapshot{
		Height: height,
		Orders: v.orders,
		Digest: snapshotDigest(height, v.orders),
	}
}

func snapshotDigest(height uint64, orders []*order.ValidOrder) common.Hash {
	buf := make([]byte, 8, 8+len(orders)*common.HashLength)
	binary.BigEndian.PutUint64(buf, height)
	for _, vo := range orders {
		buf = append(buf, vo.Hash[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

// ForPool filters the snapshot down to one pool's orders, preserving the
// canonical ordering.
func (s Snapshot) ForPool(poolID uint64) []*order.ValidOrder {
	var out []*order.ValidOrder
	for _, vo := range s.Orders {
		if vo.PoolID == poolID {
			out = append(out, vo)
		}
	}
	return out
}
