package order

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceBook tracks consumed (owner, nonce) pairs. Nonces are one-time: a
// nonce is burned when its order is admitted and never becomes reusable,
// even if the order later expires unfilled. Resubmitting the identical order
// is a pool duplicate, not a replay.
type NonceBook struct {
	mu   sync.Mutex
	used map[common.Address]map[uint64]struct{}
}

func NewNonceBook() *NonceBook {
	return &NonceBook{used: make(map[common.Address]map[uint64]struct{})}
}

func (b *NonceBook) Used(owner common.Address, nonce uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.used[owner][nonce]
	return ok
}

func (b *NonceBook) Consume(owner common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mark(owner, nonce)
}

// TryReserve burns the nonce iff it is still unused, check and mark under one
// lock. Concurrent submissions with the same (owner, nonce) resolve to exactly
// one winner regardless of which path (RPC, gossip) carried them.
func (b *NonceBook) TryReserve(owner common.Address, nonce uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.used[owner][nonce]; ok {
		return false
	}
	b.mark(owner, nonce)
	return true
}

// Release returns a reserved nonce. Only for unwinding a reservation whose
// order the pool refused; a nonce burned by an admitted order never comes back.
func (b *NonceBook) Release(owner common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.used[owner]; ok {
		delete(m, nonce)
	}
}

func (b *NonceBook) mark(owner common.Address, nonce uint64) {
	m, ok := b.used[owner]
	if !ok {
		m = make(map[uint64]struct{})
		b.used[owner] = m
	}
	m[nonce] = struct{}{}
}
