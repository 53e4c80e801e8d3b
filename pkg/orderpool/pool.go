// Package orderpool holds the admitted working set of orders between
// consensus rounds. All mutation is serialized through a single writer
// goroutine; readers take lock-free snapshots of an immutable, hash-sorted
// view, so two members with the same gossip traffic cut byte-identical
// snapshots.
package orderpool

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/order"
)

type Config struct {
	// MaxOrders bounds the resident set. At capacity a new order displaces
	// the lowest-priority resident, or is refused if it ranks below all of
	// them.
	MaxOrders int
	// MaxPerOwner bounds one owner's resident orders; overflow is refused
	// outright so a single owner cannot churn the pool.
	MaxPerOwner int
}

func DefaultConfig() Config {
	return Config{MaxOrders: 4096, MaxPerOwner: 32}
}

// view is the immutable copy-on-write state readers see. orders is sorted by
// hash ascending and never mutated after publication.
type view struct {
	orders  []*order.ValidOrder
	byOwner map[common.Address]int
}

type admitReq struct {
	vo   *order.ValidOrder
	resp chan bool
}

type evictReq struct {
	criteria func(*order.ValidOrder) bool
	resp     chan int
}

type Pool struct {
	cfg  Config
	log  *zap.SugaredLogger
	cur  atomicView
	adm  chan admitReq
	evc  chan evictReq
	stop chan struct{}
}

func New(cfg Config, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Pool{
		cfg:  cfg,
		log:  log,
		adm:  make(chan admitReq),
		evc:  make(chan evictReq),
		stop: make(chan struct{}),
	}
	p.cur.store(&view{byOwner: make(map[common.Address]int)})
	return p
}

// Run owns the pool until ctx ends. Every admit/evict funnels through here.
func (p *Pool) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(p.stop)
			return
		case req := <-p.adm:
			req.resp <- p.doAdmit(req.vo)
		case req := <-p.evc:
			req.resp <- p.doEvict(req.criteria)
		}
	}
}

// Admit inserts a validated order. Returns false for duplicates, per-owner
// overflow, and capacity refusals.
func (p *Pool) Admit(ctx context.Context, vo *order.ValidOrder) bool {
	req := admitReq{vo: vo, resp: make(chan bool, 1)}
	select {
	case p.adm <- req:
		return <-req.resp
	case <-ctx.Done():
		return false
	case <-p.stop:
		return false
	}
}

// Evict removes every resident order matching criteria and returns the count.
func (p *Pool) Evict(ctx context.Context, criteria func(*order.ValidOrder) bool) int {
	req := evictReq{criteria: criteria, resp: make(chan int, 1)}
	select {
	case p.evc <- req:
		return <-req.resp
	case <-ctx.Done():
		return 0
	case <-p.stop:
		return 0
	}
}

// EvictExpired drops orders whose deadline has passed at height.
func (p *Pool) EvictExpired(ctx context.Context, height uint64) int {
	return p.Evict(ctx, func(vo *order.ValidOrder) bool {
		return vo.Order.Deadline != 0 && vo.Order.Deadline <= height
	})
}

// EvictHashes drops the given orders, e.g. after they filled in a committed
// bundle.
func (p *Pool) EvictHashes(ctx context.Context, hashes []common.Hash) int {
	drop := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		drop[h] = struct{}{}
	}
	return p.Evict(ctx, func(vo *order.ValidOrder) bool {
		_, ok := drop[vo.Hash]
		return ok
	})
}

func (p *Pool) Len() int { return len(p.cur.load().orders) }

// Get returns a resident order by hash.
func (p *Pool) Get(h common.Hash) (*order.ValidOrder, bool) {
	v := p.cur.load()
	i := searchHash(v.orders, h)
	if i < len(v.orders) && v.orders[i].Hash == h {
		return v.orders[i], true
	}
	return nil, false
}

func (p *Pool) doAdmit(vo *order.ValidOrder) bool {
	v := p.cur.load()
	i := searchHash(v.orders, vo.Hash)
	if i < len(v.orders) && v.orders[i].Hash == vo.Hash {
		return false // duplicate
	}
	if p.cfg.MaxPerOwner > 0 && v.byOwner[vo.Order.Owner] >= p.cfg.MaxPerOwner {
		p.log.Debugw("admit_refused_owner_cap", "owner", vo.Order.Owner.Hex())
		return false
	}

	orders := v.orders
	if p.cfg.MaxOrders > 0 && len(orders) >= p.cfg.MaxOrders {
		victim := lowestPriority(orders)
		if !lessPriority(orders[victim], vo) {
			// New order ranks at or below every resident: refuse, keep pool
			// unchanged.
			p.log.Debugw("admit_refused_capacity", "hash", vo.Hash.Hex())
			return false
		}
		evicted := orders[victim]
		orders = append(append([]*order.ValidOrder(nil), orders[:victim]...), orders[victim+1:]...)
		v = &view{orders: orders, byOwner: copyCounts(v.byOwner)}
		v.byOwner[evicted.Order.Owner]--
		p.log.Debugw("capacity_evict", "hash", evicted.Hash.Hex())
		i = searchHash(orders, vo.Hash)
	}

	next := make([]*order.ValidOrder, 0, len(orders)+1)
	next = append(next, orders[:i]...)
	next = append(next, vo)
	next = append(next, orders[i:]...)

	counts := copyCounts(v.byOwner)
	counts[vo.Order.Owner]++
	p.cur.store(&view{orders: next, byOwner: counts})
	return true
}

func (p *Pool) doEvict(criteria func(*order.ValidOrder) bool) int {
	v := p.cur.load()
	kept := make([]*order.ValidOrder, 0, len(v.orders))
	counts := copyCounts(v.byOwner)
	removed := 0
	for _, vo := range v.orders {
		if criteria(vo) {
			counts[vo.Order.Owner]--
			removed++
			continue
		}
		kept = append(kept, vo)
	}
	if removed == 0 {
		return 0
	}
	p.cur.store(&view{orders: kept, byOwner: counts})
	return removed
}

// Eviction priority: earliest expiry first (no expiry counts as infinite),
// then lowest hash. lessPriority reports a ranking strictly below b.
func lessPriority(a, b *order.ValidOrder) bool {
	ae, be := expiryKey(a), expiryKey(b)
	if ae != be {
		return ae < be
	}
	return hashLess(a.Hash, b.Hash)
}

func expiryKey(vo *order.ValidOrder) uint64 {
	if vo.Order.Deadline == 0 {
		return ^uint64(0)
	}
	return vo.Order.Deadline
}

func lowestPriority(orders []*order.ValidOrder) int {
	min := 0
	for i := 1; i < len(orders); i++ {
		if lessPriority(orders[i], orders[min]) {
			min = i
		}
	}
	return min
}

func searchHash(orders []*order.ValidOrder, h common.Hash) int {
	return sort.Search(len(orders), func(i int) bool {
		return !hashLess(orders[i].Hash, h)
	})
}

func hashLess(a, b common.Hash) bool {
	for i := 0; i < common.HashLength; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func copyCounts(m map[common.Address]int) map[common.Address]int {
	out := make(map[common.Address]int, len(m))
	for k, c := range m {
		if c > 0 {
			out[k] = c
		}
	}
	return out
}
