package orderpool

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/order"
)

func makeOrder(hashByte byte, owner byte, deadline uint64) *order.ValidOrder {
	return &order.ValidOrder{
		SignedOrder: order.SignedOrder{
			Order: order.Order{
				Owner:    common.Address{owner},
				Kind:     order.KindLimit,
				Price:    95_000_000,
				Quantity: 10,
				Deadline: deadline,
			},
		},
		Hash:   common.Hash{hashByte},
		PoolID: 1,
		IsBid:  true,
	}
}

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p
}

func TestAdmitAndDuplicate(t *testing.T) {
	p := startPool(t, DefaultConfig())
	ctx := context.Background()

	vo := makeOrder(1, 0xA, 0)
	if !p.Admit(ctx, vo) {
		t.Fatal("first admit refused")
	}
	if p.Admit(ctx, vo) {
		t.Fatal("duplicate admitted")
	}
	if p.Len() != 1 {
		t.Fatalf("len: got %d, want 1", p.Len())
	}
	if got, ok := p.Get(vo.Hash); !ok || got.Hash != vo.Hash {
		t.Fatal("admitted order not retrievable")
	}
}

func TestPerOwnerCapRefusesOutright(t *testing.T) {
	p := startPool(t, Config{MaxOrders: 100, MaxPerOwner: 2})
	ctx := context.Background()

	if !p.Admit(ctx, makeOrder(1, 0xA, 0)) || !p.Admit(ctx, makeOrder(2, 0xA, 0)) {
		t.Fatal("admits under cap refused")
	}
	if p.Admit(ctx, makeOrder(3, 0xA, 0)) {
		t.Fatal("over-cap order admitted")
	}
	// other owners are unaffected
	if !p.Admit(ctx, makeOrder(4, 0xB, 0)) {
		t.Fatal("unrelated owner refused")
	}
}

func TestCapacityEvictsLowestPriority(t *testing.T) {
	p := startPool(t, Config{MaxOrders: 2, MaxPerOwner: 10})
	ctx := context.Background()

	soon := makeOrder(1, 0xA, 100)   // earliest expiry, eviction victim
	later := makeOrder(2, 0xA, 500)
	if !p.Admit(ctx, soon) || !p.Admit(ctx, later) {
		t.Fatal("seed admits refused")
	}

	// no expiry ranks above both residents: displaces the soonest-expiring
	forever := makeOrder(3, 0xB, 0)
	if !p.Admit(ctx, forever) {
		t.Fatal("higher-priority order refused at capacity")
	}
	if p.Len() != 2 {
		t.Fatalf("len: got %d, want 2", p.Len())
	}
	if _, ok := p.Get(soon.Hash); ok {
		t.Fatal("victim still resident")
	}
	if _, ok := p.Get(later.Hash); !ok {
		t.Fatal("surviving resident evicted")
	}
}

func TestCapacityRefusesLowPriorityOrder(t *testing.T) {
	p := startPool(t, Config{MaxOrders: 2, MaxPerOwner: 10})
	ctx := context.Background()

	if !p.Admit(ctx, makeOrder(1, 0xA, 0)) || !p.Admit(ctx, makeOrder(2, 0xA, 0)) {
		t.Fatal("seed admits refused")
	}
	// expiring order ranks below the no-expiry residents: refused, pool
	// unchanged
	if p.Admit(ctx, makeOrder(3, 0xB, 100)) {
		t.Fatal("low-priority order displaced a resident")
	}
	if p.Len() != 2 {
		t.Fatalf("len: got %d, want 2", p.Len())
	}
}

func TestEvictExpired(t *testing.T) {
	p := startPool(t, DefaultConfig())
	ctx := context.Background()

	p.Admit(ctx, makeOrder(1, 0xA, 100))
	p.Admit(ctx, makeOrder(2, 0xA, 200))
	p.Admit(ctx, makeOrder(3, 0xA, 0))

	if n := p.EvictExpired(ctx, 100); n != 1 {
		t.Fatalf("evicted at 100: got %d, want 1", n)
	}
	if n := p.EvictExpired(ctx, 500); n != 1 {
		t.Fatalf("evicted at 500: got %d, want 1", n)
	}
	// no-expiry order survives any height
	if p.Len() != 1 {
		t.Fatalf("len: got %d, want 1", p.Len())
	}
}

func TestEvictHashes(t *testing.T) {
	p := startPool(t, DefaultConfig())
	ctx := context.Background()

	a, b := makeOrder(1, 0xA, 0), makeOrder(2, 0xA, 0)
	p.Admit(ctx, a)
	p.Admit(ctx, b)

	if n := p.EvictHashes(ctx, []common.Hash{a.Hash, {0xFF}}); n != 1 {
		t.Fatalf("evicted: got %d, want 1", n)
	}
	if _, ok := p.Get(b.Hash); !ok {
		t.Fatal("untargeted order evicted")
	}
}

func TestSnapshotDeterministicAcrossInsertionOrder(t *testing.T) {
	ctx := context.Background()
	orders := []*order.ValidOrder{
		makeOrder(5, 0xA, 0),
		makeOrder(1, 0xB, 0),
		makeOrder(9, 0xC, 0),
		makeOrder(3, 0xD, 0),
	}

	p1 := startPool(t, DefaultConfig())
	for _, vo := range orders {
		p1.Admit(ctx, vo)
	}
	p2 := startPool(t, DefaultConfig())
	for i := len(orders) - 1; i >= 0; i-- {
		p2.Admit(ctx, orders[i])
	}

	s1, s2 := p1.Snapshot(7), p2.Snapshot(7)
	if s1.Digest != s2.Digest {
		t.Fatal("snapshot digest depends on insertion order")
	}
	for i := 1; i < len(s1.Orders); i++ {
		if !hashLess(s1.Orders[i-1].Hash, s1.Orders[i].Hash) {
			t.Fatal("snapshot not hash-ascending")
		}
	}
}

func TestSnapshotDigestBindsHeight(t *testing.T) {
	p := startPool(t, DefaultConfig())
	p.Admit(context.Background(), makeOrder(1, 0xA, 0))

	if p.Snapshot(7).Digest == p.Snapshot(8).Digest {
		t.Fatal("digest must include the cutoff height")
	}
}

func TestSnapshotIsolatedFromLaterAdmits(t *testing.T) {
	p := startPool(t, DefaultConfig())
	ctx := context.Background()

	p.Admit(ctx, makeOrder(1, 0xA, 0))
	snap := p.Snapshot(7)
	p.Admit(ctx, makeOrder(2, 0xB, 0))

	if len(snap.Orders) != 1 {
		t.Fatalf("snapshot mutated by later admit: %d orders", len(snap.Orders))
	}
}

func TestForPoolFilters(t *testing.T) {
	p := startPool(t, DefaultConfig())
	ctx := context.Background()

	a := makeOrder(1, 0xA, 0)
	b := makeOrder(2, 0xB, 0)
	b.PoolID = 2
	p.Admit(ctx, a)
	p.Admit(ctx, b)

	snap := p.Snapshot(1)
	if got := snap.ForPool(1); len(got) != 1 || got[0].Hash != a.Hash {
		t.Fatal("ForPool(1) wrong")
	}
	if got := snap.ForPool(3); len(got) != 0 {
		t.Fatal("ForPool(3) should be empty")
	}
}
