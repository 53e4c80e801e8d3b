package consensus

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/order"
	"github.com/0xnonso/angstrom/pkg/orderpool"
	"github.com/0xnonso/angstrom/pkg/util"
)

// fabric is an in-process gossip: every broadcast fans out to all other
// attached nodes on its own goroutine. Muting a node drops its outbound
// traffic, which is how tests play an absent or partitioned member.
type fabric struct {
	mu    sync.Mutex
	nodes map[NodeID]Handlers
	muted map[NodeID]bool
}

func newFabric() *fabric {
	return &fabric{nodes: make(map[NodeID]Handlers), muted: make(map[NodeID]bool)}
}

func (f *fabric) attach(id NodeID) *fabricNet { return &fabricNet{f: f, self: id} }

func (f *fabric) mute(id NodeID, on bool) {
	f.mu.Lock()
	f.muted[id] = on
	f.mu.Unlock()
}

func (f *fabric) fanout(from NodeID, deliver func(Handlers)) {
	f.mu.Lock()
	if f.muted[from] {
		f.mu.Unlock()
		return
	}
	peers := make([]Handlers, 0, len(f.nodes))
	for id, h := range f.nodes {
		if id != from {
			peers = append(peers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range peers {
		go deliver(h)
	}
}

type fabricNet struct {
	f    *fabric
	self NodeID
}

func (n *fabricNet) SetHandlers(h Handlers) {
	n.f.mu.Lock()
	n.f.nodes[n.self] = h
	n.f.mu.Unlock()
}

func (n *fabricNet) BroadcastProposal(ctx context.Context, p Proposal) error {
	n.f.fanout(n.self, func(h Handlers) { h.OnProposal(ctx, p) })
	return nil
}

func (n *fabricNet) BroadcastPreVote(ctx context.Context, v PreVote) error {
	n.f.fanout(n.self, func(h Handlers) { h.OnPreVote(ctx, v) })
	return nil
}

func (n *fabricNet) BroadcastPreCommit(ctx context.Context, c PreCommit) error {
	n.f.fanout(n.self, func(h Handlers) { h.OnPreCommit(ctx, c) })
	return nil
}

// fixedSnapshots hands every node the same order set for a height, so result
// digests agree by construction.
type fixedSnapshots struct {
	orders []*order.ValidOrder
}

func (s fixedSnapshots) Snapshot(height uint64) orderpool.Snapshot {
	return orderpool.Snapshot{
		Height: height,
		Orders: s.orders,
		Digest: common.BigToHash(new(big.Int).SetUint64(height)),
	}
}

type fixedStates struct{}

func (fixedStates) PoolStates(_ context.Context, height uint64) ([]amm.PoolState, error) {
	return []amm.PoolState{{
		PoolID:   1,
		Block:    height,
		Reserve0: big.NewInt(1_000_000_000),
		Reserve1: big.NewInt(95_000_000_000),
	}}, nil
}

type settleRec struct {
	mu    sync.Mutex
	count int
}

func (s *settleRec) Submit(context.Context, *Bundle) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func (s *settleRec) submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type clusterNode struct {
	id      NodeID
	signer  *crypto.Signer
	engine  *Engine
	settle  *settleRec
	commits chan *Bundle
}

func crossedOrders() []*order.ValidOrder {
	bid := &order.ValidOrder{
		SignedOrder: order.SignedOrder{
			Order: order.Order{Kind: order.KindLimit, Price: 100_000_000, Quantity: 5},
		},
		Hash:   common.Hash{1},
		PoolID: 1,
		IsBid:  true,
	}
	ask := &order.ValidOrder{
		SignedOrder: order.SignedOrder{
			Order: order.Order{Kind: order.KindLimit, Price: 90_000_000, Quantity: 5},
		},
		Hash:   common.Hash{2},
		PoolID: 1,
		IsBid:  false,
	}
	return []*order.ValidOrder{bid, ask}
}

func newCluster(t *testing.T, n int, timers Timers) (*fabric, Committee, []*clusterNode) {
	t.Helper()
	fab := newFabric()
	members := make([]Member, n)
	signers := make([]*crypto.Signer, n)
	blsSigners := make([]*crypto.BLSSigner, n)
	for i := 0; i < n; i++ {
		sg, err := crypto.GenerateKey()
		require.NoError(t, err)
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		bs := crypto.NewBLSSignerFromSeed(seed)
		id := NodeID(fmt.Sprintf("node-%d", i))
		members[i] = Member{ID: id, Address: sg.Address(), Weight: 1, BLSPub: bs.Pubkey()}
		signers[i], blsSigners[i] = sg, bs
	}
	committee := Committee{Version: 1, Members: members}
	require.NoError(t, committee.Validate())

	orders := crossedOrders()
	nodes := make([]*clusterNode, n)
	for i := 0; i < n; i++ {
		node := &clusterNode{
			id:      members[i].ID,
			signer:  signers[i],
			settle:  &settleRec{},
			commits: make(chan *Bundle, 4),
		}
		eng := NewEngine(
			Config{Self: node.id, Signer: signers[i], BLS: blsSigners[i]},
			committee,
			NewPacemaker(timers, util.RealClock{}),
			fixedSnapshots{orders: orders},
			fixedStates{},
			fab.attach(node.id),
			node.settle,
			nil,
			nil,
			zap.NewNop().Sugar(),
		)
		captured := node
		eng.OnCommit = func(_ context.Context, b *Bundle) { captured.commits <- b }
		node.engine = eng
		nodes[i] = node
	}
	return fab, committee, nodes
}

func startCluster(t *testing.T, nodes []*clusterNode) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, n := range nodes {
		go n.engine.Run(ctx)
	}
}

func waitCommit(t *testing.T, n *clusterNode, timeout time.Duration) *Bundle {
	t.Helper()
	select {
	case b := <-n.commits:
		return b
	case <-time.After(timeout):
		t.Fatalf("node %s did not commit in time", n.id)
		return nil
	}
}

func TestClusterCommitsRound(t *testing.T) {
	_, _, nodes := newCluster(t, 4, DefaultTimers())
	startCluster(t, nodes)
	for _, n := range nodes {
		n.engine.NotifyNewBlock(1)
	}

	bundles := make([]*Bundle, len(nodes))
	for i, n := range nodes {
		bundles[i] = waitCommit(t, n, 10*time.Second)
	}

	ref := bundles[0]
	require.Equal(t, uint64(0), ref.Round)
	require.Equal(t, uint64(1), ref.Height)
	require.Equal(t, uint64(1), ref.CommitteeVersion)
	require.False(t, ref.Result.Empty())
	require.Len(t, ref.Result.Solutions[0].Fills, 2)
	require.Equal(t, int64(95_000_000), ref.Result.Solutions[0].ClearingTick)

	for _, b := range bundles[1:] {
		require.Equal(t, ref.ResultDigest, b.ResultDigest)
		require.Equal(t, ref.SnapshotDigest, b.SnapshotDigest)
	}
	for _, b := range bundles {
		require.GreaterOrEqual(t, len(b.Signers), 3)
		require.True(t, sort.SliceIsSorted(b.Signers, func(i, j int) bool {
			return b.Signers[i] < b.Signers[j]
		}))
	}

	// only the round's proposer submits to settlement
	require.Equal(t, 1, nodes[0].settle.submissions())
	for _, n := range nodes[1:] {
		require.Zero(t, n.settle.submissions())
	}
}

func TestAbsentProposerRotates(t *testing.T) {
	timers := Timers{
		Propose:   250 * time.Millisecond,
		PreVote:   time.Second,
		PreCommit: time.Second,
	}
	fab, _, nodes := newCluster(t, 4, timers)
	fab.mute(nodes[0].id, true)
	startCluster(t, nodes)
	for _, n := range nodes {
		n.engine.NotifyNewBlock(1)
	}

	// everyone except the silent leader abandons round 0 and commits under
	// the rotated proposer
	var ref *Bundle
	for _, n := range nodes[1:] {
		b := waitCommit(t, n, 10*time.Second)
		require.Equal(t, uint64(1), b.Round)
		require.Equal(t, uint64(1), b.Height)
		require.NotContains(t, b.Signers, nodes[0].id)
		if ref == nil {
			ref = b
		} else {
			require.Equal(t, ref.ResultDigest, b.ResultDigest)
		}
	}
}

func TestNewBlockPreemptsRound(t *testing.T) {
	timers := Timers{
		Propose:   3 * time.Second,
		PreVote:   3 * time.Second,
		PreCommit: 3 * time.Second,
	}
	fab, _, nodes := newCluster(t, 4, timers)
	fab.mute(nodes[0].id, true) // withhold the round-0 proposal
	startCluster(t, nodes)
	for _, n := range nodes {
		n.engine.NotifyNewBlock(1)
	}

	// round 0 at height 1 is stuck; a fresh block restarts it at height 2
	time.Sleep(300 * time.Millisecond)
	fab.mute(nodes[0].id, false)
	for _, n := range nodes {
		n.engine.NotifyNewBlock(2)
	}

	var ref *Bundle
	for _, n := range nodes {
		b := waitCommit(t, n, 10*time.Second)
		require.Equal(t, uint64(2), b.Height, "node %s committed the stale height", n.id)
		require.Equal(t, uint64(0), b.Round)
		if ref == nil {
			ref = b
		} else {
			require.Equal(t, ref.ResultDigest, b.ResultDigest)
		}
	}
}

func TestDuplicatePreVoteCountedOnce(t *testing.T) {
	_, committee, nodes := newCluster(t, 2, DefaultTimers())
	e := nodes[0].engine

	v := &PreVote{Round: 0, Height: 1, Voter: nodes[1].id, Accept: true, ResultDigest: common.Hash{9}}
	e.storePreVote(v)
	e.storePreVote(v)
	require.Equal(t, uint64(1), e.acceptWeight(0, 1, committee, common.Hash{9}))

	// reject votes and votes for another height carry no weight here
	e.storePreVote(&PreVote{Round: 0, Height: 1, Voter: nodes[0].id, Accept: false, ResultDigest: common.Hash{9}})
	require.Equal(t, uint64(1), e.acceptWeight(0, 1, committee, common.Hash{9}))
	require.Zero(t, e.acceptWeight(0, 2, committee, common.Hash{9}))
}

func TestOnPreVoteDropsStaleRound(t *testing.T) {
	_, committee, nodes := newCluster(t, 2, DefaultTimers())
	e := nodes[0].engine
	e.mu.Lock()
	e.round = 5
	e.mu.Unlock()

	v := PreVote{Round: 3, Height: 1, Voter: nodes[1].id, Accept: true, ResultDigest: common.Hash{7}}
	sig, err := nodes[1].signer.Sign(v.SigningHash().Bytes())
	require.NoError(t, err)
	v.Signature = sig

	e.onPreVote(context.Background(), v)
	require.Zero(t, e.acceptWeight(3, 1, committee, common.Hash{7}))
}

func TestOnPreVoteRejectsBadSignature(t *testing.T) {
	_, committee, nodes := newCluster(t, 2, DefaultTimers())
	e := nodes[0].engine

	v := PreVote{Round: 0, Height: 1, Voter: nodes[1].id, Accept: true, ResultDigest: common.Hash{7}}
	v.Signature = make([]byte, 65)

	e.onPreVote(context.Background(), v)
	require.Zero(t, e.acceptWeight(0, 1, committee, common.Hash{7}))
}

func TestProposalFirstWinsNewerHeightSupersedes(t *testing.T) {
	_, _, nodes := newCluster(t, 2, DefaultTimers())
	e := nodes[0].engine

	e.storeProposal(&Proposal{Round: 0, Height: 1, ResultDigest: common.Hash{1}})
	e.storeProposal(&Proposal{Round: 0, Height: 1, ResultDigest: common.Hash{2}})
	e.mu.Lock()
	got := e.proposals[0].ResultDigest
	e.mu.Unlock()
	require.Equal(t, common.Hash{1}, got, "first proposal of a height must win")

	e.storeProposal(&Proposal{Round: 0, Height: 2, ResultDigest: common.Hash{3}})
	e.mu.Lock()
	got = e.proposals[0].ResultDigest
	e.mu.Unlock()
	require.Equal(t, common.Hash{3}, got, "a newer block's proposal must supersede")
}

func TestCommitteeQuorumAndRotation(t *testing.T) {
	c := Committee{Members: []Member{
		{ID: "a", Weight: 1}, {ID: "b", Weight: 1}, {ID: "c", Weight: 1}, {ID: "d", Weight: 1},
	}}
	require.Equal(t, uint64(4), c.TotalWeight())
	require.Equal(t, uint64(3), c.QuorumWeight())
	require.Equal(t, NodeID("a"), c.ProposerOf(0).ID)
	require.Equal(t, NodeID("b"), c.ProposerOf(1).ID)
	require.Equal(t, NodeID("a"), c.ProposerOf(4).ID)

	weighted := Committee{Members: []Member{
		{ID: "a", Weight: 3}, {ID: "b", Weight: 1}, {ID: "c", Weight: 1},
	}}
	require.Equal(t, uint64(4), weighted.QuorumWeight())
}

func TestCommitteeValidate(t *testing.T) {
	require.Error(t, Committee{}.Validate())
	require.Error(t, Committee{Members: []Member{
		{ID: "a", Weight: 1}, {ID: "a", Weight: 1},
	}}.Validate())
	require.Error(t, Committee{Members: []Member{{ID: "a", Weight: 0}}}.Validate())
	require.NoError(t, Committee{Members: []Member{{ID: "a", Weight: 1}}}.Validate())
}

func TestCommitDigestBindsAllInputs(t *testing.T) {
	d := CommitDigest(1, common.Hash{1}, common.Hash{2})
	require.Equal(t, d, CommitDigest(1, common.Hash{1}, common.Hash{2}))
	require.NotEqual(t, d, CommitDigest(2, common.Hash{1}, common.Hash{2}))
	require.NotEqual(t, d, CommitDigest(1, common.Hash{3}, common.Hash{2}))
	require.NotEqual(t, d, CommitDigest(1, common.Hash{1}, common.Hash{3}))
}
