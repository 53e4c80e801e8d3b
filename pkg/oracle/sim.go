package oracle

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/amm"
)

type fundingKey struct {
	owner common.Address
	asset common.Address
}

// SimOracle is an in-memory stand-in used by tests and single-node dev
// runs. All values are settable; EmitBlock advances the height and fans
// the event out to every subscriber.
type SimOracle struct {
	mu         sync.RWMutex
	height     uint64
	balances   map[fundingKey]*big.Int
	allowances map[fundingKey]*big.Int
	pairs      [][2]common.Address
	words      [][32]byte
	states     map[uint64]amm.PoolState
	subs       []chan BlockEvent
}

func NewSimOracle() *SimOracle {
	return &SimOracle{
		balances:   make(map[fundingKey]*big.Int),
		allowances: make(map[fundingKey]*big.Int),
		states:     make(map[uint64]amm.PoolState),
	}
}

func (s *SimOracle) BlockNumber() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *SimOracle) SetFunding(owner, asset common.Address, balance, allowance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := fundingKey{owner, asset}
	s.balances[k] = new(big.Int).Set(balance)
	s.allowances[k] = new(big.Int).Set(allowance)
}

func (s *SimOracle) BalanceOf(owner, asset common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.balances[fundingKey{owner, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (s *SimOracle) Allowance(owner, asset common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.allowances[fundingKey{owner, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (s *SimOracle) SetConfigTable(pairs [][2]common.Address, words [][32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = pairs
	s.words = words
}

func (s *SimOracle) ConfigTable(context.Context) ([][2]common.Address, [][32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairs, s.words, nil
}

func (s *SimOracle) SetPoolState(st amm.PoolState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.PoolID] = st
}

func (s *SimOracle) PoolStates(_ context.Context, height uint64) ([]amm.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]amm.PoolState, 0, len(s.states))
	for _, st := range s.states {
		st.Block = height
		st.Reserve0 = new(big.Int).Set(st.Reserve0)
		st.Reserve1 = new(big.Int).Set(st.Reserve1)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (s *SimOracle) SubscribeNewBlocks(ctx context.Context) (<-chan BlockEvent, error) {
	ch := make(chan BlockEvent, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()
	return ch, nil
}

// EmitBlock bumps the height and notifies subscribers. Slow subscribers
// are skipped rather than blocked on.
func (s *SimOracle) EmitBlock(hash common.Hash) uint64 {
	s.mu.Lock()
	s.height++
	ev := BlockEvent{Height: s.height, Hash: hash}
	subs := append([]chan BlockEvent(nil), s.subs...)
	s.mu.Unlock()
	for _, c := range subs {
		select {
		case c <- ev:
		default:
		}
	}
	return ev.Height
}

var (
	_ Oracle = (*SimOracle)(nil)
	_ Oracle = (*EthOracle)(nil)
)
