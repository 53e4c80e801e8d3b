// Package matching implements the uniform-clearing-price batch auction. The
// engine is a pure function of an order-pool snapshot and the AMM pool
// states: no internal mutable state, so every committee member invoking it
// over the same inputs produces a byte-identical ClearingResult.
package matching

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/orderpool"
)

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Clear computes the batch solution for every pool in the snapshot. Pools
// solve in parallel; results recombine in ascending pool-ID order before
// hashing, so concurrency never leaks into the digest.
//
// A broken conservation invariant returns an error: the caller must refuse
// to sign anything derived from it.
func (e *Engine) Clear(snap orderpool.Snapshot, states []amm.PoolState) (*ClearingResult, error) {
	ordered := make([]amm.PoolState, len(states))
	copy(ordered, states)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PoolID < ordered[j].PoolID })

	solutions := make([]PoolSolution, len(ordered))
	var wg sync.WaitGroup
	for i, st := range ordered {
		wg.Add(1)
		go func(i int, st amm.PoolState) {
			defer wg.Done()
			solutions[i] = solvePool(st.PoolID, snap.ForPool(st.PoolID), st)
		}(i, st)
	}
	wg.Wait()

	result := &ClearingResult{
		Height:         snap.Height,
		SnapshotDigest: snap.Digest,
		Solutions:      solutions,
	}
	if err := checkConservation(result); err != nil {
		return nil, err
	}
	return result, nil
}

// checkConservation verifies per pool that base lots bought equal base lots
// sold once the AMM residual is counted, and that no fill beats its side of
// the clearing tick.
func checkConservation(r *ClearingResult) error {
	for _, sol := range r.Solutions {
		var bought, sold int64
		for _, f := range sol.Fills {
			if f.Quantity < 0 {
				return fmt.Errorf("pool %d: negative fill %s", sol.PoolID, f.OrderHash.Hex())
			}
			if f.IsBid {
				bought += f.Quantity
			} else {
				sold += f.Quantity
			}
		}
		if sol.Swap != nil {
			if sol.Swap.PoolSells {
				sold += sol.Swap.BaseQty
			} else {
				bought += sol.Swap.BaseQty
			}
		}
		if bought != sold {
			return fmt.Errorf("pool %d: conservation broken, bought %d != sold %d",
				sol.PoolID, bought, sold)
		}
	}
	return nil
}

func hashLess(a, b common.Hash) bool {
	for i := 0; i < common.HashLength; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
