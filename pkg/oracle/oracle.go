// Package oracle is the read boundary to the execution-layer node: AMM
// reserves, the packed pool-configuration table, account funding, and
// new-block notifications. The sidecar treats it as an external
// collaborator; unavailability is a liveness delay, never a safety issue.
package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/amm"
)

// BlockEvent announces a newly observed block. The consensus engine uses it
// to invalidate in-flight rounds whose snapshot predates the block.
type BlockEvent struct {
	Height uint64
	Hash   common.Hash
}

type Oracle interface {
	// BlockNumber is the latest observed height.
	BlockNumber() uint64

	// BalanceOf / Allowance back order validation. Allowance is against the
	// settlement contract.
	BalanceOf(owner, asset common.Address) *big.Int
	Allowance(owner, asset common.Address) *big.Int

	// ConfigTable reads the packed pool-configuration entries and the asset
	// pairs they describe.
	ConfigTable(ctx context.Context) ([][2]common.Address, [][32]byte, error)

	// PoolStates reads current AMM liquidity for every configured pool.
	PoolStates(ctx context.Context, height uint64) ([]amm.PoolState, error)

	// SubscribeNewBlocks delivers block events until ctx ends.
	SubscribeNewBlocks(ctx context.Context) (<-chan BlockEvent, error)
}
