package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/crypto"
)

// Kind distinguishes standing limit orders from top-of-block searcher
// orders. A top-of-block order executes against the AMM ahead of the batch;
// at most one per pool wins each round.
type Kind uint8

const (
	KindLimit      Kind = 1
	KindTopOfBlock Kind = 2
)

func (k Kind) Valid() bool { return k == KindLimit || k == KindTopOfBlock }

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindTopOfBlock:
		return "tob"
	default:
		return "unknown"
	}
}

// Order is a user's intent to trade AssetIn for AssetOut in one batch.
// Price is the limit price in ticks (quote per base, scaled by
// amm.PriceScale); Quantity is the base-asset bound in lots. Deadline is a
// block height, 0 meaning no expiry. Nonce is one-time per owner.
type Order struct {
	Owner    common.Address `json:"owner"`
	AssetIn  common.Address `json:"assetIn"`
	AssetOut common.Address `json:"assetOut"`
	Kind     Kind           `json:"kind"`
	Price    int64          `json:"price"`
	Quantity int64          `json:"quantity"`
	Nonce    uint64         `json:"nonce"`
	Deadline uint64         `json:"deadline"`
}

// SignedOrder carries the order plus the owner's EIP-712 signature over it.
type SignedOrder struct {
	Order     Order  `json:"order"`
	Signature []byte `json:"signature"`
}

// ValidOrder is an order that passed admission. Hash is the EIP-712 digest
// and is the canonical identity everywhere: dedup, snapshot ordering, fill
// attribution, tie-breaks.
type ValidOrder struct {
	SignedOrder
	Hash   common.Hash
	PoolID uint64
	IsBid  bool
}

// To712 converts to the typed-data form the wallet signed.
func (o Order) To712() *crypto.Order712 {
	return &crypto.Order712{
		Owner:    o.Owner,
		AssetIn:  o.AssetIn,
		AssetOut: o.AssetOut,
		Kind:     uint8(o.Kind),
		Price:    big.NewInt(o.Price),
		Quantity: big.NewInt(o.Quantity),
		Nonce:    new(big.Int).SetUint64(o.Nonce),
		Deadline: new(big.Int).SetUint64(o.Deadline),
	}
}

// RequiredInput is the amount of AssetIn the owner must hold and have
// approved: the base bound for asks, the quote value of the bound at the
// limit price for bids.
func (o Order) RequiredInput(isBid bool) *big.Int {
	if !isBid {
		return big.NewInt(o.Quantity)
	}
	v := new(big.Int).Mul(big.NewInt(o.Quantity), big.NewInt(o.Price))
	v.Add(v, big.NewInt(999_999))
	v.Quo(v, big.NewInt(1_000_000))
	return v
}
