// Package amm models the on-chain constant-product liquidity curve the
// matching engine clears against. All arithmetic is integer (big.Int
// reserves, int64 ticks and lots) so every committee member computes
// identical results.
package amm

import (
	"math"
	"math/big"
)

// PriceScale converts the reserve ratio into integer price ticks:
// tick = reserve1 * PriceScale / reserve0.
const PriceScale = 1_000_000

// PoolState is a read-only snapshot of one pool's reserves at a block.
// Reserve0 is the base asset (lots), Reserve1 the quote asset.
type PoolState struct {
	PoolID   uint64
	Block    uint64
	Reserve0 *big.Int
	Reserve1 *big.Int
	FeeInE6  uint32
}

var scale = big.NewInt(PriceScale)

// SpotTick returns the pool's current marginal price in ticks, or 0 when the
// pool has no liquidity.
func (s PoolState) SpotTick() int64 {
	if s.Reserve0 == nil || s.Reserve1 == nil || s.Reserve0.Sign() == 0 {
		return 0
	}
	t := new(big.Int).Mul(s.Reserve1, scale)
	t.Quo(t, s.Reserve0)
	return clampInt64(t)
}

// reserveAtTick returns the base reserve x' that puts the marginal price at
// tick: x' = sqrt(k * PriceScale / tick).
func (s PoolState) reserveAtTick(tick int64) *big.Int {
	k := new(big.Int).Mul(s.Reserve0, s.Reserve1)
	k.Mul(k, scale)
	k.Quo(k, big.NewInt(tick))
	return k.Sqrt(k)
}

// SellCapacity is the base quantity the pool can sell before its marginal
// price rises to tick. Zero when tick is at or below spot. The pool fee is
// taken off the top so the capacity is what takers actually receive.
func (s PoolState) SellCapacity(tick int64) int64 {
	if tick <= s.SpotTick() || s.Reserve0 == nil || s.Reserve0.Sign() == 0 {
		return 0
	}
	x1 := s.reserveAtTick(tick)
	d := new(big.Int).Sub(s.Reserve0, x1)
	if d.Sign() <= 0 {
		return 0
	}
	d.Mul(d, big.NewInt(int64(1_000_000-s.FeeInE6)))
	d.Quo(d, big.NewInt(1_000_000))
	return clampInt64(d)
}

// BuyCapacity is the base quantity the pool can buy before its marginal
// price falls to tick. Zero when tick is at or above spot.
func (s PoolState) BuyCapacity(tick int64) int64 {
	if s.Reserve0 == nil || s.Reserve0.Sign() == 0 {
		return 0
	}
	spot := s.SpotTick()
	if tick >= spot || tick <= 0 {
		return 0
	}
	x1 := s.reserveAtTick(tick)
	d := new(big.Int).Sub(x1, s.Reserve0)
	if d.Sign() <= 0 {
		return 0
	}
	d.Mul(d, big.NewInt(int64(1_000_000-s.FeeInE6)))
	d.Quo(d, big.NewInt(1_000_000))
	return clampInt64(d)
}

// QuoteForBase returns the quote-asset leg of swapping baseQty of base
// against the raw curve. poolSells means the pool gives out base and takes
// quote in.
func (s PoolState) QuoteForBase(baseQty int64, poolSells bool) *big.Int {
	if baseQty <= 0 || s.Reserve0 == nil || s.Reserve0.Sign() == 0 {
		return new(big.Int)
	}
	k := new(big.Int).Mul(s.Reserve0, s.Reserve1)
	x1 := new(big.Int)
	if poolSells {
		x1.Sub(s.Reserve0, big.NewInt(baseQty))
		if x1.Sign() <= 0 {
			return new(big.Int)
		}
	} else {
		x1.Add(s.Reserve0, big.NewInt(baseQty))
	}
	y1 := new(big.Int).Quo(k, x1)
	d := new(big.Int).Sub(y1, s.Reserve1)
	return d.Abs(d)
}

// After returns the pool state once a net base swap of baseQty has executed.
func (s PoolState) After(baseQty int64, poolSells bool) PoolState {
	quote := s.QuoteForBase(baseQty, poolSells)
	out := PoolState{PoolID: s.PoolID, Block: s.Block, FeeInE6: s.FeeInE6}
	if poolSells {
		out.Reserve0 = new(big.Int).Sub(s.Reserve0, big.NewInt(baseQty))
		out.Reserve1 = new(big.Int).Add(s.Reserve1, quote)
	} else {
		out.Reserve0 = new(big.Int).Add(s.Reserve0, big.NewInt(baseQty))
		out.Reserve1 = new(big.Int).Sub(s.Reserve1, quote)
	}
	return out
}

func clampInt64(v *big.Int) int64 {
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}
