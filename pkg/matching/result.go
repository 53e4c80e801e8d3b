package matching

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fill is one order's execution in a batch: Quantity base lots at the
// uniform clearing tick. Orders never execute worse than their limit.
type Fill struct {
	OrderHash common.Hash
	IsBid     bool
	Quantity  int64
	Price     int64
}

// NetSwap is the residual trade routed through the AMM pool after book
// volume is crossed, so the final curve price matches the clearing tick.
type NetSwap struct {
	PoolID    uint64
	PoolSells bool // pool sells base, takers pay quote
	BaseQty   int64
	QuoteQty  *big.Int
	FinalTick int64
}

// PoolSolution is one pool's cleared batch. ToBFill/ToBSwap, when present,
// record the winning top-of-block order's execution against the curve ahead
// of the batch.
type PoolSolution struct {
	PoolID       uint64
	ClearingTick int64
	Fills        []Fill
	Swap         *NetSwap
	ToBFill      *Fill
	ToBSwap      *NetSwap
}

// ClearingResult is the deterministic output of Engine.Clear. Solutions are
// in ascending pool-ID order; identical inputs yield byte-identical results.
type ClearingResult struct {
	Height         uint64
	SnapshotDigest common.Hash
	Solutions      []PoolSolution
}

// Digest commits to every field of the result in a fixed canonical encoding.
// Committee members compare these digests when voting, so the encoding can
// never depend on map iteration or pointer identity.
func (r *ClearingResult) Digest() common.Hash {
	var buf []byte
	buf = appendUint64(buf, r.Height)
	buf = append(buf, r.SnapshotDigest[:]...)
	for _, sol := range r.Solutions {
		buf = appendUint64(buf, sol.PoolID)
		buf = appendInt64(buf, sol.ClearingTick)
		buf = appendFill(buf, sol.ToBFill)
		buf = appendSwap(buf, sol.ToBSwap)
		buf = appendUint64(buf, uint64(len(sol.Fills)))
		for i := range sol.Fills {
			buf = appendFill(buf, &sol.Fills[i])
		}
		buf = appendSwap(buf, sol.Swap)
	}
	return crypto.Keccak256Hash(buf)
}

// Empty reports whether nothing matched anywhere. An empty batch is a valid
// outcome, not an error.
func (r *ClearingResult) Empty() bool {
	for _, sol := range r.Solutions {
		if len(sol.Fills) > 0 || sol.ToBFill != nil {
			return false
		}
	}
	return true
}

// FilledHashes lists every order hash that received any fill.
func (r *ClearingResult) FilledHashes() []common.Hash {
	var out []common.Hash
	for _, sol := range r.Solutions {
		if sol.ToBFill != nil {
			out = append(out, sol.ToBFill.OrderHash)
		}
		for _, f := range sol.Fills {
			out = append(out, f.OrderHash)
		}
	}
	return out
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}

func appendFill(buf []byte, f *Fill) []byte {
	if f == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = append(buf, f.OrderHash[:]...)
	if f.IsBid {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64(buf, f.Quantity)
	return appendInt64(buf, f.Price)
}

func appendSwap(buf []byte, s *NetSwap) []byte {
	if s == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = appendUint64(buf, s.PoolID)
	if s.PoolSells {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64(buf, s.BaseQty)
	var quote [32]byte
	if s.QuoteQty != nil {
		s.QuoteQty.FillBytes(quote[:])
	}
	buf = append(buf, quote[:]...)
	return appendInt64(buf, s.FinalTick)
}
