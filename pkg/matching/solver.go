package matching

import (
	"sort"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/order"
)

// solvePool clears one pool's batch: top-of-block execution first, then the
// uniform-price batch over the remaining limit orders plus the post-ToB
// curve.
func solvePool(poolID uint64, orders []*order.ValidOrder, state amm.PoolState) PoolSolution {
	sol := PoolSolution{PoolID: poolID}

	var bids, asks, tob []*order.ValidOrder
	for _, vo := range orders {
		switch {
		case vo.Order.Kind == order.KindTopOfBlock:
			tob = append(tob, vo)
		case vo.IsBid:
			bids = append(bids, vo)
		default:
			asks = append(asks, vo)
		}
	}

	state = runTopOfBlock(&sol, tob, state)
	runBatch(&sol, bids, asks, state)
	return sol
}

// runTopOfBlock picks the single winning searcher order: the crossing order
// with the greatest distance from spot, ties to the lowest hash. It executes
// directly against the curve bounded by its limit, and the batch clears over
// the moved curve.
func runTopOfBlock(sol *PoolSolution, tob []*order.ValidOrder, state amm.PoolState) amm.PoolState {
	spot := state.SpotTick()
	var winner *order.ValidOrder
	var winnerEdge int64
	for _, vo := range tob {
		var edge int64
		if vo.IsBid {
			edge = vo.Order.Price - spot
		} else {
			edge = spot - vo.Order.Price
		}
		if edge <= 0 {
			continue
		}
		if winner == nil || edge > winnerEdge ||
			(edge == winnerEdge && hashLess(vo.Hash, winner.Hash)) {
			winner, winnerEdge = vo, edge
		}
	}
	if winner == nil {
		return state
	}

	var capacity int64
	poolSells := winner.IsBid
	if poolSells {
		capacity = state.SellCapacity(winner.Order.Price)
	} else {
		capacity = state.BuyCapacity(winner.Order.Price)
	}
	qty := min64(winner.Order.Quantity, capacity)
	if qty <= 0 {
		return state
	}

	after := state.After(qty, poolSells)
	sol.ToBFill = &Fill{
		OrderHash: winner.Hash,
		IsBid:     winner.IsBid,
		Quantity:  qty,
		Price:     winner.Order.Price,
	}
	sol.ToBSwap = &NetSwap{
		PoolID:    sol.PoolID,
		PoolSells: poolSells,
		BaseQty:   qty,
		QuoteQty:  state.QuoteForBase(qty, poolSells),
		FinalTick: after.SpotTick(),
	}
	return after
}

// runBatch finds the uniform clearing tick and allocates fills.
//
// Executable volume at tick p is min(D(p)+B(p), S(p)+A(p)): book demand D
// (bids with limit >= p) plus the base the pool buys moving down to p, against
// book supply S (asks with limit <= p) plus the base the pool sells moving up
// to p. Volume is piecewise-monotone between distinct limit ticks, so
// scanning the distinct limits plus the spot tick is exhaustive. Ties on
// volume prefer the smallest residual AMM swap, then the tick nearest the
// spot, then the lowest tick — fixed identically on every member.
func runBatch(sol *PoolSolution, bids, asks []*order.ValidOrder, state amm.PoolState) {
	if len(bids) == 0 && len(asks) == 0 {
		return
	}
	spot := state.SpotTick()

	seen := make(map[int64]struct{})
	var candidates []int64
	push := func(t int64) {
		if t <= 0 {
			return
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			candidates = append(candidates, t)
		}
	}
	for _, vo := range bids {
		push(vo.Order.Price)
	}
	for _, vo := range asks {
		push(vo.Order.Price)
	}
	push(spot)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var (
		bestTick          int64
		bestVolume        int64 = -1
		bestAmmUse        int64
		bestSell, bestBuy int64
	)
	for _, p := range candidates {
		var demand, supply int64
		for _, vo := range bids {
			if vo.Order.Price >= p {
				demand += vo.Order.Quantity
			}
		}
		for _, vo := range asks {
			if vo.Order.Price <= p {
				supply += vo.Order.Quantity
			}
		}
		sellCap := state.SellCapacity(p)
		buyCap := state.BuyCapacity(p)
		volume := min64(demand+buyCap, supply+sellCap)
		if volume <= 0 {
			continue
		}
		poolSell := max64(0, volume-supply)
		poolBuy := max64(0, volume-demand)
		ammUse := poolSell + poolBuy
		better := volume > bestVolume ||
			(volume == bestVolume && ammUse < bestAmmUse) ||
			(volume == bestVolume && ammUse == bestAmmUse && spotDist(p, spot) < spotDist(bestTick, spot))
		if better {
			bestTick, bestVolume, bestAmmUse = p, volume, ammUse
			bestSell, bestBuy = poolSell, poolBuy
		}
	}
	if bestVolume <= 0 {
		// No feasible price: an empty batch is a valid clearing outcome.
		return
	}

	sol.ClearingTick = bestTick
	bidQty := bestVolume - bestBuy
	askQty := bestVolume - bestSell
	sol.Fills = append(sol.Fills, allocate(bids, true, bestTick, bidQty)...)
	sol.Fills = append(sol.Fills, allocate(asks, false, bestTick, askQty)...)

	if bestSell > 0 || bestBuy > 0 {
		poolSells := bestSell > 0
		qty := bestSell
		if !poolSells {
			qty = bestBuy
		}
		after := state.After(qty, poolSells)
		sol.Swap = &NetSwap{
			PoolID:    sol.PoolID,
			PoolSells: poolSells,
			BaseQty:   qty,
			QuoteQty:  state.QuoteForBase(qty, poolSells),
			FinalTick: after.SpotTick(),
		}
	}
}

// allocate hands out budget lots to eligible orders: strictly in-the-money
// first, then orders at the clearing tick, hash-ascending within each group.
// Only the last touched order may fill partially.
func allocate(side []*order.ValidOrder, isBid bool, tick int64, budget int64) []Fill {
	eligible := make([]*order.ValidOrder, 0, len(side))
	for _, vo := range side {
		if isBid && vo.Order.Price >= tick {
			eligible = append(eligible, vo)
		} else if !isBid && vo.Order.Price <= tick {
			eligible = append(eligible, vo)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Order.Price != b.Order.Price {
			if isBid {
				return a.Order.Price > b.Order.Price
			}
			return a.Order.Price < b.Order.Price
		}
		return hashLess(a.Hash, b.Hash)
	})

	var fills []Fill
	for _, vo := range eligible {
		if budget <= 0 {
			break
		}
		qty := min64(vo.Order.Quantity, budget)
		budget -= qty
		fills = append(fills, Fill{
			OrderHash: vo.Hash,
			IsBid:     isBid,
			Quantity:  qty,
			Price:     tick,
		})
	}
	return fills
}

// spotDist breaks volume/amm-use ties toward the spot so neither side is
// handed the whole surplus. The candidate scan is ascending, so equal
// distances resolve to the lower tick.
func spotDist(p, spot int64) int64 {
	if p > spot {
		return p - spot
	}
	return spot - p
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
