package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/registry"
)

// StateView is the slice of chain state validation reads: current height and
// the owner's balance/allowance for the input asset. Implemented by the
// chain oracle.
type StateView interface {
	BlockNumber() uint64
	BalanceOf(owner, asset common.Address) *big.Int
	Allowance(owner, asset common.Address) *big.Int
}

// MaxPriceTick bounds limit prices. Anything above is economically
// meaningless and rejected as malformed rather than carried into matching.
const MaxPriceTick = int64(1) << 52

// Validator runs the admission checks. It is a pure check against the
// supplied state view; it mutates nothing, so re-validation before each
// round is idempotent.
type Validator struct {
	signer   *crypto.EIP712Signer
	registry *registry.Registry
	nonces   *NonceBook
}

func NewValidator(domain crypto.EIP712Domain, reg *registry.Registry, nonces *NonceBook) *Validator {
	return &Validator{
		signer:   crypto.NewEIP712Signer(domain),
		registry: reg,
		nonces:   nonces,
	}
}

// Validate runs the checks cheapest-first: structure, price sanity, pool
// routing, signature, expiry, nonce replay, balance/allowance. On success it
// returns the order with its canonical hash and pool routing resolved.
func (v *Validator) Validate(so SignedOrder, state StateView) (*ValidOrder, *Rejection) {
	o := so.Order

	if !o.Kind.Valid() || o.Quantity <= 0 {
		return nil, reject(ReasonMalformed, "kind=%d qty=%d", o.Kind, o.Quantity)
	}
	if o.Owner == (common.Address{}) || o.AssetIn == o.AssetOut {
		return nil, reject(ReasonMalformed, "bad owner or asset pair")
	}
	if len(so.Signature) != 65 {
		return nil, reject(ReasonMalformed, "signature must be 65 bytes, got %d", len(so.Signature))
	}
	if o.Price <= 0 || o.Price > MaxPriceTick {
		return nil, reject(ReasonMalformedPrice, "price %d out of range", o.Price)
	}

	poolID, isBid, ok := v.registry.OrderInfo(o.AssetIn, o.AssetOut)
	if !ok {
		return nil, reject(ReasonUnknownPool, "no pool for %s -> %s", o.AssetIn.Hex(), o.AssetOut.Hex())
	}
	pool, _ := v.registry.Pool(poolID)
	if pool.TickSpacing > 0 && o.Price%int64(pool.TickSpacing) != 0 {
		return nil, reject(ReasonMalformedPrice, "price %d not aligned to tick spacing %d", o.Price, pool.TickSpacing)
	}

	order712 := o.To712()
	valid, err := v.signer.VerifyOrderSignature(order712, so.Signature)
	if err != nil || !valid {
		return nil, reject(ReasonBadSignature, "signature does not recover to owner")
	}

	if o.Deadline != 0 && o.Deadline <= state.BlockNumber() {
		return nil, reject(ReasonExpired, "deadline %d <= height %d", o.Deadline, state.BlockNumber())
	}
	if v.nonces.Used(o.Owner, o.Nonce) {
		return nil, reject(ReasonReplayedNonce, "nonce %d already consumed", o.Nonce)
	}

	if rej := checkFunding(o, isBid, state); rej != nil {
		return nil, rej
	}

	digest, err := v.signer.HashOrder(order712)
	if err != nil {
		return nil, reject(ReasonMalformed, "hash order: %v", err)
	}

	return &ValidOrder{
		SignedOrder: so,
		Hash:        common.BytesToHash(digest),
		PoolID:      poolID,
		IsBid:       isBid,
	}, nil
}

// Revalidate re-checks the state-dependent conditions for a resident order
// before a round. Balances move under us every block, so an order that was
// funded at admission may no longer be.
func (v *Validator) Revalidate(vo *ValidOrder, state StateView) *Rejection {
	o := vo.Order
	if o.Deadline != 0 && o.Deadline <= state.BlockNumber() {
		return reject(ReasonExpired, "deadline %d <= height %d", o.Deadline, state.BlockNumber())
	}
	return checkFunding(o, vo.IsBid, state)
}

func checkFunding(o Order, isBid bool, state StateView) *Rejection {
	required := o.RequiredInput(isBid)
	if bal := state.BalanceOf(o.Owner, o.AssetIn); bal == nil || bal.Cmp(required) < 0 {
		return reject(ReasonInsufficientBalance, "balance below %s", required)
	}
	if allowance := state.Allowance(o.Owner, o.AssetIn); allowance == nil || allowance.Cmp(required) < 0 {
		return reject(ReasonInsufficientBalance, "allowance below %s", required)
	}
	return nil
}
