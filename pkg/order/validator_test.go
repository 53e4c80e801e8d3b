package order

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/registry"
)

var (
	weth = common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc = common.HexToAddress("0x2222222222222222222222222222222222222222")
	dai  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// stubState is a fixed-height, fixed-funding chain view.
type stubState struct {
	height    uint64
	balance   *big.Int
	allowance *big.Int
}

func (s stubState) BlockNumber() uint64                         { return s.height }
func (s stubState) BalanceOf(_, _ common.Address) *big.Int      { return s.balance }
func (s stubState) Allowance(_, _ common.Address) *big.Int      { return s.allowance }

func funded(height uint64) stubState {
	return stubState{height: height, balance: big.NewInt(1_000_000), allowance: big.NewInt(1_000_000)}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	word := registry.ConfigEntry{
		PartialKey:  registry.PartialKeyFor(weth, usdc),
		TickSpacing: 10,
		FeeInE6:     3000,
	}.Encode()
	if err := r.Update(1, [][2]common.Address{{weth, usdc}}, [][32]byte{word}); err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

type fixture struct {
	validator *Validator
	signer    *crypto.Signer
	eip712    *crypto.EIP712Signer
	nonces    *NonceBook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	domain := crypto.DefaultDomain()
	nonces := NewNonceBook()
	return &fixture{
		validator: NewValidator(domain, testRegistry(t), nonces),
		signer:    signer,
		eip712:    crypto.NewEIP712Signer(domain),
		nonces:    nonces,
	}
}

// bid paying usdc for weth at 95.0, 10 lots
func (f *fixture) bid(t *testing.T, nonce uint64) SignedOrder {
	t.Helper()
	o := Order{
		Owner:    f.signer.Address(),
		AssetIn:  usdc,
		AssetOut: weth,
		Kind:     KindLimit,
		Price:    95_000_000,
		Quantity: 10,
		Nonce:    nonce,
		Deadline: 0,
	}
	sig, err := f.eip712.SignOrder(f.signer, o.To712())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return SignedOrder{Order: o, Signature: sig}
}

func (f *fixture) signed(t *testing.T, o Order) SignedOrder {
	t.Helper()
	sig, err := f.eip712.SignOrder(f.signer, o.To712())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return SignedOrder{Order: o, Signature: sig}
}

func TestValidateAccepts(t *testing.T) {
	f := newFixture(t)
	vo, rej := f.validator.Validate(f.bid(t, 1), funded(100))
	if rej != nil {
		t.Fatalf("rejected: %v", rej)
	}
	if !vo.IsBid {
		t.Error("usdc->weth should route as a bid")
	}
	if vo.Hash == (common.Hash{}) {
		t.Error("hash not populated")
	}
}

func TestValidateRejectionReasons(t *testing.T) {
	f := newFixture(t)
	base := f.bid(t, 1)

	cases := []struct {
		name   string
		mutate func(*SignedOrder)
		state  StateView
		want   Reason
	}{
		{
			name:   "zero quantity",
			mutate: func(so *SignedOrder) { so.Order.Quantity = 0 },
			state:  funded(100),
			want:   ReasonMalformed,
		},
		{
			name:   "truncated signature",
			mutate: func(so *SignedOrder) { so.Signature = so.Signature[:64] },
			state:  funded(100),
			want:   ReasonMalformed,
		},
		{
			name:   "negative price",
			mutate: func(so *SignedOrder) { so.Order.Price = -1 },
			state:  funded(100),
			want:   ReasonMalformedPrice,
		},
		{
			name:   "price off tick grid",
			mutate: func(so *SignedOrder) { *so = f.signed(t, withPrice(so.Order, 95_000_005)) },
			state:  funded(100),
			want:   ReasonMalformedPrice,
		},
		{
			name:   "unknown pair",
			mutate: func(so *SignedOrder) { *so = f.signed(t, withAssetIn(so.Order, dai)) },
			state:  funded(100),
			want:   ReasonUnknownPool,
		},
		{
			name:   "tampered order",
			mutate: func(so *SignedOrder) { so.Order.Quantity = 11 },
			state:  funded(100),
			want:   ReasonBadSignature,
		},
		{
			name:   "deadline passed",
			mutate: func(so *SignedOrder) { *so = f.signed(t, withDeadline(so.Order, 50)) },
			state:  funded(100),
			want:   ReasonExpired,
		},
		{
			name:   "underfunded",
			mutate: func(so *SignedOrder) {},
			state:  stubState{height: 100, balance: big.NewInt(1), allowance: big.NewInt(1_000_000)},
			want:   ReasonInsufficientBalance,
		},
		{
			name:   "insufficient allowance",
			mutate: func(so *SignedOrder) {},
			state:  stubState{height: 100, balance: big.NewInt(1_000_000), allowance: big.NewInt(1)},
			want:   ReasonInsufficientBalance,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			so := base
			tc.mutate(&so)
			_, rej := f.validator.Validate(so, tc.state)
			if rej == nil {
				t.Fatal("expected rejection")
			}
			if rej.Reason != tc.want {
				t.Fatalf("reason: got %s, want %s", rej.Reason, tc.want)
			}
		})
	}
}

func TestValidateNonceReplay(t *testing.T) {
	f := newFixture(t)
	so := f.bid(t, 9)

	if _, rej := f.validator.Validate(so, funded(100)); rej != nil {
		t.Fatalf("first validation rejected: %v", rej)
	}
	// admission consumed the nonce
	f.nonces.Consume(so.Order.Owner, so.Order.Nonce)

	// a different order reusing the nonce is a replay
	other := f.signed(t, withPrice(so.Order, 96_000_000))
	_, rej := f.validator.Validate(other, funded(100))
	if rej == nil || rej.Reason != ReasonReplayedNonce {
		t.Fatalf("expected ReplayedNonce, got %v", rej)
	}
}

func TestRevalidate(t *testing.T) {
	f := newFixture(t)
	so := f.signed(t, withDeadline(f.bid(t, 1).Order, 200))
	vo, rej := f.validator.Validate(so, funded(100))
	if rej != nil {
		t.Fatalf("validate: %v", rej)
	}

	if rej := f.validator.Revalidate(vo, funded(150)); rej != nil {
		t.Fatalf("revalidate before expiry: %v", rej)
	}
	if rej := f.validator.Revalidate(vo, funded(200)); rej == nil || rej.Reason != ReasonExpired {
		t.Fatalf("expected Expired at deadline, got %v", rej)
	}
	drained := stubState{height: 150, balance: big.NewInt(0), allowance: big.NewInt(1_000_000)}
	if rej := f.validator.Revalidate(vo, drained); rej == nil || rej.Reason != ReasonInsufficientBalance {
		t.Fatalf("expected InsufficientBalance after drain, got %v", rej)
	}
}

func TestRequiredInput(t *testing.T) {
	o := Order{Price: 95_000_000, Quantity: 10}
	// bid pays quote: ceil(10 * 95000000 / 1e6) = 950
	if got := o.RequiredInput(true); got.Cmp(big.NewInt(950)) != 0 {
		t.Errorf("bid input: got %s, want 950", got)
	}
	// ask pays base: the quantity itself
	if got := o.RequiredInput(false); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("ask input: got %s, want 10", got)
	}
	// rounding goes up, never under-reserves
	odd := Order{Price: 95_000_001, Quantity: 10}
	if got := odd.RequiredInput(true); got.Cmp(big.NewInt(951)) != 0 {
		t.Errorf("ceil input: got %s, want 951", got)
	}
}

func withPrice(o Order, p int64) Order    { o.Price = p; return o }
func withAssetIn(o Order, a common.Address) Order { o.AssetIn = a; return o }
func withDeadline(o Order, d uint64) Order { o.Deadline = d; return o }
