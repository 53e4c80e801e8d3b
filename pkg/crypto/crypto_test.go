package crypto

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := gethcrypto.Keccak256([]byte("payload"))

	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length: got %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if !VerifySignature(signer.Address(), digest, sig) {
		t.Fatal("verify failed for own signature")
	}

	other, _ := GenerateKey()
	if VerifySignature(other.Address(), digest, sig) {
		t.Fatal("signature verified against wrong address")
	}
}

func TestSignRejectsBadDigestLength(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Fatal("expected error on non-32-byte digest")
	}
}

func TestFromPrivateKeyHexPrefixes(t *testing.T) {
	signer, _ := GenerateKey()
	hexKey := signer.PrivateKeyHex()

	plain, err := FromPrivateKeyHex(hexKey)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	prefixed, err := FromPrivateKeyHex("0x" + hexKey)
	if err != nil {
		t.Fatalf("prefixed: %v", err)
	}
	if plain.Address() != signer.Address() || prefixed.Address() != signer.Address() {
		t.Fatal("address mismatch after reload")
	}
}

func testOrder(owner common.Address) *Order712 {
	return &Order712{
		Owner:    owner,
		AssetIn:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		AssetOut: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Kind:     1,
		Price:    big.NewInt(95_000_000),
		Quantity: big.NewInt(10),
		Nonce:    big.NewInt(7),
		Deadline: big.NewInt(0),
	}
}

func TestEIP712SignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	o := testOrder(signer.Address())

	sig, err := e.SignOrder(signer, o)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	ok, err := e.VerifyOrderSignature(o, sig)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	// any field change invalidates the signature
	o.Price = big.NewInt(96_000_000)
	ok, err = e.VerifyOrderSignature(o, sig)
	if err != nil {
		t.Fatalf("verify modified: %v", err)
	}
	if ok {
		t.Fatal("signature verified after price change")
	}
}

func TestEIP712HashStableAndDomainBound(t *testing.T) {
	signer, _ := GenerateKey()
	o := testOrder(signer.Address())

	e := NewEIP712Signer(DefaultDomain())
	h1, err := e.HashOrder(o)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := e.HashOrder(o)
	if !bytes.Equal(h1, h2) {
		t.Fatal("order hash not deterministic")
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(5)
	h3, _ := NewEIP712Signer(other).HashOrder(o)
	if bytes.Equal(h1, h3) {
		t.Fatal("hash must differ across signing domains")
	}
}

func TestBLSAggregateQuorum(t *testing.T) {
	msg := gethcrypto.Keccak256([]byte("commit digest"))

	var pks []*BLSPubKey
	var shares [][]byte
	for i := byte(0); i < 4; i++ {
		seed := bytes.Repeat([]byte{i + 1}, 32)
		s := NewBLSSignerFromSeed(seed)
		share := s.Sign(msg)
		if !VerifyBLS(s.Pubkey(), share, msg) {
			t.Fatalf("share %d does not verify", i)
		}
		pks = append(pks, s.Pubkey())
		shares = append(shares, share)
	}

	agg := AggregateBLS(shares)
	if len(agg) == 0 {
		t.Fatal("empty aggregate")
	}
	if !VerifyAggregate(pks, msg, agg) {
		t.Fatal("aggregate does not verify")
	}
	if VerifyAggregate(pks[:3], msg, agg) {
		t.Fatal("aggregate verified against wrong signer set")
	}
	if VerifyAggregate(pks, gethcrypto.Keccak256([]byte("other")), agg) {
		t.Fatal("aggregate verified against wrong message")
	}
	if VerifyAggregate(nil, msg, agg) {
		t.Fatal("aggregate verified against empty signer set")
	}
}

func TestBLSPubKeyHexRoundTrip(t *testing.T) {
	s := NewBLSSignerFromSeed(bytes.Repeat([]byte{0x42}, 32))
	pk, err := BLSPubKeyFromHex(s.PubkeyHex())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := []byte("round trip")
	if !VerifyBLS(pk, s.Sign(msg), msg) {
		t.Fatal("decoded key does not verify signer's signature")
	}
}

func TestEIP55KnownVectors(t *testing.T) {
	// test vectors from the EIP-55 specification
	cases := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	}
	for _, want := range cases {
		addr := common.HexToAddress(want)
		if got := EIP55(addr.Bytes()); got != want {
			t.Errorf("EIP55(%s): got %s", want, got)
		}
	}
}
