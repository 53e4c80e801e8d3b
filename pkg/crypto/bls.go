package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// BLSSigner produces pre-commit signature shares. All shares in a quorum sign
// the same commit digest, so aggregation is the same-message case.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

// PubkeyHex is the published form of the key, carried in committee
// configuration.
func (s *BLSSigner) PubkeyHex() string {
	raw, err := s.pk.MarshalBinary()
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(raw)
}

func BLSPubKeyFromHex(s string) (*BLSPubKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode bls pubkey: %w", err)
	}
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal bls pubkey: %w", err)
	}
	return pk, nil
}

func (s *BLSSigner) Sign(msg []byte) []byte { return bls.Sign(s.sk, msg) }

func VerifyBLS(pk *BLSPubKey, sig, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}

// AggregateBLS combines signature shares over one message into a single
// quorum signature. Empty shares are skipped.
func AggregateBLS(shares [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(shares))
	for _, sb := range shares {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

// VerifyAggregate checks an aggregate signature where every listed key signed
// the same message. circl wants one message per key, so the digest is repeated.
func VerifyAggregate(pks []*BLSPubKey, msg, aggSig []byte) bool {
	if len(pks) == 0 {
		return false
	}
	msgs := make([][]byte, len(pks))
	for i := range msgs {
		msgs[i] = msg
	}
	return bls.VerifyAggregate(pks, msgs, bls.Signature(aggSig))
}
