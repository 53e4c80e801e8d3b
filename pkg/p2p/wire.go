package p2p

import (
	"bytes"
	"encoding/gob"
	"math/big"
)

// Message kinds on the consensus topic. The envelope carries round and phase
// so stale traffic is discardable without decoding the payload.
const (
	kindProposal = uint8(iota + 1)
	kindPreVote
	kindPreCommit
)

// Envelope wraps one consensus message for the wire.
type Envelope struct {
	Kind    uint8
	Round   uint64
	Height  uint64
	Payload []byte // gob-encoded Proposal / PreVote / PreCommit
}

func init() {
	gob.Register(Envelope{})
	gob.Register(&big.Int{})
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
