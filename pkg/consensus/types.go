package consensus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xnonso/angstrom/pkg/matching"
)

// Phase tracks where a round is in its lifecycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseProposing
	PhasePreVoting
	PhasePreCommitting
	PhaseCommitted
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProposing:
		return "proposing"
	case PhasePreVoting:
		return "prevoting"
	case PhasePreCommitting:
		return "precommitting"
	case PhaseCommitted:
		return "committed"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Round failures are expected under partition or a faulty leader; the engine
// recovers via view-change, never escalation.
var (
	ErrProposalTimeout  = errors.New("proposal wait timed out")
	ErrQuorumNotReached = errors.New("quorum not reached before timeout")
	ErrStaleSnapshot    = errors.New("snapshot predates current block")
)

// Proposal is the leader's claim for a round: snapshot and result digests
// plus the full clearing result so diverging members can audit. Members
// recompute locally and only pre-vote accept when both digests match.
type Proposal struct {
	Round          uint64
	Height         uint64
	Proposer       NodeID
	SnapshotDigest common.Hash
	ResultDigest   common.Hash
	Result         matching.ClearingResult
	Signature      []byte
}

// SigningHash binds every consensus-relevant field of the proposal.
func (p *Proposal) SigningHash() common.Hash {
	buf := make([]byte, 0, 16+len(p.Proposer)+2*common.HashLength)
	buf = be64(buf, p.Round)
	buf = be64(buf, p.Height)
	buf = append(buf, []byte(p.Proposer)...)
	buf = append(buf, p.SnapshotDigest[:]...)
	buf = append(buf, p.ResultDigest[:]...)
	return crypto.Keccak256Hash(buf)
}

// PreVote accepts or rejects a proposal's digests. A rejecting member
// includes its own computed digest for dispute diagnostics.
type PreVote struct {
	Round        uint64
	Height       uint64
	Voter        NodeID
	Accept       bool
	ResultDigest common.Hash
	LocalDigest  common.Hash
	Signature    []byte
}

func (v *PreVote) SigningHash() common.Hash {
	buf := make([]byte, 0, 17+len(v.Voter)+2*common.HashLength)
	buf = be64(buf, v.Round)
	buf = be64(buf, v.Height)
	buf = append(buf, []byte(v.Voter)...)
	if v.Accept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, v.ResultDigest[:]...)
	buf = append(buf, v.LocalDigest[:]...)
	return crypto.Keccak256Hash(buf)
}

// PreCommit carries a BLS signature share over the commit digest. All shares
// of a round sign the same message, so they aggregate into one quorum
// signature.
type PreCommit struct {
	Round          uint64
	Height         uint64
	Voter          NodeID
	SnapshotDigest common.Hash
	ResultDigest   common.Hash
	SigShare       []byte
}

// CommitDigest is the message pre-commit shares sign:
// keccak(height | snapshotDigest | resultDigest).
func CommitDigest(height uint64, snapshotDigest, resultDigest common.Hash) common.Hash {
	buf := make([]byte, 0, 8+2*common.HashLength)
	buf = be64(buf, height)
	buf = append(buf, snapshotDigest[:]...)
	buf = append(buf, resultDigest[:]...)
	return crypto.Keccak256Hash(buf)
}

// Bundle is a committed round: the clearing result plus the aggregated
// quorum signature. Append-only once committed; the settlement boundary
// turns it into the single on-chain transaction.
type Bundle struct {
	Round            uint64
	Height           uint64
	CommitteeVersion uint64
	SnapshotDigest   common.Hash
	ResultDigest     common.Hash
	Result           matching.ClearingResult
	AggSignature     []byte
	Signers          []NodeID // ascending, as aggregated
}

func (b *Bundle) CommitDigest() common.Hash {
	return CommitDigest(b.Height, b.SnapshotDigest, b.ResultDigest)
}

func (b *Bundle) String() string {
	return fmt.Sprintf("bundle{round=%d height=%d digest=%s signers=%d}",
		b.Round, b.Height, b.ResultDigest.Hex(), len(b.Signers))
}

func be64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
