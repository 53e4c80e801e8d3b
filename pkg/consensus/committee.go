package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/crypto"
)

type NodeID string

// Member is one committee participant: its ECDSA address authenticates
// proposals and pre-votes, its BLS key signs pre-commit shares, and Weight
// is its voting power.
type Member struct {
	ID      NodeID
	Address common.Address
	Weight  uint64
	BLSPub  *crypto.BLSPubKey
}

// Committee is an explicit, versioned configuration value handed to each
// round — never a process-global — so rotations apply at round boundaries
// and tests can run synthetic committees.
type Committee struct {
	Version uint64
	Members []Member
}

func (c Committee) TotalWeight() uint64 {
	var total uint64
	for _, m := range c.Members {
		total += m.Weight
	}
	return total
}

// QuorumWeight is the smallest weight strictly greater than two-thirds of
// the total. Quorums this size overlap in more than the faulty third, which
// is what makes two conflicting commits impossible.
func (c Committee) QuorumWeight() uint64 {
	return c.TotalWeight()*2/3 + 1
}

// ProposerOf rotates the proposer deterministically by round number, so a
// stalled leader is skipped after at most one view-change per member.
func (c Committee) ProposerOf(round uint64) Member {
	if len(c.Members) == 0 {
		return Member{}
	}
	return c.Members[round%uint64(len(c.Members))]
}

func (c Committee) Member(id NodeID) (Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

func (c Committee) Validate() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("empty committee")
	}
	seen := make(map[NodeID]struct{}, len(c.Members))
	for _, m := range c.Members {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate member %s", m.ID)
		}
		if m.Weight == 0 {
			return fmt.Errorf("member %s has zero weight", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}
