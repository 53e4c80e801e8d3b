package consensus

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xnonso/angstrom/pkg/crypto"
)

// Inbound handlers. Delivery is unordered and may duplicate; everything here
// is idempotent. Stale rounds are dropped before any signature work.

func (e *Engine) onProposal(_ context.Context, p Proposal) {
	e.mu.Lock()
	current, committee := e.round, e.committee
	e.mu.Unlock()
	if p.Round < current {
		return
	}
	member, ok := committee.Member(p.Proposer)
	if !ok || committee.ProposerOf(p.Round).ID != p.Proposer {
		e.log.Debugw("proposal_from_wrong_proposer", "round", p.Round, "from", p.Proposer)
		return
	}
	if !crypto.VerifySignature(member.Address, p.SigningHash().Bytes(), p.Signature) {
		e.log.Warnw("proposal_bad_signature", "round", p.Round, "from", p.Proposer)
		return
	}
	e.storeProposal(&p)
}

func (e *Engine) onPreVote(_ context.Context, v PreVote) {
	e.mu.Lock()
	current, committee := e.round, e.committee
	e.mu.Unlock()
	if v.Round < current {
		return
	}
	member, ok := committee.Member(v.Voter)
	if !ok {
		return
	}
	if !crypto.VerifySignature(member.Address, v.SigningHash().Bytes(), v.Signature) {
		e.log.Warnw("prevote_bad_signature", "round", v.Round, "from", v.Voter)
		return
	}
	e.storePreVote(&v)
}

func (e *Engine) onPreCommit(_ context.Context, c PreCommit) {
	e.mu.Lock()
	current, committee := e.round, e.committee
	e.mu.Unlock()
	if c.Round < current {
		return
	}
	member, ok := committee.Member(c.Voter)
	if !ok || member.BLSPub == nil {
		return
	}
	digest := CommitDigest(c.Height, c.SnapshotDigest, c.ResultDigest)
	if !crypto.VerifyBLS(member.BLSPub, c.SigShare, digest.Bytes()) {
		e.log.Warnw("precommit_bad_share", "round", c.Round, "from", c.Voter)
		return
	}
	e.storePreCommit(&c)
}

// First proposal per round and height wins; a Byzantine proposer equivocating
// within a round only competes with itself. A proposal for a newer height
// supersedes one left over from a round a fresh block preempted, since the
// round number does not advance on preemption.
func (e *Engine) storeProposal(p *Proposal) {
	e.mu.Lock()
	if cur, ok := e.proposals[p.Round]; !ok || p.Height > cur.Height {
		e.proposals[p.Round] = p
	}
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) storePreVote(v *PreVote) {
	e.mu.Lock()
	m := e.prevotes[v.Round]
	if m == nil {
		m = make(map[NodeID]*PreVote)
		e.prevotes[v.Round] = m
	}
	if cur, ok := m[v.Voter]; !ok || v.Height > cur.Height {
		m[v.Voter] = v
	}
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) storePreCommit(c *PreCommit) {
	e.mu.Lock()
	m := e.precommits[c.Round]
	if m == nil {
		m = make(map[NodeID]*PreCommit)
		e.precommits[c.Round] = m
	}
	if cur, ok := m[c.Voter]; !ok || c.Height > cur.Height {
		m[c.Voter] = c
	}
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.arrived <- struct{}{}:
	default:
	}
}

// waitProposal blocks until the round's proposal arrives, the phase times
// out, or a newer block preempts. Reactive: woken on message arrival rather
// than polling.
func (e *Engine) waitProposal(ctx context.Context, round, height uint64) (*Proposal, uint64, error) {
	deadline := e.pm.Deadline(PhaseProposing)
	for {
		e.mu.Lock()
		prop := e.proposals[round]
		e.mu.Unlock()
		if prop != nil && prop.Height == height {
			return prop, 0, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case h := <-e.blocks:
			return nil, h, nil
		case <-deadline:
			return nil, 0, ErrProposalTimeout
		case <-e.arrived:
		}
	}
}

// waitPreVoteQuorum blocks until accept pre-votes on digest reach quorum
// weight.
func (e *Engine) waitPreVoteQuorum(
	ctx context.Context,
	round, height uint64,
	committee Committee,
	digest common.Hash,
) (uint64, error) {
	deadline := e.pm.Deadline(PhasePreVoting)
	need := committee.QuorumWeight()
	for {
		if e.acceptWeight(round, height, committee, digest) >= need {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case h := <-e.blocks:
			return h, nil
		case <-deadline:
			return 0, ErrQuorumNotReached
		case <-e.arrived:
		}
	}
}

func (e *Engine) acceptWeight(round, height uint64, committee Committee, digest common.Hash) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var weight uint64
	for id, v := range e.prevotes[round] {
		if !v.Accept || v.Height != height || v.ResultDigest != digest {
			continue
		}
		if m, ok := committee.Member(id); ok {
			weight += m.Weight
		}
	}
	return weight
}

// waitPreCommitQuorum returns the quorum's signer IDs (ascending) and their
// shares in the same order, ready for same-message aggregation.
func (e *Engine) waitPreCommitQuorum(
	ctx context.Context,
	round, height uint64,
	committee Committee,
	digest common.Hash,
) ([]NodeID, [][]byte, uint64, error) {
	deadline := e.pm.Deadline(PhasePreCommitting)
	need := committee.QuorumWeight()
	for {
		signers, shares, weight := e.commitShares(round, height, committee, digest)
		if weight >= need {
			return signers, shares, 0, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		case h := <-e.blocks:
			return nil, nil, h, nil
		case <-deadline:
			return nil, nil, 0, ErrQuorumNotReached
		case <-e.arrived:
		}
	}
}

func (e *Engine) commitShares(
	round, height uint64,
	committee Committee,
	digest common.Hash,
) ([]NodeID, [][]byte, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []NodeID
	var weight uint64
	for id, c := range e.precommits[round] {
		if c.Height != height || c.ResultDigest != digest {
			continue
		}
		if m, ok := committee.Member(id); ok {
			ids = append(ids, id)
			weight += m.Weight
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	shares := make([][]byte, len(ids))
	for i, id := range ids {
		shares[i] = e.precommits[round][id].SigShare
	}
	return ids, shares, weight
}
