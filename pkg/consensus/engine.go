// Package consensus drives the committee through one batch-auction round per
// block: Idle → Proposing → PreVoting → PreCommitting → Committed, or
// Abandoned on timeout with the proposer rotated. Safety rests on >2/3
// weight quorums; liveness on per-phase timeouts and view-change.
package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/matching"
	"github.com/0xnonso/angstrom/pkg/orderpool"
)

// SnapshotSource cuts the order working set at a logical height. Backed by
// the order pool.
type SnapshotSource interface {
	Snapshot(height uint64) orderpool.Snapshot
}

// StateSource reads the AMM liquidity for a height. Backed by the chain
// oracle.
type StateSource interface {
	PoolStates(ctx context.Context, height uint64) ([]amm.PoolState, error)
}

// Settlement receives committed bundles for on-chain submission. Only the
// round's proposer submits; everyone persists.
type Settlement interface {
	Submit(ctx context.Context, b *Bundle) error
}

// BundleStore persists committed bundles, append-only by height.
type BundleStore interface {
	SaveBundle(b *Bundle) error
}

type WAL interface {
	Append(line string)
}

// Metrics is the thin observability hook; implemented by pkg/metrics.
type Metrics interface {
	RoundCommitted()
	RoundAbandoned(reason string)
}

type Config struct {
	Self   NodeID
	Signer *crypto.Signer    // ECDSA key: proposals + pre-votes
	BLS    *crypto.BLSSigner // pre-commit shares
}

type Engine struct {
	cfg     Config
	pm      *Pacemaker
	pool    SnapshotSource
	states  StateSource
	matcher *matching.Engine
	net     Network
	settle  Settlement
	store   BundleStore
	wal     WAL
	log     *zap.SugaredLogger

	Metrics  Metrics
	OnCommit func(ctx context.Context, b *Bundle)

	blocks chan uint64

	mu         sync.Mutex
	committee  Committee
	round      uint64
	phase      Phase
	proposals  map[uint64]*Proposal
	prevotes   map[uint64]map[NodeID]*PreVote
	precommits map[uint64]map[NodeID]*PreCommit
	arrived    chan struct{}
}

func NewEngine(
	cfg Config,
	committee Committee,
	pm *Pacemaker,
	pool SnapshotSource,
	states StateSource,
	net Network,
	settle Settlement,
	store BundleStore,
	wal WAL,
	log *zap.SugaredLogger,
) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{
		cfg:        cfg,
		pm:         pm,
		pool:       pool,
		states:     states,
		matcher:    matching.NewEngine(),
		net:        net,
		settle:     settle,
		store:      store,
		wal:        wal,
		log:        log,
		committee:  committee,
		blocks:     make(chan uint64, 1),
		proposals:  make(map[uint64]*Proposal),
		prevotes:   make(map[uint64]map[NodeID]*PreVote),
		precommits: make(map[uint64]map[NodeID]*PreCommit),
		arrived:    make(chan struct{}, 64),
	}
	net.SetHandlers(Handlers{
		OnProposal:  e.onProposal,
		OnPreVote:   e.onPreVote,
		OnPreCommit: e.onPreCommit,
	})
	return e
}

// NotifyNewBlock feeds a new-block observation in. A fresher height
// supersedes any queued one: only the latest matters, and an in-flight round
// over an older snapshot gets invalidated.
func (e *Engine) NotifyNewBlock(height uint64) {
	for {
		select {
		case e.blocks <- height:
			return
		default:
			select {
			case <-e.blocks:
			default:
			}
		}
	}
}

// SetCommittee rotates the committee configuration; it takes effect from the
// next round.
func (e *Engine) SetCommittee(c Committee) {
	e.mu.Lock()
	e.committee = c
	e.mu.Unlock()
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) Round() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Run is the member's main loop: one committed (or abandoned-past) batch per
// observed block.
func (e *Engine) Run(ctx context.Context) error {
	var height uint64
	for {
		if height == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case height = <-e.blocks:
			}
			continue
		}
		newHeight, committed, err := e.runRound(ctx, height)
		switch {
		case err != nil:
			return err
		case newHeight > height:
			// Scenario D: a fresher block invalidated the in-flight round.
			e.log.Infow("round_restarted_new_block", "stale_height", height, "height", newHeight)
			height = newHeight
		case committed:
			height = 0 // idle until the next block
		}
	}
}

// runRound executes a single consensus round for height. It returns a newer
// height when a fresh block preempted the round, committed=true on success,
// and otherwise leaves the round abandoned with the proposer rotated.
func (e *Engine) runRound(ctx context.Context, height uint64) (uint64, bool, error) {
	e.mu.Lock()
	round := e.round
	committee := e.committee
	e.phase = PhaseProposing
	e.mu.Unlock()

	snap := e.pool.Snapshot(height)
	states, err := e.states.PoolStates(ctx, height)
	if err != nil {
		// OracleFailure: a liveness delay, not a safety problem. Pause until
		// the chain view recovers with the next block.
		e.log.Warnw("oracle_unavailable", "height", height, "err", err)
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case h := <-e.blocks:
			return h, false, nil
		}
	}

	localResult, localErr := e.matcher.Clear(snap, states)
	var localDigest common.Hash
	if localErr != nil {
		// InvariantViolation: refuse to sign anything this round, keep
		// participating so the honest majority is not stalled by us.
		e.log.Errorw("local_clear_invariant_violation", "round", round, "err", localErr)
	} else {
		localDigest = localResult.Digest()
	}

	proposer := committee.ProposerOf(round)
	if proposer.ID == e.cfg.Self && localErr == nil {
		if err := e.propose(ctx, round, height, snap.Digest, localDigest, localResult); err != nil {
			e.log.Warnw("propose_failed", "round", round, "err", err)
		}
	}

	prop, newH, err := e.waitProposal(ctx, round, height)
	if err != nil || newH > 0 {
		if err != nil {
			e.abandon(round, ErrProposalTimeout)
		}
		return newH, false, ctxErr(ctx)
	}

	accept := localErr == nil &&
		prop.SnapshotDigest == snap.Digest &&
		prop.ResultDigest == localDigest
	if !accept {
		// Snapshot divergence is the expected root cause here, not a
		// computation bug. Log and proceed on the reject path; the next
		// round's snapshot converges.
		e.log.Warnw("digest_mismatch",
			"round", round,
			"proposer", prop.Proposer,
			"proposed_snapshot", prop.SnapshotDigest.Hex(),
			"local_snapshot", snap.Digest.Hex(),
			"proposed_result", prop.ResultDigest.Hex(),
			"local_result", localDigest.Hex(),
		)
	}

	vote := PreVote{
		Round:        round,
		Height:       height,
		Voter:        e.cfg.Self,
		Accept:       accept,
		ResultDigest: prop.ResultDigest,
		LocalDigest:  localDigest,
	}
	sig, err := e.cfg.Signer.Sign(vote.SigningHash().Bytes())
	if err != nil {
		return 0, false, fmt.Errorf("sign prevote: %w", err)
	}
	vote.Signature = sig
	e.storePreVote(&vote)
	e.setPhase(PhasePreVoting)
	if err := e.net.BroadcastPreVote(ctx, vote); err != nil {
		e.log.Warnw("broadcast_prevote_failed", "round", round, "err", err)
	}

	newH, err = e.waitPreVoteQuorum(ctx, round, height, committee, prop.ResultDigest)
	if err != nil || newH > 0 {
		if err != nil {
			e.abandon(round, ErrQuorumNotReached)
		}
		return newH, false, ctxErr(ctx)
	}

	if !accept {
		// We refused to vote for those digests, so we also refuse to sign
		// the commit. Wait out the phase and move on with the next round.
		e.abandon(round, ErrQuorumNotReached)
		return 0, false, nil
	}

	commitDigest := CommitDigest(height, prop.SnapshotDigest, prop.ResultDigest)
	pc := PreCommit{
		Round:          round,
		Height:         height,
		Voter:          e.cfg.Self,
		SnapshotDigest: prop.SnapshotDigest,
		ResultDigest:   prop.ResultDigest,
		SigShare:       e.cfg.BLS.Sign(commitDigest.Bytes()),
	}
	e.storePreCommit(&pc)
	e.setPhase(PhasePreCommitting)
	if err := e.net.BroadcastPreCommit(ctx, pc); err != nil {
		e.log.Warnw("broadcast_precommit_failed", "round", round, "err", err)
	}

	signers, shares, newH, err := e.waitPreCommitQuorum(ctx, round, height, committee, prop.ResultDigest)
	if err != nil || newH > 0 {
		if err != nil {
			e.abandon(round, ErrQuorumNotReached)
		}
		return newH, false, ctxErr(ctx)
	}

	bundle := &Bundle{
		Round:            round,
		Height:           height,
		CommitteeVersion: committee.Version,
		SnapshotDigest:   prop.SnapshotDigest,
		ResultDigest:     prop.ResultDigest,
		Result:           prop.Result,
		AggSignature:     crypto.AggregateBLS(shares),
		Signers:          signers,
	}
	if !verifyBundleSignature(bundle, committee) {
		// Shares verified individually on intake, so a bad aggregate means
		// something is deeply wrong. Refuse to commit; do not crash.
		e.log.Errorw("aggregate_signature_invalid", "round", round)
		e.abandon(round, ErrQuorumNotReached)
		return 0, false, nil
	}

	if e.store != nil {
		if err := e.store.SaveBundle(bundle); err != nil {
			e.log.Errorw("bundle_persist_failed", "round", round, "err", err)
		}
	}
	if e.wal != nil {
		e.wal.Append(fmt.Sprintf("commit round=%d height=%d digest=%s signers=%d",
			round, height, bundle.ResultDigest.Hex(), len(signers)))
	}
	if proposer.ID == e.cfg.Self && e.settle != nil {
		if err := e.settle.Submit(ctx, bundle); err != nil {
			e.log.Errorw("settlement_submit_failed", "round", round, "err", err)
		}
	}

	e.mu.Lock()
	e.phase = PhaseCommitted
	e.round = round + 1
	e.gcRound(round)
	e.mu.Unlock()

	e.log.Infow("round_committed",
		"round", round,
		"height", height,
		"digest", bundle.ResultDigest.Hex(),
		"fills", len(bundle.Result.FilledHashes()),
		"signers", len(signers),
	)
	if e.Metrics != nil {
		e.Metrics.RoundCommitted()
	}
	if e.OnCommit != nil {
		e.OnCommit(ctx, bundle)
	}
	return 0, true, nil
}

func (e *Engine) propose(
	ctx context.Context,
	round, height uint64,
	snapDigest, resultDigest common.Hash,
	result *matching.ClearingResult,
) error {
	prop := Proposal{
		Round:          round,
		Height:         height,
		Proposer:       e.cfg.Self,
		SnapshotDigest: snapDigest,
		ResultDigest:   resultDigest,
		Result:         *result,
	}
	sig, err := e.cfg.Signer.Sign(prop.SigningHash().Bytes())
	if err != nil {
		return fmt.Errorf("sign proposal: %w", err)
	}
	prop.Signature = sig
	e.storeProposal(&prop)
	e.log.Infow("proposal_broadcast", "round", round, "height", height, "digest", resultDigest.Hex())
	return e.net.BroadcastProposal(ctx, prop)
}

// abandon performs the view-change: log, advance the round so the proposer
// rotates, drop the dead round's tallies.
func (e *Engine) abandon(round uint64, reason error) {
	e.mu.Lock()
	e.phase = PhaseAbandoned
	e.round = round + 1
	e.gcRound(round)
	e.mu.Unlock()
	e.log.Infow("round_abandoned", "round", round, "reason", reason.Error())
	if e.wal != nil {
		e.wal.Append(fmt.Sprintf("abandon round=%d reason=%s", round, reason))
	}
	if e.Metrics != nil {
		e.Metrics.RoundAbandoned(reason.Error())
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// gcRound drops tallies for the finished round and anything older. Late
// traffic for those rounds is dropped on intake.
func (e *Engine) gcRound(round uint64) {
	for r := range e.proposals {
		if r <= round {
			delete(e.proposals, r)
		}
	}
	for r := range e.prevotes {
		if r <= round {
			delete(e.prevotes, r)
		}
	}
	for r := range e.precommits {
		if r <= round {
			delete(e.precommits, r)
		}
	}
}

func ctxErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func verifyBundleSignature(b *Bundle, committee Committee) bool {
	pks := make([]*crypto.BLSPubKey, 0, len(b.Signers))
	for _, id := range b.Signers {
		m, ok := committee.Member(id)
		if !ok || m.BLSPub == nil {
			return false
		}
		pks = append(pks, m.BLSPub)
	}
	return crypto.VerifyAggregate(pks, b.CommitDigest().Bytes(), b.AggSignature)
}
