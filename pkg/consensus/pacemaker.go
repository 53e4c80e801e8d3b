package consensus

import (
	"time"

	"github.com/0xnonso/angstrom/pkg/util"
)

// Timers bound every phase wait. Timeouts are the only forward-progress
// trigger under a stalled leader; there is no unbounded wait anywhere in a
// round.
type Timers struct {
	Propose   time.Duration // waiting for the leader's proposal
	PreVote   time.Duration // waiting for accept pre-vote quorum
	PreCommit time.Duration // waiting for pre-commit quorum
}

func DefaultTimers() Timers {
	return Timers{
		Propose:   500 * time.Millisecond,
		PreVote:   500 * time.Millisecond,
		PreCommit: 500 * time.Millisecond,
	}
}

// Pacemaker arms phase deadlines against an injectable clock so round
// timeout behavior is testable without wall-clock sleeps.
type Pacemaker struct {
	Timers Timers
	Clock  util.Clock
}

func NewPacemaker(timers Timers, clock util.Clock) *Pacemaker {
	return &Pacemaker{Timers: timers, Clock: clock}
}

func (p *Pacemaker) Deadline(phase Phase) <-chan time.Time {
	switch phase {
	case PhaseProposing:
		return p.Clock.After(p.Timers.Propose)
	case PhasePreVoting:
		return p.Clock.After(p.Timers.PreVote)
	case PhasePreCommitting:
		return p.Clock.After(p.Timers.PreCommit)
	default:
		return p.Clock.After(p.Timers.Propose)
	}
}
