// Package settlement pushes quorum-signed bundles to the settlement
// contract. Submission is best-effort from the sidecar's point of view:
// a failed send is logged and retried by a later round's proposer, never
// escalated into a consensus fault.
package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/consensus"
)

// Nop discards bundles. Used by non-submitting deployments and tests.
type Nop struct{}

func (Nop) Submit(context.Context, *consensus.Bundle) error { return nil }

// Logging wraps a submitter and records outcomes.
type Logging struct {
	Next consensus.Settlement
	Log  *zap.SugaredLogger
}

func (l Logging) Submit(ctx context.Context, b *consensus.Bundle) error {
	err := l.Next.Submit(ctx, b)
	if err != nil {
		l.Log.Errorw("bundle_submit_failed", "height", b.Height, "round", b.Round, "err", err)
		return err
	}
	l.Log.Infow("bundle_submitted", "height", b.Height, "round", b.Round, "result_digest", b.ResultDigest.Hex())
	return nil
}

var (
	_ consensus.Settlement = Nop{}
	_ consensus.Settlement = Logging{}
)
