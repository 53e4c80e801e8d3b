package consensus

import "context"

// Handlers are the engine's inbound message entry points, registered with
// the network. Delivery is asynchronous and unordered; the engine dedupes
// and drops stale rounds itself.
type Handlers struct {
	OnProposal  func(ctx context.Context, p Proposal)
	OnPreVote   func(ctx context.Context, v PreVote)
	OnPreCommit func(ctx context.Context, c PreCommit)
}

// Network is the gossip boundary for consensus traffic. Implemented by the
// libp2p transport in production and a channel fabric in tests.
type Network interface {
	BroadcastProposal(ctx context.Context, p Proposal) error
	BroadcastPreVote(ctx context.Context, v PreVote) error
	BroadcastPreCommit(ctx context.Context, c PreCommit) error
	SetHandlers(h Handlers)
}
