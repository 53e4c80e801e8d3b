// Package p2p is the gossip boundary: a libp2p gossipsub transport carrying
// the two logical topics the sidecar needs — validated-order gossip and
// consensus messages. Raw delivery, peer discovery and scoring live below
// this layer.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/consensus"
	"github.com/0xnonso/angstrom/pkg/order"
)

const (
	topicOrders    = "angstrom/orders/1"
	topicConsensus = "angstrom/consensus/1"
)

// OrderHandler receives orders gossiped by other committee members. They go
// through the same validation pipeline as RPC submissions.
type OrderHandler func(ctx context.Context, so order.SignedOrder)

type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tOrders, tConsensus     *pubsub.Topic
	subOrders, subConsensus *pubsub.Subscription

	muH      sync.RWMutex
	handlers consensus.Handlers
	onOrder  OrderHandler
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Config) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	net := &Libp2pNet{h: h, ps: ps, log: log}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(); err != nil {
		return nil, err
	}
	go net.handleOrders(ctx)
	go net.handleConsensus(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	var err error
	if n.tOrders, err = n.ps.Join(topicOrders); err != nil {
		return err
	}
	if n.tConsensus, err = n.ps.Join(topicConsensus); err != nil {
		return err
	}
	if n.subOrders, err = n.tOrders.Subscribe(); err != nil {
		return err
	}
	if n.subConsensus, err = n.tConsensus.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) Host() host.Host { return n.h }

func (n *Libp2pNet) SetHandlers(h consensus.Handlers) {
	n.muH.Lock()
	n.handlers = h
	n.muH.Unlock()
}

func (n *Libp2pNet) SetOrderHandler(h OrderHandler) {
	n.muH.Lock()
	n.onOrder = h
	n.muH.Unlock()
}

// PublishOrder re-gossips a validated order so every member converges on the
// same pool contents before the snapshot cutoff.
func (n *Libp2pNet) PublishOrder(ctx context.Context, so order.SignedOrder) error {
	data, err := gobEncode(so)
	if err != nil {
		return err
	}
	return n.tOrders.Publish(ctx, data)
}

func (n *Libp2pNet) BroadcastProposal(ctx context.Context, p consensus.Proposal) error {
	return n.publishConsensus(ctx, kindProposal, p.Round, p.Height, p)
}

func (n *Libp2pNet) BroadcastPreVote(ctx context.Context, v consensus.PreVote) error {
	return n.publishConsensus(ctx, kindPreVote, v.Round, v.Height, v)
}

func (n *Libp2pNet) BroadcastPreCommit(ctx context.Context, c consensus.PreCommit) error {
	return n.publishConsensus(ctx, kindPreCommit, c.Round, c.Height, c)
}

func (n *Libp2pNet) publishConsensus(ctx context.Context, kind uint8, round, height uint64, msg any) error {
	payload, err := gobEncode(msg)
	if err != nil {
		return err
	}
	data, err := gobEncode(Envelope{Kind: kind, Round: round, Height: height, Payload: payload})
	if err != nil {
		return err
	}
	return n.tConsensus.Publish(ctx, data)
}

func (n *Libp2pNet) handleOrders(ctx context.Context) {
	for {
		msg, err := n.subOrders.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue // our own publication
		}
		var so order.SignedOrder
		if err := gobDecode(msg.Data, &so); err != nil {
			continue
		}
		n.muH.RLock()
		h := n.onOrder
		n.muH.RUnlock()
		if h != nil {
			h(ctx, so)
		}
	}
}

func (n *Libp2pNet) handleConsensus(ctx context.Context) {
	for {
		msg, err := n.subConsensus.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var env Envelope
		if err := gobDecode(msg.Data, &env); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()

		switch env.Kind {
		case kindProposal:
			var p consensus.Proposal
			if gobDecode(env.Payload, &p) == nil && h.OnProposal != nil {
				h.OnProposal(ctx, p)
			}
		case kindPreVote:
			var v consensus.PreVote
			if gobDecode(env.Payload, &v) == nil && h.OnPreVote != nil {
				h.OnPreVote(ctx, v)
			}
		case kindPreCommit:
			var c consensus.PreCommit
			if gobDecode(env.Payload, &c) == nil && h.OnPreCommit != nil {
				h.OnPreCommit(ctx, c)
			}
		}
	}
}

var _ consensus.Network = (*Libp2pNet)(nil)
