package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/0xnonso/angstrom/params"
	"github.com/0xnonso/angstrom/pkg/api"
	"github.com/0xnonso/angstrom/pkg/consensus"
	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/metrics"
	"github.com/0xnonso/angstrom/pkg/oracle"
	"github.com/0xnonso/angstrom/pkg/order"
	"github.com/0xnonso/angstrom/pkg/orderpool"
	"github.com/0xnonso/angstrom/pkg/p2p"
	"github.com/0xnonso/angstrom/pkg/registry"
	"github.com/0xnonso/angstrom/pkg/settlement"
	"github.com/0xnonso/angstrom/pkg/storage"
	"github.com/0xnonso/angstrom/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	os.MkdirAll(cfg.Node.DataDir, 0o755)

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Keys ----
	signer, err := crypto.FromPrivateKeyHex(cfg.Node.KeyHex)
	if err != nil {
		sugar.Fatalw("node_key_invalid", "err", err)
	}
	blsSeed := common.FromHex(cfg.Node.BLSSeed)
	if len(blsSeed) != 32 {
		sugar.Fatalw("bls_seed_invalid", "len", len(blsSeed))
	}
	bls := crypto.NewBLSSignerFromSeed(blsSeed)
	sugar.Infow("node_identity",
		"id", cfg.Node.ID,
		"address", signer.Address().Hex(),
		"bls_pubkey", bls.PubkeyHex(),
	)

	// ---- Chain oracle ----
	reg := registry.New()
	var chain oracle.Oracle
	var ethClient *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		ethClient, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			sugar.Fatalw("chain_dial_failed", "url", cfg.Chain.RPCURL, "err", err)
		}
		pairs, err := parsePairs(cfg.Chain.Pairs)
		if err != nil {
			sugar.Fatalw("chain_pairs_invalid", "err", err)
		}
		chain = oracle.NewEthOracle(ethClient, common.HexToAddress(cfg.Chain.Contract), pairs, reg, sugar)
	} else {
		sugar.Warn("no CHAIN_RPC_URL set, using simulated chain state")
		chain = oracle.NewSimOracle()
	}

	if pairs, words, err := chain.ConfigTable(ctx); err == nil {
		if err := reg.Update(chain.BlockNumber(), pairs, words); err != nil {
			sugar.Warnw("pool_config_invalid", "err", err)
		}
	} else {
		sugar.Warnw("pool_config_unavailable", "err", err)
	}

	// ---- Admission + pool ----
	domain := crypto.EIP712Domain{
		Name:              cfg.Chain.DomainName,
		Version:           "1",
		ChainID:           big.NewInt(cfg.Chain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Chain.Contract),
	}
	nonces := order.NewNonceBook()
	validator := order.NewValidator(domain, reg, nonces)
	pool := orderpool.New(orderpool.Config{
		MaxOrders:   cfg.Pool.MaxOrders,
		MaxPerOwner: cfg.Pool.MaxPerOwner,
	}, sugar)
	go pool.Run(ctx)

	// ---- Networking ----
	net, err := p2p.NewLibp2pNet(ctx, p2p.Config{
		ListenAddr: cfg.Node.P2PListen,
		Bootstrap:  cfg.Node.Bootstrap,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}
	net.SetOrderHandler(func(ctx context.Context, so order.SignedOrder) {
		vo, rej := validator.Validate(so, chain)
		if rej != nil {
			sugar.Debugw("gossip_order_rejected", "reason", rej.Reason.String())
			return
		}
		if !nonces.TryReserve(vo.Order.Owner, vo.Order.Nonce) {
			sugar.Debugw("gossip_order_rejected", "reason", order.ReasonReplayedNonce.String())
			return
		}
		if !pool.Admit(ctx, vo) {
			nonces.Release(vo.Order.Owner, vo.Order.Nonce)
		}
	})

	// ---- Committee ----
	committee, err := buildCommittee(cfg, signer, bls)
	if err != nil {
		sugar.Fatalw("committee_invalid", "err", err)
	}
	sugar.Infow("committee_loaded",
		"version", committee.Version,
		"members", len(committee.Members),
		"total_weight", committee.TotalWeight(),
		"quorum_weight", committee.QuorumWeight(),
	)

	// ---- Persistence ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "bundles"))
	if err != nil {
		sugar.Fatalw("bundle_store_failed", "err", err)
	}
	defer store.Close()

	var wal consensus.WAL = storage.NewNopWAL()
	if cfg.Node.WALEnabled {
		fw, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "consensus.wal"))
		if err != nil {
			sugar.Fatalw("wal_open_failed", "err", err)
		}
		defer fw.Close()
		wal = fw
	}

	// ---- Settlement ----
	var settle consensus.Settlement = settlement.Nop{}
	if cfg.Chain.Submit && ethClient != nil {
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.SubmitKey, "0x"))
		if err != nil {
			sugar.Fatalw("submit_key_invalid", "err", err)
		}
		settle = settlement.Logging{
			Next: settlement.NewEthSubmitter(ethClient, common.HexToAddress(cfg.Chain.Contract),
				key, big.NewInt(cfg.Chain.ChainID), sugar),
			Log: sugar,
		}
	}

	// ---- Consensus engine ----
	m := metrics.New()
	pm := consensus.NewPacemaker(consensus.Timers{
		Propose:   cfg.Consensus.ProposeTimeout,
		PreVote:   cfg.Consensus.PreVoteTimeout,
		PreCommit: cfg.Consensus.PreCommitTimeout,
	}, util.RealClock{})

	engine := consensus.NewEngine(
		consensus.Config{Self: consensus.NodeID(cfg.Node.ID), Signer: signer, BLS: bls},
		committee, pm, pool, chain, net, settle, store, wal, sugar,
	)
	engine.Metrics = m

	// ---- API ----
	apiServer := api.NewServer(api.ServerConfig{
		Validator: validator,
		Nonces:    nonces,
		State:     chain,
		Pool:      pool,
		Registry:  reg,
		Bundles:   store,
		Engine:    engine,
		Publish: func(so order.SignedOrder) {
			if err := net.PublishOrder(ctx, so); err != nil {
				sugar.Warnw("order_gossip_failed", "err", err)
			}
		},
		Metrics: m,
		Logger:  sugar,
	})
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Committed fills leave the pool; the websocket feed and metrics follow.
	engine.OnCommit = func(ctx context.Context, b *consensus.Bundle) {
		pool.EvictHashes(ctx, b.Result.FilledHashes())
		m.PoolResident.Set(float64(pool.Len()))
		apiServer.BroadcastBundle(b)
	}

	// ---- Block loop ----
	blocks, err := chain.SubscribeNewBlocks(ctx)
	if err != nil {
		sugar.Fatalw("block_subscription_failed", "err", err)
	}
	go func() {
		for ev := range blocks {
			if pairs, words, err := chain.ConfigTable(ctx); err == nil {
				if err := reg.Update(ev.Height, pairs, words); err != nil {
					sugar.Warnw("pool_config_invalid", "height", ev.Height, "err", err)
				}
			}
			expired := pool.EvictExpired(ctx, ev.Height)
			defunded := pool.Evict(ctx, func(vo *order.ValidOrder) bool {
				return validator.Revalidate(vo, chain) != nil
			})
			if expired+defunded > 0 {
				sugar.Infow("pool_pruned", "height", ev.Height, "expired", expired, "defunded", defunded)
			}
			m.PoolResident.Set(float64(pool.Len()))
			engine.NotifyNewBlock(ev.Height)
		}
	}()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"p2p_listen", cfg.Node.P2PListen,
		"single_node", cfg.Node.SingleNode,
	)

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("engine_failed", "err", err)
	}
}

// buildCommittee parses the configured members. With no COMMITTEE set the
// node runs a single-member committee of itself, which commits every round
// on its own quorum.
func buildCommittee(cfg params.Config, signer *crypto.Signer, bls *crypto.BLSSigner) (consensus.Committee, error) {
	c := consensus.Committee{Version: cfg.Consensus.CommitteeVersion}
	if len(cfg.Consensus.Members) == 0 {
		c.Members = []consensus.Member{{
			ID:      consensus.NodeID(cfg.Node.ID),
			Address: signer.Address(),
			Weight:  1,
			BLSPub:  bls.Pubkey(),
		}}
		return c, c.Validate()
	}
	for _, mc := range cfg.Consensus.Members {
		pk, err := crypto.BLSPubKeyFromHex(mc.BLSPub)
		if err != nil {
			return c, err
		}
		c.Members = append(c.Members, consensus.Member{
			ID:      consensus.NodeID(mc.ID),
			Address: common.HexToAddress(mc.Address),
			Weight:  mc.Weight,
			BLSPub:  pk,
		})
	}
	return c, c.Validate()
}

// parsePairs decodes "asset0:asset1" entries.
func parsePairs(raw []string) ([][2]common.Address, error) {
	out := make([][2]common.Address, 0, len(raw))
	for _, entry := range raw {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("bad pair entry %q, want asset0:asset1", entry)
		}
		out = append(out, [2]common.Address{
			common.HexToAddress(parts[0]),
			common.HexToAddress(parts[1]),
		})
	}
	return out, nil
}
