// Package api is the node's HTTP surface: order submission, pool and
// bundle queries, websocket commit feeds, and the Prometheus endpoint.
// It sits strictly outside the deterministic core; nothing here touches
// consensus state except through read accessors.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/0xnonso/angstrom/pkg/consensus"
	"github.com/0xnonso/angstrom/pkg/crypto"
	"github.com/0xnonso/angstrom/pkg/matching"
	"github.com/0xnonso/angstrom/pkg/metrics"
	"github.com/0xnonso/angstrom/pkg/order"
	"github.com/0xnonso/angstrom/pkg/orderpool"
	"github.com/0xnonso/angstrom/pkg/registry"
	"github.com/0xnonso/angstrom/pkg/storage"
)

// EngineStatus is the read-only slice of the consensus engine the API needs.
type EngineStatus interface {
	Phase() consensus.Phase
	Round() uint64
}

// OrderPublisher gossips an admitted order to peers. Nil disables gossip
// (single-node dev runs).
type OrderPublisher func(so order.SignedOrder)

type Server struct {
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
	validator *order.Validator
	nonces    *order.NonceBook
	state     order.StateView
	pool      *orderpool.Pool
	reg       *registry.Registry
	bundles   storage.BundleReader
	engine    EngineStatus
	publish   OrderPublisher
	metrics   *metrics.Metrics
}

type ServerConfig struct {
	Validator *order.Validator
	Nonces    *order.NonceBook
	State     order.StateView
	Pool      *orderpool.Pool
	Registry  *registry.Registry
	Bundles   storage.BundleReader
	Engine    EngineStatus
	Publish   OrderPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger
}

func NewServer(cfg ServerConfig) *Server {
	// handlers touch the counters unconditionally
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	s := &Server{
		router:    mux.NewRouter(),
		hub:       NewHub(cfg.Logger),
		log:       cfg.Logger,
		validator: cfg.Validator,
		nonces:    cfg.Nonces,
		state:     cfg.State,
		pool:      cfg.Pool,
		reg:       cfg.Registry,
		bundles:   cfg.Bundles,
		engine:    cfg.Engine,
		publish:   cfg.Publish,
		metrics:   cfg.Metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/pools", s.handleGetPools).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/bundles/latest", s.handleGetLatestBundle).Methods("GET")
	api.HandleFunc("/bundles/{height:[0-9]+}", s.handleGetBundle).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler())
}

// Start serves until the listener fails. Callers run it in its own
// goroutine.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}

	so := order.SignedOrder{Order: req.Order, Signature: req.Signature}
	vo, rej := s.validator.Validate(so, s.state)
	if rej != nil {
		s.metrics.OrdersRejected.WithLabelValues(rej.Reason.String()).Inc()
		respondError(w, rejectionStatus(rej.Reason), rej.Reason.String(), rej.Detail)
		return
	}

	// Reserve before the pool sees the order so racing submissions with the
	// same (owner, nonce) resolve to one winner. A pool refusal releases the
	// reservation, leaving the nonce spendable.
	if !s.nonces.TryReserve(vo.Order.Owner, vo.Order.Nonce) {
		s.metrics.OrdersRejected.WithLabelValues(order.ReasonReplayedNonce.String()).Inc()
		respondError(w, rejectionStatus(order.ReasonReplayedNonce), order.ReasonReplayedNonce.String(),
			fmt.Sprintf("nonce %d already consumed", vo.Order.Nonce))
		return
	}
	if !s.pool.Admit(r.Context(), vo) {
		s.nonces.Release(vo.Order.Owner, vo.Order.Nonce)
		s.metrics.OrdersRejected.WithLabelValues("PoolFull").Inc()
		respondError(w, http.StatusTooManyRequests, "PoolFull", "order pool refused admission")
		return
	}
	s.metrics.OrdersAdmitted.Inc()
	s.metrics.PoolResident.Set(float64(s.pool.Len()))

	if s.publish != nil {
		s.publish(so)
	}

	s.log.Infow("order_admitted",
		"hash", vo.Hash.Hex(),
		"owner", crypto.EIP55(vo.Order.Owner.Bytes()),
		"pool", vo.PoolID,
		"side", side(vo.IsBid),
		"price", tickPrice(vo.Order.Price),
	)

	respondJSON(w, SubmitOrderResponse{Status: "admitted", OrderHash: vo.Hash.Hex()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if len(hash) != 66 {
		respondError(w, http.StatusBadRequest, "invalid order hash", "")
		return
	}
	vo, ok := s.pool.Get(hashFromHex(hash))
	if !ok {
		respondError(w, http.StatusNotFound, "order not resident", "")
		return
	}
	respondJSON(w, map[string]any{
		"order":  vo.Order,
		"hash":   vo.Hash.Hex(),
		"poolId": vo.PoolID,
		"side":   side(vo.IsBid),
	})
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := s.reg.Pools()
	out := make([]PoolInfo, len(pools))
	for i, p := range pools {
		out[i] = PoolInfo{
			ID:          p.ID,
			Asset0:      crypto.EIP55(p.Asset0.Bytes()),
			Asset1:      crypto.EIP55(p.Asset1.Bytes()),
			TickSpacing: p.TickSpacing,
			FeePercent:  feePercent(p.FeeInE6),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, NodeStatus{
		Height:        s.state.BlockNumber(),
		Round:         s.engine.Round(),
		Phase:         s.engine.Phase().String(),
		ResidentCount: s.pool.Len(),
		Pools:         s.reg.Len(),
	})
}

func (s *Server) handleGetLatestBundle(w http.ResponseWriter, r *http.Request) {
	h, ok := s.bundles.LatestHeight()
	if !ok {
		respondError(w, http.StatusNotFound, "no bundles committed", "")
		return
	}
	b, ok := s.bundles.GetBundle(h)
	if !ok {
		respondError(w, http.StatusNotFound, "no bundles committed", "")
		return
	}
	respondJSON(w, bundleInfo(b))
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	h, err := parseUint(mux.Vars(r)["height"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, ok := s.bundles.GetBundle(h)
	if !ok {
		respondError(w, http.StatusNotFound, "no bundle at height", "")
		return
	}
	respondJSON(w, bundleInfo(b))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// BroadcastBundle pushes a committed bundle to websocket subscribers of the
// "bundles" channel. Wired to the consensus OnCommit hook.
func (s *Server) BroadcastBundle(b *consensus.Bundle) {
	s.hub.BroadcastToChannel("bundles", BundleEvent{Type: "bundle", Bundle: bundleInfo(b)})
}

func bundleInfo(b *consensus.Bundle) BundleInfo {
	signers := make([]string, len(b.Signers))
	for i, id := range b.Signers {
		signers[i] = string(id)
	}
	info := BundleInfo{
		Height:           b.Height,
		Round:            b.Round,
		CommitteeVersion: b.CommitteeVersion,
		SnapshotDigest:   b.SnapshotDigest.Hex(),
		ResultDigest:     b.ResultDigest.Hex(),
		Signers:          signers,
	}
	for _, sol := range b.Result.Solutions {
		out := PoolOutcome{
			PoolID:        sol.PoolID,
			ClearingPrice: tickPrice(sol.ClearingTick),
			Fills:         make([]FillInfo, len(sol.Fills)),
		}
		for i, f := range sol.Fills {
			out.Fills[i] = fillInfo(f)
		}
		if sol.ToBFill != nil {
			fi := fillInfo(*sol.ToBFill)
			out.ToBFill = &fi
		}
		info.Outcomes = append(info.Outcomes, out)
	}
	return info
}

func fillInfo(f matching.Fill) FillInfo {
	return FillInfo{
		OrderHash: f.OrderHash.Hex(),
		Side:      side(f.IsBid),
		Quantity:  f.Quantity,
		Price:     tickPrice(f.Price),
	}
}

// rejectionStatus maps admission reasons onto HTTP status codes so clients
// can distinguish retryable refusals from permanent ones.
func rejectionStatus(r order.Reason) int {
	switch r {
	case order.ReasonBadSignature:
		return http.StatusUnauthorized
	case order.ReasonReplayedNonce, order.ReasonExpired:
		return http.StatusConflict
	case order.ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

func side(isBid bool) string {
	if isBid {
		return "bid"
	}
	return "ask"
}

func hashFromHex(s string) common.Hash { return common.HexToHash(s) }

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errStr, Message: message})
}
