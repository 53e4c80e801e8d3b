package api

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/0xnonso/angstrom/pkg/amm"
	"github.com/0xnonso/angstrom/pkg/order"
)

// SubmitOrderRequest is the POST /orders body. The signature is the 65-byte
// EIP-712 signature, hex encoded.
type SubmitOrderRequest struct {
	Order     order.Order   `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

type SubmitOrderResponse struct {
	Status    string `json:"status"`
	OrderHash string `json:"orderHash"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type PoolInfo struct {
	ID          uint64 `json:"id"`
	Asset0      string `json:"asset0"`
	Asset1      string `json:"asset1"`
	TickSpacing uint16 `json:"tickSpacing"`
	FeePercent  string `json:"feePercent"`
}

type NodeStatus struct {
	Height        uint64 `json:"height"`
	Round         uint64 `json:"round"`
	Phase         string `json:"phase"`
	ResidentCount int    `json:"residentOrders"`
	Pools         int    `json:"pools"`
}

type FillInfo struct {
	OrderHash string `json:"orderHash"`
	Side      string `json:"side"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price"`
}

type PoolOutcome struct {
	PoolID        uint64     `json:"poolId"`
	ClearingPrice string     `json:"clearingPrice"`
	Fills         []FillInfo `json:"fills"`
	ToBFill       *FillInfo  `json:"tobFill,omitempty"`
}

type BundleInfo struct {
	Height           uint64        `json:"height"`
	Round            uint64        `json:"round"`
	CommitteeVersion uint64        `json:"committeeVersion"`
	SnapshotDigest   string        `json:"snapshotDigest"`
	ResultDigest     string        `json:"resultDigest"`
	Signers          []string      `json:"signers"`
	Outcomes         []PoolOutcome `json:"outcomes"`
}

// BundleEvent is pushed over the websocket on every commit.
type BundleEvent struct {
	Type   string     `json:"type"`
	Bundle BundleInfo `json:"bundle"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// tickPrice renders an integer price tick as a human decimal.
func tickPrice(tick int64) string {
	return decimal.NewFromInt(tick).Div(decimal.NewFromInt(amm.PriceScale)).String()
}

// feePercent renders a parts-per-million fee as a percentage.
func feePercent(feeInE6 uint32) string {
	return decimal.NewFromInt(int64(feeInE6)).Div(decimal.NewFromInt(10_000)).String()
}
