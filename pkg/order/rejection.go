package order

import "fmt"

// Reason classifies why admission refused an order. Reasons are user-facing:
// the RPC layer returns them verbatim so submitters can tell a bad signature
// from a spent balance.
type Reason uint8

const (
	ReasonMalformed Reason = iota + 1
	ReasonMalformedPrice
	ReasonUnknownPool
	ReasonBadSignature
	ReasonExpired
	ReasonReplayedNonce
	ReasonInsufficientBalance
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "Malformed"
	case ReasonMalformedPrice:
		return "MalformedPrice"
	case ReasonUnknownPool:
		return "UnknownPool"
	case ReasonBadSignature:
		return "BadSignature"
	case ReasonExpired:
		return "Expired"
	case ReasonReplayedNonce:
		return "ReplayedNonce"
	case ReasonInsufficientBalance:
		return "InsufficientBalance"
	default:
		return "Unknown"
	}
}

// Rejection is the order-level, non-fatal error. It never halts the pool.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return r.Reason.String()
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
