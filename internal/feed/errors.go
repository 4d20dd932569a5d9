package feed

import "errors"

// Sentinel errors, following libs/marketdata/errors.go's convention of
// package-level errors.New vars wrapped with %w at call sites.
var (
	ErrUnknownFeedCode   = errors.New("feed: unknown feed code")
	ErrFrameTooShort     = errors.New("feed: frame shorter than declared packet size")
	ErrNotConnected      = errors.New("feed: not connected")
	ErrServerDisconnect  = errors.New("feed: server-initiated disconnection")
	ErrAuthClassDisconnect = errors.New("feed: auth-class disconnection, not reconnecting")
	ErrReconnectExhausted = errors.New("feed: reconnect attempts exhausted")
	ErrTooManyInstruments = errors.New("feed: instrument count exceeds vendor limit")
)

// DisconnectReason is the decoded reason code from a 50 Disconnection
// packet.
type DisconnectReason uint16

const (
	ReasonUnknown            DisconnectReason = 0
	ReasonDuplicateConnection DisconnectReason = 805
	ReasonInvalidToken       DisconnectReason = 806
	ReasonExpiredToken       DisconnectReason = 807
	ReasonInvalidClient      DisconnectReason = 808
	ReasonMaxConnections     DisconnectReason = 809
	ReasonSubscriptionLimit  DisconnectReason = 810
	ReasonClientTimeout      DisconnectReason = 811
	ReasonServerMaintenance  DisconnectReason = 812
)

// IsAuthClass reports whether the reason is terminal and must not trigger
// an automatic reconnect (spec.md §4.1, §7).
func (r DisconnectReason) IsAuthClass() bool {
	switch r {
	case ReasonDuplicateConnection, ReasonInvalidToken, ReasonExpiredToken,
		ReasonInvalidClient, ReasonMaxConnections, ReasonSubscriptionLimit:
		return true
	default:
		return false
	}
}

func (r DisconnectReason) String() string {
	switch r {
	case ReasonDuplicateConnection:
		return "duplicate connection"
	case ReasonInvalidToken:
		return "invalid token"
	case ReasonExpiredToken:
		return "expired token"
	case ReasonInvalidClient:
		return "invalid client"
	case ReasonMaxConnections:
		return "max connections reached"
	case ReasonSubscriptionLimit:
		return "subscription limit exceeded"
	case ReasonClientTimeout:
		return "client timeout"
	case ReasonServerMaintenance:
		return "server maintenance"
	default:
		return "unknown"
	}
}
