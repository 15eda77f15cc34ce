package chain

import (
	"errors"
	"strings"
)

// ErrSubscriptionUnsupported is returned when subscribing over HTTP.
var ErrSubscriptionUnsupported = errors.New("rpc endpoint does not support subscriptions")

// SubscriptionMode defines the RPC connection type.
type SubscriptionMode int

const (
	WebSocketMode SubscriptionMode = iota
	HTTPPollingMode
)

// GetSubscriptionMode returns the mode implied by the RPC URL scheme.
func GetSubscriptionMode(rpcURL string) SubscriptionMode {
	lower := strings.ToLower(rpcURL)
	if strings.HasPrefix(lower, "wss://") || strings.HasPrefix(lower, "ws://") {
		return WebSocketMode
	}
	return HTTPPollingMode
}

func (m SubscriptionMode) String() string {
	switch m {
	case WebSocketMode:
		return "websocket"
	case HTTPPollingMode:
		return "http"
	default:
		return "unknown"
	}
}
