package model

import (
	"fmt"
	"strings"
)

// ChainEvent is a decoded TokenCreated log enriched with its block timestamp.
type ChainEvent struct {
	TxHash         string `json:"tx_hash"`
	LogIndex       uint64 `json:"log_index"`
	BlockNumber    uint64 `json:"block_number"`
	BlockHash      string `json:"block_hash"`
	BlockTimestamp uint64 `json:"block_timestamp"`
	CreatorAddress string `json:"creator_address"`
	TokenAddress   string `json:"token_address"`
	TokenName      string `json:"token_name"`
	TokenSymbol    string `json:"token_symbol"`
	SupplyRaw      string `json:"supply_raw"`
}

// EventKey identifies a log across every delivery path.
type EventKey struct {
	TxHash   string
	LogIndex uint64
}

// NewEventKey normalizes the hash so keys from different sources compare equal.
func NewEventKey(txHash string, logIndex uint64) EventKey {
	return EventKey{TxHash: strings.ToLower(txHash), LogIndex: logIndex}
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// Key returns the identity key of the event.
func (e ChainEvent) Key() EventKey {
	return NewEventKey(e.TxHash, e.LogIndex)
}

// Before reports whether e sorts ahead of other in newest-first order.
func (e ChainEvent) Before(other ChainEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber > other.BlockNumber
	}
	return e.LogIndex > other.LogIndex
}
