package model

// BlockRange is an inclusive block interval.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Size returns the number of blocks in the range.
func (r BlockRange) Size() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// SyncPhase describes what the coordinator is currently doing.
type SyncPhase string

const (
	SyncIdle     SyncPhase = "idle"
	SyncBackfill SyncPhase = "backfill"
	SyncLive     SyncPhase = "live"
)

// SyncStatus reports progress and degraded state of the event sync.
// Complete is false when any range or block timestamp could not be fetched.
type SyncStatus struct {
	Generation    uint64       `json:"generation"`
	Phase         SyncPhase    `json:"phase"`
	Complete      bool         `json:"complete"`
	FromBlock     uint64       `json:"from_block"`
	ToBlock       uint64       `json:"to_block"`
	Gaps          []BlockRange `json:"gaps,omitempty"`
	TimestampGaps []uint64     `json:"timestamp_gaps,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	Events        int          `json:"events"`
}

// FactoryInfo is the factory contract state shown alongside the views.
type FactoryInfo struct {
	Address            string `json:"address"`
	BaseFee            string `json:"base_fee"`
	TotalTokensCreated string `json:"total_tokens_created"`
}
