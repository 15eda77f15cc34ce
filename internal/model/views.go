package model

import "time"

// BadgeTier labels a creator by the total supply they created.
type BadgeTier string

const (
	BadgeNone      BadgeTier = ""
	BadgeCreator   BadgeTier = "creator"
	BadgePioneer   BadgeTier = "pioneer"
	BadgeArchitect BadgeTier = "architect"
)

// LeaderboardEntry is one ranked creator.
type LeaderboardEntry struct {
	CreatorAddress string    `json:"creator_address"`
	TotalSupply    string    `json:"total_supply"`
	TokensCreated  int       `json:"tokens_created"`
	Rank           int       `json:"rank"`
	BadgeTier      BadgeTier `json:"badge_tier,omitempty"`
}

// ActivityBucket counts creations for one UTC day.
type ActivityBucket struct {
	DateKey string `json:"date"`
	Count   int    `json:"count"`
}

// Views is the derived read model handed to the UI layer.
type Views struct {
	RecentItems  []ChainEvent       `json:"recent_items"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	Activity     []ActivityBucket   `json:"activity"`
	StoreVersion uint64             `json:"store_version"`
	ComputedAt   time.Time          `json:"computed_at"`
}
