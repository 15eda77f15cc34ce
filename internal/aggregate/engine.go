package aggregate

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

const (
	DefaultRecentLimit     = 10
	DefaultLeaderboardSize = 10
	ActivityDays           = 30
	dayKeyLayout           = "2006-01-02"
)

// Config sizes the derived views.
type Config struct {
	RecentLimit     int
	LeaderboardSize int
	Thresholds      []Threshold
	Logger          *zap.Logger
}

// Engine derives read views from store snapshots. It holds no state besides
// its configuration.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultLeaderboardSize
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Recompute builds all views for the snapshot as of now.
func (e *Engine) Recompute(snap store.Snapshot, now time.Time) model.Views {
	return model.Views{
		RecentItems:  e.recent(snap.Events),
		Leaderboard:  e.leaderboard(snap.Events),
		Activity:     activity(snap.Events, now),
		StoreVersion: snap.Version,
		ComputedAt:   now.UTC(),
	}
}

func (e *Engine) recent(events []model.ChainEvent) []model.ChainEvent {
	n := e.cfg.RecentLimit
	if n > len(events) {
		n = len(events)
	}
	out := make([]model.ChainEvent, n)
	copy(out, events[:n])
	return out
}

func (e *Engine) leaderboard(events []model.ChainEvent) []model.LeaderboardEntry {
	byCreator := make(map[string]*CreatorAccumulator)
	for _, ev := range events {
		acc, ok := byCreator[ev.CreatorAddress]
		if !ok {
			acc = NewCreatorAccumulator(ev.CreatorAddress)
			byCreator[ev.CreatorAddress] = acc
		}
		if err := acc.AddEvent(ev); err != nil {
			metrics.RejectedSupplies.Inc()
			e.logger.Warn("supply not counted",
				zap.String("tx_hash", ev.TxHash),
				zap.Uint64("log_index", ev.LogIndex),
				zap.String("creator", ev.CreatorAddress),
				zap.Error(err),
			)
		}
	}

	accs := make([]*CreatorAccumulator, 0, len(byCreator))
	for _, acc := range byCreator {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		if c := accs[i].TotalSupply.Cmp(accs[j].TotalSupply); c != 0 {
			return c > 0
		}
		return accs[i].Address < accs[j].Address
	})

	if len(accs) > e.cfg.LeaderboardSize {
		accs = accs[:e.cfg.LeaderboardSize]
	}

	out := make([]model.LeaderboardEntry, 0, len(accs))
	for i, acc := range accs {
		out = append(out, model.LeaderboardEntry{
			CreatorAddress: acc.Address,
			TotalSupply:    acc.TotalSupply.String(),
			TokensCreated:  acc.TokensCreated,
			Rank:           i + 1,
			BadgeTier:      tierFor(acc.TotalSupply, e.cfg.Thresholds),
		})
	}
	return out
}

// activity counts events per UTC day for the trailing ActivityDays days
// ending with the day containing now, oldest first.
func activity(events []model.ChainEvent, now time.Time) []model.ActivityBucket {
	today := startOfDay(now)
	first := today.AddDate(0, 0, -(ActivityDays - 1))

	buckets := make([]model.ActivityBucket, ActivityDays)
	for i := range buckets {
		buckets[i].DateKey = first.AddDate(0, 0, i).Format(dayKeyLayout)
	}

	for _, ev := range events {
		day := startOfDay(time.Unix(int64(ev.BlockTimestamp), 0))
		if day.Before(first) || day.After(today) {
			continue
		}
		idx := int(day.Sub(first) / (24 * time.Hour))
		buckets[idx].Count++
	}
	return buckets
}

// DayKey returns the UTC calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
