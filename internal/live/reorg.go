package live

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

const (
	defaultReorgWindow   = 64
	defaultReorgInterval = time.Minute
)

// HashSource returns canonical block hashes.
type HashSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockHashes(ctx context.Context, numbers []uint64) (map[uint64]common.Hash, error)
}

// ReorgConfig bounds the trailing window that is re-verified.
type ReorgConfig struct {
	Window   uint64
	Interval time.Duration
}

// Reorg describes one pass that found stored events on an abandoned fork.
type Reorg struct {
	ForkBlock  uint64
	LastBlock  uint64
	Retracted  int
	DetectedAt time.Time
}

// ReorgChecker compares the block hashes of recent events with the canonical
// chain and retracts events whose block was replaced.
type ReorgChecker struct {
	cfg    ReorgConfig
	source HashSource
	store  *store.EventStore
	feed   *Feed
	logger *zap.Logger
}

// NewReorgChecker creates a checker. Retracted ranges are replayed through
// feed so replacement events on the new fork are merged.
func NewReorgChecker(cfg ReorgConfig, source HashSource, st *store.EventStore, feed *Feed, logger *zap.Logger) *ReorgChecker {
	if cfg.Window == 0 {
		cfg.Window = defaultReorgWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReorgInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReorgChecker{cfg: cfg, source: source, store: st, feed: feed, logger: logger}
}

// Run checks every Interval until ctx is cancelled.
func (c *ReorgChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("reorg check failed", zap.Error(err))
			}
		}
	}
}

// Check runs one verification pass. It returns nil when nothing changed.
func (c *ReorgChecker) Check(ctx context.Context) (*Reorg, error) {
	head, err := c.source.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	var floor uint64
	if head > c.cfg.Window {
		floor = head - c.cfg.Window
	}

	recent := c.store.Since(floor)
	if len(recent) == 0 {
		return nil, nil
	}

	blocks := distinctBlocks(recent)
	canonical, err := c.source.BlockHashes(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("block hashes [%d, %d]: %w", blocks[0], blocks[len(blocks)-1], err)
	}

	var (
		stale     []model.EventKey
		forkBlock uint64
		lastBlock uint64
	)
	for _, ev := range recent {
		hash, ok := canonical[ev.BlockNumber]
		if !ok || ev.BlockHash == "" {
			continue
		}
		if strings.EqualFold(hash.Hex(), ev.BlockHash) {
			continue
		}
		stale = append(stale, ev.Key())
		if forkBlock == 0 || ev.BlockNumber < forkBlock {
			forkBlock = ev.BlockNumber
		}
		if ev.BlockNumber > lastBlock {
			lastBlock = ev.BlockNumber
		}
		c.logger.Info("stored event is on an abandoned fork",
			zap.String("tx_hash", ev.TxHash),
			zap.Uint64("block_number", ev.BlockNumber),
			zap.String("expected_hash", ev.BlockHash),
			zap.String("actual_hash", hash.Hex()),
		)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	retracted := c.store.Retract(stale)
	metrics.ReorgRetractions.Add(float64(retracted))
	metrics.StoreEvents.Set(float64(c.store.Len()))
	if c.feed != nil {
		c.feed.merger.notify()
	}

	reorg := &Reorg{
		ForkBlock:  forkBlock,
		LastBlock:  lastBlock,
		Retracted:  retracted,
		DetectedAt: time.Now().UTC(),
	}
	c.logger.Warn("reorg detected",
		zap.Uint64("fork_block", forkBlock),
		zap.Uint64("last_block", lastBlock),
		zap.Int("retracted", retracted),
	)

	if c.feed != nil {
		if err := c.feed.Replay(ctx, forkBlock, lastBlock); err != nil {
			return reorg, fmt.Errorf("replay [%d, %d]: %w", forkBlock, lastBlock, err)
		}
	}
	return reorg, nil
}

func distinctBlocks(evs []model.ChainEvent) []uint64 {
	seen := make(map[uint64]struct{}, len(evs))
	out := make([]uint64, 0, len(evs))
	for _, ev := range evs {
		if _, ok := seen[ev.BlockNumber]; ok {
			continue
		}
		seen[ev.BlockNumber] = struct{}{}
		out = append(out, ev.BlockNumber)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
