package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tokenScope/internal/backoff"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultFeedChunk    = 2000
	subscriptionBuffer  = 128
)

// LogSource is the chain surface the feed reads from.
type LogSource interface {
	SupportsSubscriptions() bool
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

// FeedConfig controls how new logs are followed after the backfill.
type FeedConfig struct {
	PollInterval time.Duration
	// ChunkSize bounds every polling or catch-up eth_getLogs range.
	ChunkSize uint64
	// Reconnect spaces out resubscription attempts.
	Reconnect backoff.Policy
	Limiter   *rate.Limiter
}

// Feed follows new factory logs, over a subscription when the endpoint
// supports one and by polling otherwise, and hands them to the merger.
type Feed struct {
	cfg     FeedConfig
	source  LogSource
	merger  *Merger
	address common.Address
	topic0  common.Hash
	logger  *zap.Logger

	mu   sync.Mutex
	next uint64
}

// NewFeed creates a feed for the factory address and event topic.
func NewFeed(cfg FeedConfig, source LogSource, merger *Merger, address common.Address, topic0 common.Hash, logger *zap.Logger) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultFeedChunk
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		cfg:     cfg,
		source:  source,
		merger:  merger,
		address: address,
		topic0:  topic0,
		logger:  logger,
	}
}

// Cursor returns the next block the feed will query.
func (f *Feed) Cursor() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *Feed) setCursor(next uint64) {
	f.mu.Lock()
	if next > f.next {
		f.next = next
	}
	f.mu.Unlock()
}

func (f *Feed) rewind(block uint64) {
	f.mu.Lock()
	if block < f.next {
		f.next = block
	}
	f.mu.Unlock()
}

// Run follows logs starting at fromBlock until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, fromBlock uint64) error {
	f.mu.Lock()
	f.next = fromBlock
	f.mu.Unlock()

	if f.source.SupportsSubscriptions() {
		f.logger.Info("live feed start", zap.String("mode", "subscription"), zap.Uint64("from", fromBlock))
		return f.runSubscription(ctx)
	}
	f.logger.Info("live feed start",
		zap.String("mode", "polling"),
		zap.Uint64("from", fromBlock),
		zap.Duration("interval", f.cfg.PollInterval),
	)
	return f.runPolling(ctx)
}

func (f *Feed) runPolling(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	if err := f.catchUp(ctx); err != nil && ctx.Err() == nil {
		f.logger.Warn("poll failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.catchUp(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("poll failed", zap.Error(err))
			}
		}
	}
}

// catchUp queries from the cursor to the current head in bounded ranges.
// The cursor only advances past ranges that were fully merged.
func (f *Feed) catchUp(ctx context.Context) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	head, err := f.source.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	for next := f.Cursor(); next <= head; next = f.Cursor() {
		to := next + f.cfg.ChunkSize - 1
		if to > head {
			to = head
		}
		if err := f.wait(ctx); err != nil {
			return err
		}
		logs, err := f.source.FilterLogs(ctx, next, to, []common.Address{f.address}, []common.Hash{f.topic0})
		if err != nil {
			return fmt.Errorf("filter logs [%d, %d]: %w", next, to, err)
		}
		if err := f.merger.OnEvents(ctx, logs); err != nil {
			return fmt.Errorf("merge logs [%d, %d]: %w", next, to, err)
		}
		f.setCursor(to + 1)
	}
	return nil
}

// Replay re-reads a closed block range and merges it without moving the
// cursor. Used after a reorg retracted events in that range.
func (f *Feed) Replay(ctx context.Context, from, to uint64) error {
	for start := from; start <= to; {
		end := start + f.cfg.ChunkSize - 1
		if end > to || end < start {
			end = to
		}
		if err := f.wait(ctx); err != nil {
			return err
		}
		logs, err := f.source.FilterLogs(ctx, start, end, []common.Address{f.address}, []common.Hash{f.topic0})
		if err != nil {
			return fmt.Errorf("filter logs [%d, %d]: %w", start, end, err)
		}
		if err := f.merger.OnEvents(ctx, logs); err != nil {
			return fmt.Errorf("merge logs [%d, %d]: %w", start, end, err)
		}
		if end == to {
			break
		}
		start = end + 1
	}
	return nil
}

func (f *Feed) runSubscription(ctx context.Context) error {
	attempt := uint(0)
	for {
		delivered, err := f.subscribeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			attempt = 0
		}
		attempt++
		f.logger.Warn("log subscription lost, resubscribing",
			zap.Uint("attempt", attempt),
			zap.Uint64("from", f.Cursor()),
			zap.Error(err),
		)
		if err := f.cfg.Reconnect.Sleep(ctx, attempt); err != nil {
			return nil
		}
	}
}

// subscribeOnce opens a subscription, replays the range missed since the
// cursor and consumes logs until the subscription fails. It reports whether
// any log was merged.
func (f *Feed) subscribeOnce(ctx context.Context) (bool, error) {
	ch := make(chan types.Log, subscriptionBuffer)
	sub, err := f.source.SubscribeLogs(ctx, []common.Address{f.address}, []common.Hash{f.topic0}, ch)
	if err != nil {
		return false, fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	// Subscribe first so nothing mined during the catch-up is missed.
	if err := f.catchUp(ctx); err != nil {
		return false, err
	}

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return delivered, err
		case log := <-ch:
			if err := f.merger.OnEvent(ctx, log); err != nil {
				// Resubscribing replays from this block.
				f.rewind(log.BlockNumber)
				return delivered, fmt.Errorf("merge log at block %d: %w", log.BlockNumber, err)
			}
			delivered = true
			if !log.Removed {
				f.setCursor(log.BlockNumber)
			}
		}
	}
}

func (f *Feed) wait(ctx context.Context) error {
	if f.cfg.Limiter == nil {
		return ctx.Err()
	}
	return f.cfg.Limiter.Wait(ctx)
}
