package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tokenScope/internal/aggregate"
	"tokenScope/internal/live"
	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

// ErrNotStarted is returned by Resync before Start was called.
var ErrNotStarted = errors.New("runner not started")

// HeadReader resolves the current chain head.
type HeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// RunConfig holds runtime settings for the sync coordinator.
type RunConfig struct {
	FromBlock uint64
	// ToBlock bounds the backfill; zero means the head at start time.
	ToBlock uint64
	// RefreshInterval is how often the views are checked for a new UTC day
	// while the store is idle.
	RefreshInterval time.Duration
}

const defaultRefreshInterval = time.Minute

// Runner coordinates the historical backfill, the live feed and the derived
// views. Every backfill runs under a generation number; results from a
// superseded generation are dropped.
type Runner struct {
	cfg     RunConfig
	head    HeadReader
	fetcher *Fetcher
	store   *store.EventStore
	engine  *aggregate.Engine
	feed    *live.Feed
	reorg   *live.ReorgChecker
	logger  *zap.Logger
	now     func() time.Time

	mu         sync.Mutex
	runCtx     context.Context
	generation uint64
	cancelSync context.CancelFunc
	status     model.SyncStatus
	listeners  []func(model.Views)
	onBackfill []func(Result)
	wg         sync.WaitGroup

	refreshMu    sync.Mutex
	published    uint64
	publishedDay string
	views     atomic.Pointer[model.Views]
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(
	cfg RunConfig,
	head HeadReader,
	fetcher *Fetcher,
	st *store.EventStore,
	engine *aggregate.Engine,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	return &Runner{
		cfg:     cfg,
		head:    head,
		fetcher: fetcher,
		store:   st,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
		status:  model.SyncStatus{Phase: model.SyncIdle},
	}
}

// UseLive attaches the live feed and the reorg checker. Either may be nil.
func (r *Runner) UseLive(feed *live.Feed, reorg *live.ReorgChecker) {
	r.feed = feed
	r.reorg = reorg
}

// Subscribe registers fn to receive every published view set.
func (r *Runner) Subscribe(fn func(model.Views)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// OnBackfill registers fn to receive every applied backfill result.
func (r *Runner) OnBackfill(fn func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBackfill = append(r.onBackfill, fn)
}

// Start runs the first backfill alongside the live feed and blocks until ctx
// is cancelled. Live events that arrive during the backfill are merged right
// away; the backfill batch deduplicates against them.
func (r *Runner) Start(ctx context.Context) error {
	if r.fetcher == nil || r.store == nil || r.engine == nil {
		return fmt.Errorf("runner is missing fetcher, store or engine")
	}
	to, err := r.target(ctx)
	if err != nil {
		return err
	}
	if r.cfg.FromBlock > to {
		return fmt.Errorf("from block %d is after to block %d", r.cfg.FromBlock, to)
	}

	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	r.Refresh()

	g, gctx := errgroup.WithContext(ctx)
	if r.feed != nil {
		g.Go(func() error { return r.feed.Run(gctx, to+1) })
	}
	if r.reorg != nil {
		g.Go(func() error { return r.reorg.Run(gctx) })
	}
	g.Go(func() error { return r.refreshLoop(gctx) })

	r.startBackfill(gctx, r.cfg.FromBlock, to)

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()
	r.wg.Wait()
	return err
}

// Resync cancels the running backfill, if any, and starts a new generation
// over the configured range up to the current head.
func (r *Runner) Resync(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	runCtx := r.runCtx
	r.mu.Unlock()
	if runCtx == nil {
		return 0, ErrNotStarted
	}
	if runCtx.Err() != nil {
		return 0, runCtx.Err()
	}

	to, err := r.target(ctx)
	if err != nil {
		return 0, err
	}
	return r.startBackfill(runCtx, r.cfg.FromBlock, to), nil
}

// Generation returns the current backfill generation.
func (r *Runner) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Status returns a copy of the sync status.
func (r *Runner) Status() model.SyncStatus {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	status.Gaps = append([]model.BlockRange(nil), status.Gaps...)
	status.TimestampGaps = append([]uint64(nil), status.TimestampGaps...)
	status.Events = r.store.Len()
	return status
}

// Views returns the last published views, or nil before the first publish.
func (r *Runner) Views() *model.Views {
	return r.views.Load()
}

// Refresh recomputes the views when the store changed since the last
// publish or the UTC day rolled over. It is safe to call from any goroutine.
func (r *Runner) Refresh() {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	now := r.now()
	day := aggregate.DayKey(now)
	snap := r.store.Snapshot()
	if r.views.Load() != nil && snap.Version <= r.published && day == r.publishedDay {
		return
	}

	start := time.Now()
	views := r.engine.Recompute(snap, now)
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	metrics.StoreEvents.Set(float64(len(snap.Events)))

	r.published = snap.Version
	r.publishedDay = day
	r.views.Store(&views)

	r.mu.Lock()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(views)
	}

	r.logger.Debug("views published",
		zap.Uint64("store_version", snap.Version),
		zap.Int("events", len(snap.Events)),
	)
}

// refreshLoop keeps the activity window sliding across midnight when no
// events arrive.
func (r *Runner) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Refresh()
		}
	}
}

func (r *Runner) target(ctx context.Context) (uint64, error) {
	if r.cfg.ToBlock != 0 {
		return r.cfg.ToBlock, nil
	}
	if r.head == nil {
		return 0, fmt.Errorf("head reader is nil")
	}
	latest, err := r.head.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return latest, nil
}

func (r *Runner) startBackfill(parent context.Context, from, to uint64) uint64 {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if r.cancelSync != nil {
		r.cancelSync()
	}
	r.generation++
	gen := r.generation
	r.cancelSync = cancel
	r.status = model.SyncStatus{
		Generation: gen,
		Phase:      model.SyncBackfill,
		FromBlock:  from,
		ToBlock:    to,
	}
	r.mu.Unlock()

	r.logger.Info("backfill start",
		zap.Uint64("generation", gen),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.backfill(ctx, gen, from, to)
	}()
	return gen
}

func (r *Runner) backfill(ctx context.Context, gen, from, to uint64) {
	res, err := r.fetcher.FetchAll(ctx, from, to)
	if err != nil {
		r.mu.Lock()
		current := gen == r.generation
		if current {
			r.status.LastError = err.Error()
		}
		r.mu.Unlock()
		if current && !errors.Is(err, context.Canceled) {
			r.logger.Error("backfill failed", zap.Uint64("generation", gen), zap.Error(err))
		} else {
			r.logger.Info("backfill cancelled", zap.Uint64("generation", gen))
		}
		return
	}

	if !r.isCurrent(gen) {
		r.discard(gen, res)
		return
	}
	// Store watchers may write to external sinks, so the insert runs outside
	// r.mu and the generation is checked again before the status changes.
	added := r.store.InsertBatch(res.Events)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.discard(gen, res)
		// The inserted events are still canonical; keep the views current.
		r.Refresh()
		return
	}
	r.status.Phase = model.SyncLive
	r.status.Complete = res.Complete()
	r.status.Gaps = MergeRanges(res.Gaps)
	r.status.TimestampGaps = res.TimestampGaps
	r.status.LastError = ""
	if err := res.Err(); err != nil {
		r.status.LastError = err.Error()
	}
	r.cancelSync = nil
	hooks := slices.Clone(r.onBackfill)
	r.mu.Unlock()

	r.logger.Info("backfill applied",
		zap.Uint64("generation", gen),
		zap.Int("events", len(res.Events)),
		zap.Int("added", added),
		zap.Bool("complete", res.Complete()),
	)
	if !res.Complete() {
		r.logger.Warn("sync incomplete", zap.Error(res.Err()))
	}

	for _, fn := range hooks {
		fn(res)
	}
	r.Refresh()
}

func (r *Runner) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.generation
}

func (r *Runner) discard(gen uint64, res Result) {
	r.logger.Info("discard stale backfill result",
		zap.Uint64("generation", gen),
		zap.Int("events", len(res.Events)),
	)
}
