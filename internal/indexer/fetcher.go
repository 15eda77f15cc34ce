package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tokenScope/internal/backoff"
	"tokenScope/internal/chain"
	"tokenScope/internal/contract"
	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
)

// ErrSyncIncomplete is reported when some ranges or timestamps are missing.
var ErrSyncIncomplete = errors.New("sync incomplete")

// ChainReader is the subset of the chain client the fetcher needs.
type ChainReader interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error)
}

// FetchConfig tunes the historical fetch.
type FetchConfig struct {
	ChunkSize          uint64
	MinChunkSize       uint64
	MaxHalvings        int
	Backoff            backoff.Policy
	TimestampBatchSize int
	TimestampWorkers   int
	Limiter            *rate.Limiter
}

// Result is the outcome of a historical fetch. Events are ordered newest
// first and all carry a block timestamp.
type Result struct {
	FromBlock     uint64
	ToBlock       uint64
	Events        []model.ChainEvent
	Gaps          []model.BlockRange
	TimestampGaps []uint64
	DecodeErrors  []model.DecodeError
	Requests      int
}

// Complete reports whether every range and timestamp was retrieved.
func (r Result) Complete() bool {
	return len(r.Gaps) == 0 && len(r.TimestampGaps) == 0
}

// Err returns ErrSyncIncomplete with a gap summary for partial results.
func (r Result) Err() error {
	if r.Complete() {
		return nil
	}
	return fmt.Errorf("%w: %d range gaps, %d blocks without timestamp", ErrSyncIncomplete, len(r.Gaps), len(r.TimestampGaps))
}

// Fetcher backfills TokenCreated events over a block range.
type Fetcher struct {
	cfg     FetchConfig
	chain   ChainReader
	decoder *contract.Decoder
	logger  *zap.Logger
}

// NewFetcher builds a Fetcher with its dependencies.
func NewFetcher(cfg FetchConfig, reader ChainReader, decoder *contract.Decoder, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 1
	}
	if cfg.TimestampBatchSize <= 0 {
		cfg.TimestampBatchSize = 100
	}
	if cfg.TimestampWorkers <= 0 {
		cfg.TimestampWorkers = 1
	}
	return &Fetcher{cfg: cfg, chain: reader, decoder: decoder, logger: logger}
}

// FetchAll retrieves logs chunk by chunk, then resolves block timestamps in
// a second phase. Failed ranges become gaps instead of aborting; the only
// returned error is cancellation or invalid input.
func (f *Fetcher) FetchAll(ctx context.Context, from, to uint64) (Result, error) {
	res := Result{FromBlock: from, ToBlock: to}
	if f.chain == nil {
		return res, fmt.Errorf("chain client is nil")
	}
	if f.decoder == nil {
		return res, fmt.Errorf("decoder is nil")
	}

	chunks, err := SplitRange(from, to, f.cfg.ChunkSize)
	if err != nil {
		return res, err
	}

	seen := make(map[model.EventKey]struct{})
	var logs []types.Log
	for _, chunk := range chunks {
		f.logger.Info("fetch logs", zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))

		got, err := f.fetchChunk(ctx, chunk, &res)
		if err != nil {
			return res, err
		}
		for _, log := range got {
			key := model.NewEventKey(log.TxHash.Hex(), uint64(log.Index))
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			logs = append(logs, log)
		}

		f.logger.Info("chunk complete", zap.Int("logs", len(got)), zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))
	}

	timestamps, err := f.resolveTimestamps(ctx, logs, &res)
	if err != nil {
		return res, err
	}

	for _, log := range logs {
		ts, ok := timestamps[log.BlockNumber]
		if !ok {
			continue
		}
		ev, err := f.decoder.Decode(log)
		if err != nil {
			f.logger.Warn("decode failed", zap.String("tx_hash", log.TxHash.Hex()), zap.Uint("log_index", log.Index), zap.Error(err))
			res.DecodeErrors = append(res.DecodeErrors, contract.NewDecodeError(log, err))
			continue
		}
		ev.BlockTimestamp = ts
		res.Events = append(res.Events, ev)
	}

	sort.Slice(res.Events, func(i, j int) bool {
		return res.Events[i].Before(res.Events[j])
	})

	f.logger.Info("backfill complete",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(res.Events)),
		zap.Int("requests", res.Requests),
		zap.Int("gaps", len(res.Gaps)),
		zap.Int("timestamp_gaps", len(res.TimestampGaps)),
	)
	return res, nil
}

// fetchChunk walks one chunk, halving the request size on range or rate
// limit errors. Every sub-range gets its own halving budget, and the size
// doubles back toward the chunk size after each success. Shrinking back to
// the last size that worked does not count against the budget.
func (f *Fetcher) fetchChunk(ctx context.Context, chunk BlockRange, res *Result) ([]types.Log, error) {
	var out []types.Log
	ceiling := chunk.Size()
	size := ceiling
	var proven uint64
	halvings := 0
	cursor := chunk.From

	for cursor <= chunk.To {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := window(cursor, chunk.To, size).To

		res.Requests++
		logs, err := f.queryLogs(ctx, cursor, end)
		if err == nil {
			out = append(out, logs...)
			if end == chunk.To {
				break
			}
			cursor = end + 1
			halvings = 0
			proven = size
			size = grow(size, ceiling)
			continue
		}

		class := chain.Classify(err)
		switch class {
		case chain.ClassCanceled:
			return nil, err
		case chain.ClassRangeTooLarge, chain.ClassRateLimited:
			next := size / 2
			free := proven > 0 && size > proven
			if (free || halvings < f.cfg.MaxHalvings) && next >= f.cfg.MinChunkSize {
				if class == chain.ClassRateLimited {
					if err := f.cfg.Backoff.Sleep(ctx, uint(halvings+1)); err != nil {
						return nil, err
					}
				}
				if !free {
					halvings++
				}
				size = next
				metrics.ChunkHalvings.Inc()
				f.logger.Warn("shrinking log range",
					zap.String("reason", class.String()),
					zap.Uint64("from", cursor),
					zap.Uint64("chunk_size", size),
					zap.Error(err),
				)
				continue
			}
		}

		f.recordGap(res, BlockRange{From: cursor, To: end}, class, err)
		if end == chunk.To {
			break
		}
		cursor = end + 1
		halvings = 0
	}

	return out, nil
}

func grow(size, ceiling uint64) uint64 {
	if size >= ceiling/2 {
		return ceiling
	}
	return size * 2
}

func (f *Fetcher) recordGap(res *Result, gap BlockRange, class chain.ErrorClass, err error) {
	res.Gaps = append(res.Gaps, gap)
	metrics.SyncGaps.WithLabelValues("range").Inc()
	f.logger.Error("log range skipped",
		zap.Uint64("from", gap.From),
		zap.Uint64("to", gap.To),
		zap.String("reason", class.String()),
		zap.Error(err),
	)
}

func (f *Fetcher) queryLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	addresses := []common.Address{f.decoder.Address()}
	topics := []common.Hash{f.decoder.Topic0()}

	logs, err := backoff.Do(ctx, f.cfg.Backoff, f.logger, "eth_getLogs", chain.IsTransient, func(ctx context.Context) ([]types.Log, error) {
		if err := f.wait(ctx); err != nil {
			return nil, err
		}
		return f.chain.FilterLogs(ctx, from, to, addresses, topics)
	})
	metrics.RPCRequests.WithLabelValues("eth_getLogs", outcome(err)).Inc()
	return logs, err
}

// resolveTimestamps looks up every distinct block referenced by logs in
// batches spread over a bounded worker pool.
func (f *Fetcher) resolveTimestamps(ctx context.Context, logs []types.Log, res *Result) (map[uint64]uint64, error) {
	distinct := make(map[uint64]struct{})
	for _, log := range logs {
		distinct[log.BlockNumber] = struct{}{}
	}
	blocks := make([]uint64, 0, len(distinct))
	for n := range distinct {
		blocks = append(blocks, n)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	var (
		mu       sync.Mutex
		resolved = make(map[uint64]uint64, len(blocks))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.TimestampWorkers)
	for start := 0; start < len(blocks); start += f.cfg.TimestampBatchSize {
		end := start + f.cfg.TimestampBatchSize
		if end > len(blocks) {
			end = len(blocks)
		}
		batch := blocks[start:end]
		g.Go(func() error {
			got, err := f.resolveBatch(gctx, batch)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				f.logger.Warn("timestamp batch incomplete",
					zap.Uint64("from", batch[0]),
					zap.Uint64("to", batch[len(batch)-1]),
					zap.Int("resolved", len(got)),
					zap.Error(err),
				)
			}
			mu.Lock()
			for n, ts := range got {
				resolved[n] = ts
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, n := range blocks {
		if _, ok := resolved[n]; !ok {
			res.TimestampGaps = append(res.TimestampGaps, n)
			metrics.SyncGaps.WithLabelValues("timestamp").Inc()
		}
	}
	return resolved, nil
}

func (f *Fetcher) resolveBatch(ctx context.Context, batch []uint64) (map[uint64]uint64, error) {
	resolved := make(map[uint64]uint64, len(batch))
	pending := batch

	_, err := backoff.Do(ctx, f.cfg.Backoff, f.logger, "eth_getBlockByNumber", chain.IsRetryable, func(ctx context.Context) (struct{}, error) {
		if err := f.wait(ctx); err != nil {
			return struct{}{}, err
		}
		got, err := f.chain.BlockTimestamps(ctx, pending)
		metrics.RPCRequests.WithLabelValues("eth_getBlockByNumber", outcome(err)).Inc()
		for n, ts := range got {
			if ts > 0 {
				resolved[n] = ts
			}
		}
		pending = unresolved(pending, resolved)
		if err != nil {
			return struct{}{}, err
		}
		if len(pending) > 0 {
			return struct{}{}, fmt.Errorf("%w: %d", chain.ErrMissingBlocks, len(pending))
		}
		return struct{}{}, nil
	})
	return resolved, err
}

func unresolved(blocks []uint64, resolved map[uint64]uint64) []uint64 {
	out := make([]uint64, 0, len(blocks))
	for _, n := range blocks {
		if _, ok := resolved[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.cfg.Limiter == nil {
		return ctx.Err()
	}
	return f.cfg.Limiter.Wait(ctx)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return chain.Classify(err).String()
}
