package live

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"tokenScope/internal/backoff"
	"tokenScope/internal/chain"
	"tokenScope/internal/contract"
	"tokenScope/internal/metrics"
	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

// ErrUndecodable is returned when factory logs in a receipt could not be
// decoded.
var ErrUndecodable = errors.New("undecodable factory logs")

// BlockReader is the chain surface the merger needs.
type BlockReader interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Merger applies individual logs to the event store as they arrive.
type Merger struct {
	reader   BlockReader
	decoder  *contract.Decoder
	store    *store.EventStore
	policy   backoff.Policy
	logger   *zap.Logger
	onChange func()

	mu       sync.Mutex
	onDecode []func([]model.DecodeError)
}

// NewMerger creates a merger. onChange is called after every call that
// mutated the store; it may be nil.
func NewMerger(
	reader BlockReader,
	decoder *contract.Decoder,
	st *store.EventStore,
	policy backoff.Policy,
	logger *zap.Logger,
	onChange func(),
) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		reader:   reader,
		decoder:  decoder,
		store:    st,
		policy:   policy,
		logger:   logger,
		onChange: onChange,
	}
}

// OnDecodeErrors registers fn to receive factory logs that failed to decode.
func (m *Merger) OnDecodeErrors(fn func([]model.DecodeError)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDecode = append(m.onDecode, fn)
}

// OnEvent merges a single log.
func (m *Merger) OnEvent(ctx context.Context, log types.Log) error {
	changed, err := m.apply(ctx, log, "log")
	if changed {
		m.notify()
	}
	return err
}

// OnEvents merges a batch of logs and notifies once. Processing continues
// past a failing log; the first error is returned.
func (m *Merger) OnEvents(ctx context.Context, logs []types.Log) error {
	var (
		changed  bool
		firstErr error
	)
	for _, log := range logs {
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}
		ok, err := m.apply(ctx, log, "log")
		changed = changed || ok
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if changed {
		m.notify()
	}
	return firstErr
}

// OnReceipt merges the factory events found in a mined receipt. Factory
// logs that fail to decode are reported and make the call return
// ErrUndecodable after the rest are merged.
func (m *Merger) OnReceipt(ctx context.Context, receipt *types.Receipt) (int, error) {
	if receipt == nil {
		return 0, errors.New("nil receipt")
	}
	events, failed := m.decoder.EventsFromReceipt(receipt)
	for _, f := range failed {
		metrics.LiveEvents.WithLabelValues("receipt", "undecodable").Inc()
		m.logger.Warn("decode receipt log failed",
			zap.String("tx_hash", f.TxHash),
			zap.Uint64("log_index", f.LogIndex),
			zap.String("error", f.Error),
		)
	}
	m.reportDecodeErrors(failed)

	added := 0
	var firstErr error
	for _, ev := range events {
		if m.store.Has(ev.Key()) {
			metrics.LiveEvents.WithLabelValues("receipt", "duplicate").Inc()
			continue
		}
		ok, err := m.merge(ctx, ev, "receipt")
		if ok {
			added++
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if added > 0 {
		m.notify()
	}
	if len(failed) > 0 {
		firstErr = errors.Join(firstErr, fmt.Errorf("%w: %d in %s", ErrUndecodable, len(failed), receipt.TxHash.Hex()))
	}
	return added, firstErr
}

// TrackTransaction waits for the receipt of a self-submitted transaction and
// merges its events. A receipt that is not available yet is retried with the
// backoff policy.
func (m *Merger) TrackTransaction(ctx context.Context, hash common.Hash) (int, error) {
	receipt, err := backoff.Do(ctx, m.policy, m.logger, "eth_getTransactionReceipt",
		func(err error) bool {
			return errors.Is(err, ethereum.NotFound) || chain.IsRetryable(err)
		},
		func(ctx context.Context) (*types.Receipt, error) {
			return m.reader.TransactionReceipt(ctx, hash)
		},
	)
	if err != nil {
		return 0, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("transaction %s reverted", hash.Hex())
	}
	return m.OnReceipt(ctx, receipt)
}

func (m *Merger) apply(ctx context.Context, log types.Log, source string) (bool, error) {
	if !m.decoder.CanDecode(log) {
		metrics.LiveEvents.WithLabelValues(source, "ignored").Inc()
		return false, nil
	}

	key := model.NewEventKey(log.TxHash.Hex(), uint64(log.Index))
	if log.Removed {
		n := m.store.Retract([]model.EventKey{key})
		if n > 0 {
			metrics.ReorgRetractions.Add(float64(n))
			metrics.StoreEvents.Set(float64(m.store.Len()))
			m.logger.Info("retracted removed log",
				zap.String("tx_hash", key.TxHash),
				zap.Uint64("log_index", key.LogIndex),
				zap.Uint64("block_number", log.BlockNumber),
			)
		}
		metrics.LiveEvents.WithLabelValues(source, "removed").Inc()
		return n > 0, nil
	}

	if m.store.Has(key) {
		metrics.LiveEvents.WithLabelValues(source, "duplicate").Inc()
		return false, nil
	}

	ev, err := m.decoder.Decode(log)
	if err != nil {
		metrics.LiveEvents.WithLabelValues(source, "undecodable").Inc()
		m.logger.Warn("decode live log failed",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Error(err),
		)
		m.reportDecodeErrors([]model.DecodeError{contract.NewDecodeError(log, err)})
		return false, nil
	}
	return m.merge(ctx, ev, source)
}

// merge resolves the block timestamp of a decoded event and inserts it.
func (m *Merger) merge(ctx context.Context, ev model.ChainEvent, source string) (bool, error) {
	key := ev.Key()
	ts, err := backoff.Do(ctx, m.policy, m.logger, "eth_getBlockByNumber", chain.IsRetryable,
		func(ctx context.Context) (uint64, error) {
			return m.reader.BlockTimestamp(ctx, ev.BlockNumber)
		},
	)
	if err != nil {
		metrics.LiveEvents.WithLabelValues(source, "failed").Inc()
		return false, fmt.Errorf("timestamp for block %d: %w", ev.BlockNumber, err)
	}
	ev.BlockTimestamp = ts

	added, err := m.store.Insert(ev)
	if err != nil {
		metrics.LiveEvents.WithLabelValues(source, "failed").Inc()
		return false, fmt.Errorf("insert %s: %w", key, err)
	}
	if !added {
		metrics.LiveEvents.WithLabelValues(source, "duplicate").Inc()
		return false, nil
	}

	metrics.LiveEvents.WithLabelValues(source, "inserted").Inc()
	metrics.StoreEvents.Set(float64(m.store.Len()))
	m.logger.Debug("merged live event",
		zap.String("tx_hash", ev.TxHash),
		zap.Uint64("block_number", ev.BlockNumber),
		zap.String("token", ev.TokenAddress),
	)
	return true, nil
}

func (m *Merger) reportDecodeErrors(errs []model.DecodeError) {
	if len(errs) == 0 {
		return
	}
	m.mu.Lock()
	hooks := slices.Clone(m.onDecode)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(errs)
	}
}

func (m *Merger) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}
