package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

const defaultWriteTimeout = 10 * time.Second

// ViewMirror writes published views to a sink off the publish path. When the
// sink falls behind only the newest views are kept.
type ViewMirror struct {
	sink    ViewSink
	timeout time.Duration
	logger  *zap.Logger
	pending chan model.Views
}

func NewViewMirror(sink ViewSink, timeout time.Duration, logger *zap.Logger) *ViewMirror {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewMirror{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		pending: make(chan model.Views, 1),
	}
}

// Publish queues views for writing, replacing any views not yet written.
func (m *ViewMirror) Publish(views model.Views) {
	for {
		select {
		case m.pending <- views:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run writes queued views until ctx is cancelled.
func (m *ViewMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case views := <-m.pending:
			wctx, cancel := context.WithTimeout(ctx, m.timeout)
			err := m.sink.PutViews(wctx, views)
			cancel()
			if err != nil {
				m.logger.Warn("mirror views failed", zap.Uint64("store_version", views.StoreVersion), zap.Error(err))
				continue
			}
			m.logger.Debug("views mirrored", zap.Uint64("store_version", views.StoreVersion))
		}
	}
}

// MirrorEvents forwards every store change to the sinks. Writes happen on the
// mutating goroutine, bounded by timeout; failures are logged and skipped.
func MirrorEvents(st *store.EventStore, timeout time.Duration, logger *zap.Logger, sinks ...EventSink) {
	if len(sinks) == 0 {
		return
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st.Watch(func(change store.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		removed := make([]model.EventKey, len(change.Removed))
		for i, ev := range change.Removed {
			removed[i] = ev.Key()
		}
		for _, sink := range sinks {
			if err := sink.PutEvents(ctx, change.Added); err != nil {
				logger.Warn("mirror events failed", zap.Int("events", len(change.Added)), zap.Error(err))
			}
			if err := sink.RemoveEvents(ctx, removed); err != nil {
				logger.Warn("mirror retractions failed", zap.Int("events", len(removed)), zap.Error(err))
			}
		}
	})
}
