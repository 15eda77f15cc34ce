package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tokenScope/internal/aggregate"
	"tokenScope/internal/model"
	"tokenScope/internal/store"
)

type fixedHead uint64

func (h fixedHead) LatestBlockNumber(context.Context) (uint64, error) {
	return uint64(h), nil
}

func newTestRunner(t *testing.T, fc *fakeChain, logger *zap.Logger) (*Runner, *store.EventStore) {
	t.Helper()
	st := store.New()
	r := NewRunner(
		RunConfig{FromBlock: 1},
		fixedHead(45000),
		newTestFetcher(t, fc, FetchConfig{}),
		st,
		aggregate.NewEngine(aggregate.Config{}),
		logger,
	)
	r.now = func() time.Time { return time.Unix(1700050000, 0).UTC() }
	return r, st
}

func startRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func waitForBackfill(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, func() bool {
		views := r.Views()
		return r.Status().Phase == model.SyncLive && views != nil && views.StoreVersion > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerBackfillPublishesViews(t *testing.T) {
	r, _ := newTestRunner(t, newFakeChain(sampleLogs(t)), nil)

	var (
		mu        sync.Mutex
		published []model.Views
	)
	r.Subscribe(func(v model.Views) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, v)
	})

	startRunner(t, r)

	waitForBackfill(t, r)

	status := r.Status()
	require.True(t, status.Complete)
	require.Equal(t, uint64(1), status.Generation)
	require.Equal(t, uint64(45000), status.ToBlock)
	require.Equal(t, 6, status.Events)

	views := r.Views()
	require.NotNil(t, views)
	require.Len(t, views.RecentItems, 6)
	require.Equal(t, uint64(44999), views.RecentItems[0].BlockNumber)
	require.Len(t, views.Leaderboard, 1)
	require.Equal(t, "2100", views.Leaderboard[0].TotalSupply)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2, "initial empty views and the backfill")
	require.Less(t, published[0].StoreVersion, published[1].StoreVersion)
}

func TestRunnerReportsIncompleteSync(t *testing.T) {
	fc := newFakeChain(sampleLogs(t))
	fc.missingTS[30000] = true
	r, _ := newTestRunner(t, fc, nil)
	startRunner(t, r)

	waitForBackfill(t, r)

	status := r.Status()
	require.False(t, status.Complete)
	require.Equal(t, []uint64{30000}, status.TimestampGaps)
	require.Contains(t, status.LastError, ErrSyncIncomplete.Error())
	require.Equal(t, 4, status.Events)

	gen, err := r.Resync(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), gen)
}

func TestRunnerDropsStaleGeneration(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r, st := newTestRunner(t, newFakeChain(sampleLogs(t)), zap.New(core))

	r.mu.Lock()
	r.generation = 2
	r.mu.Unlock()

	r.backfill(context.Background(), 1, 1, 45000)
	require.Equal(t, 0, st.Len())
	require.Equal(t, 1, logs.FilterMessage("discard stale backfill result").Len())
	require.Nil(t, r.Views())

	r.backfill(context.Background(), 2, 1, 45000)
	require.Equal(t, 6, st.Len())
	require.NotNil(t, r.Views())
}

func TestResyncBeforeStart(t *testing.T) {
	r, _ := newTestRunner(t, newFakeChain(nil), nil)
	_, err := r.Resync(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestRefreshPublishesOnlyOnNewVersion(t *testing.T) {
	r, st := newTestRunner(t, newFakeChain(nil), nil)
	count := 0
	r.Subscribe(func(model.Views) { count++ })

	r.Refresh()
	r.Refresh()
	require.Equal(t, 1, count)

	_, err := st.Insert(model.ChainEvent{TxHash: "0x01", BlockNumber: 5, BlockTimestamp: 1700000000, CreatorAddress: "0xaa", SupplyRaw: "1"})
	require.NoError(t, err)
	r.Refresh()
	r.Refresh()
	require.Equal(t, 2, count)
	require.Equal(t, st.Version(), r.Views().StoreVersion)
}

func TestRefreshRepublishesOnNewDay(t *testing.T) {
	r, _ := newTestRunner(t, newFakeChain(nil), nil)
	count := 0
	r.Subscribe(func(model.Views) { count++ })

	r.now = func() time.Time { return time.Date(2024, 5, 20, 23, 59, 0, 0, time.UTC) }
	r.Refresh()
	r.Refresh()
	require.Equal(t, 1, count)
	require.Equal(t, "2024-05-20", r.Views().Activity[len(r.Views().Activity)-1].DateKey)

	r.now = func() time.Time { return time.Date(2024, 5, 21, 0, 1, 0, 0, time.UTC) }
	r.Refresh()
	require.Equal(t, 2, count)
	require.Equal(t, "2024-05-21", r.Views().Activity[len(r.Views().Activity)-1].DateKey)
}

func TestBackfillInsertDoesNotHoldRunnerLock(t *testing.T) {
	r, st := newTestRunner(t, newFakeChain(sampleLogs(t)), nil)
	r.mu.Lock()
	r.generation = 1
	r.mu.Unlock()

	var during []model.SyncStatus
	st.Watch(func(store.Change) {
		during = append(during, r.Status())
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.backfill(context.Background(), 1, 1, 45000)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("backfill blocked while a store watcher read the status")
	}

	require.Len(t, during, 1)
	require.Equal(t, 6, during[0].Events)
	require.Equal(t, model.SyncLive, r.Status().Phase)
}
