package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenScope/internal/backoff"
	"tokenScope/internal/store"
)

func runFeed(t *testing.T, feed *Feed, from uint64) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, from) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestPollingFeedFollowsHead(t *testing.T) {
	node := newFakeNode(20, tokenLog(t, 12, 0, creator(0), 1), tokenLog(t, 19, 2, creator(1), 2))
	st := store.New()
	m := newTestMerger(t, node, st, nil)
	feed := NewFeed(FeedConfig{PollInterval: 10 * time.Millisecond, ChunkSize: 4}, node, m, testFactory, newDecoder(t).Topic0(), nil)

	runFeed(t, feed, 11)

	require.Eventually(t, func() bool { return st.Len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return feed.Cursor() == 21 }, time.Second, 5*time.Millisecond)
	// [11,14] [15,18] [19,20]
	require.Equal(t, 1, node.filterCallsFrom(15))

	node.addLog(tokenLog(t, 25, 0, creator(2), 3))
	require.Eventually(t, func() bool { return st.Len() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return feed.Cursor() == 26 }, time.Second, 5*time.Millisecond)
}

func TestSubscriptionFeedResubscribesAndCatchesUp(t *testing.T) {
	node := newFakeNode(30)
	node.subscribable = true
	st := store.New()
	m := newTestMerger(t, node, st, nil)
	feed := NewFeed(FeedConfig{ChunkSize: 100, Reconnect: backoff.NoDelay(1)}, node, m, testFactory, newDecoder(t).Topic0(), nil)

	runFeed(t, feed, 31)

	<-node.subscribed
	require.Eventually(t, func() bool { return feed.Cursor() == 31 }, time.Second, 5*time.Millisecond)

	first := tokenLog(t, 32, 0, creator(0), 1)
	node.addLog(first)
	sub, ch := node.latestSub()
	ch <- first
	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)

	// Mined while the connection is down: only the catch-up query can see it.
	missed := tokenLog(t, 34, 1, creator(1), 2)
	node.addLog(missed)
	sub.errc <- errors.New("websocket: close 1006")

	<-node.subscribed
	require.Eventually(t, func() bool { return st.Len() == 2 }, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, node.filterCallsFrom(32), 1, "catch-up starts at the last seen block")

	// The re-delivered first log is absorbed.
	_, ch = node.latestSub()
	ch <- first
	require.Never(t, func() bool { return st.Len() != 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReplayDoesNotMoveCursor(t *testing.T) {
	node := newFakeNode(50, tokenLog(t, 40, 0, creator(0), 1), tokenLog(t, 45, 0, creator(0), 1))
	st := store.New()
	m := newTestMerger(t, node, st, nil)
	feed := NewFeed(FeedConfig{ChunkSize: 3}, node, m, testFactory, newDecoder(t).Topic0(), nil)

	require.NoError(t, feed.Replay(context.Background(), 40, 45))
	require.Equal(t, 2, st.Len())
	require.Equal(t, uint64(0), feed.Cursor())
	require.Equal(t, 1, node.filterCallsFrom(43))
}
