package live

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"tokenScope/internal/store"
)

func TestReorgCheckerRetractsAndReplays(t *testing.T) {
	kept := tokenLog(t, 95, 0, creator(0), 10)
	orphan := tokenLog(t, 98, 1, creator(1), 20)
	old := tokenLog(t, 10, 0, creator(2), 30)

	node := newFakeNode(100, kept, orphan, old)
	st := store.New()
	changes := 0
	m := newTestMerger(t, node, st, &changes)
	require.NoError(t, m.OnEvents(context.Background(), []types.Log{kept, orphan, old}))
	require.Equal(t, 3, st.Len())

	// Block 98 is replaced; the new fork carries a different event.
	replacement := tokenLog(t, 98, 4, creator(3), 40)
	replacement.BlockHash = blockHash(98, 1)
	node.mu.Lock()
	node.fork[98] = 1
	node.logs = []types.Log{kept, replacement, old}
	node.mu.Unlock()

	feed := NewFeed(FeedConfig{ChunkSize: 10}, node, m, testFactory, newDecoder(t).Topic0(), nil)
	checker := NewReorgChecker(ReorgConfig{Window: 20}, node, st, feed, nil)

	reorg, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(98), reorg.ForkBlock)
	require.Equal(t, 1, reorg.Retracted)

	require.False(t, st.Has(keyOf(orphan)))
	require.True(t, st.Has(keyOf(replacement)))
	require.True(t, st.Has(keyOf(kept)))
	require.True(t, st.Has(keyOf(old)))
	require.Equal(t, 3, st.Len())

	// The canonical chain now matches; nothing else happens.
	reorg, err = checker.Check(context.Background())
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestReorgCheckerIgnoresBlocksOutsideWindow(t *testing.T) {
	old := tokenLog(t, 10, 0, creator(2), 30)
	node := newFakeNode(100, old)
	st := store.New()
	m := newTestMerger(t, node, st, nil)
	require.NoError(t, m.OnEvent(context.Background(), old))

	node.fork[10] = 1
	checker := NewReorgChecker(ReorgConfig{Window: 20}, node, st, nil, nil)
	reorg, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Nil(t, reorg)
	require.Equal(t, 1, st.Len())
}
