package live

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"tokenScope/internal/contract"
	"tokenScope/internal/model"
)

var testFactory = common.HexToAddress("0x9999999999999999999999999999999999999999")

func tokenLog(t *testing.T, block uint64, index uint, creator string, supply int64) types.Log {
	t.Helper()
	parsed, err := contract.FactoryABI()
	require.NoError(t, err)
	event := parsed.Events[contract.EventTokenCreated]
	data, err := event.Inputs.NonIndexed().Pack("Token", "TKN", big.NewInt(supply))
	require.NoError(t, err)

	token := common.BigToAddress(new(big.Int).SetUint64(block*1000 + uint64(index)))
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{event.ID, common.BytesToHash(common.HexToAddress(creator).Bytes()), common.BytesToHash(token.Bytes())},
		Data:        data,
		BlockNumber: block,
		BlockHash:   blockHash(block, 0),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func blockHash(block uint64, fork byte) common.Hash {
	var h common.Hash
	h[0] = fork + 1
	new(big.Int).SetUint64(block).FillBytes(h[24:])
	return h
}

func newDecoder(t *testing.T) *contract.Decoder {
	t.Helper()
	decoder, err := contract.NewDecoder(testFactory)
	require.NoError(t, err)
	return decoder
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1)}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errc) })
}

func (s *fakeSub) Err() <-chan error {
	return s.errc
}

// fakeNode serves logs, timestamps, hashes and receipts from memory.
type fakeNode struct {
	mu           sync.Mutex
	head         uint64
	logs         []types.Log
	fork         map[uint64]byte
	receipts     map[common.Hash]*types.Receipt
	receiptMiss  int
	tsFailures   int
	tsCalls      int
	filterCalls  [][2]uint64
	subscribable bool
	subs         []*fakeSub
	subChans     []chan<- types.Log
	subscribed   chan struct{}
}

func newFakeNode(head uint64, logs ...types.Log) *fakeNode {
	return &fakeNode{
		head:       head,
		logs:       logs,
		fork:       make(map[uint64]byte),
		receipts:   make(map[common.Hash]*types.Receipt),
		subscribed: make(chan struct{}, 8),
	}
}

func (n *fakeNode) addLog(log types.Log) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, log)
	if log.BlockNumber > n.head {
		n.head = log.BlockNumber
	}
}

func (n *fakeNode) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tsCalls++
	if n.tsFailures > 0 {
		n.tsFailures--
		return 0, errors.New("connection reset by peer")
	}
	return 1700000000 + number, nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.receiptMiss > 0 {
		n.receiptMiss--
		return nil, ethereum.NotFound
	}
	receipt, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (n *fakeNode) SupportsSubscriptions() bool {
	return n.subscribable
}

func (n *fakeNode) LatestBlockNumber(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head, nil
}

func (n *fakeNode) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filterCalls = append(n.filterCalls, [2]uint64{from, to})
	var out []types.Log
	for _, log := range n.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (n *fakeNode) SubscribeLogs(_ context.Context, _ []common.Address, _ []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.subscribable {
		return nil, errors.New("notifications not supported")
	}
	sub := newFakeSub()
	n.subs = append(n.subs, sub)
	n.subChans = append(n.subChans, ch)
	n.subscribed <- struct{}{}
	return sub, nil
}

func (n *fakeNode) BlockHashes(_ context.Context, numbers []uint64) (map[uint64]common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[uint64]common.Hash, len(numbers))
	for _, b := range numbers {
		if b > n.head {
			continue
		}
		out[b] = blockHash(b, n.fork[b])
	}
	return out, nil
}

func (n *fakeNode) filterCallsFrom(from uint64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, call := range n.filterCalls {
		if call[0] == from {
			count++
		}
	}
	return count
}

func (n *fakeNode) latestSub() (*fakeSub, chan<- types.Log) {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := len(n.subs) - 1
	return n.subs[i], n.subChans[i]
}

func creator(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func keyOf(log types.Log) model.EventKey {
	return model.NewEventKey(log.TxHash.Hex(), uint64(log.Index))
}
