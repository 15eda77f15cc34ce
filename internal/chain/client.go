package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	mode      SubscriptionMode

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		mode:      GetSubscriptionMode(rpcURL),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Mode reports whether the client was dialed over WebSocket or HTTP.
func (c *Client) Mode() SubscriptionMode {
	return c.mode
}

// SupportsSubscriptions is true for WebSocket endpoints.
func (c *Client) SupportsSubscriptions() bool {
	return c.mode == WebSocketMode
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// BlockTimestamps resolves timestamps for many blocks in a single JSON-RPC
// batch. Cached blocks are not requested again. Blocks the node could not
// return are absent from the result; a transport failure fails the batch.
func (c *Client) BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(numbers))
	missing := make([]uint64, 0, len(numbers))

	c.mu.RLock()
	for _, n := range numbers {
		if ts, ok := c.tsCache[n]; ok {
			out[n] = ts
			continue
		}
		missing = append(missing, n)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	refs, err := c.blockRefs(ctx, missing)
	if err != nil {
		return out, err
	}

	c.mu.Lock()
	for n, ref := range refs {
		c.tsCache[n] = ref.Time
		out[n] = ref.Time
	}
	c.mu.Unlock()

	return out, nil
}

// BlockHashes returns the canonical hash of each block, bypassing the cache.
func (c *Client) BlockHashes(ctx context.Context, numbers []uint64) (map[uint64]common.Hash, error) {
	refs, err := c.blockRefs(ctx, numbers)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]common.Hash, len(refs))
	for n, ref := range refs {
		out[n] = ref.Hash
	}
	return out, nil
}

type blockRef struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   common.Hash    `json:"hash"`
	Time   hexutil.Uint64 `json:"timestamp"`
}

type resolvedRef struct {
	Hash common.Hash
	Time uint64
}

func (c *Client) blockRefs(ctx context.Context, numbers []uint64) (map[uint64]resolvedRef, error) {
	results := make([]*blockRef, len(numbers))
	batch := make([]rpc.BatchElem, len(numbers))
	for i, n := range numbers {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(n), false},
			Result: &results[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	out := make(map[uint64]resolvedRef, len(numbers))
	for i, elem := range batch {
		if elem.Error != nil || results[i] == nil {
			continue
		}
		out[numbers[i]] = resolvedRef{Hash: results[i].Hash, Time: uint64(results[i].Time)}
	}
	return out, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, buildQuery(&fromBlock, &toBlock, addresses, topic0))
}

// SubscribeLogs opens a log subscription. Only WebSocket endpoints support it.
func (c *Client) SubscribeLogs(
	ctx context.Context,
	addresses []common.Address,
	topic0 []common.Hash,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	if !c.SupportsSubscriptions() {
		return nil, ErrSubscriptionUnsupported
	}
	return c.ethClient.SubscribeFilterLogs(ctx, buildQuery(nil, nil, addresses, topic0), ch)
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, hash)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

func buildQuery(fromBlock, toBlock *uint64, addresses []common.Address, topic0 []common.Hash) ethereum.FilterQuery {
	query := ethereum.FilterQuery{Addresses: addresses}
	if fromBlock != nil {
		query.FromBlock = new(big.Int).SetUint64(*fromBlock)
	}
	if toBlock != nil {
		query.ToBlock = new(big.Int).SetUint64(*toBlock)
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return query
}
