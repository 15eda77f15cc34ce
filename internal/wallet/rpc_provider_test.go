package wallet

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

// walletService emulates the JSON-RPC surface of a browser wallet.
type walletService struct {
	key     *KeyProvider
	chainID uint64
	reject  bool
}

type ethAPI struct{ w *walletService }

func (api *ethAPI) RequestAccounts() ([]string, error) {
	if api.w.reject {
		return nil, rejectedError{}
	}
	return []string{api.w.key.Address()}, nil
}

func (api *ethAPI) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(api.w.chainID)
}

type personalAPI struct{ w *walletService }

func (api *personalAPI) Sign(ctx context.Context, data hexutil.Bytes, address string) (hexutil.Bytes, error) {
	if api.w.reject {
		return nil, rejectedError{}
	}
	return api.w.key.SignMessage(ctx, address, string(data))
}

type walletAPI struct{ w *walletService }

func (api *walletAPI) SwitchEthereumChain(param map[string]string) error {
	id, err := hexutil.DecodeUint64(param["chainId"])
	if err != nil {
		return err
	}
	api.w.chainID = id
	return nil
}

func newWalletServer(t *testing.T, chainID uint64) (*walletService, *RPCProvider) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	w := &walletService{key: NewKeyProvider(key, chainID), chainID: chainID}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethAPI{w}))
	require.NoError(t, server.RegisterName("personal", &personalAPI{w}))
	require.NoError(t, server.RegisterName("wallet", &walletAPI{w}))
	t.Cleanup(server.Stop)

	client := rpc.DialInProc(server)
	t.Cleanup(client.Close)
	return w, NewRPCProvider(client)
}

func TestRPCProviderConnect(t *testing.T) {
	w, p := newWalletServer(t, 1)
	c := newTestConnector()

	sess, err := c.Connect(context.Background(), Descriptor{ID: "rpc", Provider: p})
	require.NoError(t, err)
	require.Equal(t, uint64(baseChainID), w.chainID)
	require.Equal(t, uint64(baseChainID), sess.ChainID)
}

func TestRPCProviderRejectionCode(t *testing.T) {
	w, p := newWalletServer(t, baseChainID)
	w.reject = true

	_, err := p.RequestAccounts(context.Background())
	require.Error(t, err)
	require.True(t, IsUserRejection(err))

	_, err = newTestConnector().Connect(context.Background(), Descriptor{ID: "rpc", Provider: p})
	require.ErrorIs(t, err, ErrUserRejected)
}
