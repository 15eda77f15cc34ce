package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"tokenScope/internal/model"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FetchFactoryInfo reads the creation fee and token count from the factory.
func FetchFactoryInfo(ctx context.Context, caller Caller, factory common.Address) (model.FactoryInfo, error) {
	info := model.FactoryInfo{Address: strings.ToLower(factory.Hex())}
	if caller == nil {
		return info, fmt.Errorf("contract caller is nil")
	}

	parsed, err := FactoryABI()
	if err != nil {
		return info, fmt.Errorf("parse factory abi: %w", err)
	}

	values, err := callMethod(ctx, caller, factory, parsed, "baseFee")
	if err != nil {
		return info, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return info, fmt.Errorf("base fee: %w", err)
	}
	info.BaseFee = fee.String()

	values, err = callMethod(ctx, caller, factory, parsed, "totalTokensCreated")
	if err != nil {
		return info, err
	}
	total, err := asBigInt(values[0])
	if err != nil {
		return info, fmt.Errorf("total tokens created: %w", err)
	}
	info.TotalTokensCreated = total.String()

	return info, nil
}

// Factory binds the read calls to one deployed factory.
type Factory struct {
	caller  Caller
	address common.Address
}

func NewFactory(caller Caller, address common.Address) *Factory {
	return &Factory{caller: caller, address: address}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address {
	return f.address
}

// Info reads the base fee and token count.
func (f *Factory) Info(ctx context.Context) (model.FactoryInfo, error) {
	return FetchFactoryInfo(ctx, f.caller, f.address)
}

// TokenAt returns the i-th token address recorded by the factory.
func (f *Factory) TokenAt(ctx context.Context, i uint64) (common.Address, error) {
	if f.caller == nil {
		return common.Address{}, fmt.Errorf("contract caller is nil")
	}
	parsed, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := callMethod(ctx, f.caller, f.address, parsed, "allTokens", new(big.Int).SetUint64(i))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// EncodeCreateToken packs calldata for createToken. The transaction value
// must cover the factory base fee.
func EncodeCreateToken(name, symbol string, supply *big.Int) ([]byte, error) {
	if supply == nil || supply.Sign() <= 0 {
		return nil, fmt.Errorf("supply must be positive")
	}
	parsed, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	data, err := parsed.Pack("createToken", name, symbol, supply)
	if err != nil {
		return nil, fmt.Errorf("pack createToken: %w", err)
	}
	return data, nil
}

func callMethod(ctx context.Context, caller Caller, factory common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &factory, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}
