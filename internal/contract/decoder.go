package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tokenScope/internal/model"
)

// Decoder turns factory logs into ChainEvents. Decoded events carry no
// timestamp; callers enrich them before they reach the store.
type Decoder struct {
	factory common.Address
	event   abi.Event
}

// NewDecoder builds a decoder bound to the factory address.
func NewDecoder(factory common.Address) (*Decoder, error) {
	parsed, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	event, ok := parsed.Events[EventTokenCreated]
	if !ok {
		return nil, fmt.Errorf("factory abi has no %s event", EventTokenCreated)
	}
	return &Decoder{factory: factory, event: event}, nil
}

// Address returns the factory address logs are filtered by.
func (d *Decoder) Address() common.Address {
	return d.factory
}

// Topic0 returns the TokenCreated event signature hash.
func (d *Decoder) Topic0() common.Hash {
	return d.event.ID
}

// CanDecode reports whether the log is a TokenCreated log from the factory.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	return log.Address == d.factory && log.Topics[0] == d.event.ID
}

// Decode converts a raw log into a ChainEvent.
func (d *Decoder) Decode(log types.Log) (model.ChainEvent, error) {
	if !d.CanDecode(log) {
		return model.ChainEvent{}, fmt.Errorf("unsupported log %s:%d", log.TxHash.Hex(), log.Index)
	}

	indexedArgs := indexedArguments(d.event.Inputs)
	if len(log.Topics) != len(indexedArgs)+1 {
		return model.ChainEvent{}, fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(log.Topics))
	}

	var indexed struct {
		Creator      common.Address
		TokenAddress common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArgs, log.Topics[1:]); err != nil {
		return model.ChainEvent{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.ChainEvent{}, fmt.Errorf("unpack %s: %w", d.event.Name, err)
	}
	if len(values) != 3 {
		return model.ChainEvent{}, fmt.Errorf("unexpected %s values: %d", d.event.Name, len(values))
	}

	name, ok := values[0].(string)
	if !ok {
		return model.ChainEvent{}, fmt.Errorf("name: unsupported type %T", values[0])
	}
	symbol, ok := values[1].(string)
	if !ok {
		return model.ChainEvent{}, fmt.Errorf("symbol: unsupported type %T", values[1])
	}
	supply, err := asBigInt(values[2])
	if err != nil {
		return model.ChainEvent{}, fmt.Errorf("supply: %w", err)
	}

	return model.ChainEvent{
		TxHash:         strings.ToLower(log.TxHash.Hex()),
		LogIndex:       uint64(log.Index),
		BlockNumber:    log.BlockNumber,
		BlockHash:      strings.ToLower(log.BlockHash.Hex()),
		CreatorAddress: strings.ToLower(indexed.Creator.Hex()),
		TokenAddress:   strings.ToLower(indexed.TokenAddress.Hex()),
		TokenName:      name,
		TokenSymbol:    symbol,
		SupplyRaw:      supply.String(),
	}, nil
}

// EventsFromReceipt decodes every factory log carried by a receipt. Logs
// that fail to decode are returned as DecodeErrors.
func (d *Decoder) EventsFromReceipt(receipt *types.Receipt) ([]model.ChainEvent, []model.DecodeError) {
	if receipt == nil {
		return nil, nil
	}
	var (
		events []model.ChainEvent
		failed []model.DecodeError
	)
	for _, log := range receipt.Logs {
		if log == nil || !d.CanDecode(*log) {
			continue
		}
		ev, err := d.Decode(*log)
		if err != nil {
			failed = append(failed, NewDecodeError(*log, err))
			continue
		}
		events = append(events, ev)
	}
	return events, failed
}

// NewDecodeError captures a failed log for the error export.
func NewDecodeError(log types.Log, err error) model.DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return model.DecodeError{
		BlockNumber: log.BlockNumber,
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		LogIndex:    uint64(log.Index),
		Address:     strings.ToLower(log.Address.Hex()),
		Topic0:      topic0,
		Error:       err.Error(),
	}
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
