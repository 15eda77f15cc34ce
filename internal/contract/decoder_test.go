package contract

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var factoryAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

func buildTokenCreatedLog(t *testing.T, creator, token common.Address, name, symbol string, supply *big.Int) types.Log {
	t.Helper()
	parsed, err := FactoryABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	event := parsed.Events[EventTokenCreated]
	data, err := event.Inputs.NonIndexed().Pack(name, symbol, supply)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     factoryAddr,
		Topics:      []common.Hash{event.ID, common.BytesToHash(creator.Bytes()), common.BytesToHash(token.Bytes())},
		Data:        data,
		BlockNumber: 1200,
		BlockHash:   common.HexToHash("0xbb"),
		TxHash:      common.HexToHash("0xAA"),
		Index:       4,
	}
}

func TestDecodeTokenCreated(t *testing.T) {
	decoder, err := NewDecoder(factoryAddr)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	creator := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	supply, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	log := buildTokenCreatedLog(t, creator, token, "Galactic Credits", "GLX", supply)
	if !decoder.CanDecode(log) {
		t.Fatalf("decoder should accept factory log")
	}

	ev, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ev.CreatorAddress != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("creator not normalized: %s", ev.CreatorAddress)
	}
	if ev.TokenAddress != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("token mismatch: %s", ev.TokenAddress)
	}
	if ev.TokenName != "Galactic Credits" || ev.TokenSymbol != "GLX" {
		t.Fatalf("name/symbol mismatch: %+v", ev)
	}
	if ev.SupplyRaw != "123456789012345678901234567890" {
		t.Fatalf("supply mismatch: %s", ev.SupplyRaw)
	}
	if ev.LogIndex != 4 || ev.BlockNumber != 1200 || ev.BlockTimestamp != 0 {
		t.Fatalf("position mismatch: %+v", ev)
	}
}

func TestDecodeRejectsForeignLogs(t *testing.T) {
	decoder, err := NewDecoder(factoryAddr)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	log := buildTokenCreatedLog(t, common.Address{1}, common.Address{2}, "A", "A", big.NewInt(1))
	log.Address = common.HexToAddress("0x1111111111111111111111111111111111111111")
	if decoder.CanDecode(log) {
		t.Fatalf("log from another contract must be rejected")
	}
	if _, err := decoder.Decode(log); err == nil {
		t.Fatalf("expected decode error")
	}

	truncated := buildTokenCreatedLog(t, common.Address{1}, common.Address{2}, "A", "A", big.NewInt(1))
	truncated.Data = truncated.Data[:10]
	if _, err := decoder.Decode(truncated); err == nil {
		t.Fatalf("expected unpack error")
	}
}

func TestEventsFromReceipt(t *testing.T) {
	decoder, err := NewDecoder(factoryAddr)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	good := buildTokenCreatedLog(t, common.Address{1}, common.Address{2}, "A", "AA", big.NewInt(5))
	bad := buildTokenCreatedLog(t, common.Address{1}, common.Address{3}, "B", "BB", big.NewInt(5))
	bad.Index = 5
	bad.Data = nil
	other := types.Log{Address: common.Address{7}, Topics: []common.Hash{{1}}}

	events, failed := decoder.EventsFromReceipt(&types.Receipt{Logs: []*types.Log{&good, &bad, &other}})
	if len(events) != 1 || events[0].TokenSymbol != "AA" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(failed) != 1 || failed[0].LogIndex != 5 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

type fakeCaller struct {
	fee   *big.Int
	total *big.Int
}

func (f fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, err := FactoryABI()
	if err != nil {
		return nil, err
	}
	for name, value := range map[string]*big.Int{"baseFee": f.fee, "totalTokensCreated": f.total} {
		method := parsed.Methods[name]
		if bytes.Equal(msg.Data[:4], method.ID) {
			return method.Outputs.Pack(value)
		}
	}
	if method := parsed.Methods["allTokens"]; bytes.Equal(msg.Data[:4], method.ID) {
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		i := args[0].(*big.Int)
		if i.Cmp(f.total) >= 0 {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(common.BigToAddress(new(big.Int).Add(i, big.NewInt(0x100))))
	}
	return nil, ethereum.NotFound
}

func TestFetchFactoryInfo(t *testing.T) {
	fee, _ := new(big.Int).SetString("1000000000000000", 10)
	info, err := FetchFactoryInfo(context.Background(), fakeCaller{fee: fee, total: big.NewInt(42)}, factoryAddr)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if info.BaseFee != "1000000000000000" || info.TotalTokensCreated != "42" {
		t.Fatalf("info mismatch: %+v", info)
	}
}

func TestFactoryTokenAt(t *testing.T) {
	factory := NewFactory(fakeCaller{fee: big.NewInt(1), total: big.NewInt(3)}, factoryAddr)
	token, err := factory.TokenAt(context.Background(), 2)
	if err != nil {
		t.Fatalf("token at: %v", err)
	}
	if token != common.BigToAddress(big.NewInt(0x102)) {
		t.Fatalf("unexpected token %s", token.Hex())
	}
	if _, err := factory.TokenAt(context.Background(), 3); err == nil {
		t.Fatalf("out of range index must fail")
	}
	if factory.Address() != factoryAddr {
		t.Fatalf("address mismatch")
	}
}

func TestEncodeCreateToken(t *testing.T) {
	data, err := EncodeCreateToken("Alpha", "ALP", big.NewInt(1000000))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, _ := FactoryABI()
	if !bytes.Equal(data[:4], parsed.Methods["createToken"].ID) {
		t.Fatalf("selector mismatch")
	}
	if _, err := EncodeCreateToken("Alpha", "ALP", big.NewInt(0)); err == nil {
		t.Fatalf("zero supply must be rejected")
	}
}
