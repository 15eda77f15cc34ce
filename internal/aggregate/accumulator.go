package aggregate

import (
	"fmt"
	"math/big"

	"tokenScope/internal/model"
)

// CreatorAccumulator sums the supply a single creator launched.
type CreatorAccumulator struct {
	Address       string
	TotalSupply   *big.Int
	TokensCreated int
}

func NewCreatorAccumulator(address string) *CreatorAccumulator {
	return &CreatorAccumulator{Address: address, TotalSupply: big.NewInt(0)}
}

// AddEvent adds the event supply. A malformed supply still counts the token
// but contributes nothing to the total.
func (a *CreatorAccumulator) AddEvent(ev model.ChainEvent) error {
	a.TokensCreated++
	supply, err := parseBigInt(ev.SupplyRaw)
	if err != nil {
		return err
	}
	if supply.Sign() < 0 {
		return fmt.Errorf("negative supply: %s", ev.SupplyRaw)
	}
	a.TotalSupply.Add(a.TotalSupply, supply)
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
