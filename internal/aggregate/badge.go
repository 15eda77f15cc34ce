package aggregate

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"tokenScope/internal/model"
)

// Threshold is the minimum total supply for a badge tier.
type Threshold struct {
	Tier model.BadgeTier
	Min  *big.Int
}

// DefaultThresholds are ascending raw supply minimums per tier.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Tier: model.BadgeCreator, Min: big.NewInt(1)},
		{Tier: model.BadgePioneer, Min: new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)},
		{Tier: model.BadgeArchitect, Min: new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)},
	}
}

// ParseThresholds reads tier minimums given as decimal strings keyed by tier
// name. Tiers not present keep their default.
func ParseThresholds(raw map[string]string) ([]Threshold, error) {
	out := DefaultThresholds()
	for name, value := range raw {
		tier := model.BadgeTier(strings.ToLower(strings.TrimSpace(name)))
		minSupply, err := parseBigInt(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("badge threshold %s: %w", name, err)
		}
		found := false
		for i := range out {
			if out[i].Tier == tier {
				out[i].Min = minSupply
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown badge tier: %s", name)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min.Cmp(out[j].Min) < 0 })
	return out, nil
}

func tierFor(total *big.Int, thresholds []Threshold) model.BadgeTier {
	tier := model.BadgeNone
	for _, th := range thresholds {
		if total.Cmp(th.Min) < 0 {
			break
		}
		tier = th.Tier
	}
	return tier
}
