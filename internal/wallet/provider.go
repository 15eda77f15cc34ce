package wallet

import "context"

// Provider is an EIP-1193 style signing provider.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	SignMessage(ctx context.Context, address string, message string) ([]byte, error)
}

// Descriptor is an announced signing provider. Descriptors are immutable and
// deduplicated by ID.
type Descriptor struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"name"`
	IconRef     string   `json:"icon,omitempty"`
	RDNS        string   `json:"rdns,omitempty"`
	Provider    Provider `json:"-"`
}
