package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyProvider signs with an in-process key. It stands in for a browser
// wallet in local development and tests.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address string

	mu      sync.Mutex
	chainID uint64
}

// NewKeyProvider wraps a private key, starting on chainID.
func NewKeyProvider(key *ecdsa.PrivateKey, chainID uint64) *KeyProvider {
	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		chainID: chainID,
	}
}

// NewKeyProviderFromHex parses a hex encoded secp256k1 key.
func NewKeyProviderFromHex(hexKey string, chainID uint64) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyProvider(key, chainID), nil
}

// Address returns the checksummed account address.
func (p *KeyProvider) Address() string {
	return p.address
}

func (p *KeyProvider) RequestAccounts(context.Context) ([]string, error) {
	return []string{p.address}, nil
}

func (p *KeyProvider) ChainID(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID, nil
}

func (p *KeyProvider) SwitchChain(_ context.Context, chainID uint64) error {
	p.mu.Lock()
	p.chainID = chainID
	p.mu.Unlock()
	return nil
}

// SignMessage produces an EIP-191 signature with V in {27, 28}.
func (p *KeyProvider) SignMessage(_ context.Context, address string, message string) ([]byte, error) {
	if !strings.EqualFold(address, p.address) {
		return nil, fmt.Errorf("unknown account %s", address)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), p.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
