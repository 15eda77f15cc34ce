package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const defaultStatement = "Sign in to tokenScope. This request will not trigger a blockchain transaction or cost any gas."

// Challenge is the sign-in message presented to the wallet.
type Challenge struct {
	Origin    string
	Address   string
	ChainID   uint64
	Nonce     string
	Statement string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewNonce returns 32 hex characters from a random UUID.
func NewNonce() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Message renders the challenge in the Sign-In with Ethereum layout.
func (c Challenge) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", c.Origin)
	fmt.Fprintf(&b, "%s\n\n", c.Address)
	if c.Statement != "" {
		fmt.Fprintf(&b, "%s\n\n", c.Statement)
	}
	fmt.Fprintf(&b, "URI: %s\n", c.Origin)
	b.WriteString("Version: 1\n")
	fmt.Fprintf(&b, "Chain ID: %d\n", c.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", c.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", c.IssuedAt.UTC().Format(time.RFC3339))
	if !c.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// RecoverAddress returns the account that produced an EIP-191 personal_sign
// signature over message.
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", signature[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
