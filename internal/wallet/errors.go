package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUserRejected means the user declined the account or signature request.
	ErrUserRejected = errors.New("wallet: user rejected request")
	// ErrNetworkMismatch means the wallet is on another chain and did not switch.
	ErrNetworkMismatch = errors.New("wallet: network mismatch")
	// ErrSignatureMismatch means the recovered signer is not the claimed account.
	ErrSignatureMismatch = errors.New("wallet: signature mismatch")
	// ErrProviderError is any other wallet or transport failure.
	ErrProviderError = errors.New("wallet: provider error")
	// ErrUnknownWallet is returned for ids the registry has not seen.
	ErrUnknownWallet = errors.New("wallet: unknown wallet")
)

// CodeUserRejected is the EIP-1193 error code for a declined request.
const CodeUserRejected = 4001

var rejectionMessages = []string{
	"user rejected",
	"user denied",
	"action_rejected",
	"rejected by user",
}

// IsUserRejection reports whether err is a user-cancellation error.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range rejectionMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// classifyProviderErr maps a raw provider failure to UserRejected or ProviderError.
func classifyProviderErr(step string, err error) error {
	if IsUserRejection(err) {
		return fmt.Errorf("%w: %s: %v", ErrUserRejected, step, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderError, step, err)
}
