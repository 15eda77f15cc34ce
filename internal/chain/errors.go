package chain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrRangeTooLarge marks a log query the provider refused for its size.
	ErrRangeTooLarge = errors.New("block range too large")
	// ErrRateLimited marks a request rejected by provider rate limiting.
	ErrRateLimited = errors.New("rate limited")
	// ErrMissingBlocks marks a batch response that omitted requested blocks.
	ErrMissingBlocks = errors.New("blocks missing from batch response")
)

// ErrorClass drives how callers react to a failed RPC call.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassRangeTooLarge
	ClassRateLimited
	ClassPermanent
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRangeTooLarge:
		return "range_too_large"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var rangeMessages = []string{
	"query returned more than",
	"block range",
	"range too large",
	"range is too large",
	"exceed maximum block range",
	"response size exceeded",
	"too many results",
	"log response size",
	"logs matched by query exceeds",
}

var rateMessages = []string{
	"rate limit",
	"too many requests",
	"request limit",
	"capacity exceeded",
	"exceeded the quota",
	"daily request count exceeded",
}

// Classify maps an RPC error onto an ErrorClass. Unknown errors are treated
// as transient so they are retried.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return ClassRangeTooLarge
	}
	if errors.Is(err, ErrRateLimited) {
		return ClassRateLimited
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			return ClassRateLimited
		case http.StatusRequestEntityTooLarge:
			return ClassRangeTooLarge
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range rangeMessages {
		if strings.Contains(msg, pattern) {
			return ClassRangeTooLarge
		}
	}
	for _, pattern := range rateMessages {
		if strings.Contains(msg, pattern) {
			return ClassRateLimited
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005:
			return ClassRateLimited
		case -32601:
			return ClassPermanent
		}
	}

	return ClassTransient
}

// IsTransient reports errors worth retrying with the same request.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsRetryable also retries rate limiting, for calls that cannot be split.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassRateLimited:
		return true
	default:
		return false
	}
}
