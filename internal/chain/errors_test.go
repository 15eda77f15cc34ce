package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

type codeError struct {
	code int
	msg  string
}

func (e codeError) Error() string  { return e.msg }
func (e codeError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"result limit", errors.New("query returned more than 10000 results"), ClassRangeTooLarge},
		{"block range", errors.New("eth_getLogs block range exceeds 2000"), ClassRangeTooLarge},
		{"sentinel range", fmt.Errorf("wrapped: %w", ErrRangeTooLarge), ClassRangeTooLarge},
		{"too many requests", errors.New("429 Too Many Requests"), ClassRateLimited},
		{"sentinel rate", fmt.Errorf("wrapped: %w", ErrRateLimited), ClassRateLimited},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, ClassRateLimited},
		{"http 413", rpc.HTTPError{StatusCode: 413, Status: "413 Payload Too Large"}, ClassRangeTooLarge},
		{"limit code", codeError{code: -32005, msg: "limit exceeded"}, ClassRateLimited},
		{"method missing", codeError{code: -32601, msg: "the method eth_getLogs does not exist"}, ClassPermanent},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), ClassCanceled},
		{"network", errors.New("dial tcp: connection refused"), ClassTransient},
	}

	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestRetryPredicates(t *testing.T) {
	if !IsTransient(errors.New("i/o timeout")) {
		t.Fatalf("timeout should be transient")
	}
	if IsTransient(ErrRateLimited) {
		t.Fatalf("rate limit is not transient")
	}
	if !IsRetryable(ErrRateLimited) {
		t.Fatalf("rate limit should be retryable")
	}
	if IsRetryable(ErrRangeTooLarge) {
		t.Fatalf("range errors need a smaller request, not a retry")
	}
}
