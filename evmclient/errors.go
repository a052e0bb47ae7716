package evmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindRateLimit
	KindConnection
	KindBadResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate limit"
	case KindConnection:
		return "connection"
	case KindBadResponse:
		return "bad response"
	default:
		return "unknown"
	}
}

var (
	timeoutErrorRegex     = regexp.MustCompile(`(?i)(timeout|time-out|time out|timedout|timed out|deadline exceeded)`)
	rateLimitErrorRegex   = regexp.MustCompile(`(?i)(rate limit|too many requests|too many concurrent requests|exceeded|socket hang up|429)`)
	connectionErrorRegex  = regexp.MustCompile(`(?i)(ETIMEDOUT|ENETUNREACH|ECONNRESET|ECONNREFUSED|SERVER_ERROR|EPROTO|connection refused|connection reset|broken pipe|no such host|EOF)`)
	badResponseErrorRegex = regexp.MustCompile(`(?i)(bad response|response error|missing response|processing response error|invalid json response body|FetchError|invalid character|unexpected end of JSON|50[234] )`)
	revertErrorRegex      = regexp.MustCompile(`(?i)(execution reverted|VM execution error|revert)`)
)

// RetryableRpcError marks an RPC failure that the next poll cycle is expected to get past.
type RetryableRpcError struct {
	Kind ErrorKind
	Err  error
}

func (e *RetryableRpcError) Error() string {
	return fmt.Sprintf("retryable %s rpc error: %v", e.Kind, e.Err)
}

func (e *RetryableRpcError) Unwrap() error {
	return e.Err
}

// Classify returns the retryable kind of err, or KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var retryable *RetryableRpcError
	if errors.As(err, &retryable) {
		return retryable.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return KindRateLimit
		case httpErr.StatusCode >= 500:
			return KindBadResponse
		}
	}

	msg := err.Error()
	switch {
	case timeoutErrorRegex.MatchString(msg):
		return KindTimeout
	case rateLimitErrorRegex.MatchString(msg):
		return KindRateLimit
	case connectionErrorRegex.MatchString(msg):
		return KindConnection
	case badResponseErrorRegex.MatchString(msg):
		return KindBadResponse
	}

	return KindUnknown
}

func IsRetryable(err error) bool {
	return Classify(err) != KindUnknown
}

// AsRetryable wraps err in a RetryableRpcError when it classifies, otherwise returns it unchanged.
func AsRetryable(err error) error {
	kind := Classify(err)
	if kind == KindUnknown {
		return err
	}

	var retryable *RetryableRpcError
	if errors.As(err, &retryable) {
		return err
	}
	return &RetryableRpcError{Kind: kind, Err: err}
}

// IsExecutionReverted reports whether err is an EVM revert. Connection and timeout failures
// mentioning a revert are not reverts.
func IsExecutionReverted(err error) bool {
	if err == nil {
		return false
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	if kind := Classify(err); kind == KindTimeout || kind == KindConnection {
		return false
	}

	return revertErrorRegex.MatchString(err.Error())
}
