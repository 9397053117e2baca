package rpc

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
)

// Kind classifies RPC failures for the scanner's failure semantics.
type Kind int

const (
	// KindTransient covers timeouts, rate limits and 5xx responses.
	// Retried with backoff; never surfaced unless retries exhaust.
	KindTransient Kind = iota

	// KindMalformed covers responses that cannot be parsed or decoded.
	KindMalformed

	// KindFatal covers authentication failures and unsupported methods.
	// The scanner halts on these.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying RPC failure with its classification.
type Error struct {
	Kind   Kind
	Method string
	Err    error
}

func (e *Error) Error() string {
	return e.Method + " (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind and originating method.
func NewError(kind Kind, method string, err error) *Error {
	return &Error{Kind: kind, Method: method, Err: err}
}

// KindOf returns the classification of err, defaulting to KindFatal for
// anything unrecognized: store and unknown errors halt the scanner.
func KindOf(err error) Kind {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	if retryableError(err) {
		return KindTransient
	}
	return KindFatal
}

// IsNotFound reports whether err means the requested block does not
// exist on the node (pruned or not yet mined).
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	// A missing block is an answer, not a failure
	if errors.Is(err, ethereum.NotFound) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors
	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Connection pool exhausted
	if strings.Contains(errStr, "connection pool") ||
		strings.Contains(errStr, "no available connection") {
		return true
	}

	return false
}
