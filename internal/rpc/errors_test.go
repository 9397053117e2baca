package rpc

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/require"
)

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil", err: nil, retryable: false},
		{name: "timeout string", err: errors.New("request timeout"), retryable: true},
		{name: "deadline", err: errors.New("context deadline exceeded"), retryable: true},
		{name: "rate limit", err: errors.New("429 Too Many Requests"), retryable: true},
		{name: "bad gateway", err: errors.New("502 bad gateway"), retryable: true},
		{name: "service unavailable", err: errors.New("503 service unavailable"), retryable: true},
		{name: "conn refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "conn reset wrapped", err: fmt.Errorf("dial: %w", syscall.ECONNRESET), retryable: true},
		{name: "not found", err: ethereum.NotFound, retryable: false},
		{name: "auth failure", err: errors.New("401 unauthorized"), retryable: false},
		{name: "unsupported method", err: errors.New("the method eth_getLogs does not exist"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, retryableError(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindTransient, KindOf(errors.New("gateway timeout")))
	require.Equal(t, KindFatal, KindOf(errors.New("invalid auth token")))

	wrapped := fmt.Errorf("tick failed: %w",
		NewError(KindMalformed, "eth_getLogs", errors.New("unexpected payload")))
	require.Equal(t, KindMalformed, KindOf(wrapped))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(fmt.Errorf("block 9: %w", ethereum.NotFound)))
	require.False(t, IsNotFound(errors.New("boom")))
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(KindTransient, "eth_blockNumber", errors.New("504"))
	require.Contains(t, err.Error(), "eth_blockNumber")
	require.Contains(t, err.Error(), "transient")
	require.ErrorContains(t, err, "504")
}
