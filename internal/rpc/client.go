package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/transferwatch/transferwatch/internal/config"
	"github.com/transferwatch/transferwatch/internal/metrics"
)

// EthClient is the chain-client surface the scanner and reorg detector
// consume. Implementations must be safe for concurrent use.
type EthClient interface {
	// HeadBlockNumber returns the latest block number the node considers
	// part of its chain.
	HeadBlockNumber(ctx context.Context) (uint64, error)

	// GetBlockHeader retrieves the header for a specific block number.
	// Returns an error satisfying IsNotFound for pruned or not-yet-mined
	// heights.
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)

	// BatchGetBlockHeaders retrieves headers for multiple block numbers
	// in batched JSON-RPC calls, in the order requested.
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	Close()
}

// Compile-time check to ensure Client implements the EthClient interface.
var _ EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with convenience methods for indexing.
type Client struct {
	eth         *ethclient.Client
	rpc         *rpc.Client
	retryConfig *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, retryConfig *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:         ethclient.NewClient(rpcClient),
		rpc:         rpcClient,
		retryConfig: retryConfig,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// HeadBlockNumber returns the latest block number.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	metrics.RPCMethodInc("eth_blockNumber")
	defer func() {
		metrics.RPCMethodDuration("eth_blockNumber", time.Since(start))
	}()

	var head uint64
	err := retryWithBackoff(ctx, c.retryConfig, "eth_blockNumber", func() error {
		var fetchErr error
		head, fetchErr = c.eth.BlockNumber(ctx)
		return fetchErr
	})

	if err != nil {
		metrics.RPCMethodError("eth_blockNumber", KindOf(err).String())
		return 0, err
	}

	return head, nil
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	start := time.Now()
	metrics.RPCMethodInc("eth_getBlockByNumber")
	defer func() {
		metrics.RPCMethodDuration("eth_getBlockByNumber", time.Since(start))
	}()

	var header *types.Header
	err := retryWithBackoff(ctx, c.retryConfig, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(ctx, big.NewInt(int64(blockNum)))
		return fetchErr
	})

	if err != nil {
		metrics.RPCMethodError("eth_getBlockByNumber", KindOf(err).String())
		return nil, err
	}

	return header, nil
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in batched calls.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100
	var allResults []*types.Header

	start := time.Now()
	metrics.RPCMethodInc("eth_getBlockByNumber_batch")
	defer func() {
		metrics.RPCMethodDuration("eth_getBlockByNumber_batch", time.Since(start))
	}()

	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		var chunkResults []*types.Header
		err := retryWithBackoff(ctx, c.retryConfig, "eth_getBlockByNumber_batch", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			chunkResults = make([]*types.Header, len(chunk))

			for j, blockNum := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
					Result: &chunkResults[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			// Check for individual errors
			for j, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
				if chunkResults[j] == nil {
					return fmt.Errorf("block %d: %w", chunk[j], ethereum.NotFound)
				}
			}

			return nil
		})

		if err != nil {
			metrics.RPCMethodError("eth_getBlockByNumber_batch", KindOf(err).String())
			return nil, err
		}

		allResults = append(allResults, chunkResults...)
	}

	return allResults, nil
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	metrics.RPCMethodInc("eth_getLogs")
	defer func() {
		metrics.RPCMethodDuration("eth_getLogs", time.Since(start))
	}()

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryConfig, "eth_getLogs", func() error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(ctx, query)
		return fetchErr
	})

	if err != nil {
		metrics.RPCMethodError("eth_getLogs", KindOf(err).String())
		return nil, err
	}

	return logs, nil
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
