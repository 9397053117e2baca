package reorg

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/store"
)

// fakeEthClient serves headers from an in-memory map and can fail
// individual probes.
type fakeEthClient struct {
	headers   map[uint64]*types.Header
	probeErrs map[uint64]error
}

func (f *fakeEthClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	for n := range f.headers {
		if n > head {
			head = n
		}
	}
	return head, nil
}

func (f *fakeEthClient) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	if err, ok := f.probeErrs[blockNum]; ok {
		return nil, err
	}
	header, ok := f.headers[blockNum]
	if !ok {
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (f *fakeEthClient) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	out := make([]*types.Header, len(blockNums))
	for i, n := range blockNums {
		header, err := f.GetBlockHeader(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = header
	}
	return out, nil
}

func (f *fakeEthClient) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeEthClient) Close() {}

// fakeBlockSource returns a canned set of stored blocks, newest first.
type fakeBlockSource struct {
	blocks []*store.ProcessedBlock
	err    error
}

func (f *fakeBlockSource) RecentBlockHashes(ctx context.Context, k uint64) ([]*store.ProcessedBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if uint64(len(f.blocks)) > k {
		return f.blocks[:k], nil
	}
	return f.blocks, nil
}

func testHeader(blockNum uint64) *types.Header {
	return &types.Header{
		Number:     big.NewInt(int64(blockNum)),
		ParentHash: common.HexToHash(fmt.Sprintf("0x%064x", blockNum-1)),
		Difficulty: big.NewInt(1),
		GasLimit:   8_000_000,
		Time:       1_700_000_000 + blockNum,
	}
}

// forkedHeader has the same number but a different hash.
func forkedHeader(blockNum uint64) *types.Header {
	header := testHeader(blockNum)
	header.Extra = []byte("fork")
	return header
}

func setupDetector(from, to uint64) (*Detector, *fakeEthClient, *fakeBlockSource) {
	chain := &fakeEthClient{
		headers:   make(map[uint64]*types.Header),
		probeErrs: make(map[uint64]error),
	}

	var stored []*store.ProcessedBlock
	for n := to; n >= from; n-- {
		header := testHeader(n)
		chain.headers[n] = header
		stored = append(stored, &store.ProcessedBlock{
			BlockNumber: n,
			BlockHash:   header.Hash(),
		})
	}

	source := &fakeBlockSource{blocks: stored}
	detector := NewDetector(chain, source, 10, logger.NewNopLogger())
	return detector, chain, source
}

func TestDetector_NoReorg(t *testing.T) {
	detector, _, _ := setupDetector(100, 110)

	_, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestDetector_EmptyStore(t *testing.T) {
	detector, _, source := setupDetector(100, 110)
	source.blocks = nil

	_, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestDetector_LowestDivergentBlockWins(t *testing.T) {
	detector, chain, _ := setupDetector(100, 110)

	// chain replaced everything from 108 on
	for n := uint64(108); n <= 110; n++ {
		chain.headers[n] = forkedHeader(n)
	}

	reorgPoint, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(108), reorgPoint)
}

func TestDetector_BlockNotFoundIsDivergence(t *testing.T) {
	detector, chain, _ := setupDetector(100, 110)

	// the chain shrank: 109 and 110 no longer exist
	delete(chain.headers, 109)
	delete(chain.headers, 110)

	reorgPoint, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(109), reorgPoint)
}

func TestDetector_TransientProbeAbortsDetection(t *testing.T) {
	detector, chain, _ := setupDetector(100, 110)

	chain.probeErrs[104] = errors.New("rpc timeout")
	// a divergence above the failed probe must not be reported
	chain.headers[110] = forkedHeader(110)

	_, found, err := detector.Detect(context.Background())
	require.Error(t, err)
	require.False(t, found)
}

func TestDetector_WindowLimitsProbes(t *testing.T) {
	detector, chain, _ := setupDetector(100, 120)

	// window of 10 only covers 111..120; a fork at 105 is invisible
	chain.headers[105] = forkedHeader(105)

	_, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.False(t, found)

	// but a fork inside the window is found
	chain.headers[115] = forkedHeader(115)
	reorgPoint, found, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(115), reorgPoint)
}
