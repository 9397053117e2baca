package scanner

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func transferLog(blockNum uint64, logIndex uint, from, to common.Address, value *big.Int) types.Log {
	return types.Log{
		Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.BigToHash(value).Bytes(),
		BlockNumber: blockNum,
		TxHash:      common.HexToHash("0xbeef"),
		Index:       logIndex,
	}
}

func TestDecodeTransfer(t *testing.T) {
	from := common.HexToAddress("0x000000000000000000000000000000000000000A")
	to := common.HexToAddress("0x000000000000000000000000000000000000000B")

	header := &types.Header{
		Number:     big.NewInt(100),
		Difficulty: big.NewInt(1),
		Time:       1_700_000_100,
	}

	log := transferLog(100, 5, from, to, big.NewInt(1_000_000))

	event, err := decodeTransfer(&log, header)
	require.NoError(t, err)
	require.Equal(t, from, event.From)
	require.Equal(t, to, event.To)
	require.Equal(t, "1000000", event.Value)
	require.Equal(t, uint64(100), event.BlockNumber)
	require.Equal(t, uint64(5), event.LogIndex)
	require.Equal(t, header.Hash(), event.BlockHash)
	require.Equal(t, int64(1_700_000_100), event.Timestamp)
}

func TestDecodeTransfer_ValueBoundaries(t *testing.T) {
	from := common.HexToAddress("0x0a")
	to := common.HexToAddress("0x0b")
	header := &types.Header{Number: big.NewInt(1), Difficulty: big.NewInt(1)}

	zero := transferLog(1, 0, from, to, big.NewInt(0))
	event, err := decodeTransfer(&zero, header)
	require.NoError(t, err)
	require.Equal(t, "0", event.Value)

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	max := transferLog(1, 1, from, to, maxUint256)
	event, err = decodeTransfer(&max, header)
	require.NoError(t, err)
	require.Equal(t, maxUint256.String(), event.Value)

	// decoded string re-parses to the original word
	parsed, ok := new(big.Int).SetString(event.Value, 10)
	require.True(t, ok)
	require.Equal(t, common.BigToHash(maxUint256), common.BigToHash(parsed))
}

func TestDecodeTransfer_Malformed(t *testing.T) {
	from := common.HexToAddress("0x0a")
	to := common.HexToAddress("0x0b")
	header := &types.Header{Number: big.NewInt(1), Difficulty: big.NewInt(1)}

	missingTopic := transferLog(1, 0, from, to, big.NewInt(1))
	missingTopic.Topics = missingTopic.Topics[:2]
	_, err := decodeTransfer(&missingTopic, header)
	require.Error(t, err)

	truncatedData := transferLog(1, 0, from, to, big.NewInt(1))
	truncatedData.Data = truncatedData.Data[:16]
	_, err = decodeTransfer(&truncatedData, header)
	require.Error(t, err)
}
