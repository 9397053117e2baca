package scanner

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/transferwatch/transferwatch/internal/store"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"),
// the topic-0 filter for canonical fungible-token transfers.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const (
	// Transfer has 3 topics: event signature + 2 indexed addresses
	expectedTopicsCount = 3

	// the unindexed uint256 value occupies one 32-byte data word
	expectedDataSize = 32
)

// decodeTransfer maps a raw log to a TransferEvent. The from and to
// addresses are the low 20 bytes of topics 1 and 2; the value is the
// big-endian data word, rendered as canonical decimal text without any
// intermediate narrowing.
func decodeTransfer(log *types.Log, header *types.Header) (*store.TransferEvent, error) {
	if len(log.Topics) != expectedTopicsCount {
		return nil, fmt.Errorf("invalid Transfer event: expected %d topics, got %d",
			expectedTopicsCount, len(log.Topics))
	}

	if len(log.Data) != expectedDataSize {
		return nil, fmt.Errorf("invalid Transfer event: expected %d bytes of data, got %d",
			expectedDataSize, len(log.Data))
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	value := new(big.Int).SetBytes(log.Data)

	return &store.TransferEvent{
		TxHash:      log.TxHash,
		LogIndex:    uint64(log.Index),
		BlockNumber: log.BlockNumber,
		BlockHash:   header.Hash(),
		From:        from,
		To:          to,
		Value:       value.String(),
		Timestamp:   int64(header.Time),
	}, nil
}
