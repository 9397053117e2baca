package reorg

import (
	"context"
	"fmt"

	internalcommon "github.com/transferwatch/transferwatch/internal/common"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/metrics"
	"github.com/transferwatch/transferwatch/internal/rpc"
	"github.com/transferwatch/transferwatch/internal/store"
)

// BlockSource is the slice of the store the detector reads.
type BlockSource interface {
	RecentBlockHashes(ctx context.Context, k uint64) ([]*store.ProcessedBlock, error)
}

// Detector reconciles stored block hashes against the live chain over a
// trailing window.
type Detector struct {
	rpc    rpc.EthClient
	blocks BlockSource
	window uint64
	log    *logger.Logger
}

// NewDetector creates a reorg detector probing the given trailing window.
func NewDetector(rpcClient rpc.EthClient, blocks BlockSource, window uint64, log *logger.Logger) *Detector {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)

	return &Detector{
		rpc:    rpcClient,
		blocks: blocks,
		window: window,
		log:    log.WithComponent(internalcommon.ComponentReorgDetector),
	}
}

// Detect compares the most recent stored block hashes against the
// chain's current hashes, in ascending block order. It returns the
// lowest block whose stored hash no longer matches, with found=true.
// A block the node no longer knows counts as divergence at that height.
//
// A non-nil error means the result is unknown (a probe failed
// transiently); the caller should skip the check this cycle rather than
// treat it as a clean bill.
func (d *Detector) Detect(ctx context.Context) (reorgPoint uint64, found bool, err error) {
	stored, err := d.blocks.RecentBlockHashes(ctx, d.window)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read stored block hashes: %w", err)
	}

	if len(stored) == 0 {
		return 0, false, nil
	}

	// RecentBlockHashes returns newest first; probe oldest first so the
	// lowest divergent block wins.
	highest := stored[0].BlockNumber
	for i := len(stored) - 1; i >= 0; i-- {
		blk := stored[i]

		header, probeErr := d.rpc.GetBlockHeader(ctx, blk.BlockNumber)
		if probeErr != nil {
			if rpc.IsNotFound(probeErr) {
				// The chain shrank past this block.
				d.reorgFound(blk.BlockNumber, highest, "block no longer on chain")
				return blk.BlockNumber, true, nil
			}
			return 0, false, fmt.Errorf("failed to probe block %d: %w", blk.BlockNumber, probeErr)
		}

		if currentHash := header.Hash(); currentHash != blk.BlockHash {
			d.reorgFound(blk.BlockNumber, highest,
				fmt.Sprintf("stored_hash=%s current_hash=%s", blk.BlockHash.Hex(), currentHash.Hex()))
			return blk.BlockNumber, true, nil
		}
	}

	d.log.Debugw("no reorg detected", "window", len(stored), "highest_block", highest)
	return 0, false, nil
}

func (d *Detector) reorgFound(reorgPoint, highest uint64, details string) {
	depth := highest - reorgPoint + 1
	d.log.Warnw("reorg detected",
		"block", reorgPoint,
		"depth", depth,
		"details", details,
	)
	metrics.ReorgsDetected.Inc()
	metrics.ReorgDepth.Observe(float64(depth))
}
