package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/transferwatch/transferwatch/internal/common"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/metrics"
	"github.com/transferwatch/transferwatch/internal/rpc"
	"github.com/transferwatch/transferwatch/internal/store"
)

// State is the scanner's position in its tick state machine.
type State string

const (
	StateIdle          State = "idle"
	StateFetching      State = "fetching"
	StateCommitting    State = "committing"
	StateBackoff       State = "backoff"
	StateHalted        State = "halted"
	StateReorgRecovery State = "reorg-recovery"
)

var allStates = []string{
	string(StateIdle),
	string(StateFetching),
	string(StateCommitting),
	string(StateBackoff),
	string(StateHalted),
	string(StateReorgRecovery),
}

const (
	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = time.Minute
)

// Store is the write-side persistence surface the scanner drives.
type Store interface {
	CommitBatch(ctx context.Context, events []*store.TransferEvent, blocks []*store.ProcessedBlock) error
	RollbackFrom(ctx context.Context, blockNum uint64) error
	LastProcessedBlock(ctx context.Context) (uint64, bool, error)
}

// Detector reports the lowest diverged block, if any. A non-nil error
// means the result is unknown and the check should be skipped.
type Detector interface {
	Detect(ctx context.Context) (reorgPoint uint64, found bool, err error)
}

// Config holds the scanner's tuning knobs and start position.
type Config struct {
	// Token is the contract whose Transfer events are indexed
	Token common.Address

	// BatchSize bounds the block window per iteration
	BatchSize uint64

	// FinalityBlocks is subtracted from the head before indexing
	FinalityBlocks uint64

	// Backfill is how far behind head a fresh store starts
	Backfill uint64

	// StartBlock forces the start position, even on a non-empty store
	StartBlock *uint64

	// FromLatest forces a head-Backfill start even on a non-empty store
	FromLatest bool

	PollInterval   time.Duration
	ReorgInterval  time.Duration
	RequestTimeout time.Duration
}

// Scanner drives forward progress in bounded batches, applying the
// finality buffer and reconciling reorgs on a configurable cadence.
//
// Exactly one Scanner may run per store; the invariants rely on a
// single writer. Running two concurrently is undefined.
type Scanner struct {
	cfg      Config
	rpc      rpc.EthClient
	store    Store
	detector Detector
	log      *logger.Logger

	nextBlock      uint64
	state          State
	lastReorgCheck time.Time
	backoffAttempt int
}

// New creates a Scanner. Run must be called to start it.
func New(cfg Config, rpcClient rpc.EthClient, st Store, detector Detector, log *logger.Logger) *Scanner {
	return &Scanner{
		cfg:      cfg,
		rpc:      rpcClient,
		store:    st,
		detector: detector,
		log:      log.WithComponent(internalcommon.ComponentScanner),
		state:    StateIdle,
	}
}

// NextBlock returns the lowest block not yet committed. Only meaningful
// from the Run goroutine; exposed for tests.
func (s *Scanner) NextBlock() uint64 {
	return s.nextBlock
}

// CurrentState returns the scanner's state as of the last transition.
func (s *Scanner) CurrentState() State {
	return s.state
}

func (s *Scanner) setState(state State) {
	s.state = state
	metrics.ScannerStateSet(string(state), allStates)
}

// Run executes the scan loop until ctx is cancelled or a fatal error
// halts it. The in-flight tick always completes or aborts before a
// commit, never inside one.
func (s *Scanner) Run(ctx context.Context) error {
	metrics.ComponentHealthSet(internalcommon.ComponentScanner, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentScanner, false)

	if err := s.initCursor(ctx); err != nil {
		s.setState(StateHalted)
		return fmt.Errorf("failed to initialize cursor: %w", err)
	}

	s.log.Infow("scanner starting",
		"next_block", s.nextBlock,
		"batch_size", s.cfg.BatchSize,
		"finality_blocks", s.cfg.FinalityBlocks,
	)
	s.lastReorgCheck = time.Now()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scanner stopped")
			return nil
		default:
		}

		advanced, err := s.tick(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					s.log.Info("scanner stopped")
					return nil
				}
			}

			switch rpc.KindOf(err) {
			case rpc.KindTransient, rpc.KindMalformed:
				// Malformed whole responses degrade to transient:
				// the next attempt may get a clean one.
				if !s.sleepBackoff(ctx, err) {
					return nil
				}
				continue
			default:
				s.setState(StateHalted)
				s.log.Errorw("scanner halted", "error", err)
				return err
			}
		}

		s.backoffAttempt = 0

		if s.reorgCheckDue() {
			if !s.runReorgCheck(ctx) {
				return nil
			}
		}

		if !advanced {
			s.setState(StateIdle)
			if !s.sleep(ctx, s.cfg.PollInterval) {
				return nil
			}
		}
	}
}

// initCursor rebuilds next_block from the store, or derives a bounded
// backfill start from the chain head for an empty store.
func (s *Scanner) initCursor(ctx context.Context) error {
	if s.cfg.StartBlock != nil {
		s.nextBlock = *s.cfg.StartBlock
		s.log.Infow("starting from explicit block", "start_block", s.nextBlock)
		return nil
	}

	last, ok, err := s.store.LastProcessedBlock(ctx)
	if err != nil {
		return err
	}

	if ok && !s.cfg.FromLatest {
		s.nextBlock = last + 1
		s.log.Infow("resuming from store", "last_processed_block", last)
		return nil
	}

	head, err := s.headBlock(ctx)
	if err != nil {
		return err
	}

	if head > s.cfg.Backfill {
		s.nextBlock = head - s.cfg.Backfill
	} else {
		s.nextBlock = 0
	}
	s.log.Infow("starting from bounded backfill", "head", head, "start_block", s.nextBlock)
	return nil
}

// tick runs one iteration: pick a window under the safe head, fetch
// logs and headers, decode, and commit atomically. Returns advanced =
// false when caught up with the safe head.
func (s *Scanner) tick(ctx context.Context) (advanced bool, err error) {
	head, err := s.headBlock(ctx)
	if err != nil {
		return false, err
	}

	if head < s.cfg.FinalityBlocks {
		return false, nil
	}
	safeHead := head - s.cfg.FinalityBlocks
	metrics.SafeHead.Set(float64(safeHead))

	if s.nextBlock > safeHead {
		return false, nil
	}

	s.setState(StateFetching)

	batchEnd := min(s.nextBlock+s.cfg.BatchSize-1, safeHead)

	logs, err := s.fetchLogs(ctx, s.nextBlock, batchEnd)
	if err != nil {
		return false, err
	}

	headers, err := s.fetchHeaders(ctx, s.nextBlock, batchEnd)
	if err != nil {
		return false, err
	}

	events, blocks, err := s.buildBatch(logs, headers, s.nextBlock)
	if err != nil {
		return false, err
	}

	s.setState(StateCommitting)

	commitCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.store.CommitBatch(commitCtx, events, blocks); err != nil {
		return false, err
	}

	metrics.BatchesCommitted.Inc()
	metrics.EventsIndexed.Add(float64(len(events)))
	metrics.LastCommittedBlock.Set(float64(batchEnd))

	s.log.Infow("batch committed",
		"from_block", s.nextBlock,
		"to_block", batchEnd,
		"events", len(events),
		"safe_head", safeHead,
	)

	s.nextBlock = batchEnd + 1
	s.setState(StateIdle)
	return true, nil
}

func (s *Scanner) headBlock(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return s.rpc.HeadBlockNumber(callCtx)
}

func (s *Scanner) fetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{s.cfg.Token},
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	return s.rpc.GetLogs(callCtx, query)
}

// fetchHeaders fetches headers for every block in the window. Full
// coverage keeps processed_blocks contiguous. The client batches the
// requests in chunks of 100, so a window of the default size takes one
// batched call.
func (s *Scanner) fetchHeaders(ctx context.Context, fromBlock, toBlock uint64) ([]*types.Header, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	blockNums := make([]uint64, 0, toBlock-fromBlock+1)
	for n := fromBlock; n <= toBlock; n++ {
		blockNums = append(blockNums, n)
	}

	return s.rpc.BatchGetBlockHeaders(callCtx, blockNums)
}

// buildBatch decodes logs against their headers and assembles the
// ProcessedBlock rows for the full window. Individually malformed logs
// are logged and skipped.
func (s *Scanner) buildBatch(
	logs []types.Log,
	headers []*types.Header,
	fromBlock uint64,
) ([]*store.TransferEvent, []*store.ProcessedBlock, error) {
	headerByNumber := make(map[uint64]*types.Header, len(headers))
	blocks := make([]*store.ProcessedBlock, 0, len(headers))
	for _, header := range headers {
		n := header.Number.Uint64()
		headerByNumber[n] = header
		blocks = append(blocks, &store.ProcessedBlock{
			BlockNumber: n,
			BlockHash:   header.Hash(),
			Timestamp:   int64(header.Time),
		})
	}

	events := make([]*store.TransferEvent, 0, len(logs))
	for i := range logs {
		log := &logs[i]
		if log.Removed {
			continue
		}

		header, ok := headerByNumber[log.BlockNumber]
		if !ok {
			// A log outside the fetched window means the node answered
			// inconsistently; retrying gets a coherent view.
			return nil, nil, rpc.NewError(rpc.KindMalformed, "eth_getLogs",
				fmt.Errorf("log at block %d outside window starting at %d", log.BlockNumber, fromBlock))
		}

		event, err := decodeTransfer(log, header)
		if err != nil {
			s.log.Warnw("skipping malformed log",
				"block", log.BlockNumber,
				"tx", log.TxHash.Hex(),
				"log_index", log.Index,
				"error", err,
			)
			continue
		}
		events = append(events, event)
	}

	return events, blocks, nil
}

func (s *Scanner) reorgCheckDue() bool {
	return time.Since(s.lastReorgCheck) >= s.cfg.ReorgInterval
}

// runReorgCheck invokes the detector and, on divergence, rolls the
// store back and rewinds the cursor. Returns false if ctx was cancelled.
func (s *Scanner) runReorgCheck(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	reorgPoint, found, err := s.detector.Detect(callCtx)
	if err != nil {
		// Unknown result: skip this cycle, try again next interval.
		s.log.Warnw("reorg check skipped", "error", err)
		s.lastReorgCheck = time.Now()
		return ctx.Err() == nil
	}

	s.lastReorgCheck = time.Now()

	if !found {
		return true
	}

	s.setState(StateReorgRecovery)

	rollbackCtx, cancelRollback := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancelRollback()
	if err := s.store.RollbackFrom(rollbackCtx, reorgPoint); err != nil {
		// The next cycle re-detects and retries the rollback.
		s.log.Errorw("failed to roll back after reorg", "block", reorgPoint, "error", err)
		return ctx.Err() == nil
	}

	s.nextBlock = reorgPoint
	s.setState(StateIdle)

	s.log.Warnw("reorg recovered",
		"rolled_back_to", reorgPoint,
		"next_block", s.nextBlock,
	)
	return true
}

// sleepBackoff waits out a jittered exponential backoff after a
// transient failure. Returns false if ctx was cancelled.
func (s *Scanner) sleepBackoff(ctx context.Context, cause error) bool {
	s.setState(StateBackoff)
	s.backoffAttempt++

	delay := backoffBase
	for i := 1; i < s.backoffAttempt; i++ {
		delay *= backoffFactor
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	// ±25% jitter
	jitter := time.Duration((rand.Float64() - 0.5) * 0.5 * float64(delay))
	delay += jitter

	s.log.Warnw("transient failure, backing off",
		"attempt", s.backoffAttempt,
		"delay", delay,
		"error", cause,
	)

	return s.sleep(ctx, delay)
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
