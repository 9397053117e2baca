package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	internalcommon "github.com/transferwatch/transferwatch/internal/common"
	"github.com/transferwatch/transferwatch/internal/config"
	"github.com/transferwatch/transferwatch/internal/db"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/metrics"
	"github.com/transferwatch/transferwatch/internal/store/migrations"
)

const (
	// DefaultQueryLimit is applied when a query asks for no explicit limit.
	DefaultQueryLimit = 100

	// MaxQueryLimit caps a single query's result set.
	MaxQueryLimit = 10_000
)

// TransferEvent is one record per on-chain transfer log. Identified by
// (transaction_hash, log_index); never mutated after insert.
type TransferEvent struct {
	TxHash      common.Hash    `meddler:"transaction_hash,hash"`
	LogIndex    uint64         `meddler:"log_index"`
	BlockNumber uint64         `meddler:"block_number"`
	BlockHash   common.Hash    `meddler:"block_hash,hash"`
	From        common.Address `meddler:"from_address,address"`
	To          common.Address `meddler:"to_address,address"`
	Value       string         `meddler:"value"` // canonical base-10 text of a uint256
	Timestamp   int64          `meddler:"timestamp"`
	CreatedAt   int64          `meddler:"created_at"`
}

// ProcessedBlock is one record per block the scanner has observed,
// whether or not it contained matching logs.
type ProcessedBlock struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	Timestamp   int64       `meddler:"timestamp"`
	ProcessedAt int64       `meddler:"processed_at"`
}

// EventFilter selects events for QueryEvents. Address matches either
// side of the transfer. Block bounds are inclusive.
type EventFilter struct {
	Address   *common.Address
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}

// Stats summarizes the indexed state.
type Stats struct {
	EventCount      uint64  `json:"event_count"`
	BlockCount      uint64  `json:"block_count"`
	LowestBlock     *uint64 `json:"lowest_block,omitempty"`
	HighestBlock    *uint64 `json:"highest_block,omitempty"`
	UniqueSenders   uint64  `json:"unique_senders"`
	UniqueReceivers uint64  `json:"unique_receivers"`
}

// Store persists transfer events and scan progress in SQLite.
// Writers must be serialized by the caller (single-scanner contract);
// readers may run concurrently with the writer.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New opens the store, running migrations first.
func New(database *sql.DB, log *logger.Logger) (*Store, error) {
	log = log.WithComponent(internalcommon.ComponentStore)

	if err := migrations.RunMigrations(log, database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	metrics.ComponentHealthSet(internalcommon.ComponentStore, true)

	return &Store{
		db:  database,
		log: log,
	}, nil
}

// NewFromConfig opens the SQLite database described by cfg and wraps it
// in a Store.
func NewFromConfig(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	database, err := db.NewSQLiteDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(database, log)
}

// CommitBatch atomically persists a batch of events and their blocks.
// Duplicate (transaction_hash, log_index) pairs are silently absorbed;
// a duplicate block_number overwrites the stored hash and timestamp so
// a reorg-replay converges without violating invariants.
func (s *Store) CommitBatch(ctx context.Context, events []*TransferEvent, blocks []*ProcessedBlock) error {
	start := time.Now()
	defer func() {
		metrics.DBOperation("commit_batch", time.Since(start))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	now := time.Now().UTC().Unix()

	// Events are written in (block_number, log_index) ascending order.
	sorted := make([]*TransferEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})

	const insertEvent = `
		INSERT INTO transfer_events
			(transaction_hash, log_index, block_number, block_hash,
			 from_address, to_address, value, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash, log_index) DO NOTHING
	`
	for _, ev := range sorted {
		createdAt := ev.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, insertEvent,
			ev.TxHash.Hex(), ev.LogIndex, ev.BlockNumber, ev.BlockHash.Hex(),
			ev.From.Hex(), ev.To.Hex(), ev.Value, ev.Timestamp, createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert event %s/%d: %w", ev.TxHash.Hex(), ev.LogIndex, err)
		}
	}

	const upsertBlock = `
		INSERT INTO processed_blocks (block_number, block_hash, timestamp, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(block_number) DO UPDATE SET
			block_hash = excluded.block_hash,
			timestamp = excluded.timestamp,
			processed_at = excluded.processed_at
	`
	for _, b := range blocks {
		processedAt := b.ProcessedAt
		if processedAt == 0 {
			processedAt = now
		}
		if _, err := tx.ExecContext(ctx, upsertBlock,
			b.BlockNumber, b.BlockHash.Hex(), b.Timestamp, processedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert block %d: %w", b.BlockNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debugw("committed batch",
		"events", len(events),
		"blocks", len(blocks),
	)

	return nil
}

// RollbackFrom atomically deletes all events and processed blocks with
// block_number >= blockNum. Used by the reorg recovery path.
func (s *Store) RollbackFrom(ctx context.Context, blockNum uint64) error {
	start := time.Now()
	defer func() {
		metrics.DBOperation("rollback_from", time.Since(start))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM transfer_events WHERE block_number >= ?`, blockNum)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	eventsDeleted, _ := result.RowsAffected()

	result, err = tx.ExecContext(ctx, `DELETE FROM processed_blocks WHERE block_number >= ?`, blockNum)
	if err != nil {
		return fmt.Errorf("failed to delete processed blocks: %w", err)
	}
	blocksDeleted, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Warnw("rolled back store",
		"from_block", blockNum,
		"events_deleted", eventsDeleted,
		"blocks_deleted", blocksDeleted,
	)

	return nil
}

// LastProcessedBlock returns the highest processed block number, with
// ok=false when the store is empty.
func (s *Store) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(block_number) FROM processed_blocks`,
	).Scan(&last)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query last processed block: %w", err)
	}

	if !last.Valid {
		return 0, false, nil
	}

	return uint64(last.Int64), true, nil
}

// RecentBlockHashes returns the top-k processed blocks ordered by
// block_number descending.
func (s *Store) RecentBlockHashes(ctx context.Context, k uint64) ([]*ProcessedBlock, error) {
	var blocks []*ProcessedBlock
	err := meddler.QueryAll(s.db, &blocks,
		`SELECT * FROM processed_blocks ORDER BY block_number DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent block hashes: %w", err)
	}
	return blocks, nil
}

// QueryEvents returns events matching the filter, ordered by
// (block_number, log_index) descending. Reads run on a snapshot and do
// not block the writer.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]*TransferEvent, error) {
	start := time.Now()
	defer func() {
		metrics.DBOperation("query_events", time.Since(start))
	}()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := `SELECT * FROM transfer_events WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.Address != nil {
		query += ` AND (from_address = ? OR to_address = ?)`
		hex := filter.Address.Hex()
		args = append(args, hex, hex)
	}
	if filter.FromBlock != nil {
		query += ` AND block_number >= ?`
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		query += ` AND block_number <= ?`
		args = append(args, *filter.ToBlock)
	}

	query += ` ORDER BY block_number DESC, log_index DESC LIMIT ?`
	args = append(args, limit)

	var events []*TransferEvent
	if err := meddler.QueryAll(s.db, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	return events, nil
}

// Stats returns aggregate counts and the processed range.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	start := time.Now()
	defer func() {
		metrics.DBOperation("stats", time.Since(start))
	}()

	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT from_address),
		       COUNT(DISTINCT to_address)
		FROM transfer_events
	`).Scan(&stats.EventCount, &stats.UniqueSenders, &stats.UniqueReceivers)
	if err != nil {
		return nil, fmt.Errorf("failed to query event stats: %w", err)
	}

	var count uint64
	var low, high sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(block_number), MAX(block_number) FROM processed_blocks
	`).Scan(&count, &low, &high)
	if err != nil {
		return nil, fmt.Errorf("failed to query block stats: %w", err)
	}

	stats.BlockCount = count
	if low.Valid {
		l := uint64(low.Int64)
		stats.LowestBlock = &l
	}
	if high.Valid {
		h := uint64(high.Int64)
		stats.HighestBlock = &h
	}

	return stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	metrics.ComponentHealthSet(internalcommon.ComponentStore, false)
	return s.db.Close()
}
