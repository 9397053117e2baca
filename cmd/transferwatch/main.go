package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/transferwatch/transferwatch/internal/api"
	"github.com/transferwatch/transferwatch/internal/config"
	"github.com/transferwatch/transferwatch/internal/db"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/metrics"
	"github.com/transferwatch/transferwatch/internal/reorg"
	"github.com/transferwatch/transferwatch/internal/rpc"
	"github.com/transferwatch/transferwatch/internal/scanner"
	"github.com/transferwatch/transferwatch/internal/store"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

// usageError marks invalid arguments so main can exit with code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var (
	configPath string

	indexLatest     bool
	indexStartBlock int64

	queryAddress   string
	queryFromBlock int64
	queryToBlock   int64
	queryLimit     int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "transferwatch",
	Short: "transferwatch - ERC-20 transfer event indexer",
	Long: `transferwatch tracks Transfer events of a single ERC-20 contract and
makes them queryable through a local SQLite database. It polls the
chain behind a finality buffer and reconciles reorgs automatically.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run the indexer",
	Long: `Run the scan loop. Without flags it resumes from the last processed
block; --latest starts a bounded backfill behind the current head;
--start-block starts at an explicit height.`,
	RunE: runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query indexed transfer events as JSON",
	RunE:  runQuery,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate counts and the processed range",
	RunE:  runStats,
}

func init() {
	cobra.OnInitialize(func() {
		// A .env in the working directory is a convenience, not a requirement.
		_ = godotenv.Load()
	})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	indexCmd.Flags().BoolVar(&indexLatest, "latest", false, "start from head minus the backfill window")
	indexCmd.Flags().Int64Var(&indexStartBlock, "start-block", -1, "start from an explicit block number")

	queryCmd.Flags().StringVar(&queryAddress, "address", "", "match events where from or to equals this address")
	queryCmd.Flags().Int64Var(&queryFromBlock, "from-block", -1, "lowest block number, inclusive")
	queryCmd.Flags().Int64Var(&queryToBlock, "to-block", -1, "highest block number, inclusive")
	queryCmd.Flags().IntVar(&queryLimit, "limit", store.DefaultQueryLimit, "maximum number of events returned")

	rootCmd.AddCommand(indexCmd, queryCmd, statsCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexLatest && indexStartBlock >= 0 {
		return &usageError{err: errors.New("--latest and --start-block are mutually exclusive")}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return &usageError{err: err}
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return &usageError{err: fmt.Errorf("failed to create logger: %w", err)}
	}
	defer log.Close()
	logger.SetDefaultLogger(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infof("connecting to Ethereum node at %s", cfg.RPCURL)
	ethClient, err := rpc.NewClient(ctx, cfg.RPCURL, &cfg.Retry)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()

	st, err := store.NewFromConfig(cfg.DB, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	detector := reorg.NewDetector(ethClient, st, cfg.Scanner.ReorgWindow, log)

	scanCfg := scanner.Config{
		Token:          cfg.Token(),
		BatchSize:      cfg.Scanner.BlocksPerRequest,
		FinalityBlocks: cfg.Scanner.FinalityBlocks,
		Backfill:       cfg.Scanner.Backfill,
		FromLatest:     indexLatest,
		PollInterval:   cfg.Scanner.PollInterval.Duration,
		ReorgInterval:  cfg.Scanner.ReorgInterval.Duration,
		RequestTimeout: cfg.Scanner.RequestTimeout.Duration,
	}
	if indexStartBlock >= 0 {
		start := uint64(indexStartBlock)
		scanCfg.StartBlock = &start
	}

	sc := scanner.New(scanCfg, ethClient, st, detector, log)

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(groupCtx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, st, log)
		group.Go(func() error {
			return apiServer.Start(groupCtx)
		})
	}

	group.Go(func() error {
		return sc.Run(groupCtx)
	})

	log.Infow("transferwatch started",
		"token", cfg.Token().Hex(),
		"db", cfg.DB.Path,
	)

	if err := group.Wait(); err != nil {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("transferwatch stopped cleanly")
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	filter := store.EventFilter{Limit: queryLimit}

	if queryAddress != "" {
		if !common.IsHexAddress(queryAddress) {
			return &usageError{err: fmt.Errorf("--address %q is not a valid hex address", queryAddress)}
		}
		addr := common.HexToAddress(queryAddress)
		filter.Address = &addr
	}
	if queryFromBlock >= 0 {
		from := uint64(queryFromBlock)
		filter.FromBlock = &from
	}
	if queryToBlock >= 0 {
		to := uint64(queryToBlock)
		filter.ToBlock = &to
	}

	st, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.QueryEvents(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	for _, ev := range api.NewEvents(events) {
		if err := encoder.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openReadOnlyStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(stats)
}

func openReadOnlyStore() (*store.Store, error) {
	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return nil, &usageError{err: err}
	}

	database, err := db.NewSQLiteDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return store.New(database, logger.NewNopLogger())
}
