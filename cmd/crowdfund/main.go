// X1-Crowdfund: single-node runtime for the crowdfunding program.
//
// The node keeps account state in BadgerDB (or memory), records every
// processed transaction in a bbolt ledger and serves the JSON-RPC API.
// Optionally it restores the newest snapshot on start and writes a fresh one
// on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Crowdfund/pkg/accounts"
	"github.com/fortiblox/X1-Crowdfund/pkg/ledger"
	"github.com/fortiblox/X1-Crowdfund/pkg/rpc"
	"github.com/fortiblox/X1-Crowdfund/pkg/runtime"
	"github.com/fortiblox/X1-Crowdfund/pkg/snapshot"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/crowdfund"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Printf("X1-Crowdfund %s (%s)\n", Version, GitCommit)
		return
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("node failed")
	}
	logger.Info().Msg("shutdown complete")
}

// newLogger builds the root logger. Console output is meant for local use.
func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}

func run(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", Version).
		Str("program_id", cfg.ProgramID.String()).
		Bool("in_memory", cfg.InMemory).
		Msg("starting X1-Crowdfund")

	accountsDB, badgerDB, err := openAccounts(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := accountsDB.Close(); err != nil {
			logger.Warn().Err(err).Msg("close accounts")
		}
	}()

	if cfg.SnapshotDir != "" {
		if err := restoreSnapshot(cfg.SnapshotDir, accountsDB, logger); err != nil {
			return err
		}
	}

	store, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	execConfig := runtime.DefaultConfig()
	execConfig.ComputeLimit = cfg.ComputeLimit
	execConfig.SkipSignatureVerification = cfg.SkipSigCheck
	executor := runtime.New(accountsDB, store, execConfig, logger)
	executor.RegisterProgram(cfg.ProgramID, crowdfund.NewProcessor())

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = cfg.RPCAddr
	rpcConfig.EnableCORS = cfg.RPCCORS
	rpcConfig.ReadTimeout = cfg.RequestTimeout
	rpcConfig.WriteTimeout = cfg.RequestTimeout
	rpcConfig.CrowdfundProgramID = cfg.ProgramID
	rpcConfig.EnableAirdrop = cfg.EnableAirdrop
	rpcConfig.MaxAirdropLamports = cfg.MaxAirdrop
	server := rpc.New(rpcConfig, executor, accountsDB, store, logger)

	if badgerDB != nil && cfg.GCInterval > 0 {
		go runValueLogGC(ctx, badgerDB, cfg.GCInterval, logger)
	}

	logger.Info().
		Uint64("slot", executor.Slot()).
		Str("blockhash", executor.LatestBlockhash().String()).
		Msg("node ready")

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}

	if cfg.SnapshotDir != "" {
		info, err := snapshot.Create(cfg.SnapshotDir, accountsDB)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logger.Info().
			Str("path", info.Path).
			Uint64("slot", info.Slot).
			Int64("size", info.Size).
			Msg("snapshot written")
	}
	return nil
}

// openAccounts opens the accounts database. The second return value is set
// when the database is badger-backed and needs value log GC.
func openAccounts(cfg *Config, logger zerolog.Logger) (accounts.DB, *accounts.BadgerDB, error) {
	if cfg.InMemory {
		return accounts.NewMemoryDB(), nil, nil
	}

	badgerConfig := accounts.DefaultBadgerDBConfig(filepath.Join(cfg.DataDir, "accounts"))
	badgerConfig.Logger = badgerLogger{logger.With().Str("component", "badger").Logger()}
	db, err := accounts.NewBadgerDB(badgerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("open accounts: %w", err)
	}
	return db, db, nil
}

// openLedger opens the transaction ledger. In memory mode the ledger lives in
// a temp dir that the returned close func removes after closing the store.
func openLedger(cfg *Config, logger zerolog.Logger) (*ledger.Store, func(), error) {
	dir := cfg.DataDir
	tempDir := ""
	if cfg.InMemory {
		tmp, err := os.MkdirTemp("", "crowdfund-ledger-")
		if err != nil {
			return nil, nil, fmt.Errorf("create ledger dir: %w", err)
		}
		dir, tempDir = tmp, tmp
	}

	ledgerConfig := ledger.DefaultConfig(filepath.Join(dir, "ledger.db"))
	ledgerConfig.NoSync = cfg.InMemory
	ledgerConfig.PruneEnabled = cfg.RetainSlots > 0
	ledgerConfig.RetainSlots = cfg.RetainSlots
	store, err := ledger.Open(ledgerConfig, logger)
	if err != nil {
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("close ledger")
		}
		if tempDir != "" {
			if err := os.RemoveAll(tempDir); err != nil {
				logger.Warn().Err(err).Str("dir", tempDir).Msg("remove ledger dir")
			}
		}
	}
	return store, closeFn, nil
}

// restoreSnapshot loads the newest snapshot into an empty database.
func restoreSnapshot(dir string, db accounts.DB, logger zerolog.Logger) error {
	count, err := db.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info().Uint64("accounts", count).Msg("existing state found, skipping snapshot restore")
		return nil
	}

	info, err := snapshot.FindLatestSnapshot(dir)
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		logger.Info().Str("dir", dir).Msg("no snapshot to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find snapshot: %w", err)
	}

	result, err := snapshot.Load(info.Path, db)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", info.Path, err)
	}
	logger.Info().
		Str("path", info.Path).
		Uint64("slot", result.Slot).
		Uint64("accounts", result.AccountsLoaded).
		Uint64("lamports", result.TotalLamports).
		Msg("snapshot restored")
	return nil
}

func runValueLogGC(ctx context.Context, db *accounts.BadgerDB, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.RunGC(); err != nil && !errors.Is(err, accounts.ErrClosed) {
				logger.Debug().Err(err).Msg("value log gc")
			}
		}
	}
}

// badgerLogger routes badger's logs through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
