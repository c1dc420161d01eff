package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// defaultProgramID is the address the crowdfund program is registered at
// unless overridden.
var defaultProgramID = types.Pubkey(blake3.Sum256([]byte("x1-crowdfund/program")))

// Config holds the node configuration. Every flag falls back to a
// CROWDFUND_* environment variable, which may come from a .env file.
type Config struct {
	DataDir   string
	InMemory  bool
	LogLevel  string
	LogFormat string

	RPCAddr        string
	RPCCORS        bool
	EnableAirdrop  bool
	MaxAirdrop     uint64
	RequestTimeout time.Duration

	ProgramID    types.Pubkey
	ComputeLimit uint64
	SkipSigCheck bool

	SnapshotDir string
	GCInterval  time.Duration
	RetainSlots uint64

	ShowVersion bool
}

// loadConfig parses args over environment defaults.
func loadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("crowdfund", flag.ContinueOnError)

	cfg := &Config{}
	var programID string

	fs.StringVar(&cfg.DataDir, "data-dir", getEnv("CROWDFUND_DATA_DIR", "./data"), "Data directory for accounts and ledger")
	fs.BoolVar(&cfg.InMemory, "in-memory", getEnvBool("CROWDFUND_IN_MEMORY", false), "Keep accounts in memory (ledger goes to a temp dir)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("CROWDFUND_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("CROWDFUND_LOG_FORMAT", "json"), "Log format: json, console")

	fs.StringVar(&cfg.RPCAddr, "rpc-addr", getEnv("CROWDFUND_RPC_ADDR", ":8899"), "RPC server listen address")
	fs.BoolVar(&cfg.RPCCORS, "rpc-cors", getEnvBool("CROWDFUND_RPC_CORS", true), "Send CORS headers")
	fs.BoolVar(&cfg.EnableAirdrop, "enable-airdrop", getEnvBool("CROWDFUND_ENABLE_AIRDROP", false), "Enable requestAirdrop (development only)")
	fs.Uint64Var(&cfg.MaxAirdrop, "max-airdrop", getEnvUint("CROWDFUND_MAX_AIRDROP", 100_000_000_000), "Maximum lamports per airdrop")
	fs.DurationVar(&cfg.RequestTimeout, "rpc-timeout", getEnvDuration("CROWDFUND_RPC_TIMEOUT", 30*time.Second), "RPC read and write timeout")

	fs.StringVar(&programID, "program-id", getEnv("CROWDFUND_PROGRAM_ID", defaultProgramID.String()), "Crowdfund program address")
	fs.Uint64Var(&cfg.ComputeLimit, "compute-limit", getEnvUint("CROWDFUND_COMPUTE_LIMIT", svm.CUDefault), "Compute units per transaction")
	fs.BoolVar(&cfg.SkipSigCheck, "skip-sig-verify", getEnvBool("CROWDFUND_SKIP_SIG_VERIFY", false), "Skip signature verification (testing only)")

	fs.StringVar(&cfg.SnapshotDir, "snapshot-dir", getEnv("CROWDFUND_SNAPSHOT_DIR", ""), "Load the latest snapshot on start and write one on exit")
	fs.DurationVar(&cfg.GCInterval, "gc-interval", getEnvDuration("CROWDFUND_GC_INTERVAL", 10*time.Minute), "Accounts value log GC interval")
	fs.Uint64Var(&cfg.RetainSlots, "retain-slots", getEnvUint("CROWDFUND_RETAIN_SLOTS", 0), "Prune ledger entries older than this many slots (0 keeps everything)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	id, err := types.PubkeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid program-id %q: %w", programID, err)
	}
	cfg.ProgramID = id

	if cfg.ComputeLimit == 0 || cfg.ComputeLimit > svm.CUMax {
		return nil, fmt.Errorf("compute-limit must be in 1..%d", svm.CUMax)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return nil, fmt.Errorf("unknown log-format %q", cfg.LogFormat)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log-level %q: %w", cfg.LogLevel, err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
