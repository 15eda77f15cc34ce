package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "tokenscope",
		Short:        "Token factory explorer backend",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sync factory events and serve the explorer API",
		RunE:  runServe,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL (ws:// or wss:// enables log subscriptions)")
	runCmd.Flags().Uint64("chain-id", 8453, "expected chain id")
	runCmd.Flags().String("contract", "", "token factory address")
	runCmd.Flags().Uint64("from", 0, "first block to backfill (inclusive)")
	runCmd.Flags().Uint64("to", 0, "last block to backfill (inclusive), 0 means latest")
	runCmd.Flags().Uint64("chunk-size", 20000, "blocks per log query")
	runCmd.Flags().Uint64("min-chunk-size", 500, "smallest chunk before a range is recorded as a gap")
	runCmd.Flags().Int("max-halvings", 6, "maximum chunk halvings per range")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("max-retry-backoff", 30*time.Second, "retry backoff cap")
	runCmd.Flags().Float64("rate-limit", 10, "RPC requests per second, 0 disables limiting")
	runCmd.Flags().Int("rate-burst", 5, "RPC request burst")
	runCmd.Flags().Int("timestamp-batch-size", 100, "block headers per batch request")
	runCmd.Flags().Int("timestamp-workers", 4, "concurrent header batches")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "head poll interval without subscriptions")
	runCmd.Flags().Uint64("reorg-window", 64, "trailing blocks checked for reorgs")
	runCmd.Flags().Duration("reorg-interval", time.Minute, "reorg check interval")
	runCmd.Flags().Int("recent-limit", 10, "recent items shown")
	runCmd.Flags().Int("leaderboard-size", 10, "leaderboard entries shown")
	runCmd.Flags().String("listen", ":8080", "HTTP listen address")
	runCmd.Flags().String("origin", "localhost", "origin named in wallet sign-in challenges")
	runCmd.Flags().StringSlice("allowed-origins", nil, "WebSocket origins allowed to connect (comma-separated)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for mirroring events and views")
	runCmd.Flags().String("events-out", "", "JSONL file receiving every stored event")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
