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
		Use:          "vaultd",
		Short:        "Weighted multi-asset vault simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Register pools and run an operation script against the vault",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("ops", "", "operation script JSONL")
	simulateCmd.Flags().String("events-out", "./data/events.jsonl", "event log JSONL path")
	simulateCmd.Flags().String("errors", "./data/op_errors.jsonl", "rejected operations JSONL path")
	simulateCmd.Flags().String("snapshot-file", "./data/snapshot.json", "ledger snapshot path, resumed from when present")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for events and snapshots")
	simulateCmd.Flags().String("rpc", "", "optional RPC URL for token metadata and block time")
	simulateCmd.Flags().String("now", "", "fixed vault clock (unix seconds or RFC3339)")
	simulateCmd.Flags().Int("max-retries", 5, "maximum retry attempts for RPC reads")
	simulateCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap or route against a ledger snapshot",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("snapshot-file", "./data/snapshot.json", "ledger snapshot path")
	quoteCmd.Flags().String("pg-dsn", "", "read the snapshot from Postgres instead")
	quoteCmd.Flags().String("snapshot-name", "vault", "snapshot name in Postgres")
	quoteCmd.Flags().String("pool", "", "pool id for a single swap")
	quoteCmd.Flags().String("token-in", "", "token sold")
	quoteCmd.Flags().String("token-out", "", "token bought")
	quoteCmd.Flags().StringSlice("hop", nil, "route hop as pool:tokenIn:tokenOut (repeatable)")
	quoteCmd.Flags().String("kind", "exact_in", "exact_in or exact_out")
	quoteCmd.Flags().String("amount", "", "amount in (exact_in) or out (exact_out), native units")
	quoteCmd.Flags().String("lp-out", "", "quote the proportional join amounts minting this much LP of --pool")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild pool ledgers from an event log",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "./data/events.jsonl", "event log JSONL")
	replayCmd.Flags().Bool("from-db", false, "read events from Postgres instead of --in")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for events, pool states and snapshots")
	replayCmd.Flags().String("snapshot-file", "", "optional local snapshot for resuming")
	replayCmd.Flags().String("snapshot-name", "replay", "snapshot name in Postgres")
	replayCmd.Flags().Int("checkpoint-every", 1000, "events between snapshot checkpoints")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Fetch ERC20 metadata for configured and listed tokens",
		RunE:  runTokens,
	}

	tokensCmd.Flags().String("rpc", "", "RPC URL")
	tokensCmd.Flags().StringSlice("address", nil, "extra token addresses (comma-separated)")
	tokensCmd.Flags().String("holder", "", "also report each token balance of this account")
	tokensCmd.Flags().String("out", "", "output JSONL path, stdout when empty")
	tokensCmd.Flags().Int("cache-size", 1024, "metadata cache entries")
	tokensCmd.Flags().Int("concurrency", 8, "parallel RPC reads")
	tokensCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	tokensCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	tokensCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(tokensCmd)

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
