package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/chain"
	"dexmirror/internal/config"
	"dexmirror/internal/fetch"
	"dexmirror/internal/market"
	"dexmirror/internal/pool"
	"dexmirror/internal/token"
)

func main() {
	root := &cobra.Command{
		Use:          "mirror",
		Short:        "Solana account mirror",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one account set and print it as JSONL",
		RunE:  runFetch,
	}

	addRPCFlags(fetchCmd)
	fetchCmd.Flags().String("primary", "", "primary account address")
	fetchCmd.Flags().StringSlice("account", nil, "member account addresses (comma-separated)")
	fetchCmd.Flags().String("kind", config.KindRaw, "account layout (raw, mint, token-account)")
	fetchCmd.Flags().String("out", "-", "output JSONL path, - for stdout")

	root.AddCommand(fetchCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh configured pools on an interval and export snapshots",
		RunE:  runWatch,
	}

	addRPCFlags(watchCmd)
	watchCmd.Flags().Duration("interval", 2*time.Second, "refresh interval")
	watchCmd.Flags().String("out", "./data/accounts.jsonl", "output JSONL path, empty disables")
	watchCmd.Flags().String("failures-out", "", "optional failures JSONL path")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	watchCmd.Flags().String("pebble-dir", "", "Pebble directory for latest snapshots")
	watchCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	watchCmd.Flags().String("kafka-topic", "account-snapshots", "Kafka topic for account snapshots")
	watchCmd.Flags().String("kafka-failures-topic", "", "optional Kafka topic for failures")
	watchCmd.Flags().String("checkpoint", "", "checkpoint file path, empty disables")
	watchCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	watchCmd.Flags().String("http-addr", "", "status API listen address, empty disables")
	watchCmd.Flags().String("ws", "", "websocket RPC URL for change notifications")

	root.AddCommand(watchCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild an account set from recorded snapshots",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "", "input JSONL of account records")
	replayCmd.Flags().String("primary", "", "primary account address")
	replayCmd.Flags().StringSlice("account", nil, "member account addresses (comma-separated)")
	replayCmd.Flags().String("kind", config.KindRaw, "account layout (raw, mint, token-account)")
	replayCmd.Flags().String("out", "-", "output JSONL path, - for stdout")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a program address from seeds",
		RunE:  runDerive,
	}

	deriveCmd.Flags().String("program", "", "program id")
	deriveCmd.Flags().StringArray("seed", nil, "seed: utf8, hex:<bytes> or addr:<address> (repeatable)")

	root.AddCommand(deriveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRPCFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "Solana RPC URL")
	cmd.Flags().String("commitment", "confirmed", "commitment (processed, confirmed, finalized)")
	cmd.Flags().String("encoding", chain.EncodingBase64, "account encoding (base64, base64+zstd)")
	cmd.Flags().Int("max-accounts", chain.DefaultMaxAccountsPerCall, "accounts per getMultipleAccounts call")
	cmd.Flags().Int("concurrency", 4, "concurrent RPC calls")
	cmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 250*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newChainClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		Commitment:         cfg.Commitment,
		Encoding:           cfg.Encoding,
		MaxAccountsPerCall: cfg.MaxAccounts,
		Concurrency:        cfg.Concurrency,
		MaxRetries:         cfg.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	return client, nil
}

// buildPool constructs the account set described by pc.
func buildPool(ctx context.Context, provider fetch.Provider, pc config.PoolConfig) (pool.Pool, pool.Failures, error) {
	if pc.Primary == "" {
		return nil, nil, fmt.Errorf("primary address is required")
	}
	primary, err := address.Parse(pc.Primary)
	if err != nil {
		return nil, nil, err
	}
	members, err := address.ParseAll(pc.Accounts)
	if err != nil {
		return nil, nil, err
	}

	switch pc.Kind {
	case config.KindRaw, "":
		set, failures, err := market.NewSet[[]byte](ctx, provider, account.Bytes, primary, members...)
		if err != nil {
			return nil, nil, err
		}
		return set, failures, nil
	case config.KindMint:
		set, failures, err := market.NewSet(ctx, provider, token.DecodeMint, primary, members...)
		if err != nil {
			return nil, nil, err
		}
		return set, failures, nil
	case config.KindTokenAccount:
		set, failures, err := market.NewSet(ctx, provider, token.DecodeAccount, primary, members...)
		if err != nil {
			return nil, nil, err
		}
		return set, failures, nil
	default:
		return nil, nil, config.ValidateKind(pc.Kind)
	}
}

func logFailures(logger *zap.Logger, poolAddr address.Address, failures pool.Failures) {
	for _, f := range failures {
		logger.Warn("account unavailable",
			zap.Stringer("pool", poolAddr),
			zap.Stringer("address", f.Address),
			zap.String("kind", f.Kind),
			zap.Error(f.Err),
		)
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
