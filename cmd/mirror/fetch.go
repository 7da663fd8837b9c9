package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dexmirror/internal/config"
	"dexmirror/internal/model"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newChainClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	p, failures, err := buildPool(ctx, client, config.PoolConfig{
		Primary:  cfg.Primary,
		Accounts: cfg.Accounts,
		Kind:     cfg.Kind,
	})
	if err != nil {
		return err
	}
	logFailures(logger, p.Address(), failures)

	records := model.AccountRecords(p.Address(), p.Accounts())
	if err := writeRecords(cfg.Out, records); err != nil {
		return err
	}

	logger.Info("fetch complete",
		zap.Stringer("primary", p.Address()),
		zap.String("kind", cfg.Kind),
		zap.Int("accounts", len(p.Accounts())),
		zap.Int("records", len(records)),
		zap.Int("failures", len(failures)),
	)
	return nil
}

// writeRecords writes records as JSON lines to path, replacing its contents.
// An empty path or "-" writes to stdout.
func writeRecords(path string, records []model.AccountRecord) error {
	var out io.Writer = os.Stdout
	var file *os.File
	if path != "" && path != "-" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		file, out = f, f
	}

	buf := bufio.NewWriter(out)
	enc := json.NewEncoder(buf)
	var err error
	for _, rec := range records {
		if err = enc.Encode(rec); err != nil {
			err = fmt.Errorf("write record %s: %w", rec.Address, err)
			break
		}
	}
	if err == nil {
		err = buf.Flush()
	}
	if file != nil {
		err = multierr.Append(err, file.Close())
	}
	return err
}
