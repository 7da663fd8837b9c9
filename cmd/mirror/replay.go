package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexmirror/internal/address"
	"dexmirror/internal/config"
	"dexmirror/internal/fetch"
	"dexmirror/internal/model"
	"dexmirror/internal/storage"
)

func runReplay(cmd *cobra.Command, _ []string) error {
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

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	file, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	records, err := storage.ReadAccountRecords(file)
	file.Close()
	if err != nil {
		return err
	}

	mem, slot, err := loadSnapshots(records)
	if err != nil {
		return err
	}

	ctx := context.Background()
	p, failures, err := buildPool(ctx, mem, config.PoolConfig{
		Primary:  cfg.Primary,
		Accounts: cfg.Accounts,
		Kind:     cfg.Kind,
	})
	if err != nil {
		return err
	}
	logFailures(logger, p.Address(), failures)

	replayed := model.AccountRecords(p.Address(), p.Accounts())
	if err := writeRecords(cfg.Out, replayed); err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.String("in", cfg.In),
		zap.Int("input_records", len(records)),
		zap.Uint64("max_slot", slot),
		zap.Stringer("primary", p.Address()),
		zap.String("kind", cfg.Kind),
		zap.Int("records", len(replayed)),
		zap.Int("failures", len(failures)),
	)
	return nil
}

// loadSnapshots keeps the highest-slot record per address and serves each one
// from an in-memory provider at its recorded slot and time. It also returns the
// highest slot seen.
func loadSnapshots(records []model.AccountRecord) (*fetch.Memory, uint64, error) {
	type snapshot struct {
		slot uint64
		at   time.Time
		data []byte
	}
	latest := make(map[address.Address]snapshot, len(records))
	var maxSlot uint64
	for _, rec := range records {
		addr, err := address.Parse(rec.Address)
		if err != nil {
			return nil, 0, fmt.Errorf("record %q: %w", rec.Address, err)
		}
		if prev, ok := latest[addr]; ok && prev.slot > rec.Slot {
			continue
		}
		data, err := rec.Bytes()
		if err != nil {
			return nil, 0, fmt.Errorf("record %s data: %w", addr, err)
		}
		var at time.Time
		if rec.UpdatedAt != "" {
			if at, err = time.Parse(time.RFC3339Nano, rec.UpdatedAt); err != nil {
				return nil, 0, fmt.Errorf("record %s updated_at: %w", addr, err)
			}
		}
		latest[addr] = snapshot{slot: rec.Slot, at: at, data: data}
		if rec.Slot > maxSlot {
			maxSlot = rec.Slot
		}
	}

	mem := fetch.NewMemory()
	for addr, snap := range latest {
		mem.SetAt(addr, snap.data, snap.slot, snap.at)
	}
	return mem, maxSlot, nil
}
