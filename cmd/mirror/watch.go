package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexmirror/internal/address"
	"dexmirror/internal/chain"
	"dexmirror/internal/config"
	"dexmirror/internal/fetch"
	"dexmirror/internal/model"
	"dexmirror/internal/pool"
	"dexmirror/internal/status"
	"dexmirror/internal/storage"
	"dexmirror/internal/storage/kafkasink"
	"dexmirror/internal/storage/pebblestore"
	"dexmirror/internal/storage/postgres"
)

func runWatch(cmd *cobra.Command, _ []string) error {
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

	if len(cfg.Pools) == 0 {
		return fmt.Errorf("pools are required")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newChainClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sinks, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	reg, err := buildRegistry(ctx, client, cfg, logger)
	if err != nil {
		return err
	}

	exp := &exporter{
		reg:        reg,
		provider:   client,
		sink:       sinks,
		checkpoint: storage.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled),
		logger:     logger,
	}
	cp, ok, err := exp.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok {
		exp.lastSlot = cp.LastExportedSlot
		exp.exported = cp.Accounts
		logger.Info("checkpoint loaded",
			zap.Uint64("last_exported_slot", cp.LastExportedSlot),
			zap.Int("accounts", len(cp.Accounts)),
		)
	}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("pools", reg.Len()),
		zap.Duration("interval", cfg.Interval),
		zap.Int("sinks", len(sinks)),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("pebble_dir", cfg.PebbleDir),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
	)

	if cfg.HTTPAddr != "" {
		shutdown := serveStatus(cfg.HTTPAddr, reg, logger)
		defer shutdown()
	}

	var trigger chan struct{}
	if cfg.WSURL != "" {
		trigger = make(chan struct{}, 1)
		sub := chain.NewSubscriber(cfg.WSURL, cfg.Commitment, logger)
		go subscribe(ctx, sub, watchedAddresses(reg), trigger, logger)
	}

	return watch(ctx, exp, cfg.Interval, trigger)
}

// openSinks opens every configured output. The returned func closes them in
// reverse order.
func openSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Multi, func(), error) {
	var sinks storage.Multi
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close sink", zap.Error(err))
			}
		}
	}
	fail := func(err error) (storage.Multi, func(), error) {
		closeAll()
		return nil, nil, err
	}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out, cfg.FailuresOut))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, func() error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
	}
	if cfg.PebbleDir != "" {
		store, err := pebblestore.Open(cfg.PebbleDir)
		if err != nil {
			return fail(fmt.Errorf("open pebble: %w", err))
		}
		closers = append(closers, store.Close)
		sinks = append(sinks, store)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafkasink.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaFailures)
		if err != nil {
			return fail(fmt.Errorf("kafka publisher: %w", err))
		}
		closers = append(closers, pub.Close)
		sinks = append(sinks, pub)
	}

	if len(sinks) == 0 {
		return fail(fmt.Errorf("no output configured"))
	}
	return sinks, closeAll, nil
}

// serveStatus starts the read-only status API. The returned func shuts it
// down.
func serveStatus(addr string, reg *pool.Registry, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           status.NewHandler(reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}
}

// watchedAddresses lists every account tracked by the registry.
func watchedAddresses(reg *pool.Registry) []address.Address {
	var out []address.Address
	for _, h := range reg.Handles() {
		out = append(out, pool.Addresses(h.Pool().Accounts())...)
	}
	return out
}

// subscribe turns account notifications into refresh triggers. A pending
// trigger absorbs further notifications until the watch loop consumes it.
func subscribe(ctx context.Context, sub *chain.Subscriber, addrs []address.Address, trigger chan<- struct{}, logger *zap.Logger) {
	notes := make(chan chain.Notification, 64)
	go func() {
		if err := sub.Run(ctx, addrs, notes); err != nil {
			logger.Error("account subscription", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notes:
			logger.Debug("account changed", zap.Stringer("address", n.Address), zap.Uint64("slot", n.Slot))
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

// buildRegistry constructs every configured pool. Pools whose primary account
// is unavailable are skipped.
func buildRegistry(ctx context.Context, provider fetch.Provider, cfg config.Config, logger *zap.Logger) (*pool.Registry, error) {
	reg := pool.NewRegistry(cfg.Concurrency, logger)
	for _, pc := range cfg.Pools {
		p, failures, err := buildPool(ctx, provider, pc)
		if err != nil {
			if errors.Is(err, pool.ErrPrimaryUnavailable) {
				logger.Error("skip pool", zap.String("primary", pc.Primary), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("pool %s: %w", pc.Primary, err)
		}
		logFailures(logger, p.Address(), failures)
		if _, err := reg.Add(p); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no pool could be constructed")
	}
	return reg, nil
}

// exporter refreshes a registry and writes each account snapshot to a sink
// once. exported holds the last slot written per account and is persisted
// with the checkpoint, so a restart does not write the same snapshot again.
type exporter struct {
	reg        *pool.Registry
	provider   fetch.Provider
	sink       storage.Storage
	checkpoint *storage.CheckpointStore
	lastSlot   uint64
	exported   map[string]uint64
	logger     *zap.Logger
}

// watch runs exp once per interval, and early whenever trigger fires, until
// ctx is cancelled. A nil trigger never fires.
func watch(ctx context.Context, exp *exporter, interval time.Duration, trigger <-chan struct{}) error {
	if exp.logger == nil {
		exp.logger = zap.NewNop()
	}
	if exp.checkpoint == nil {
		exp.checkpoint = storage.NewCheckpointStore("", false)
	}
	if exp.exported == nil {
		exp.exported = make(map[string]uint64)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := exp.run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			exp.logger.Info("watch stopped", zap.Uint64("last_exported_slot", exp.lastSlot))
			return nil
		case <-ticker.C:
		case <-trigger:
		}
	}
}

func (e *exporter) run(ctx context.Context) error {
	failuresByPool, err := e.reg.RefreshAll(ctx, e.provider)
	if err != nil {
		return err
	}
	observedAt := time.Now()

	var records []model.AccountRecord
	var failureRecords []model.FailureRecord
	maxSlot := e.lastSlot
	for _, h := range e.reg.Handles() {
		for _, rec := range model.AccountRecords(h.Address(), h.Pool().Accounts()) {
			if rec.Slot <= e.exported[rec.Address] {
				continue
			}
			if rec.Slot > maxSlot {
				maxSlot = rec.Slot
			}
			records = append(records, rec)
		}
		if failures := failuresByPool[h.Address()]; len(failures) > 0 {
			logFailures(e.logger, h.Address(), failures)
			failureRecords = append(failureRecords, model.FailureRecords(h.Address(), failures, observedAt)...)
		}
	}

	if err := e.sink.PutAccountBatch(ctx, records); err != nil {
		return fmt.Errorf("store accounts: %w", err)
	}
	if err := e.sink.PutFailureBatch(ctx, failureRecords); err != nil {
		return fmt.Errorf("store failures: %w", err)
	}
	if len(records) > 0 {
		for _, rec := range records {
			e.exported[rec.Address] = rec.Slot
		}
		err := e.checkpoint.Save(storage.Checkpoint{LastExportedSlot: maxSlot, Accounts: e.exported})
		if err != nil {
			return err
		}
		e.lastSlot = maxSlot
	}

	e.logger.Debug("export complete",
		zap.Int("records", len(records)),
		zap.Int("failures", len(failureRecords)),
		zap.Uint64("last_exported_slot", e.lastSlot),
	)
	return nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
