package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/config"
	"dexmirror/internal/fetch"
	"dexmirror/internal/market"
	"dexmirror/internal/model"
	"dexmirror/internal/pool"
	"dexmirror/internal/storage"
	"dexmirror/internal/token"
)

func testAddr(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[31] = 0x11
	return a
}

func mintData(t *testing.T, decimals uint8) []byte {
	t.Helper()
	data, err := token.Mint{Supply: 1000, Decimals: decimals, IsInitialized: true}.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestBuildPoolKinds(t *testing.T) {
	mem := fetch.NewMemory()
	mem.Set(testAddr(1), mintData(t, 6))
	mem.Set(testAddr(2), mintData(t, 9))
	ctx := context.Background()

	p, failures, err := buildPool(ctx, mem, config.PoolConfig{
		Primary:  testAddr(1).String(),
		Accounts: []string{testAddr(2).String(), testAddr(3).String()},
		Kind:     config.KindMint,
	})
	require.NoError(t, err)
	assert.Equal(t, []address.Address{testAddr(3)}, failures.Addresses())
	mints, ok := p.(*market.Set[token.Mint])
	require.True(t, ok)
	m, _ := mints.Members[0].Get()
	assert.Equal(t, uint8(9), m.Decimals)

	p, _, err = buildPool(ctx, mem, config.PoolConfig{Primary: testAddr(1).String(), Kind: config.KindRaw})
	require.NoError(t, err)
	_, ok = p.(*market.Set[[]byte])
	assert.True(t, ok)

	_, _, err = buildPool(ctx, mem, config.PoolConfig{Primary: testAddr(1).String(), Kind: config.KindTokenAccount})
	assert.ErrorIs(t, err, pool.ErrPrimaryUnavailable, "a mint does not decode as a token account")

	_, _, err = buildPool(ctx, mem, config.PoolConfig{Primary: testAddr(1).String(), Kind: "orca"})
	assert.Error(t, err)

	_, _, err = buildPool(ctx, mem, config.PoolConfig{Kind: config.KindRaw})
	assert.Error(t, err)

	_, _, err = buildPool(ctx, mem, config.PoolConfig{Primary: "not-base58-0OIl"})
	assert.Error(t, err)
}

func TestBuildRegistrySkipsUnavailablePrimary(t *testing.T) {
	mem := fetch.NewMemory()
	mem.Set(testAddr(1), []byte{1})

	cfg := config.Config{
		Concurrency: 2,
		Pools: []config.PoolConfig{
			{Primary: testAddr(1).String(), Kind: config.KindRaw},
			{Primary: testAddr(2).String(), Kind: config.KindRaw},
		},
	}
	reg, err := buildRegistry(context.Background(), mem, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	cfg.Pools = cfg.Pools[1:]
	_, err = buildRegistry(context.Background(), mem, cfg, zap.NewNop())
	assert.Error(t, err)
}

// captureSink records batches and cancels the watch loop after a number of
// account batches.
type captureSink struct {
	mu       sync.Mutex
	accounts [][]model.AccountRecord
	failures []model.FailureRecord
	stopAt   int
	cancel   context.CancelFunc
}

func (s *captureSink) PutAccountBatch(_ context.Context, records []model.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, records)
	if len(s.accounts) >= s.stopAt {
		s.cancel()
	}
	return nil
}

func (s *captureSink) PutFailureBatch(_ context.Context, records []model.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, records...)
	return nil
}

func TestWatchExportsUntilCancelled(t *testing.T) {
	mem := fetch.NewMemory()
	mem.Set(testAddr(1), []byte{1, 2, 3})
	mem.Set(testAddr(2), []byte{4})

	reg := pool.NewRegistry(1, nil)
	set, _, err := market.NewSet[[]byte](context.Background(), mem, func(b []byte) ([]byte, error) { return b, nil }, testAddr(1), testAddr(2))
	require.NoError(t, err)
	_, err = reg.Add(set)
	require.NoError(t, err)

	mem.Fail(testAddr(2), errors.New("rpc unavailable"))

	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{stopAt: 2, cancel: cancel}

	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	exp := &exporter{
		reg:        reg,
		provider:   mem,
		sink:       sink,
		checkpoint: storage.NewCheckpointStore(cpPath, true),
	}

	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, exp, time.Millisecond, nil)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.accounts, 2)
	first := sink.accounts[0]
	require.Len(t, first, 2, "failed member keeps its previous snapshot")
	assert.Equal(t, testAddr(1).String(), first[0].Pool)

	second := sink.accounts[1]
	require.Len(t, second, 1, "stale member snapshot is not exported twice")
	assert.Equal(t, testAddr(1).String(), second[0].Address)
	assert.Greater(t, second[0].Slot, first[0].Slot)

	cp, ok, err := storage.NewCheckpointStore(cpPath, true).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second[0].Slot, cp.LastExportedSlot)
	assert.Equal(t, cp.LastExportedSlot, exp.lastSlot)
	assert.Equal(t, second[0].Slot, cp.Accounts[testAddr(1).String()])
	assert.Equal(t, first[1].Slot, cp.Accounts[testAddr(2).String()])
	require.NotEmpty(t, sink.failures)
	assert.Equal(t, testAddr(2).String(), sink.failures[0].Address)
	assert.Contains(t, sink.failures[0].Error, "rpc unavailable")
}

func TestWatchRefreshesOnTrigger(t *testing.T) {
	mem := fetch.NewMemory()
	mem.Set(testAddr(1), []byte{1})

	reg := pool.NewRegistry(1, nil)
	set, _, err := market.NewSet[[]byte](context.Background(), mem, func(b []byte) ([]byte, error) { return b, nil }, testAddr(1))
	require.NoError(t, err)
	_, err = reg.Add(set)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{stopAt: 2, cancel: cancel}
	exp := &exporter{reg: reg, provider: mem, sink: sink}

	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, exp, time.Hour, trigger)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not start a refresh")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.accounts, 2)
}

func TestWatchedAddresses(t *testing.T) {
	mem := fetch.NewMemory()
	mem.Set(testAddr(1), []byte{1})
	mem.Set(testAddr(2), []byte{2})

	reg := pool.NewRegistry(1, nil)
	set, _, err := market.NewSet[[]byte](context.Background(), mem, func(b []byte) ([]byte, error) { return b, nil }, testAddr(1), testAddr(2))
	require.NoError(t, err)
	_, err = reg.Add(set)
	require.NoError(t, err)

	assert.ElementsMatch(t, []address.Address{testAddr(1), testAddr(2)}, watchedAddresses(reg))
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Out:       filepath.Join(dir, "accounts.jsonl"),
		PebbleDir: filepath.Join(dir, "pebble"),
	}
	sinks, closeSinks, err := openSinks(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, sinks, 2)

	rec := model.AccountRecord{Pool: "p", Address: "a", Slot: 3, Data: "AQ=="}
	require.NoError(t, sinks.PutAccountBatch(context.Background(), []model.AccountRecord{rec}))
	closeSinks()

	data, err := os.ReadFile(cfg.Out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"address":"a"`)

	_, _, err = openSinks(context.Background(), config.Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadSnapshotsKeepsLatest(t *testing.T) {
	records := []model.AccountRecord{
		{Address: testAddr(1).String(), Slot: 10, Data: "AQ=="},
		{Address: testAddr(1).String(), Slot: 30, Data: "Aw=="},
		{Address: testAddr(1).String(), Slot: 20, Data: "Ag=="},
		{Address: testAddr(2).String(), Slot: 5, Data: "BQ=="},
	}
	mem, slot, err := loadSnapshots(records)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), slot)

	set, failures, err := market.NewSet[[]byte](context.Background(), mem, func(b []byte) ([]byte, error) { return b, nil }, testAddr(1), testAddr(2), testAddr(3))
	require.NoError(t, err)
	assert.Equal(t, []address.Address{testAddr(3)}, failures.Addresses())

	primary, _ := set.Primary.Get()
	assert.Equal(t, []byte{3}, primary)
	member, _ := set.Members[0].Get()
	assert.Equal(t, []byte{5}, member)
	assert.Equal(t, uint64(30), set.Primary.Slot())
	assert.Equal(t, uint64(5), set.Members[0].Slot(), "each account keeps its recorded slot")

	_, _, err = loadSnapshots([]model.AccountRecord{{Address: "bad", Data: ""}})
	assert.Error(t, err)
	_, _, err = loadSnapshots([]model.AccountRecord{{Address: testAddr(1).String(), Data: "%%"}})
	assert.Error(t, err)
	_, _, err = loadSnapshots([]model.AccountRecord{{Address: testAddr(1).String(), Data: "AQ==", UpdatedAt: "yesterday"}})
	assert.Error(t, err)
}

func TestReplayPreservesRecordedSlots(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	a := account.New[[]byte](testAddr(1), account.Bytes)
	b := account.New[[]byte](testAddr(2), account.Bytes)
	require.NoError(t, a.Update([]byte{1, 1}, 100, at))
	require.NoError(t, b.Update([]byte{2, 2}, 500, at.Add(time.Second)))

	records := model.AccountRecords(testAddr(1), []account.State{a, b})
	mem, maxSlot, err := loadSnapshots(records)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), maxSlot)

	set, failures, err := market.NewSet[[]byte](context.Background(), mem, account.Bytes, testAddr(1), testAddr(2))
	require.NoError(t, err)
	require.Empty(t, failures)

	assert.Equal(t, uint64(100), set.Primary.Slot())
	assert.True(t, set.Primary.UpdatedAt().Equal(at))
	assert.Equal(t, uint64(500), set.Members[0].Slot())
	assert.True(t, set.Members[0].UpdatedAt().Equal(at.Add(time.Second)))

	replayed := model.AccountRecords(set.Address(), set.Accounts())
	assert.Equal(t, records, replayed)
}

func TestParseSeeds(t *testing.T) {
	prog := testAddr(9)
	seeds, err := parseSeeds([]string{"pool", "hex:00ff", "addr:" + prog.String()})
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.Equal(t, []byte("pool"), seeds[0])
	assert.Equal(t, []byte{0x00, 0xff}, seeds[1])
	assert.Equal(t, prog.Bytes(), seeds[2])

	_, err = parseSeeds([]string{"hex:zz"})
	assert.Error(t, err)
	_, err = parseSeeds([]string{"addr:short"})
	assert.Error(t, err)
}

func TestWriteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	require.NoError(t, writeRecords(path, []model.AccountRecord{{Address: "a"}, {Address: "b"}}))
	require.NoError(t, writeRecords(path, []model.AccountRecord{{Address: "c"}, {Address: "d"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "output is replaced, not appended")
	assert.Contains(t, lines[1], `"address":"d"`)
}
