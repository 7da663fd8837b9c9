package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"dexmirror/internal/model"
	"dexmirror/internal/storage"
)

const (
	accountPrefix = "account/"
	failurePrefix = "failure/"
)

// Store keeps the latest snapshot per account in an embedded pebble database.
// Keys are account/<address>; values are JSON account records.
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64
}

var _ storage.Storage = (*Store)(nil)

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	return OpenWith(dir, &pebble.Options{})
}

// OpenWith opens the database with explicit options, e.g. an in-memory FS.
func OpenWith(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutAccountBatch stores each record unless a record with a higher slot is
// already present.
func (s *Store) PutAccountBatch(_ context.Context, records []model.AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	latest := make(map[string]uint64, len(records))
	for _, rec := range records {
		if slot, ok := latest[rec.Address]; ok && slot > rec.Slot {
			continue
		}
		existing, ok, err := s.get(rec.Address)
		if err != nil {
			return err
		}
		if ok && existing.Slot > rec.Slot {
			continue
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := batch.Set(accountKey(rec.Address), value, nil); err != nil {
			return err
		}
		latest[rec.Address] = rec.Slot
	}
	return batch.Commit(pebble.Sync)
}

// PutFailureBatch appends failure records under increasing keys.
func (s *Store) PutFailureBatch(_ context.Context, records []model.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal failure: %w", err)
		}
		s.seq++
		key := []byte(fmt.Sprintf("%s%s/%020d", failurePrefix, rec.ObservedAt, s.seq))
		if err := batch.Set(key, value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Get returns the stored record for an address.
func (s *Store) Get(address string) (model.AccountRecord, bool, error) {
	return s.get(address)
}

func (s *Store) get(address string) (model.AccountRecord, bool, error) {
	val, closer, err := s.db.Get(accountKey(address))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return model.AccountRecord{}, false, nil
		}
		return model.AccountRecord{}, false, err
	}
	defer closer.Close()

	var rec model.AccountRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return model.AccountRecord{}, false, fmt.Errorf("decode record %s: %w", address, err)
	}
	return rec, true, nil
}

// Scan calls fn for every stored account record in address order.
func (s *Store) Scan(fn func(model.AccountRecord) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(accountPrefix),
		UpperBound: []byte(accountPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec model.AccountRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", iter.Key(), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func accountKey(address string) []byte {
	return []byte(accountPrefix + address)
}
