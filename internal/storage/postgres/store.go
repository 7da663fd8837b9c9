package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexmirror/internal/model"
	"dexmirror/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS account_snapshots (
	address     TEXT PRIMARY KEY,
	pool        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	slot        BIGINT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	data        BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS account_failures (
	id          BIGSERIAL PRIMARY KEY,
	pool        TEXT NOT NULL,
	address     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	error       TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS account_snapshots_pool_idx ON account_snapshots (pool);
`

// Store persists account snapshots in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutAccountBatch upserts snapshots, keeping the row with the highest slot
// per address.
func (s *Store) PutAccountBatch(ctx context.Context, records []model.AccountRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		data, err := rec.Bytes()
		if err != nil {
			return fmt.Errorf("decode data for %s: %w", rec.Address, err)
		}
		observedAt, err := parseTime(rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("parse updated_at for %s: %w", rec.Address, err)
		}
		batch.Queue(`
			INSERT INTO account_snapshots (
				address, pool, kind, slot, observed_at, data, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (address)
			DO UPDATE SET
				pool = EXCLUDED.pool,
				kind = EXCLUDED.kind,
				slot = EXCLUDED.slot,
				observed_at = EXCLUDED.observed_at,
				data = EXCLUDED.data,
				updated_at = now()
			WHERE account_snapshots.slot <= EXCLUDED.slot
		`,
			rec.Address,
			rec.Pool,
			rec.Kind,
			int64(rec.Slot),
			observedAt,
			data,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutFailureBatch appends failure records.
func (s *Store) PutFailureBatch(ctx context.Context, records []model.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		observedAt, err := parseTime(rec.ObservedAt)
		if err != nil {
			return fmt.Errorf("parse observed_at for %s: %w", rec.Address, err)
		}
		batch.Queue(`
			INSERT INTO account_failures (pool, address, kind, error, observed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.Pool, rec.Address, rec.Kind, rec.Error, observedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAccount returns the stored snapshot for an address.
func (s *Store) LoadAccount(ctx context.Context, address string) (model.AccountRecord, bool, error) {
	if address == "" {
		return model.AccountRecord{}, false, fmt.Errorf("address required")
	}
	var (
		rec        model.AccountRecord
		slot       int64
		observedAt time.Time
		data       []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT address, pool, kind, slot, observed_at, data
		FROM account_snapshots WHERE address=$1
	`, address)
	if err := row.Scan(&rec.Address, &rec.Pool, &rec.Kind, &slot, &observedAt, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AccountRecord{}, false, nil
		}
		return model.AccountRecord{}, false, err
	}
	rec.Slot = uint64(slot)
	rec.UpdatedAt = observedAt.UTC().Format(time.RFC3339Nano)
	rec.DataLen = len(data)
	rec.Data = base64.StdEncoding.EncodeToString(data)
	return rec, true, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
