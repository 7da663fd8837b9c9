package storage

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/multierr"

	"dexmirror/internal/model"
)

type countingSink struct {
	accounts int
	failures int
	err      error
}

func (c *countingSink) PutAccountBatch(_ context.Context, records []model.AccountRecord) error {
	c.accounts += len(records)
	return c.err
}

func (c *countingSink) PutFailureBatch(_ context.Context, records []model.FailureRecord) error {
	c.failures += len(records)
	return c.err
}

func TestMultiFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{err: errors.New("b down")}
	c := &countingSink{err: errors.New("c down")}
	m := Multi{a, b, c}

	err := m.PutAccountBatch(context.Background(), []model.AccountRecord{{}, {}})
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("expected two combined errors, got %v", err)
	}
	if a.accounts != 2 || c.accounts != 2 {
		t.Fatalf("a failing sink stopped the fan-out: a=%d c=%d", a.accounts, c.accounts)
	}

	if err := (Multi{a}).PutFailureBatch(context.Background(), []model.FailureRecord{{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.failures != 1 {
		t.Fatalf("failure batch not forwarded")
	}
}
