package storage

import (
	"context"

	"go.uber.org/multierr"

	"dexmirror/internal/model"
)

// Multi writes every batch to each sink in order. A failing sink does not
// stop the others; their errors are combined.
type Multi []Storage

var _ Storage = Multi(nil)

func (m Multi) PutAccountBatch(ctx context.Context, records []model.AccountRecord) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.PutAccountBatch(ctx, records))
	}
	return err
}

func (m Multi) PutFailureBatch(ctx context.Context, records []model.FailureRecord) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.PutFailureBatch(ctx, records))
	}
	return err
}
