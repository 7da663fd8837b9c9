package storage

import (
	"context"

	"dexmirror/internal/model"
)

// Storage defines a sink for exported account snapshots.
type Storage interface {
	PutAccountBatch(ctx context.Context, records []model.AccountRecord) error
	PutFailureBatch(ctx context.Context, records []model.FailureRecord) error
}
