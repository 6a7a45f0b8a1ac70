// Package sync moves batches of candidate records into the remote record
// store without duplicating what is already there. It pages through query
// results, detects duplicates by single or composite key, and uploads the
// accepted records in size-bounded batches under a bounded-concurrency,
// wave-by-wave schedule with retries and progress events.
//
// The package contains these components:
//
//   - [Reader] follows limit/offset pagination until a short page.
//   - [Detector] decides which candidates already exist remotely.
//   - [Uploader] dedups, gates on the detector, partitions and dispatches.
//   - [Progress] broadcasts upload lifecycle events to optional listeners.
//   - [Preflight] prints an upload plan and asks for confirmation.
package sync

import (
	"context"

	"github.com/njoerd114/batchrelay/internal/record"
)

// RecordStore provides read/write access to the remote record store.
// Implemented by [remote.Client].
type RecordStore interface {
	Query(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error)
	CreateMany(ctx context.Context, collection string, records []record.Record) ([]record.WriteResult, error)
	UpdateMany(ctx context.Context, collection string, updates []record.Update) ([]record.WriteResult, error)
	DeleteMany(ctx context.Context, collection string, ids []string) error
}

// Querier is the read half of [RecordStore].
type Querier interface {
	Query(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error)
}

// CacheInvalidator drops cached reads after a write. Implemented by
// [cache.Store].
type CacheInvalidator interface {
	InvalidateCollection(ctx context.Context, collection string) error
}
