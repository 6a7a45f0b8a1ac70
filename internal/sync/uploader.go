package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/batchrelay/internal/record"
	"github.com/njoerd114/batchrelay/internal/remote"
)

const (
	// DefaultBatchSize is the number of records per write call.
	DefaultBatchSize = remote.MaxRecordsPerCall
	// DefaultConcurrency is the number of write calls in flight per wave.
	DefaultConcurrency = 3

	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"
)

// Options configures an Uploader.
type Options struct {
	// BatchSize is clamped to 1..remote.MaxRecordsPerCall.
	BatchSize int
	// Concurrency is the wave width. Values below 1 use DefaultConcurrency.
	Concurrency int
	// Retry wraps every write call.
	Retry remote.Policy
	// LocalDedup drops later records repeating an earlier record's key
	// before the remote check. Only applies to single-field keys.
	LocalDedup bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		Retry:       remote.DefaultPolicy(),
		LocalDedup:  true,
	}
}

func (o Options) normalized() Options {
	if o.BatchSize < 1 || o.BatchSize > remote.MaxRecordsPerCall {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Plan summarises what Upload would do, without writing.
type Plan struct {
	Collection string
	Key        record.KeySpec

	Input   int
	Dropped int // repeated keys removed by local dedup
	Kept    int

	// Entries holds the duplicate check verdicts for the kept records.
	Entries    []record.DuplicateCheckEntry
	Duplicates int

	Batches   int
	BatchSize int
	Waves     int
}

// Blocked reports whether Upload would refuse to write because of remote
// duplicates.
func (p Plan) Blocked() bool {
	return p.Duplicates > 0
}

// Uploader writes records to the store in size-bounded batches, a bounded
// number at a time, after confirming none of them already exists.
type Uploader struct {
	store    RecordStore
	detector *Detector
	cache    CacheInvalidator
	progress *Progress
	opts     Options
	log      *slog.Logger
	inst     *instruments
}

// NewUploader creates an Uploader. cache and progress may be nil.
func NewUploader(store RecordStore, detector *Detector, cache CacheInvalidator, progress *Progress, opts Options, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:    store,
		detector: detector,
		cache:    cache,
		progress: progress,
		opts:     opts.normalized(),
		log:      logger,
		inst:     newInstruments(logger),
	}
}

// Options returns the effective (normalized) options.
func (u *Uploader) Options() Options {
	return u.opts
}

// Upload dedups records locally, checks the store for duplicates and, if
// none are found, creates every remaining record. When any record already
// exists the result has OK false and nothing is written.
//
// A batch that still fails after retries aborts the upload with a
// *FatalUploadError; batches from completed waves are not rolled back.
func (u *Uploader) Upload(ctx context.Context, collection string, records []record.Record, spec record.KeySpec) (record.SyncResult, error) {
	ctx, span := u.inst.tracer.Start(ctx, spanUpload)
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("records.input", len(records)),
	)

	plan, err := u.plan(ctx, collection, records, spec)
	if err != nil {
		span.RecordError(err)
		return record.SyncResult{}, err
	}
	if plan.Blocked() {
		u.log.Info("duplicates found, upload skipped",
			"collection", collection, "duplicates", plan.Duplicates, "records", plan.Kept)
		span.SetAttributes(attribute.Int("duplicates", plan.Duplicates))
		return record.SyncResult{OK: false}, nil
	}

	kept := make([]record.Record, len(plan.Entries))
	for i, e := range plan.Entries {
		kept[i] = e.Record
	}

	batches := partition(kept, u.opts.BatchSize)
	perBatch, err := dispatch(ctx, u, collection, actionCreate, batches,
		func(ctx context.Context, batch []record.Record) ([]record.WriteResult, error) {
			return u.store.CreateMany(ctx, collection, batch)
		})
	if err != nil {
		span.RecordError(err)
		return record.SyncResult{}, err
	}

	results := make([]record.WriteResult, 0, len(kept))
	for _, r := range perBatch {
		results = append(results, r...)
	}
	u.inst.cntRecords.Add(ctx, int64(len(results)))
	span.SetAttributes(attribute.Int("records.written", len(results)))

	u.invalidate(ctx, collection)
	u.log.Info("upload complete", "collection", collection, "records", len(results), "batches", len(batches))
	return record.SyncResult{OK: true, Records: results}, nil
}

// Preview runs local dedup, the duplicate check and partitioning without
// writing anything.
func (u *Uploader) Preview(ctx context.Context, collection string, records []record.Record, spec record.KeySpec) (Plan, error) {
	return u.plan(ctx, collection, records, spec)
}

func (u *Uploader) plan(ctx context.Context, collection string, records []record.Record, spec record.KeySpec) (Plan, error) {
	if err := spec.Validate(); err != nil {
		return Plan{}, err
	}

	kept := records
	if u.opts.LocalDedup && !spec.IsComposite() {
		kept = u.dedupLocal(collection, records, spec[0])
	}

	entries, err := u.detector.CheckBatch(ctx, collection, kept, spec)
	if err != nil {
		return Plan{}, fmt.Errorf("duplicate check: %w", err)
	}

	p := Plan{
		Collection: collection,
		Key:        spec,
		Input:      len(records),
		Dropped:    len(records) - len(kept),
		Kept:       len(kept),
		Entries:    entries,
		BatchSize:  u.opts.BatchSize,
		Batches:    batchCount(len(kept), u.opts.BatchSize),
	}
	p.Waves = batchCount(p.Batches, u.opts.Concurrency)
	for _, e := range entries {
		if e.IsDuplicate {
			p.Duplicates++
		}
	}
	return p, nil
}

// dedupLocal keeps the first record for each key value. Records without the
// key field are always kept.
func (u *Uploader) dedupLocal(collection string, records []record.Record, field string) []record.Record {
	seen := make(map[string]bool, len(records))
	kept := make([]record.Record, 0, len(records))
	var dropped []string
	for _, rec := range records {
		v, ok := record.Extract(rec, field)
		if !ok {
			kept = append(kept, rec)
			continue
		}
		k := record.KeyString(v)
		if seen[k] {
			dropped = append(dropped, k)
			continue
		}
		seen[k] = true
		kept = append(kept, rec)
	}
	if len(dropped) > 0 {
		u.log.Warn("dropped records with repeated key",
			"collection", collection, "field", field, "count", len(dropped), "values", dropped)
	}
	return kept
}

// Update overwrites existing records in batches through the same wave
// schedule as Upload. No duplicate check is performed.
func (u *Uploader) Update(ctx context.Context, collection string, updates []record.Update) ([]record.WriteResult, error) {
	batches := partition(updates, u.opts.BatchSize)
	perBatch, err := dispatch(ctx, u, collection, actionUpdate, batches,
		func(ctx context.Context, batch []record.Update) ([]record.WriteResult, error) {
			return u.store.UpdateMany(ctx, collection, batch)
		})
	if err != nil {
		return nil, err
	}

	results := make([]record.WriteResult, 0, len(updates))
	for _, r := range perBatch {
		results = append(results, r...)
	}
	u.invalidate(ctx, collection)
	u.log.Info("update complete", "collection", collection, "records", len(results))
	return results, nil
}

// Delete removes records by ID in batches and returns how many were deleted.
func (u *Uploader) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	batches := partition(ids, u.opts.BatchSize)
	perBatch, err := dispatch(ctx, u, collection, actionDelete, batches,
		func(ctx context.Context, batch []string) (int, error) {
			if err := u.store.DeleteMany(ctx, collection, batch); err != nil {
				return 0, err
			}
			return len(batch), nil
		})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, n := range perBatch {
		deleted += n
	}
	u.invalidate(ctx, collection)
	u.log.Info("delete complete", "collection", collection, "records", deleted)
	return deleted, nil
}

func (u *Uploader) invalidate(ctx context.Context, collection string) {
	if u.cache == nil {
		return
	}
	if err := u.cache.InvalidateCollection(ctx, collection); err != nil {
		u.log.Warn("invalidating read cache", "collection", collection, "error", err)
	}
}

// retryPolicy returns the configured policy with a hook that logs and
// counts each retry before delegating to any caller-supplied hook.
func (u *Uploader) retryPolicy(ctx context.Context, collection, action string, batch int) remote.Policy {
	p := u.opts.Retry
	next := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		u.inst.cntRetries.Add(ctx, 1)
		u.log.Warn("write failed, retrying",
			"collection", collection, "action", action, "batch", batch,
			"attempt", attempt, "wait", wait, "error", err)
		if next != nil {
			next(attempt, err, wait)
		}
	}
	return p
}

// dispatch runs call once per batch, at most u.opts.Concurrency at a time.
// Each wave is awaited in full before the next starts. Results are returned
// in batch order. Progress events are emitted from the calling goroutine
// only.
func dispatch[T, R any](ctx context.Context, u *Uploader, collection, action string, batches [][]T, call func(context.Context, []T) (R, error)) ([]R, error) {
	id := uuid.NewString()
	total := len(batches)
	base := Event{UploadID: id, Collection: collection, Action: action}

	emit := func(ev Event) {
		ev.UploadID, ev.Collection, ev.Action = base.UploadID, base.Collection, base.Action
		u.progress.Emit(ev)
	}
	fail := func(err error) ([]R, error) {
		u.inst.cntFailures.Add(ctx, 1)
		u.log.Error("dispatch failed", "collection", collection, "action", action, "upload_id", id, "error", err)
		emit(Event{Kind: EventError, Err: err})
		return nil, err
	}

	u.log.Debug("dispatch starting",
		"collection", collection, "action", action, "upload_id", id,
		"batches", total, "concurrency", u.opts.Concurrency)
	emit(Event{Kind: EventStart, TotalTasks: total})

	results := make([]R, total)
	for start := 0; start < total; start += u.opts.Concurrency {
		end := min(start+u.opts.Concurrency, total)

		if err := ctx.Err(); err != nil {
			return fail(&FatalUploadError{Collection: collection, Action: action, Batch: start, Err: err})
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				r, err := runBatch(ctx, u, collection, action, i, batches[i], call)
				if err != nil {
					return &FatalUploadError{Collection: collection, Action: action, Batch: i, Err: err}
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fail(err)
		}

		emit(Event{Kind: EventProgress, Completed: end, Total: total})
	}

	emit(Event{Kind: EventComplete, TotalTasks: total})
	return results, nil
}

func runBatch[T, R any](ctx context.Context, u *Uploader, collection, action string, index int, batch []T, call func(context.Context, []T) (R, error)) (R, error) {
	ctx, span := u.inst.tracer.Start(ctx, spanUploadBatch)
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("action", action),
		attribute.Int("batch", index),
		attribute.Int("records", len(batch)),
	)

	r, err := remote.RetryValue(ctx, u.retryPolicy(ctx, collection, action, index), func() (R, error) {
		return call(ctx, batch)
	})
	if err != nil {
		span.RecordError(err)
		return r, err
	}
	u.inst.cntBatches.Add(ctx, 1)
	return r, nil
}

// partition splits items into contiguous batches of at most size, preserving
// order.
func partition[T any](items []T, size int) [][]T {
	batches := make([][]T, 0, batchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		batches = append(batches, items[start:min(start+size, len(items))])
	}
	return batches
}

func batchCount(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}
