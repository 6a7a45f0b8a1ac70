package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/njoerd114/batchrelay/internal/record"
	"github.com/njoerd114/batchrelay/internal/remote"
)

const (
	// singleKeyChunkSize bounds the number of values in one "in" list or
	// OR-of-equalities query.
	singleKeyChunkSize = 100

	// compositeKeyChunkSize is smaller because each record contributes a
	// whole AND-clause to the query.
	compositeKeyChunkSize = 30
)

// Detector decides which candidate records already exist in the store.
type Detector struct {
	reader *Reader
	caps   QueryCapabilities
	retry  remote.Policy
	log    *slog.Logger
	inst   *instruments
}

// NewDetector creates a Detector that reads through reader, chooses query
// shapes from caps, and retries each chunk's fetch under policy.
func NewDetector(reader *Reader, caps QueryCapabilities, policy remote.Policy, logger *slog.Logger) *Detector {
	return &Detector{
		reader: reader,
		caps:   caps,
		retry:  policy,
		log:    logger,
		inst:   newInstruments(logger),
	}
}

// CheckBatch returns one entry per record, in input order, telling whether a
// record with the same key already exists in collection. Records missing a
// key field cannot be proven duplicates and are reported as clean.
func (d *Detector) CheckBatch(ctx context.Context, collection string, records []record.Record, spec record.KeySpec) ([]record.DuplicateCheckEntry, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ctx, span := d.inst.tracer.Start(ctx, spanCheckDuplicates)
	defer span.End()

	d.log.Debug("checking duplicates", "collection", collection, "records", len(records), "key", spec.String())

	build := d.singleFieldChunkQuery
	chunkSize := singleKeyChunkSize
	if spec.IsComposite() {
		build = compositeChunkQuery
		chunkSize = compositeKeyChunkSize
	}

	entries := make([]record.DuplicateCheckEntry, 0, len(records))
	for start := 0; start < len(records); start += chunkSize {
		chunk := records[start:min(start+chunkSize, len(records))]
		checked, err := d.checkChunk(ctx, collection, chunk, spec, build)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("checking duplicates in %s (records %d-%d): %w", collection, start, start+len(chunk)-1, err)
		}
		entries = append(entries, checked...)
	}

	dups := 0
	for _, e := range entries {
		if e.IsDuplicate {
			dups++
		}
	}
	if dups > 0 {
		d.inst.cntDuplicates.Add(ctx, int64(dups))
	}
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("records", len(records)),
		attribute.Int("duplicates", dups),
	)
	d.log.Debug("duplicate check complete", "collection", collection, "duplicates", dups)
	return entries, nil
}

// chunkQueryFunc builds the query matching any record of chunk. It reports
// false when no record in the chunk has a usable key.
type chunkQueryFunc func(chunk []record.Record, spec record.KeySpec) (string, bool)

func (d *Detector) checkChunk(ctx context.Context, collection string, chunk []record.Record, spec record.KeySpec, build chunkQueryFunc) ([]record.DuplicateCheckEntry, error) {
	out := make([]record.DuplicateCheckEntry, len(chunk))
	for i, rec := range chunk {
		out[i] = record.DuplicateCheckEntry{Record: rec}
	}

	query, ok := build(chunk, spec)
	if !ok {
		return out, nil
	}

	existing, err := remote.RetryValue(ctx, d.retry, func() ([]record.Record, error) {
		return d.reader.FetchAll(ctx, collection, spec.Fields(), query)
	})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]record.Record, len(existing))
	for _, e := range existing {
		if k, ok := record.JoinKey(e, spec); ok {
			byKey[k] = append(byKey[k], e)
		}
	}

	for i, rec := range chunk {
		k, ok := record.JoinKey(rec, spec)
		if !ok {
			continue
		}
		if dups := byKey[k]; len(dups) > 0 {
			out[i].IsDuplicate = true
			out[i].Duplicates = dups
		}
	}
	return out, nil
}

func (d *Detector) singleFieldChunkQuery(chunk []record.Record, spec record.KeySpec) (string, bool) {
	field := spec[0]
	seen := make(map[string]bool, len(chunk))
	var values []any
	for _, rec := range chunk {
		v, ok := record.Extract(rec, field)
		if !ok {
			continue
		}
		k := record.KeyString(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", false
	}
	return d.caps.singleFieldQuery(field, values), true
}

func compositeChunkQuery(chunk []record.Record, spec record.KeySpec) (string, bool) {
	seen := make(map[string]bool, len(chunk))
	var clauses []string
	for _, rec := range chunk {
		c, ok := compositeClause(rec, spec)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		clauses = append(clauses, c)
	}
	if len(clauses) == 0 {
		return "", false
	}
	return strings.Join(clauses, " or "), true
}
