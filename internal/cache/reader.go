package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/njoerd114/batchrelay/internal/record"
)

// Fetcher is the paginated read the cache sits in front of. Implemented by
// [sync.Reader].
type Fetcher interface {
	FetchAll(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error)
}

// CachedReader serves FetchAll from the cache when a live entry exists and
// otherwise reads through to the wrapped Fetcher. Cache failures are logged
// and never fail a read.
type CachedReader struct {
	next  Fetcher
	store *Store
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedReader wraps next. A ttl of zero or less disables caching.
func NewCachedReader(next Fetcher, store *Store, ttl time.Duration, logger *slog.Logger) *CachedReader {
	return &CachedReader{next: next, store: store, ttl: ttl, log: logger}
}

// FetchAll returns the records of collection matching query, projected to
// fields.
func (c *CachedReader) FetchAll(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error) {
	if c.ttl <= 0 {
		return c.next.FetchAll(ctx, collection, fields, query)
	}

	key := readKey(fields, query)
	if recs, ok := c.lookup(ctx, collection, key); ok {
		c.log.Debug("cache hit", "collection", collection, "query", query)
		return recs, nil
	}

	recs, err := c.next.FetchAll(ctx, collection, fields, query)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(recs)
	if err != nil {
		c.log.Warn("encoding records for cache", "collection", collection, "error", err)
		return recs, nil
	}
	if err := c.store.Put(ctx, collection, key, payload, c.ttl); err != nil {
		c.log.Warn("writing read cache", "collection", collection, "error", err)
	}
	return recs, nil
}

func (c *CachedReader) lookup(ctx context.Context, collection, key string) ([]record.Record, bool) {
	e, err := c.store.Get(ctx, collection, key)
	if err != nil {
		c.log.Warn("reading read cache", "collection", collection, "error", err)
		return nil, false
	}
	if e == nil {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.UseNumber()
	var recs []record.Record
	if err := dec.Decode(&recs); err != nil {
		c.log.Warn("decoding cached records", "collection", collection, "error", err)
		return nil, false
	}
	return recs, true
}

// readKey identifies a read by its projection and query.
func readKey(fields []string, query string) string {
	return strings.Join(fields, ",") + "\n" + query
}
