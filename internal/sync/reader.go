package sync

import (
	"context"
	"fmt"

	"github.com/njoerd114/batchrelay/internal/record"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 500

// Reader fetches every record matching a query by following the store's
// limit/offset pagination.
type Reader struct {
	store    Querier
	pageSize int
}

// NewReader creates a Reader. A pageSize below 1 uses DefaultPageSize.
func NewReader(store Querier, pageSize int) *Reader {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Reader{store: store, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (r *Reader) PageSize() int {
	return r.pageSize
}

// FetchAll returns all records of collection matching query, projected to
// fields. It stops at the first page shorter than the page size. Pages are
// not retried here; callers wrap FetchAll in [remote.Retry].
func (r *Reader) FetchAll(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error) {
	var all []record.Record
	for offset := 0; ; offset += r.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.store.Query(ctx, collection, fields, pageQuery(query, r.pageSize, offset))
		if err != nil {
			return nil, fmt.Errorf("fetching page at offset %d: %w", offset, err)
		}
		all = append(all, page...)

		if len(page) < r.pageSize {
			return all, nil
		}
	}
}

func pageQuery(query string, limit, offset int) string {
	if query == "" {
		return fmt.Sprintf("limit %d offset %d", limit, offset)
	}
	return fmt.Sprintf("%s limit %d offset %d", query, limit, offset)
}
