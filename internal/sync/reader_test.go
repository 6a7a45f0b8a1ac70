package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestReader_StopsAfterShortPage(t *testing.T) {
	store := newMockStore()
	store.seed("7", keyed("r", 4)...)

	r := NewReader(store, 4)
	got, err := r.FetchAll(context.Background(), "7", []string{"key"}, "")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("records = %d, want 4", len(got))
	}

	// A full first page forces a second call, which comes back empty.
	queries := store.queryLog()
	want := []string{"limit 4 offset 0", "limit 4 offset 4"}
	if len(queries) != len(want) {
		t.Fatalf("queries = %q, want %q", queries, want)
	}
	for i := range want {
		if queries[i] != want[i] {
			t.Errorf("query[%d] = %q, want %q", i, queries[i], want[i])
		}
	}
}

func TestReader_MultiplePages(t *testing.T) {
	store := newMockStore()
	store.seed("7", keyed("r", 11)...)

	r := NewReader(store, 5)
	got, err := r.FetchAll(context.Background(), "7", nil, `key = "x"`)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 11 {
		t.Errorf("records = %d, want 11", len(got))
	}
	queries := store.queryLog()
	if len(queries) != 3 {
		t.Fatalf("page calls = %d, want 3", len(queries))
	}
	if queries[2] != `key = "x" limit 5 offset 10` {
		t.Errorf("last query = %q", queries[2])
	}
}

func TestReader_EmptyResult(t *testing.T) {
	store := newMockStore()

	got, err := NewReader(store, 0).FetchAll(context.Background(), "7", nil, "")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %d, want 0", len(got))
	}
	if n := len(store.queryLog()); n != 1 {
		t.Errorf("page calls = %d, want 1", n)
	}
}

func TestReader_DefaultPageSize(t *testing.T) {
	if got := NewReader(newMockStore(), -1).PageSize(); got != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", got, DefaultPageSize)
	}
}

func TestReader_PropagatesPageError(t *testing.T) {
	store := newMockStore()
	store.seed("7", keyed("r", 3)...)
	boom := errors.New("boom")
	store.queryErr = func(call int) error {
		if call == 2 {
			return boom
		}
		return nil
	}

	_, err := NewReader(store, 3).FetchAll(context.Background(), "7", nil, "")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
	if !strings.Contains(err.Error(), "offset 3") {
		t.Errorf("error %q should name the failing offset", err)
	}
}

func TestReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newMockStore()
	_, err := NewReader(store, 10).FetchAll(ctx, "7", nil, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(store.queryLog()); n != 0 {
		t.Errorf("page calls = %d, want 0", n)
	}
}
