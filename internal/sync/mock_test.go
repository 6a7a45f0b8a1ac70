package sync

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/njoerd114/batchrelay/internal/record"
	"github.com/njoerd114/batchrelay/internal/remote"
)

var testLogger = slog.Default()

// fastRetry is a retry policy with millisecond backoff for tests.
func fastRetry(attempts int) remote.Policy {
	return remote.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}
}

// --- Mock Record Store -------------------------------------------------------

var pageRe = regexp.MustCompile(`limit (\d+) offset (\d+)$`)

// mockStore is an in-memory RecordStore. Query ignores the filter part of the
// query and pages through every stored record of the collection; the
// detector filters by key itself, so extra rows never cause false matches.
type mockStore struct {
	mu      sync.Mutex
	records map[string][]record.Record
	nextID  int

	queries     []string
	createCalls [][]record.Record
	updateCalls [][]record.Update
	deleteCalls [][]string
	createTries int
	inFlight    int
	maxInFlight int
	createDelay time.Duration
	createErr   func(try int, batch []record.Record) error
	queryErr    func(call int) error
	onQuery     func(call int) // runs with mu held, before the read
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string][]record.Record)}
}

func (m *mockStore) seed(collection string, recs ...record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[collection] = append(m.records[collection], recs...)
}

func (m *mockStore) Query(_ context.Context, collection string, _ []string, query string) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)
	if m.onQuery != nil {
		m.onQuery(len(m.queries))
	}
	if m.queryErr != nil {
		if err := m.queryErr(len(m.queries)); err != nil {
			return nil, err
		}
	}

	all := m.records[collection]

	limit, offset := len(all), 0
	if g := pageRe.FindStringSubmatch(query); g != nil {
		limit, _ = strconv.Atoi(g[1])
		offset, _ = strconv.Atoi(g[2])
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return append([]record.Record(nil), all[offset:end]...), nil
}

func (m *mockStore) CreateMany(ctx context.Context, collection string, recs []record.Record) ([]record.WriteResult, error) {
	m.mu.Lock()
	m.createTries++
	try := m.createTries
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.createDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		if err := m.createErr(try, recs); err != nil {
			return nil, err
		}
	}

	m.createCalls = append(m.createCalls, recs)
	out := make([]record.WriteResult, len(recs))
	for i, r := range recs {
		m.nextID++
		id := strconv.Itoa(m.nextID)
		if v, ok := record.Extract(r, "key"); ok {
			id = record.KeyString(v)
		}
		out[i] = record.WriteResult{ID: id, Revision: "1"}
	}
	m.records[collection] = append(m.records[collection], recs...)
	return out, nil
}

func (m *mockStore) UpdateMany(_ context.Context, _ string, updates []record.Update) ([]record.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls = append(m.updateCalls, updates)
	out := make([]record.WriteResult, len(updates))
	for i, u := range updates {
		out[i] = record.WriteResult{ID: u.ID, Revision: "2"}
	}
	return out, nil
}

func (m *mockStore) DeleteMany(_ context.Context, _ string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, ids)
	return nil
}

func (m *mockStore) queryLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

func (m *mockStore) creates() [][]record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]record.Record(nil), m.createCalls...)
}

// --- Mock Cache --------------------------------------------------------------

type mockCache struct {
	mu          sync.Mutex
	invalidated []string
	err         error
}

func (c *mockCache) InvalidateCollection(_ context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, collection)
	return c.err
}

// --- Event Recorder ----------------------------------------------------------

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// --- Helpers -----------------------------------------------------------------

// keyed returns n records whose "key" field is "<prefix>-0000", "<prefix>-0001", ...
func keyed(prefix string, n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{
			"key":    record.Wrap(fmt.Sprintf("%s-%04d", prefix, i)),
			"amount": record.Wrap(i),
		}
	}
	return out
}

func newTestUploader(store *mockStore, cache CacheInvalidator, progress *Progress, opts Options) *Uploader {
	det := NewDetector(NewReader(store, 0), NewQueryCapabilities(DefaultNoMembershipFields...), fastRetry(3), testLogger)
	return NewUploader(store, det, cache, progress, opts, testLogger)
}

func testOptions(batchSize, concurrency, attempts int) Options {
	return Options{
		BatchSize:   batchSize,
		Concurrency: concurrency,
		Retry:       fastRetry(attempts),
		LocalDedup:  true,
	}
}
