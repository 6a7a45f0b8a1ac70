package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeClock lets tests move the store's notion of now.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock(s *Store) *fakeClock {
	c := &fakeClock{t: time.Date(2026, 2, 17, 14, 30, 0, 0, time.UTC)}
	s.now = c.now
	return c
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Len(context.Background())
	if err != nil {
		t.Fatalf("Len after open: %v", err)
	}
	if n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestOpen_MemoryStoresAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := openTestStore(t)
	b := openTestStore(t)

	if err := a.Put(ctx, "7", "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, "7", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("entry leaked between in-memory stores")
	}
}

func TestOpen_FileIsReopened(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "cache.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Put(ctx, "7", "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Get(ctx, "7", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("entry lost after reopen")
	}
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	if err := s.Put(ctx, "7", "q1", []byte(`[{"a":1}]`), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "7", "q1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil, want entry")
	}
	if !bytes.Equal(got.Payload, []byte(`[{"a":1}]`)) {
		t.Errorf("Payload = %s", got.Payload)
	}
	if want := clock.t.Add(time.Minute); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
}

func TestPut_Replaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "7", "q", []byte("old"), time.Minute)
	if err := s.Put(ctx, "7", "q", []byte("new"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ := s.Get(ctx, "7", "q")
	if got == nil || string(got.Payload) != "new" {
		t.Errorf("Get = %+v, want payload new", got)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPut_NonPositiveTTLStoresNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "7", "q", []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestGet_ExpiredIsMiss(t *testing.T) {
	s := openTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	_ = s.Put(ctx, "7", "q", []byte("v"), time.Minute)
	clock.advance(time.Minute)

	got, err := s.Get(ctx, "7", "q")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected miss for expired entry, got %+v", got)
	}
}

func TestInvalidateCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "7", "a", []byte("v"), time.Minute)
	_ = s.Put(ctx, "7", "b", []byte("v"), time.Minute)
	_ = s.Put(ctx, "8", "a", []byte("v"), time.Minute)

	if err := s.InvalidateCollection(ctx, "7"); err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	if got, _ := s.Get(ctx, "7", "a"); got != nil {
		t.Error("collection 7 entry survived invalidation")
	}
	if got, _ := s.Get(ctx, "8", "a"); got == nil {
		t.Error("collection 8 entry should be untouched")
	}
}

func TestInvalidateAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "7", "a", []byte("v"), time.Minute)
	_ = s.Put(ctx, "8", "a", []byte("v"), time.Minute)

	if err := s.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := openTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	_ = s.Put(ctx, "7", "short", []byte("v"), time.Second)
	_ = s.Put(ctx, "7", "long", []byte("v"), time.Hour)
	clock.advance(time.Minute)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if left, _ := s.Len(ctx); left != 1 {
		t.Errorf("Len = %d, want 1", left)
	}
}
