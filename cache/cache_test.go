package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testValue struct {
	Body     string `json:"body"`
	NotFound bool   `json:"notFound"`
}

func newTestCache(t *testing.T, opts Options[testValue]) *Cache[testValue] {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	c, err := New[testValue](JSONCodec[testValue]{}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})

	fetcher := func(ctx context.Context, key string) (testValue, error) {
		calls.Add(1)
		<-release
		return testValue{Body: "value for " + key}, nil
	}
	c := newTestCache(t, Options[testValue]{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]testValue, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "k", fetcher)
		}(i)
	}

	// Give every caller a chance to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fetcher invoked %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d observed %v, caller 0 observed %v", i, results[i], results[0])
		}
	}
}

func TestGetDoesNotFetch(t *testing.T) {
	c := newTestCache(t, Options[testValue]{})

	if _, err := c.Get("k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty cache: err = %v, want ErrMiss", err)
	}
}

func TestDiskPersistenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	c1 := newTestCache(t, Options[testValue]{Dir: dir})
	_, err := c1.GetOrFetch(context.Background(), "k", func(ctx context.Context, key string) (testValue, error) {
		return testValue{Body: "persisted"}, nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	// A new instance over the same directory must hit disk.
	c2 := newTestCache(t, Options[testValue]{Dir: dir})
	v, err := c2.Get("k")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if v.Body != "persisted" {
		t.Fatalf("got %q, want %q", v.Body, "persisted")
	}
}

func TestFetcherErrorIsNotCached(t *testing.T) {
	var calls atomic.Int64
	fetcher := func(ctx context.Context, key string) (testValue, error) {
		calls.Add(1)
		return testValue{}, fmt.Errorf("upstream down")
	}
	c := newTestCache(t, Options[testValue]{})

	for i := 0; i < 2; i++ {
		if _, err := c.GetOrFetch(context.Background(), "k", fetcher); err == nil {
			t.Fatal("expected error")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("fetcher invoked %d times, want 2 (errors must not be cached)", got)
	}
}

func TestNotFoundTTL(t *testing.T) {
	fetcher := func(ctx context.Context, key string) (testValue, error) {
		return testValue{NotFound: true}, nil
	}
	c := newTestCache(t, Options[testValue]{
		TTLFor: func(v testValue) time.Duration {
			if v.NotFound {
				return 30 * time.Millisecond
			}
			return 0
		},
	})

	if _, err := c.GetOrFetch(context.Background(), "k", fetcher); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if _, err := c.Get("k"); err != nil {
		t.Fatalf("Get within TTL: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := c.Get("k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get after TTL: err = %v, want ErrMiss", err)
	}
}

func TestCancelledWaitersDoNotCorruptState(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	// The fetcher closes over request state the way resolvers close over
	// their query; the detached flight must still see it after the caller
	// has given up and moved on.
	body := "late"
	fetcher := func(ctx context.Context, key string) (testValue, error) {
		close(started)
		<-release
		return testValue{Body: body}, nil
	}
	c := newTestCache(t, Options[testValue]{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "k", fetcher)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter: err = %v, want context.Canceled", err)
	}

	// The fetch completes in the background and its result is still written.
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		v, err := c.Get("k")
		if err == nil {
			if v.Body != "late" {
				t.Fatalf("background result corrupted: %v", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background fetch result never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCorruptEntryQuarantined(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Options[testValue]{Dir: dir})

	if err := os.WriteFile(c.Path("k"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("corrupt entry served: err = %v", err)
	}
	if _, err := os.Stat(c.Path("k") + ".corrupt"); err != nil {
		t.Fatalf("corrupt entry not quarantined: %v", err)
	}
}

func TestCompact(t *testing.T) {
	dir := t.TempDir()
	fresh := func(ctx context.Context, key string) (testValue, error) {
		return testValue{Body: key}, nil
	}
	c := newTestCache(t, Options[testValue]{Dir: dir})
	for _, k := range []string{"a", "b", "c"} {
		if _, err := c.GetOrFetch(context.Background(), k, fresh); err != nil {
			t.Fatal(err)
		}
	}

	// One expired entry and one corrupt file.
	expired := newTestCache(t, Options[testValue]{Dir: dir, TTL: time.Millisecond})
	if _, err := expired.GetOrFetch(context.Background(), "old", fresh); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.json"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	meta, err := Compact(dir)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if meta.Entries != 3 {
		t.Fatalf("meta.Entries = %d, want 3", meta.Entries)
	}
	if meta.Removed != 2 {
		t.Fatalf("meta.Removed = %d, want 2", meta.Removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.meta")); err != nil {
		t.Fatalf("cache.meta not written: %v", err)
	}
}
