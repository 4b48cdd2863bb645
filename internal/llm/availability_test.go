package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLister counts probes and returns canned results.
type fakeLister struct {
	calls atomic.Int32
	names []string
	err   error
	delay time.Duration
	panic bool
}

func (f *fakeLister) ListModels(ctx context.Context) ([]string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("probe exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.names, f.err
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, l ModelLister, clock *fakeClock) *AvailabilityCache {
	t.Helper()
	c, err := NewAvailabilityCache(AvailabilityCacheOpts{
		Lister:    l,
		Model:     "llama3",
		Freshness: 30 * time.Second,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAvailabilityCache: %v", err)
	}
	return c
}

func TestNewAvailabilityCache_Validation(t *testing.T) {
	if _, err := NewAvailabilityCache(AvailabilityCacheOpts{Model: "llama3"}); err == nil {
		t.Error("expected error without lister")
	}
	if _, err := NewAvailabilityCache(AvailabilityCacheOpts{Lister: &fakeLister{}}); err == nil {
		t.Error("expected error without model")
	}
}

func TestIsAvailable_CachedWithinWindow(t *testing.T) {
	l := &fakeLister{names: []string{"llama3:latest"}}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, l, clock)
	ctx := context.Background()

	if !c.IsAvailable(ctx) {
		t.Fatal("first call = false, want true")
	}
	clock.Advance(29 * time.Second)
	if !c.IsAvailable(ctx) {
		t.Fatal("second call = false, want cached true")
	}
	if n := l.calls.Load(); n != 1 {
		t.Errorf("probes within window = %d, want 1", n)
	}

	clock.Advance(2 * time.Second)
	c.IsAvailable(ctx)
	if n := l.calls.Load(); n != 2 {
		t.Errorf("probes after expiry = %d, want 2", n)
	}
}

func TestIsAvailable_CachesNegativeResult(t *testing.T) {
	l := &fakeLister{err: errors.New("connection refused")}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, l, clock)

	if c.IsAvailable(context.Background()) {
		t.Fatal("IsAvailable = true on probe error")
	}
	if c.IsAvailable(context.Background()) {
		t.Fatal("IsAvailable = true on cached failure")
	}
	if n := l.calls.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}
}

func TestIsAvailable_RequiresModel(t *testing.T) {
	l := &fakeLister{names: []string{"mistral:7b"}}
	c := newTestCache(t, l, &fakeClock{now: time.Now()})
	if c.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true without the configured model")
	}
}

func TestIsAvailable_PanicIsUnavailable(t *testing.T) {
	l := &fakeLister{panic: true}
	c := newTestCache(t, l, &fakeClock{now: time.Now()})
	if c.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true after probe panic")
	}
}

func TestIsAvailable_ConcurrentCallersShareOneProbe(t *testing.T) {
	l := &fakeLister{names: []string{"llama3"}, delay: 50 * time.Millisecond}
	c := newTestCache(t, l, &fakeClock{now: time.Now()})

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.IsAvailable(context.Background())
		}(i)
	}
	wg.Wait()

	if n := l.calls.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}
	for i, r := range results {
		if !r {
			t.Errorf("caller %d got false", i)
		}
	}
}

func TestIsAvailable_CancelledCallerDoesNotFailProbe(t *testing.T) {
	l := &fakeLister{names: []string{"llama3"}}
	c := newTestCache(t, l, &fakeClock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !c.IsAvailable(ctx) {
		t.Error("IsAvailable = false for an already cancelled caller context")
	}
}

func TestIsAvailable_ProbeTimeout(t *testing.T) {
	l := &fakeLister{names: []string{"llama3"}, delay: time.Second}
	c, _ := NewAvailabilityCache(AvailabilityCacheOpts{
		Lister:       l,
		Model:        "llama3",
		ProbeTimeout: 20 * time.Millisecond,
	})
	start := time.Now()
	if c.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true after probe timeout")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("probe took %v, timeout not applied", time.Since(start))
	}
}

func TestInvalidate_ForcesProbe(t *testing.T) {
	l := &fakeLister{names: []string{"llama3"}}
	c := newTestCache(t, l, &fakeClock{now: time.Now()})
	ctx := context.Background()

	c.IsAvailable(ctx)
	c.Invalidate()
	c.IsAvailable(ctx)
	if n := l.calls.Load(); n != 2 {
		t.Errorf("probes = %d, want 2", n)
	}
}

func TestSnapshot(t *testing.T) {
	l := &fakeLister{names: []string{"llama3"}}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, l, clock)

	if _, _, ok := c.Snapshot(); ok {
		t.Error("Snapshot ok before any probe")
	}
	c.IsAvailable(context.Background())
	reachable, at, ok := c.Snapshot()
	if !ok || !reachable || !at.Equal(clock.Now()) {
		t.Errorf("Snapshot = %v, %v, %v", reachable, at, ok)
	}
}

func TestIsAvailable_AgainstOllamaServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"models":[{"name":"llama3:latest"}]}`))
	}))
	defer srv.Close()

	oc, _ := NewOllamaClient(OllamaClientOpts{BaseURL: srv.URL, Model: "llama3"})
	c, _ := NewAvailabilityCache(AvailabilityCacheOpts{Lister: oc, Model: oc.Model()})

	for i := 0; i < 5; i++ {
		if !c.IsAvailable(context.Background()) {
			t.Fatal("IsAvailable = false against live server")
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}
