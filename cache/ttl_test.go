package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 11, 14, 0, 0, 0, time.UTC)}
}

func TestGetOrFetchWithinTTLDoesNotRefetch(t *testing.T) {
	clock := newClock()
	c := New[string, int](10*time.Minute, 16, WithClock(clock.Now))

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	ctx := context.Background()
	if v, _ := c.GetOrFetch(ctx, "AAPL:1d", fetch); v != 1 {
		t.Fatalf("Expected first fetch result 1, got %d", v)
	}

	clock.Advance(9*time.Minute + 59*time.Second)
	if v, _ := c.GetOrFetch(ctx, "AAPL:1d", fetch); v != 1 {
		t.Errorf("Expected cached value 1, got %d", v)
	}
	if calls != 1 {
		t.Errorf("Expected 1 fetch within TTL, got %d", calls)
	}

	clock.Advance(time.Second)
	if v, _ := c.GetOrFetch(ctx, "AAPL:1d", fetch); v != 2 {
		t.Errorf("Expected refetched value 2 after TTL, got %d", v)
	}
	if calls != 2 {
		t.Errorf("Expected 2 fetches after TTL, got %d", calls)
	}
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	clock := newClock()
	c := New[string, string](time.Minute, 0, WithClock(clock.Now))

	c.Set("k", "v")
	clock.Advance(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected expired entry to be a miss")
	}
}

func TestFetchErrorIsNotCached(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	boom := errors.New("boom")

	_, err := c.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fetch error, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Expected nothing cached after failure, got %d entries", c.Len())
	}
}

func TestCapacityEvictsExpiredThenOldest(t *testing.T) {
	clock := newClock()
	c := New[string, int](10*time.Minute, 3, WithClock(clock.Now))

	c.Set("a", 1)
	clock.Advance(time.Minute)
	c.Set("b", 2)
	clock.Advance(time.Minute)
	c.Set("c", 3)
	clock.Advance(time.Minute)

	c.Set("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Error("Expected oldest entry a to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("Expected %s to survive eviction", k)
		}
	}

	// b and c expire while d does not, so inserting e only purges them
	clock.Advance(9*time.Minute + 30*time.Second)
	c.Set("e", 5)
	if c.Len() != 2 {
		t.Errorf("Expected 2 entries after purge, got %d", c.Len())
	}
	if _, ok := c.Get("d"); !ok {
		t.Error("Expected d to survive since it has not expired")
	}
}

func TestObserverSeesHitsAndMisses(t *testing.T) {
	var hits, misses int
	c := New[string, int](time.Minute, 0, WithObserver(func(r string) {
		if r == Hit {
			hits++
		} else {
			misses++
		}
	}))

	fetch := func(context.Context) (int, error) { return 7, nil }
	c.GetOrFetch(context.Background(), "k", fetch)
	c.GetOrFetch(context.Background(), "k", fetch)

	if hits != 1 || misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", hits, misses)
	}
}

func TestCoalescingJoinsConcurrentMisses(t *testing.T) {
	c := New[string, int](time.Minute, 0, WithCoalescing())

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}

	// let the goroutines pile up on the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("Expected exactly 1 fetch with coalescing, got %d", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("caller %d: expected 42, got %d", i, v)
		}
	}
}

func TestCoalescedFetchSurvivesLeaderCancel(t *testing.T) {
	c := New[string, int](time.Minute, 0, WithCoalescing())

	started := make(chan struct{})
	release := make(chan struct{})
	var fetchCtxErr atomic.Value
	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		fetchCtxErr.Store(fmt.Sprint(ctx.Err()))
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 42, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(leaderCtx, "k", fetch)
		leaderErr <- err
	}()
	<-started

	follower := make(chan int, 1)
	go func() {
		v, err := c.GetOrFetch(context.Background(), "k", fetch)
		if err != nil {
			t.Errorf("follower: unexpected error: %v", err)
		}
		follower <- v
	}()
	// let the follower join the in-flight fetch
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected the leader to see its own cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leader did not return after its context was cancelled")
	}

	close(release)
	if v := <-follower; v != 42 {
		t.Errorf("Expected follower to get 42, got %d", v)
	}
	if got := fetchCtxErr.Load(); got != "<nil>" {
		t.Errorf("Expected the shared fetch to run uncancelled, got %v", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected 1 fetch, got %d", n)
	}
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Errorf("Expected the shared result to be cached, got %v %v", v, ok)
	}
}
