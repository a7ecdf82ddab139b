// SPDX-License-Identifier: MIT

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestPool(t *testing.T, urls []string, clock *fakeClock) *Pool {
	t.Helper()
	nop := zerolog.Nop()
	opts := Options{Logger: &nop}
	if clock != nil {
		opts.Clock = clock.Now
	}
	return New(urls, opts)
}

func mustAcquire(t *testing.T, p *Pool) *Lease {
	t.Helper()
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return lease
}

func TestAcquire_PrefersLeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"}, clock)

	// Never-used endpoints tie on recency, lowest id wins.
	first := mustAcquire(t, p)
	if got := first.EndpointID(); got != 1 {
		t.Fatalf("first lease endpoint = %d, want 1", got)
	}
	clock.Advance(time.Second)
	first.Release()

	second := mustAcquire(t, p)
	if got := second.EndpointID(); got != 2 {
		t.Fatalf("second lease endpoint = %d, want 2", got)
	}
	clock.Advance(time.Second)
	second.Release()

	third := mustAcquire(t, p)
	if got := third.EndpointID(); got != 3 {
		t.Fatalf("third lease endpoint = %d, want 3", got)
	}
	clock.Advance(time.Second)
	third.Release()

	// Endpoint 1 now has the oldest stamp and should come back around.
	fourth := mustAcquire(t, p)
	if got := fourth.EndpointID(); got != 1 {
		t.Fatalf("fourth lease endpoint = %d, want 1", got)
	}
	fourth.Release()
}

func TestAcquire_SharesBusyEndpointWhenSaturated(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a", "http://b"}, clock)

	a := mustAcquire(t, p)
	b := mustAcquire(t, p)
	if a.EndpointID() == b.EndpointID() {
		t.Fatalf("two leases share endpoint %d while a free one existed", a.EndpointID())
	}

	// Saturated pool still serves: round-robin over busy endpoints.
	c := mustAcquire(t, p)
	if got := c.EndpointID(); got != 1 {
		t.Fatalf("saturated lease endpoint = %d, want round-robin pick 1", got)
	}
	d := mustAcquire(t, p)
	if got := d.EndpointID(); got != 2 {
		t.Fatalf("saturated lease endpoint = %d, want round-robin pick 2", got)
	}

	for _, l := range []*Lease{a, b, c, d} {
		l.Release()
	}
}

func TestAcquire_SkipsEndpointInErrorWindow(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a", "http://b"}, clock)

	lease := mustAcquire(t, p)
	if got := lease.EndpointID(); got != 1 {
		t.Fatalf("lease endpoint = %d, want 1", got)
	}
	lease.ReportFailure(false)
	lease.Release()

	// While endpoint 1 cools down every lease lands on endpoint 2.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		l := mustAcquire(t, p)
		if got := l.EndpointID(); got != 2 {
			t.Fatalf("lease %d endpoint = %d, want 2 during backoff", i, got)
		}
		l.Release()
	}

	// 16s after the failure the 15s window has passed and endpoint 1 is
	// the least recently used again.
	clock.Advance(13 * time.Second)
	l := mustAcquire(t, p)
	if got := l.EndpointID(); got != 1 {
		t.Fatalf("post-backoff lease endpoint = %d, want 1", got)
	}
	l.Release()
}

func TestAcquire_AllErroredPicksEarliestExpiry(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a", "http://b", "http://c"}, clock)

	a := mustAcquire(t, p) // endpoint 1
	a.ReportFailure(false)
	a.ReportFailure(false) // 30s window
	a.Release()

	b := mustAcquire(t, p) // endpoint 2
	b.ReportFailure(false) // 15s window
	b.Release()

	c := mustAcquire(t, p) // endpoint 3
	c.ReportFailure(false)
	c.ReportFailure(false)
	c.ReportFailure(false) // 60s window
	c.Release()

	l := mustAcquire(t, p)
	if got := l.EndpointID(); got != 2 {
		t.Fatalf("all-errored lease endpoint = %d, want 2 (earliest expiry)", got)
	}
	l.Release()
}

func TestReportFailure_BackoffSchedule(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()

	want := []time.Duration{
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		300 * time.Second, // capped
		300 * time.Second, // stays capped
	}

	p := newTestPool(t, []string{"http://a"}, clock)
	lease := mustAcquire(t, p)
	for i, backoff := range want {
		lease.ReportFailure(false)
		status := p.Snapshot()[0]
		until := base.Add(backoff)
		if got := status.ErrorUntil; got != epochSeconds(until) {
			t.Fatalf("failure %d: error_until = %v, want %v (backoff %v)", i+1, got, epochSeconds(until), backoff)
		}
		if status.ErrorCount != i+1 {
			t.Fatalf("failure %d: error_count = %d, want %d", i+1, status.ErrorCount, i+1)
		}
	}
	lease.Release()
}

func TestReportFailure_TimeoutDoublesBackoff(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()

	p := newTestPool(t, []string{"http://a"}, clock)
	lease := mustAcquire(t, p)

	lease.ReportFailure(true)
	if got, want := p.Snapshot()[0].ErrorUntil, epochSeconds(base.Add(30*time.Second)); got != want {
		t.Fatalf("first timeout: error_until = %v, want %v", got, want)
	}

	// Push the count to the cap, then confirm a timeout doubles past it.
	for i := 0; i < 5; i++ {
		lease.ReportFailure(false)
	}
	lease.ReportFailure(true)
	if got, want := p.Snapshot()[0].ErrorUntil, epochSeconds(base.Add(600*time.Second)); got != want {
		t.Fatalf("capped timeout: error_until = %v, want %v", got, want)
	}
	lease.Release()
}

func TestReportSuccess_ClearsErrorState(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a"}, clock)

	lease := mustAcquire(t, p)
	lease.ReportFailure(false)
	lease.ReportFailure(true)
	lease.ReportSuccess()
	lease.Release()

	status := p.Snapshot()[0]
	if status.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0 after success", status.ErrorCount)
	}
	if status.ErrorUntil != 0 {
		t.Errorf("error_until = %v, want 0 after success", status.ErrorUntil)
	}
	if got := p.FreeCount(); got != 1 {
		t.Errorf("FreeCount() = %d, want 1", got)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a"}, clock)

	lease := mustAcquire(t, p)
	lease.Release()
	lease.Release()

	if got := p.FreeCount(); got != 1 {
		t.Fatalf("FreeCount() = %d, want 1 after double release", got)
	}
	if p.Snapshot()[0].Busy {
		t.Fatal("endpoint still busy after release")
	}
}

func TestAcquireWithin_EmptyPoolTimesOut(t *testing.T) {
	p := newTestPool(t, nil, nil)

	_, err := p.AcquireWithin(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("AcquireWithin() error = %v, want ErrAcquireTimeout", err)
	}
}

func TestAcquire_CancelledContext(t *testing.T) {
	p := newTestPool(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestConcurrentLeases_NeverShareWithinCapacity(t *testing.T) {
	p := newTestPool(t, []string{"http://a", "http://b", "http://c", "http://d"}, nil)

	var holders [4]atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				lease, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				if n := holders[lease.EndpointID()-1].Add(1); n > 1 {
					t.Errorf("endpoint %d held by %d leases at once", lease.EndpointID(), n)
				}
				holders[lease.EndpointID()-1].Add(-1)
				lease.Release()
			}
		}()
	}
	wg.Wait()
}

func TestSnapshot_ReflectsLeaseState(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, []string{"http://a", "http://b"}, clock)

	lease := mustAcquire(t, p)
	statuses := p.Snapshot()
	if len(statuses) != 2 {
		t.Fatalf("Snapshot() length = %d, want 2", len(statuses))
	}
	if !statuses[0].Busy {
		t.Error("endpoint 1 should be busy while leased")
	}
	if statuses[0].LastUsed == 0 {
		t.Error("endpoint 1 last_used should be stamped while leased")
	}
	if statuses[0].URL != "http://a" || statuses[1].URL != "http://b" {
		t.Errorf("snapshot urls = %q, %q", statuses[0].URL, statuses[1].URL)
	}
	if statuses[1].Busy {
		t.Error("endpoint 2 should be idle")
	}
	if got := p.FreeCount(); got != 1 {
		t.Errorf("FreeCount() = %d, want 1", got)
	}
	if got := p.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
	lease.Release()
}
