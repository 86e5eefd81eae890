package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestPool_SerializesUnitsWithSameKey(t *testing.T) {
	pool := New(testLogger(), 4)

	var (
		mu      sync.Mutex
		order   []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		err := pool.Submit("node-1", func(context.Context) {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			active.Add(-1)
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if overlap.Load() {
		t.Fatalf("units for the same key overlapped")
	}
	if len(order) != 20 {
		t.Fatalf("ran %d units, want 20", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d]=%d, want submission order", i, got)
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := New(testLogger(), 2)

	var (
		active atomic.Int32
		peak   atomic.Int32
	)
	for i := 0; i < 10; i++ {
		_ = pool.Submit("", func(context.Context) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		})
	}
	_ = pool.Close(context.Background())

	if peak.Load() > 2 {
		t.Fatalf("peak concurrency=%d, want <= 2", peak.Load())
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := New(testLogger(), 1)
	var ran atomic.Bool
	_ = pool.Submit("k", func(context.Context) { panic("boom") })
	_ = pool.Submit("k", func(context.Context) { ran.Store(true) })
	_ = pool.Close(context.Background())
	if !ran.Load() {
		t.Fatalf("unit after panic did not run")
	}
}

func TestPool_SubmitAfterAndClose(t *testing.T) {
	pool := New(testLogger(), 1)
	done := make(chan struct{})
	if err := pool.SubmitAfter(5*time.Millisecond, "k", func(context.Context) { close(done) }); err != nil {
		t.Fatalf("SubmitAfter: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("delayed unit never ran")
	}
	_ = pool.Close(context.Background())

	if err := pool.Submit("k", func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err=%v, want ErrPoolClosed", err)
	}
}

func TestPool_CloseReturnsAtDeadline(t *testing.T) {
	pool := New(testLogger(), 1)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	var cancelled atomic.Bool
	_ = pool.Submit("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		<-release
	})
	var queuedRan atomic.Bool
	_ = pool.Submit("k", func(context.Context) { queuedRan.Store(true) })
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := pool.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err=%v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("Close took %v after its deadline", elapsed)
	}
	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("running unit never saw cancellation")
		}
		time.Sleep(time.Millisecond)
	}
	if queuedRan.Load() {
		t.Fatalf("queued unit ran after the drain deadline")
	}
}
