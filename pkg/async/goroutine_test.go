package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/flock/pkg/observability"
)

func TestSafeGo_RunsAndRecovers(t *testing.T) {
	var ran atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), observability.NopLogger(), time.Second, "test task", func(ctx context.Context) error {
		defer close(done)
		ran.Store(true)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not run")
	}
	if !ran.Load() {
		t.Error("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	done := make(chan error, 1)
	SafeGo(context.Background(), observability.NopLogger(), 20*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task context was never cancelled")
	}
}

func TestWorkerPool_ProcessesAllTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NopLogger(), 3, "count", time.Second)

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		if err := pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := count.Load(); got != 20 {
		t.Errorf("Expected 20 tasks, got %d", got)
	}
}

func TestWorkerPool_ReportsErrorsAndPanics(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	pool := NewWorkerPool(context.Background(), observability.NopLogger(), 1, "errors", time.Second,
		WithErrorHandler(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}))

	_ = pool.Submit(func(ctx context.Context) error { return errors.New("failed") })
	_ = pool.Submit(func(ctx context.Context) error { panic("boom") })
	_ = pool.Submit(func(ctx context.Context) error { return nil })

	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Errorf("Expected 2 reported errors, got %d: %v", len(errs), errs)
	}
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "closed", time.Second)
	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}

	err := pool.Submit(func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "slow", 0)
	release := make(chan struct{})
	defer close(release)

	_ = pool.Submit(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	// let the worker pick the task up
	time.Sleep(20 * time.Millisecond)
	if err := pool.Shutdown(20 * time.Millisecond); err == nil {
		t.Error("Expected shutdown timeout error")
	}
}

func TestWorkerPool_TrySubmitFullQueue(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NopLogger(), 1, "try", time.Second, WithQueueSize(1))
	defer pool.Shutdown(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := pool.TrySubmit(func(context.Context) error { return nil }); err != nil {
		t.Fatalf("TrySubmit into free slot: %v", err)
	}
	if err := pool.TrySubmit(func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(release)
}
