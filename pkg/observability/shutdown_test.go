package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownManager_RunsAllFuncs(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var calls int32
	for _, name := range []string{"cache", "notifier", "database"} {
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 shutdown calls, got %d", calls)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	boom := errors.New("boom")
	sm.RegisterShutdownFunc("broken", func(ctx context.Context) error { return boom })
	sm.RegisterShutdownFunc("fine", func(ctx context.Context) error { return nil })

	err := sm.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("Expected shutdown error to wrap boom, got %v", err)
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 20*time.Millisecond)
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	if err := sm.Shutdown(); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Errorf("WaitForShutdown() error = %v", err)
	}
}

func TestRecoverPanic(t *testing.T) {
	recovered := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "test", func() { recovered = true })
		panic("boom")
	}()
	if !recovered {
		t.Error("Expected callback to run after panic")
	}

	if PanicError(nil) != nil {
		t.Error("Expected nil error without panic")
	}
	if PanicError("x") == nil {
		t.Error("Expected error for recovered value")
	}
}
