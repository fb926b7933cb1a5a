package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
)

func TestRetryPolicyRetriesOnlyRateLimits(t *testing.T) {
	policy := core.RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	t.Run("rate limited until exhausted", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "test", func() error {
			calls++
			return core.RateLimited(errors.New("429"))
		})
		if !errors.Is(err, core.ErrRateLimited) {
			t.Fatalf("Do() error = %v, want rate limited", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("recovers after a rate limit", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "test", func() error {
			calls++
			if calls == 1 {
				return core.RateLimited(nil)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("bad request")
		err := policy.Do(context.Background(), "test", func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Do() error = %v, want %v", err, boom)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestKeyedMutexSerialisesKey(t *testing.T) {
	m := core.NewKeyedMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "org/vendor")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	other, err := m.Lock(ctx, "org/other")
	if err != nil {
		t.Fatalf("Lock() other key error = %v", err)
	}
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(timeout, "org/vendor"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() on held key error = %v, want deadline exceeded", err)
	}

	unlock()
	unlock()

	again, err := m.Lock(ctx, "org/vendor")
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	again()
}

func TestKeyedMutexTryLock(t *testing.T) {
	m := core.NewKeyedMutex()
	ctx := context.Background()

	unlock, ok, err := m.TryLock(ctx, "scan:c1")
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v, want acquired", ok, err)
	}

	if _, ok, _ := m.TryLock(ctx, "scan:c1"); ok {
		t.Fatal("TryLock() acquired a held key")
	}
	if _, err := m.Lock(ctx, "scan:c2"); err != nil {
		t.Fatalf("Lock() other key error = %v", err)
	}

	unlock()

	again, ok, err := m.TryLock(ctx, "scan:c1")
	if err != nil || !ok {
		t.Fatalf("TryLock() after unlock = %v, %v, want acquired", ok, err)
	}
	again()
}
