package redisstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newTestClient connects to TOOL_SCANNER_TEST_REDIS_URL or skips the test
func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	url := os.Getenv("TOOL_SCANNER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TOOL_SCANNER_TEST_REDIS_URL not set")
	}
	client, err := NewClient(context.Background(), url)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	prefix := "tool-scanner-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return client, prefix
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "not-a-url"); err == nil {
		t.Fatal("NewClient() error = nil for malformed URL")
	}
}

func TestQuotaKey(t *testing.T) {
	q := NewQuotaStore(nil, "", 0, zap.NewNop())
	if got, want := q.key("user-1", "2025-02-01"), "tool-scanner:quota:user-1:2025-02-01"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
	if q.ttl != 48*time.Hour {
		t.Errorf("ttl = %v, want 48h", q.ttl)
	}
}

func TestConsumeQuotaCapsAtLimit(t *testing.T) {
	client, prefix := newTestClient(t)
	ctx := context.Background()
	store := NewQuotaStore(client, prefix, time.Hour, zap.NewNop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.ConsumeQuota(ctx, "user-1", "2025-02-01", core.QuotaEmails, 40, 300)
			if err != nil {
				t.Errorf("ConsumeQuota() error = %v", err)
				return
			}
			mu.Lock()
			granted += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if granted != 300 {
		t.Errorf("granted = %d, want 300", granted)
	}
	usage, err := store.GetQuotaUsage(ctx, "user-1", "2025-02-01")
	if err != nil {
		t.Fatalf("GetQuotaUsage() error = %v", err)
	}
	if usage.Emails != 300 || usage.Extractions != 0 {
		t.Errorf("usage = %+v, want 300 emails", usage)
	}
}

func TestVendorLockerExcludes(t *testing.T) {
	client, prefix := newTestClient(t)
	ctx := context.Background()
	locker := NewVendorLocker(client, prefix, 5*time.Second, zap.NewNop())

	unlock, err := locker.Lock(ctx, "org-1:hubspot")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, "org-1:hubspot"); err == nil {
		t.Fatal("second Lock() acquired a held lease")
	}

	unlock()
	unlock2, err := locker.Lock(ctx, "org-1:hubspot")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}
