package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Options{
		Dialect: "sqlite",
		DSN:     filepath.Join(t.TempDir(), "tools.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), Options{Dialect: "sqlite", DSN: path}, zap.NewNop())
		if err != nil {
			t.Fatalf("Open() attempt %d error = %v", i, err)
		}
		store.Close()
	}
}

func TestLookupDialect(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		ok     bool
	}{
		{"sqlite", "sqlite3", true},
		{"MySQL", "mysql", true},
		{"postgresql", "pgx", true},
		{"oracle", "", false},
	}
	for _, tt := range tests {
		d, err := LookupDialect(tt.name)
		if (err == nil) != tt.ok {
			t.Fatalf("LookupDialect(%q) error = %v", tt.name, err)
		}
		if tt.ok && d.Driver != tt.driver {
			t.Errorf("LookupDialect(%q).Driver = %q, want %q", tt.name, d.Driver, tt.driver)
		}
	}
}

func TestPrepareDSNForcesParseTime(t *testing.T) {
	d, _ := LookupDialect("mysql")
	dsn, err := d.PrepareDSN("user:pass@tcp(localhost:3306)/tools")
	if err != nil {
		t.Fatalf("PrepareDSN() error = %v", err)
	}
	if want := "parseTime=true"; !strings.Contains(dsn, want) {
		t.Errorf("PrepareDSN() = %q, want it to contain %q", dsn, want)
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expires := time.Date(2025, 2, 1, 11, 0, 0, 0, time.UTC)
	conn := &core.Connection{
		ID:             "conn-1",
		UserID:         "user-1",
		OrganizationID: "org-1",
		Provider:       core.ProviderOutlook,
		EmailAddress:   "ops@example.com",
		AccessToken:    "at",
		RefreshToken:   "rt",
		TokenExpiresAt: expires,
		IsActive:       true,
	}
	if err := store.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}
	if err := store.SaveConnection(ctx, &core.Connection{ID: "conn-2", UserID: "u2", OrganizationID: "org-1", Provider: core.ProviderGmail}); err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	if err := store.UpdateTokens(ctx, "conn-1", &core.OAuthToken{AccessToken: "at2", Expiry: expires.Add(time.Hour)}); err != nil {
		t.Fatalf("UpdateTokens() error = %v", err)
	}
	scanned := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
	if err := store.UpdateScanWatermark(ctx, "conn-1", core.ScanWatermark{LastScanAt: expires, LastScannedEmailDate: &scanned}); err != nil {
		t.Fatalf("UpdateScanWatermark() error = %v", err)
	}

	got, err := store.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if got.AccessToken != "at2" || got.RefreshToken != "rt" {
		t.Errorf("tokens = %q/%q, want at2/rt", got.AccessToken, got.RefreshToken)
	}
	if !got.TokenExpiresAt.Equal(expires.Add(time.Hour)) {
		t.Errorf("TokenExpiresAt = %v", got.TokenExpiresAt)
	}
	if got.LastScannedEmailDate == nil || !got.LastScannedEmailDate.Equal(scanned) {
		t.Errorf("LastScannedEmailDate = %v, want %v", got.LastScannedEmailDate, scanned)
	}
	if got.LastBackfillAt != nil {
		t.Errorf("LastBackfillAt = %v, want nil", got.LastBackfillAt)
	}

	active, err := store.ListActiveConnections(ctx)
	if err != nil {
		t.Fatalf("ListActiveConnections() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != "conn-1" {
		t.Errorf("ListActiveConnections() = %d connections, want conn-1 only", len(active))
	}

	if _, err := store.GetConnection(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetConnection(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.UpdateTokens(ctx, "missing", &core.OAuthToken{AccessToken: "x"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateTokens(missing) error = %v, want ErrNotFound", err)
	}
}

func TestToolCreateFindAndDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
	amount := 450.0
	tool := &core.DetectedTool{
		ID:               "tool-1",
		OrganizationID:   "org-1",
		VendorName:       "HubSpot",
		NormalizedVendor: "hubspot",
		LastChargeAmount: &amount,
		Currency:         "USD",
		BillingFrequency: core.BillingCycleMonthly,
		FirstSeenDate:    now,
		Status:           core.ToolStatusActive,
		ConfidenceScore:  90,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool() error = %v", err)
	}

	dup := *tool
	dup.ID = "tool-2"
	if err := store.CreateTool(ctx, &dup); !errors.Is(err, core.ErrDuplicateVendor) {
		t.Fatalf("CreateTool(duplicate) error = %v, want ErrDuplicateVendor", err)
	}

	got, err := store.FindToolByVendor(ctx, "org-1", "hubspot")
	if err != nil {
		t.Fatalf("FindToolByVendor() error = %v", err)
	}
	if got.LastChargeAmount == nil || *got.LastChargeAmount != 450 {
		t.Errorf("LastChargeAmount = %v, want 450", got.LastChargeAmount)
	}
	if got.LastChargeDate != nil {
		t.Errorf("LastChargeDate = %v, want nil", got.LastChargeDate)
	}

	got.RenewalCount = 2
	got.Status = core.ToolStatusCancelled
	if err := store.UpdateTool(ctx, got); err != nil {
		t.Fatalf("UpdateTool() error = %v", err)
	}
	cancelled, err := store.ListTools(ctx, "org-1", core.ToolStatusCancelled)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].RenewalCount != 2 {
		t.Errorf("ListTools(cancelled) = %+v", cancelled)
	}

	if _, err := store.FindToolByVendor(ctx, "org-2", "hubspot"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindToolByVendor(other org) error = %v, want ErrNotFound", err)
	}
}

func TestMergerAgainstSQLStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	merger := core.NewToolMerger(store, core.NewKeyedMutex(), nil, zap.NewNop())
	conn := &core.Connection{ID: "conn-1", UserID: "user-1", OrganizationID: "org-1"}

	amount := 12.0
	extraction := &core.ExtractionResult{
		VendorName:   "Notion",
		Amount:       &amount,
		Currency:     "USD",
		BillingCycle: core.BillingCycleMonthly,
		Confidence:   80,
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &core.RawMessage{
				ID:         "m" + string(rune('a'+i)),
				Sender:     "team@makenotion.com",
				ReceivedAt: time.Date(2025, 2, 1+i, 8, 0, 0, 0, time.UTC),
			}
			if _, err := merger.Upsert(ctx, conn, extraction, msg); err != nil {
				t.Errorf("Upsert() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	tools, err := store.ListTools(ctx, "org-1", "")
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("ListTools() = %d tools, want 1", len(tools))
	}
}

func TestConsumeQuotaCapsAtLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.ConsumeQuota(ctx, "user-1", "2025-02-01", core.QuotaEmails, 100, 300)
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
	if usage.Emails != 300 || usage.Classifications != 0 {
		t.Errorf("usage = %+v, want 300 emails", usage)
	}

	empty, err := store.GetQuotaUsage(ctx, "user-2", "2025-02-01")
	if err != nil {
		t.Fatalf("GetQuotaUsage() error = %v", err)
	}
	if empty.Emails != 0 || empty.UserID != "user-2" {
		t.Errorf("GetQuotaUsage(unknown) = %+v, want zero counters", empty)
	}

	if _, err := store.ConsumeQuota(ctx, "user-1", "2025-02-01", core.QuotaKind("bogus"), 1, 10); err == nil {
		t.Error("ConsumeQuota(bogus kind) error = nil")
	}
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	for _, n := range []*core.Notification{
		{ID: "n1", ToolID: "tool-1", UserID: "user-1", Type: core.NotificationRenewalAlert, ScheduledFor: now.Add(-time.Hour), Status: core.NotificationPending, CreatedAt: now},
		{ID: "n2", ToolID: "tool-2", UserID: "user-1", Type: core.NotificationTrialAlert, ScheduledFor: now.Add(time.Hour), Status: core.NotificationPending, CreatedAt: now},
		{ID: "n3", ToolID: "tool-3", UserID: "user-1", Type: core.NotificationRenewalAlert, ScheduledFor: now.Add(-2 * time.Hour), Status: core.NotificationFailed, CreatedAt: now},
	} {
		if err := store.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification(%s) error = %v", n.ID, err)
		}
	}

	due, err := store.ListDueNotifications(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueNotifications() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "n1" {
		t.Fatalf("ListDueNotifications() = %d, want n1 only", len(due))
	}

	tests := []struct {
		tool string
		kind core.NotificationType
		want bool
	}{
		{"tool-1", core.NotificationRenewalAlert, true},
		{"tool-1", core.NotificationTrialAlert, false},
		{"tool-3", core.NotificationRenewalAlert, false},
	}
	for _, tt := range tests {
		got, err := store.HasRecentNotification(ctx, tt.tool, "user-1", tt.kind, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("HasRecentNotification() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("HasRecentNotification(%s, %s) = %v, want %v", tt.tool, tt.kind, got, tt.want)
		}
	}

	sent := now.Add(time.Minute)
	if err := store.MarkNotification(ctx, "n1", core.NotificationSent, &sent, ""); err != nil {
		t.Fatalf("MarkNotification() error = %v", err)
	}
	due, err = store.ListDueNotifications(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDueNotifications() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "n2" {
		t.Errorf("ListDueNotifications() after send = %d, want n2 only", len(due))
	}
}

func TestInterruptionsAndScanLogs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	in := &core.Interruption{
		ID:              "int-1",
		OrganizationID:  "org-1",
		ToolID:          "tool-1",
		Type:            core.InterruptionSilentRenewal,
		Priority:        core.PriorityHigh,
		Message:         "HubSpot renews in 5 days",
		PossibleActions: []core.Action{core.ActionKeep, core.ActionCancel},
		TriggeredAt:     now,
	}
	if err := store.CreateInterruption(ctx, in); err != nil {
		t.Fatalf("CreateInterruption() error = %v", err)
	}
	open, err := store.HasOpenInterruption(ctx, "tool-1")
	if err != nil || !open {
		t.Fatalf("HasOpenInterruption() = %v, %v; want true", open, err)
	}
	list, err := store.ListOpenInterruptions(ctx, "org-1")
	if err != nil {
		t.Fatalf("ListOpenInterruptions() error = %v", err)
	}
	if len(list) != 1 || len(list[0].PossibleActions) != 2 || list[0].PossibleActions[1] != core.ActionCancel {
		t.Errorf("ListOpenInterruptions() = %+v", list)
	}

	log := &core.ScanLog{ID: "scan-1", ConnectionID: "conn-1", ScanType: core.ScanTypeDaily, Status: core.ScanStatusRunning, StartedAt: now}
	if err := store.CreateScanLog(ctx, log); err != nil {
		t.Fatalf("CreateScanLog() error = %v", err)
	}
	done := now.Add(time.Minute)
	log.Status = core.ScanStatusSuccess
	log.EmailsScanned = 7
	log.CompletedAt = &done
	if err := store.FinishScanLog(ctx, log); err != nil {
		t.Fatalf("FinishScanLog() error = %v", err)
	}
	logs, err := store.ScanLogs(ctx, "conn-1")
	if err != nil {
		t.Fatalf("ScanLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Status != core.ScanStatusSuccess || logs[0].EmailsScanned != 7 {
		t.Errorf("ScanLogs() = %+v", logs)
	}
}

func TestCleanupRemovesExpiredRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.retention = 48 * time.Hour

	old := time.Now().Add(-72 * time.Hour).UTC()
	for _, entry := range []*core.ExtractionLog{
		{ID: "old", UserID: "user-1", CreatedAt: old},
		{ID: "new", UserID: "user-1", CreatedAt: time.Now()},
	} {
		if err := store.RecordExtraction(ctx, entry); err != nil {
			t.Fatalf("RecordExtraction() error = %v", err)
		}
	}
	if _, err := store.ConsumeQuota(ctx, "user-1", old.Format("2006-01-02"), core.QuotaEmails, 5, 300); err != nil {
		t.Fatalf("ConsumeQuota() error = %v", err)
	}

	if err := store.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	var logs, quotas int
	if err := store.db.Get(&logs, `SELECT COUNT(*) FROM extraction_logs`); err != nil {
		t.Fatal(err)
	}
	if err := store.db.Get(&quotas, `SELECT COUNT(*) FROM quota_usage`); err != nil {
		t.Fatal(err)
	}
	if logs != 1 || quotas != 0 {
		t.Errorf("after cleanup logs = %d, quotas = %d; want 1, 0", logs, quotas)
	}
}
