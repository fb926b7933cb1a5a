package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

type scanCall struct {
	connectionID string
	scanType     core.ScanType
}

type fakeScanner struct {
	mu    sync.Mutex
	calls []scanCall
	err   error
}

func (f *fakeScanner) RunScan(_ context.Context, connectionID string, scanType core.ScanType) ([]core.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scanCall{connectionID, scanType})
	if f.err != nil {
		return nil, f.err
	}
	return []core.ScanResult{{ConnectionID: "conn-1", EmailsScanned: 3, ToolsDetected: 1}}, nil
}

func (f *fakeScanner) snapshot() []scanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scanCall(nil), f.calls...)
}

type fakeReminders struct {
	mu         sync.Mutex
	scheduled  int
	dispatched int
}

func (f *fakeReminders) ScheduleAll(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
	return 2, nil
}

func (f *fakeReminders) Dispatch(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched++
	return 1, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeOAuth map[core.Provider]bool

func (f fakeOAuth) Configured(p core.Provider) bool { return f[p] }

func TestHandleScan(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		scanErr    error
		wantStatus int
		wantCall   *scanCall
	}{
		{"empty body scans all daily", "", nil, http.StatusOK, &scanCall{"", core.ScanTypeDaily}},
		{"single backfill", `{"connection_id":"conn-1","scan_type":"backfill"}`, nil, http.StatusOK, &scanCall{"conn-1", core.ScanTypeBackfill}},
		{"bad scan type", `{"scan_type":"weekly"}`, nil, http.StatusBadRequest, nil},
		{"malformed body", `{`, nil, http.StatusBadRequest, nil},
		{"unknown connection", `{"connection_id":"nope"}`, fmt.Errorf("failed to load connection nope: %w", core.ErrNotFound), http.StatusNotFound, &scanCall{"nope", core.ScanTypeDaily}},
		{"store failure", `{}`, errors.New("boom"), http.StatusInternalServerError, &scanCall{"", core.ScanTypeDaily}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{err: tt.scanErr}
			server := NewHTTPServer(scanner, fakePinger{}, nil, ServerOptions{}, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			calls := scanner.snapshot()
			if tt.wantCall == nil {
				if len(calls) != 0 {
					t.Errorf("RunScan called %d times, want 0", len(calls))
				}
				return
			}
			if len(calls) != 1 || calls[0] != *tt.wantCall {
				t.Errorf("RunScan calls = %+v, want %+v", calls, *tt.wantCall)
			}
			if tt.wantStatus == http.StatusOK {
				var resp scanResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("invalid response: %v", err)
				}
				if !resp.Success || len(resp.Results) != 1 || resp.Results[0].ToolsDetected != 1 {
					t.Errorf("response = %+v", resp)
				}
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		notifier   bool
		wantStatus int
		wantState  string
	}{
		{"healthy", nil, true, http.StatusOK, "healthy"},
		{"degraded without notifier", nil, false, http.StatusOK, "degraded"},
		{"database down", errors.New("connection refused"), true, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewHTTPServer(&fakeScanner{}, fakePinger{err: tt.pingErr},
				fakeOAuth{core.ProviderGmail: true},
				ServerOptions{NotifierConfigured: tt.notifier}, zap.NewNop())

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid response: %v", err)
			}
			if resp.Status != tt.wantState {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantState)
			}
			if resp.Checks["oauth_gmail"] != "ok" || resp.Checks["oauth_outlook"] != "not_configured" {
				t.Errorf("oauth checks = %v", resp.Checks)
			}
		})
	}
}

func TestSchedulerRunOnStart(t *testing.T) {
	scanner := &fakeScanner{}
	reminders := &fakeReminders{}
	s := NewScheduler(scanner, reminders, SchedulerOptions{
		DailyScan:  "@daily",
		Reminders:  "@every 1h",
		RunOnStart: true,
	}, zap.NewNop())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	calls := scanner.snapshot()
	if len(calls) != 1 || calls[0] != (scanCall{"", core.ScanTypeDaily}) {
		t.Errorf("RunScan calls = %+v, want one daily scan of all connections", calls)
	}
	if reminders.scheduled != 1 || reminders.dispatched != 1 {
		t.Errorf("reminders scheduled=%d dispatched=%d, want 1/1", reminders.scheduled, reminders.dispatched)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(&fakeScanner{}, nil, SchedulerOptions{DailyScan: "every tuesday"}, zap.NewNop())
	if err := s.Start(); err == nil {
		t.Fatal("Start() error = nil for invalid spec")
	}
}
