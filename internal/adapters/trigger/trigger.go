package trigger

import (
	"context"

	"github.com/mikey/tool-scanner/internal/core"
)

// Scanner runs scans for one or all connections
type Scanner interface {
	RunScan(ctx context.Context, connectionID string, scanType core.ScanType) ([]core.ScanResult, error)
}

// Reminders queues and delivers reminders
type Reminders interface {
	ScheduleAll(ctx context.Context) (int, error)
	Dispatch(ctx context.Context) (int, error)
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// OAuthStatus reports which providers have OAuth credentials
type OAuthStatus interface {
	Configured(provider core.Provider) bool
}
