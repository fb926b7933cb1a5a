package core

import (
	"context"
	"time"
)

// MailboxClient searches one provider's mailbox
type MailboxClient interface {
	// FetchMessages returns messages received after since that match the billing keyword filter
	FetchMessages(ctx context.Context, accessToken string, since time.Time) ([]*RawMessage, error)
}

// TokenRefresher exchanges a refresh token for a new access token
type TokenRefresher interface {
	Refresh(ctx context.Context, provider Provider, refreshToken string) (*OAuthToken, error)
}

// Classifier decides whether a message is about a subscription or billing event
type Classifier interface {
	Classify(ctx context.Context, msg *RawMessage) (*ClassificationResult, error)
}

// Extractor pulls structured subscription fields out of a message
type Extractor interface {
	Extract(ctx context.Context, msg *RawMessage) (*ExtractionResult, error)
}

// Categorizer scores how marketing-relevant a tool is
type Categorizer interface {
	Categorize(vendor, subject, body string) (category string, score int)
}

// VendorLocker serialises writers of one key: a vendor, a tool's interruptions or a connection's scan
type VendorLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	// TryLock returns acquired=false without waiting when key is held
	TryLock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}

// Notifier delivers a plain-text reminder
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ConnectionRepository persists mailbox connections
type ConnectionRepository interface {
	SaveConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListActiveConnections(ctx context.Context) ([]*Connection, error)
	UpdateTokens(ctx context.Context, id string, token *OAuthToken) error
	UpdateScanWatermark(ctx context.Context, id string, w ScanWatermark) error
}

// ToolRepository persists detected tools
type ToolRepository interface {
	// FindToolByVendor returns ErrNotFound when no tool exists for the key
	FindToolByVendor(ctx context.Context, organizationID, normalizedVendor string) (*DetectedTool, error)
	CreateTool(ctx context.Context, tool *DetectedTool) error
	UpdateTool(ctx context.Context, tool *DetectedTool) error
	ListTools(ctx context.Context, organizationID string, status ToolStatus) ([]*DetectedTool, error)
}

// InterruptionRepository persists interruptions
type InterruptionRepository interface {
	HasOpenInterruption(ctx context.Context, toolID string) (bool, error)
	CreateInterruption(ctx context.Context, interruption *Interruption) error
	ListOpenInterruptions(ctx context.Context, organizationID string) ([]*Interruption, error)
}

// ScanLogRepository persists scan logs
type ScanLogRepository interface {
	CreateScanLog(ctx context.Context, log *ScanLog) error
	FinishScanLog(ctx context.Context, log *ScanLog) error
}

// AuditLogRepository persists per-message pipeline audit entries
type AuditLogRepository interface {
	RecordExtraction(ctx context.Context, entry *ExtractionLog) error
}

// QuotaRepository tracks per-user daily usage
type QuotaRepository interface {
	GetQuotaUsage(ctx context.Context, userID, day string) (*QuotaCounters, error)
	// ConsumeQuota atomically grants up to n units of kind without exceeding limit
	// and returns the number granted
	ConsumeQuota(ctx context.Context, userID, day string, kind QuotaKind, n, limit int) (int, error)
}

// NotificationRepository persists reminders
type NotificationRepository interface {
	// HasRecentNotification reports a pending or sent reminder of kind scheduled at or after since
	HasRecentNotification(ctx context.Context, toolID, userID string, kind NotificationType, since time.Time) (bool, error)
	CreateNotification(ctx context.Context, n *Notification) error
	ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	MarkNotification(ctx context.Context, id string, status NotificationStatus, sentAt *time.Time, errMsg string) error
}

// Store bundles every repository behind one backend
type Store interface {
	ConnectionRepository
	ToolRepository
	InterruptionRepository
	ScanLogRepository
	AuditLogRepository
	QuotaRepository
	NotificationRepository

	Ping(ctx context.Context) error
	Close() error
}
