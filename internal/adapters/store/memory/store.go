package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// Store is an in-memory implementation of core.Store
type Store struct {
	mu            sync.RWMutex
	connections   map[string]*core.Connection
	tools         map[string]*core.DetectedTool
	toolsByVendor map[string]string
	interruptions []*core.Interruption
	scanLogs      map[string]*core.ScanLog
	extractions   []*core.ExtractionLog
	quotas        map[string]*core.QuotaCounters
	notifications map[string]*core.Notification

	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewStore creates an empty in-memory store. When cleanupFreq is positive a
// background task drops quota counters and audit entries older than retention.
func NewStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *Store {
	s := &Store{
		connections:   make(map[string]*core.Connection),
		tools:         make(map[string]*core.DetectedTool),
		toolsByVendor: make(map[string]string),
		scanLogs:      make(map[string]*core.ScanLog),
		quotas:        make(map[string]*core.QuotaCounters),
		notifications: make(map[string]*core.Notification),
		logger:        logger,
		retention:     retention,
		cleanupFreq:   cleanupFreq,
		stopCh:        make(chan struct{}),
	}

	if cleanupFreq > 0 && retention > 0 {
		go s.startCleanupTask()
	}

	return s
}

func vendorKey(organizationID, normalizedVendor string) string {
	return organizationID + "/" + normalizedVendor
}

func quotaKey(userID, day string) string {
	return userID + "/" + day
}

// SaveConnection inserts or replaces a connection
func (s *Store) SaveConnection(ctx context.Context, conn *core.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conn
	s.connections[conn.ID] = &c
	return nil
}

// GetConnection returns a connection by id
func (s *Store) GetConnection(ctx context.Context, id string) (*core.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := *conn
	return &c, nil
}

// ListActiveConnections returns active connections ordered by id
func (s *Store) ListActiveConnections(ctx context.Context) ([]*core.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Connection
	for _, conn := range s.connections {
		if conn.IsActive {
			c := *conn
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateTokens stores refreshed credentials
func (s *Store) UpdateTokens(ctx context.Context, id string, token *core.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return core.ErrNotFound
	}
	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.TokenExpiresAt = token.Expiry
	return nil
}

// UpdateScanWatermark records scan progress
func (s *Store) UpdateScanWatermark(ctx context.Context, id string, w core.ScanWatermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return core.ErrNotFound
	}
	lastScan := w.LastScanAt
	conn.LastScanAt = &lastScan
	conn.LastScannedEmailDate = copyTime(w.LastScannedEmailDate)
	conn.LastBackfillAt = copyTime(w.LastBackfillAt)
	return nil
}

// FindToolByVendor returns the tool for an organization and normalized vendor
func (s *Store) FindToolByVendor(ctx context.Context, organizationID, normalizedVendor string) (*core.DetectedTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.toolsByVendor[vendorKey(organizationID, normalizedVendor)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneTool(s.tools[id]), nil
}

// CreateTool inserts a tool, failing when one already exists for its vendor key
func (s *Store) CreateTool(ctx context.Context, tool *core.DetectedTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := vendorKey(tool.OrganizationID, tool.NormalizedVendor)
	if _, exists := s.toolsByVendor[key]; exists {
		return core.ErrDuplicateVendor
	}
	s.tools[tool.ID] = cloneTool(tool)
	s.toolsByVendor[key] = tool.ID
	return nil
}

// UpdateTool replaces a stored tool
func (s *Store) UpdateTool(ctx context.Context, tool *core.DetectedTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tools[tool.ID]; !ok {
		return core.ErrNotFound
	}
	s.tools[tool.ID] = cloneTool(tool)
	return nil
}

// ListTools returns an organization's tools, optionally filtered by status, ordered by vendor
func (s *Store) ListTools(ctx context.Context, organizationID string, status core.ToolStatus) ([]*core.DetectedTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.DetectedTool
	for _, tool := range s.tools {
		if tool.OrganizationID != organizationID {
			continue
		}
		if status != "" && tool.Status != status {
			continue
		}
		out = append(out, cloneTool(tool))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedVendor < out[j].NormalizedVendor })
	return out, nil
}

// HasOpenInterruption reports whether a tool has an unresolved interruption
func (s *Store) HasOpenInterruption(ctx context.Context, toolID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.interruptions {
		if in.ToolID == toolID && in.ResolvedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// CreateInterruption stores an interruption
func (s *Store) CreateInterruption(ctx context.Context, interruption *core.Interruption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := *interruption
	in.PossibleActions = append([]core.Action(nil), interruption.PossibleActions...)
	s.interruptions = append(s.interruptions, &in)
	return nil
}

// ListOpenInterruptions returns an organization's unresolved interruptions in creation order
func (s *Store) ListOpenInterruptions(ctx context.Context, organizationID string) ([]*core.Interruption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Interruption
	for _, in := range s.interruptions {
		if in.OrganizationID == organizationID && in.ResolvedAt == nil {
			c := *in
			out = append(out, &c)
		}
	}
	return out, nil
}

// CreateScanLog stores a running scan log
func (s *Store) CreateScanLog(ctx context.Context, log *core.ScanLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := *log
	s.scanLogs[log.ID] = &l
	return nil
}

// FinishScanLog stores the final state of a scan log
func (s *Store) FinishScanLog(ctx context.Context, log *core.ScanLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scanLogs[log.ID]; !ok {
		return core.ErrNotFound
	}
	l := *log
	s.scanLogs[log.ID] = &l
	return nil
}

// ScanLogs returns the scan logs of a connection ordered by start time
func (s *Store) ScanLogs(connectionID string) []*core.ScanLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.ScanLog
	for _, l := range s.scanLogs {
		if l.ConnectionID == connectionID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// RecordExtraction appends an audit entry
func (s *Store) RecordExtraction(ctx context.Context, entry *core.ExtractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	s.extractions = append(s.extractions, &e)
	return nil
}

// ExtractionLogs returns a copy of the audit trail
func (s *Store) ExtractionLogs() []*core.ExtractionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.ExtractionLog, 0, len(s.extractions))
	for _, e := range s.extractions {
		c := *e
		out = append(out, &c)
	}
	return out
}

// GetQuotaUsage returns a user's counters for a day, zero when none exist
func (s *Store) GetQuotaUsage(ctx context.Context, userID, day string) (*core.QuotaCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[quotaKey(userID, day)]
	if !ok {
		return &core.QuotaCounters{UserID: userID, Day: day}, nil
	}
	c := *q
	return &c, nil
}

// ConsumeQuota grants up to n units without exceeding limit
func (s *Store) ConsumeQuota(ctx context.Context, userID, day string, kind core.QuotaKind, n, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey(userID, day)
	q, ok := s.quotas[key]
	if !ok {
		q = &core.QuotaCounters{UserID: userID, Day: day}
		s.quotas[key] = q
	}
	granted := limit - q.Get(kind)
	if granted > n {
		granted = n
	}
	if granted <= 0 {
		return 0, nil
	}
	q.Add(kind, granted)
	return granted, nil
}

// HasRecentNotification reports whether a pending or sent reminder of kind is scheduled at or after since
func (s *Store) HasRecentNotification(ctx context.Context, toolID, userID string, kind core.NotificationType, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notifications {
		if n.ToolID == toolID && n.UserID == userID && n.Type == kind &&
			n.Status != core.NotificationFailed && !n.ScheduledFor.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// CreateNotification stores a reminder
func (s *Store) CreateNotification(ctx context.Context, n *core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *n
	s.notifications[n.ID] = &c
	return nil
}

// ListDueNotifications returns pending reminders scheduled at or before now, oldest first
func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*core.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Notification
	for _, n := range s.notifications {
		if n.Status == core.NotificationPending && !n.ScheduledFor.After(now) {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotification records the delivery outcome of a reminder
func (s *Store) MarkNotification(ctx context.Context, id string, status core.NotificationStatus, sentAt *time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return core.ErrNotFound
	}
	n.Status = status
	n.SentAt = copyTime(sentAt)
	n.ErrorMessage = errMsg
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup task
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Cleanup drops quota counters and audit entries older than the retention period
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	cutoffDay := cutoff.UTC().Format("2006-01-02")

	expiredCount := 0
	for key, q := range s.quotas {
		if q.Day < cutoffDay {
			delete(s.quotas, key)
			expiredCount++
		}
	}
	kept := s.extractions[:0]
	for _, e := range s.extractions {
		if e.CreatedAt.Before(cutoff) {
			expiredCount++
			continue
		}
		kept = append(kept, e)
	}
	s.extractions = kept

	s.logger.Debug("Cleaned up expired store entries", zap.Int("expired_count", expiredCount))
	return nil
}

func (s *Store) startCleanupTask() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to clean up store", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneTool(t *core.DetectedTool) *core.DetectedTool {
	c := *t
	if t.LastChargeAmount != nil {
		amount := *t.LastChargeAmount
		c.LastChargeAmount = &amount
	}
	c.LastChargeDate = copyTime(t.LastChargeDate)
	c.EstimatedRenewalDate = copyTime(t.EstimatedRenewalDate)
	c.LastInteractionDate = copyTime(t.LastInteractionDate)
	return &c
}
