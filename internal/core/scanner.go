package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageFetcher fetches a connection's messages received after since
type MessageFetcher interface {
	FetchMessages(ctx context.Context, conn *Connection, since time.Time) ([]*RawMessage, error)
}

// SenderFilter reports senders whose mail is never classified
type SenderFilter interface {
	IsIgnored(sender string) bool
}

// ScanOptions tune the scan loop
type ScanOptions struct {
	// CallDelay paces consecutive classification and extraction calls
	CallDelay             time.Duration
	MinConfidence         int
	DefaultBackfillMonths int
}

// ScanDeps are the collaborators of a ScanService
type ScanDeps struct {
	Connections   ConnectionRepository
	ScanLogs      ScanLogRepository
	Audit         AuditLogRepository
	Fetcher       MessageFetcher
	Classifier    Classifier
	Extractor     Extractor
	Validator     *Validator
	Merger        *ToolMerger
	Interruptions *InterruptionEngine
	Quota         *QuotaGuard
	Ignore        SenderFilter
	// Locker keeps two scans of one connection from overlapping. Defaults to an in-process lock.
	Locker VendorLocker
}

// ScanService drives the per-connection scan pipeline
type ScanService struct {
	deps   ScanDeps
	opts   ScanOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewScanService creates a scan orchestrator
func NewScanService(deps ScanDeps, opts ScanOptions, logger *zap.Logger) *ScanService {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 40
	}
	if opts.DefaultBackfillMonths <= 0 {
		opts.DefaultBackfillMonths = 12
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	return &ScanService{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// RunScan scans one connection, or every active connection when connectionID is empty.
// A failing connection is reported in its ScanResult and does not stop the others.
func (s *ScanService) RunScan(ctx context.Context, connectionID string, scanType ScanType) ([]ScanResult, error) {
	var connections []*Connection
	if connectionID != "" {
		conn, err := s.deps.Connections.GetConnection(ctx, connectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
		}
		if !conn.IsActive {
			return []ScanResult{{ConnectionID: conn.ID, Skipped: true, Reason: "Connection is not active"}}, nil
		}
		connections = append(connections, conn)
	} else {
		var err error
		connections, err = s.deps.Connections.ListActiveConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}
	}

	results := make([]ScanResult, 0, len(connections))
	for _, conn := range connections {
		results = append(results, s.scanConnection(ctx, conn, scanType))
	}
	return results, nil
}

type scanCounts struct {
	scanned      int
	detected     int
	updated      int
	quotaLimited bool
	newest       *time.Time
}

func (s *ScanService) scanConnection(ctx context.Context, conn *Connection, scanType ScanType) ScanResult {
	logger := s.logger.With(
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.Provider)),
		zap.String("scan_type", string(scanType)))
	result := ScanResult{ConnectionID: conn.ID}

	unlock, acquired, err := s.deps.Locker.TryLock(ctx, "scan:"+conn.ID)
	if err != nil {
		logger.Error("Failed to lock connection", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	if !acquired {
		logger.Info("Skipping scan, another scan of this connection is running")
		result.Skipped = true
		result.Reason = "Scan already in progress"
		return result
	}
	defer unlock()

	reason, err := s.deps.Quota.Exhausted(ctx, conn.UserID)
	if err != nil {
		logger.Error("Failed to check quota", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	if reason != "" {
		logger.Info("Skipping scan, daily quota exhausted", zap.String("limit", reason))
		result.Skipped = true
		result.Reason = reason
		return result
	}

	started := s.now()
	scanLog := &ScanLog{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		ScanType:     scanType,
		Status:       ScanStatusRunning,
		StartedAt:    started,
	}
	if err := s.deps.ScanLogs.CreateScanLog(ctx, scanLog); err != nil {
		logger.Error("Failed to create scan log", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	counts, err := s.scanMessages(ctx, conn, scanType, started, logger)
	result.EmailsScanned = counts.scanned
	result.ToolsDetected = counts.detected
	result.ToolsUpdated = counts.updated
	result.QuotaLimited = counts.quotaLimited

	scanLog.EmailsScanned = counts.scanned
	scanLog.ToolsDetected = counts.detected
	scanLog.ToolsUpdated = counts.updated
	scanLog.QuotaLimited = counts.quotaLimited
	completed := s.now()
	scanLog.CompletedAt = &completed

	if err != nil {
		if IsReauthRequired(err) {
			logger.Warn("Connection requires re-authentication", zap.Error(err))
		} else {
			logger.Error("Scan failed", zap.Error(err))
		}
		scanLog.Status = ScanStatusFailed
		scanLog.ErrorMessage = err.Error()
		result.Error = err.Error()
	} else {
		scanLog.Status = ScanStatusSuccess
		logger.Info("Scan completed",
			zap.Int("emails_scanned", counts.scanned),
			zap.Int("tools_detected", counts.detected),
			zap.Int("tools_updated", counts.updated),
			zap.Bool("quota_limited", counts.quotaLimited))
	}

	if err := s.deps.ScanLogs.FinishScanLog(context.WithoutCancel(ctx), scanLog); err != nil {
		logger.Error("Failed to finish scan log", zap.Error(err))
	}
	return result
}

func (s *ScanService) scanMessages(ctx context.Context, conn *Connection, scanType ScanType, started time.Time, logger *zap.Logger) (scanCounts, error) {
	var counts scanCounts

	since := s.since(conn, scanType, started)
	messages, err := s.deps.Fetcher.FetchMessages(ctx, conn, since)
	if err != nil {
		return counts, err
	}
	messages = oldestFirst(messages, since)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		// emails are charged one at a time so a stop on any limit leaves the rest unbilled
		reason, err := s.deps.Quota.Exhausted(ctx, conn.UserID)
		if err != nil {
			return counts, err
		}
		if reason != "" {
			logger.Info("Daily quota reached, stopping scan",
				zap.String("limit", reason),
				zap.Int("fetched", len(messages)),
				zap.Int("processed", counts.scanned))
			counts.quotaLimited = true
			break
		}
		granted, err := s.deps.Quota.Consume(ctx, conn.UserID, QuotaEmails, 1)
		if err != nil {
			return counts, err
		}
		if granted == 0 {
			logger.Info("Email quota reached, stopping scan",
				zap.String("limit", string(QuotaEmails)))
			counts.quotaLimited = true
			break
		}

		outcome, err := s.processMessage(ctx, conn, msg, logger)
		if outcome.quotaHit {
			counts.quotaLimited = true
			break
		}
		counts.scanned++
		received := msg.ReceivedAt
		counts.newest = &received
		if err != nil {
			logger.Warn("Failed to process message",
				zap.String("message_id", msg.ID), zap.Error(err))
			s.audit(ctx, &ExtractionLog{
				UserID:        conn.UserID,
				EmailID:       msg.ID,
				EmailSubject:  msg.Subject,
				FailureReason: err.Error(),
			}, logger)
			continue
		}
		if outcome.created {
			counts.detected++
		}
		if outcome.updated {
			counts.updated++
		}
	}

	if _, err := s.deps.Interruptions.Generate(ctx, conn.OrganizationID); err != nil {
		logger.Error("Failed to generate interruptions", zap.Error(err))
	}

	watermark := ScanWatermark{
		LastScanAt:           started,
		LastScannedEmailDate: conn.LastScannedEmailDate,
		LastBackfillAt:       conn.LastBackfillAt,
	}
	if counts.newest != nil {
		watermark.LastScannedEmailDate = counts.newest
	}
	if scanType == ScanTypeBackfill {
		watermark.LastBackfillAt = &started
	}
	if err := s.deps.Connections.UpdateScanWatermark(ctx, conn.ID, watermark); err != nil {
		logger.Error("Failed to update scan watermark", zap.Error(err))
	}

	return counts, nil
}

type messageOutcome struct {
	created  bool
	updated  bool
	quotaHit bool
}

func (s *ScanService) processMessage(ctx context.Context, conn *Connection, msg *RawMessage, logger *zap.Logger) (messageOutcome, error) {
	var outcome messageOutcome

	if s.deps.Ignore != nil && s.deps.Ignore.IsIgnored(msg.Sender) {
		logger.Debug("Ignoring message from listed domain",
			zap.String("message_id", msg.ID), zap.String("sender", msg.Sender))
		return outcome, nil
	}

	granted, err := s.deps.Quota.Consume(ctx, conn.UserID, QuotaClassifications, 1)
	if err != nil {
		return outcome, err
	}
	if granted == 0 {
		logger.Info("Classification quota reached, stopping scan",
			zap.String("limit", string(QuotaClassifications)))
		outcome.quotaHit = true
		return outcome, nil
	}

	classification, err := s.deps.Classifier.Classify(ctx, msg)
	if err != nil {
		return outcome, fmt.Errorf("classification failed: %w", err)
	}
	if err := s.pause(ctx); err != nil {
		return outcome, err
	}

	confidence := classification.Confidence
	related := classification.IsToolRelated && confidence >= s.opts.MinConfidence
	entry := &ExtractionLog{
		UserID:                   conn.UserID,
		EmailID:                  msg.ID,
		EmailSubject:             msg.Subject,
		ClassificationConfidence: &confidence,
	}
	if !related {
		entry.FailureReason = classification.Reason
	}
	s.audit(ctx, entry, logger)
	if !related {
		return outcome, nil
	}

	granted, err = s.deps.Quota.Consume(ctx, conn.UserID, QuotaExtractions, 1)
	if err != nil {
		return outcome, err
	}
	if granted == 0 {
		logger.Debug("Extraction quota reached, skipping message",
			zap.String("message_id", msg.ID),
			zap.String("limit", string(QuotaExtractions)))
		return outcome, nil
	}

	extraction, err := s.deps.Extractor.Extract(ctx, msg)
	if err != nil {
		return outcome, fmt.Errorf("extraction failed: %w", err)
	}
	if err := s.pause(ctx); err != nil {
		return outcome, err
	}

	validated, verr := s.deps.Validator.Validate(extraction)
	entry = &ExtractionLog{
		UserID:                   conn.UserID,
		EmailID:                  msg.ID,
		EmailSubject:             msg.Subject,
		ClassificationConfidence: &confidence,
		ExtractionAttempted:      true,
		ExtractionSuccess:        extraction != nil && extraction.VendorName != "",
		ValidationPassed:         verr == nil,
	}
	if verr != nil {
		entry.FailureReason = verr.Error()
	}
	s.audit(ctx, entry, logger)
	if verr != nil {
		logger.Debug("Extraction rejected",
			zap.String("message_id", msg.ID), zap.Error(verr))
		return outcome, nil
	}

	upserted, err := s.deps.Merger.Upsert(ctx, conn, validated, msg)
	if err != nil {
		return outcome, fmt.Errorf("upsert failed: %w", err)
	}
	outcome.created = upserted.Created
	outcome.updated = upserted.Updated
	return outcome, nil
}

func (s *ScanService) since(conn *Connection, scanType ScanType, now time.Time) time.Time {
	if scanType == ScanTypeBackfill {
		months := conn.BackfillMonths
		if months <= 0 {
			months = s.opts.DefaultBackfillMonths
		}
		return now.AddDate(0, -months, 0)
	}
	switch {
	case conn.LastScannedEmailDate != nil:
		return *conn.LastScannedEmailDate
	case conn.LastScanAt != nil:
		return *conn.LastScanAt
	default:
		return now.Add(-24 * time.Hour)
	}
}

func (s *ScanService) pause(ctx context.Context) error {
	if s.opts.CallDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.CallDelay):
		return nil
	}
}

func (s *ScanService) audit(ctx context.Context, entry *ExtractionLog, logger *zap.Logger) {
	if s.deps.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	if err := s.deps.Audit.RecordExtraction(ctx, entry); err != nil {
		logger.Warn("Failed to record extraction log",
			zap.String("message_id", entry.EmailID), zap.Error(err))
	}
}

// oldestFirst drops messages not strictly newer than since and sorts the rest by receipt time
func oldestFirst(messages []*RawMessage, since time.Time) []*RawMessage {
	out := messages[:0]
	for _, msg := range messages {
		if msg.ReceivedAt.After(since) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// IsReauthRequired reports whether err asks the user to reconnect the mailbox
func IsReauthRequired(err error) bool {
	var reauth *ReauthRequiredError
	return errors.As(err, &reauth)
}
