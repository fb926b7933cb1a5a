package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// maxQuotaAttempts bounds the compare-and-swap loop of ConsumeQuota
const maxQuotaAttempts = 32

// quotaColumns maps quota kinds to their columns
var quotaColumns = map[core.QuotaKind]string{
	core.QuotaEmails:          "emails",
	core.QuotaClassifications: "classifications",
	core.QuotaExtractions:     "extractions",
}

// Options configures a SQL store
type Options struct {
	Dialect     string
	DSN         string
	Retention   time.Duration
	CleanupFreq time.Duration
	MaxConns    int
}

// Store is a relational implementation of core.Store
type Store struct {
	db          *sqlx.DB
	dialect     *Dialect
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// Open connects to the database, creates the schema and starts the cleanup task
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	dialect, err := LookupDialect(opts.Dialect)
	if err != nil {
		return nil, err
	}
	dsn, err := dialect.PrepareDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.Name == "sqlite" {
		// one writer avoids "database is locked" under concurrent scans
		db.SetMaxOpenConns(1)
	} else if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}

	s := &Store{
		db:          db,
		dialect:     dialect,
		logger:      logger,
		retention:   opts.Retention,
		cleanupFreq: opts.CleanupFreq,
		stopCh:      make(chan struct{}),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if s.retention > 0 && s.cleanupFreq > 0 {
		go s.startCleanupTask()
	}

	logger.Info("Opened SQL store", zap.String("dialect", dialect.Name))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, s.dialect.ddl(stmt)); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveConnection inserts or replaces a connection
func (s *Store) SaveConnection(ctx context.Context, conn *core.Connection) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM email_connections WHERE id = ?`), conn.ID); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO email_connections (id, user_id, organization_id, provider, email_address,
				access_token, refresh_token, token_expires_at, is_active, backfill_months,
				last_scan_at, last_scanned_email_date, last_backfill_at)
			VALUES (:id, :user_id, :organization_id, :provider, :email_address,
				:access_token, :refresh_token, :token_expires_at, :is_active, :backfill_months,
				:last_scan_at, :last_scanned_email_date, :last_backfill_at)`,
			newConnectionRow(conn))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// GetConnection returns a connection by id
func (s *Store) GetConnection(ctx context.Context, id string) (*core.Connection, error) {
	var row connectionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM email_connections WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return row.toCore(), nil
}

// ListActiveConnections returns every active connection ordered by id
func (s *Store) ListActiveConnections(ctx context.Context) ([]*core.Connection, error) {
	var rows []connectionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT * FROM email_connections WHERE is_active = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	out := make([]*core.Connection, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

// UpdateTokens stores refreshed credentials, keeping the refresh token when none was issued
func (s *Store) UpdateTokens(ctx context.Context, id string, token *core.OAuthToken) error {
	var (
		res sql.Result
		err error
	)
	if token.RefreshToken != "" {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE email_connections SET access_token = ?, refresh_token = ?, token_expires_at = ? WHERE id = ?`),
			token.AccessToken, token.RefreshToken, nullTimeValue(token.Expiry), id)
	} else {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE email_connections SET access_token = ?, token_expires_at = ? WHERE id = ?`),
			token.AccessToken, nullTimeValue(token.Expiry), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return requireRow(res)
}

// UpdateScanWatermark records scan progress
func (s *Store) UpdateScanWatermark(ctx context.Context, id string, w core.ScanWatermark) error {
	lastScan := w.LastScanAt
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE email_connections
		SET last_scan_at = ?, last_scanned_email_date = ?, last_backfill_at = ?
		WHERE id = ?`),
		nullTime(&lastScan), nullTime(w.LastScannedEmailDate), nullTime(w.LastBackfillAt), id)
	if err != nil {
		return fmt.Errorf("failed to update scan watermark: %w", err)
	}
	return requireRow(res)
}

// FindToolByVendor returns the tool for an organization and normalized vendor
func (s *Store) FindToolByVendor(ctx context.Context, organizationID, normalizedVendor string) (*core.DetectedTool, error) {
	var row toolRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT * FROM detected_tools WHERE organization_id = ? AND normalized_vendor = ?`),
		organizationID, normalizedVendor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tool: %w", err)
	}
	return row.toCore(), nil
}

// CreateTool inserts a tool, failing with core.ErrDuplicateVendor when its vendor key exists
func (s *Store) CreateTool(ctx context.Context, tool *core.DetectedTool) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO detected_tools (id, organization_id, vendor_name, normalized_vendor,
			last_charge_amount, last_charge_date, currency, billing_frequency, estimated_renewal_date,
			first_seen_date, status, renewal_count, confidence_score, detection_reason,
			inferred_owner_id, owner_confirmation_status, last_interaction_date, tool_category,
			marketing_relevance_score, source_connection_id, source_email_id, source_email_subject,
			source_email_sender, created_at, updated_at)
		VALUES (:id, :organization_id, :vendor_name, :normalized_vendor,
			:last_charge_amount, :last_charge_date, :currency, :billing_frequency, :estimated_renewal_date,
			:first_seen_date, :status, :renewal_count, :confidence_score, :detection_reason,
			:inferred_owner_id, :owner_confirmation_status, :last_interaction_date, :tool_category,
			:marketing_relevance_score, :source_connection_id, :source_email_id, :source_email_subject,
			:source_email_sender, :created_at, :updated_at)`,
		newToolRow(tool))
	if isUniqueViolation(err) {
		return core.ErrDuplicateVendor
	}
	if err != nil {
		return fmt.Errorf("failed to create tool: %w", err)
	}
	return nil
}

// UpdateTool writes the mutable fields of a tool
func (s *Store) UpdateTool(ctx context.Context, tool *core.DetectedTool) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE detected_tools SET
			vendor_name = :vendor_name,
			last_charge_amount = :last_charge_amount,
			last_charge_date = :last_charge_date,
			currency = :currency,
			billing_frequency = :billing_frequency,
			estimated_renewal_date = :estimated_renewal_date,
			status = :status,
			renewal_count = :renewal_count,
			confidence_score = :confidence_score,
			detection_reason = :detection_reason,
			inferred_owner_id = :inferred_owner_id,
			owner_confirmation_status = :owner_confirmation_status,
			last_interaction_date = :last_interaction_date,
			tool_category = :tool_category,
			marketing_relevance_score = :marketing_relevance_score,
			updated_at = :updated_at
		WHERE id = :id`,
		newToolRow(tool))
	if err != nil {
		return fmt.Errorf("failed to update tool: %w", err)
	}
	return requireRow(res)
}

// ListTools returns an organization's tools, optionally filtered by status, ordered by vendor
func (s *Store) ListTools(ctx context.Context, organizationID string, status core.ToolStatus) ([]*core.DetectedTool, error) {
	query := `SELECT * FROM detected_tools WHERE organization_id = ?`
	args := []interface{}{organizationID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY normalized_vendor`

	var rows []toolRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	out := make([]*core.DetectedTool, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

// HasOpenInterruption reports whether a tool has an unresolved interruption
func (s *Store) HasOpenInterruption(ctx context.Context, toolID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM interruptions WHERE tool_id = ? AND resolved_at IS NULL`), toolID)
	if err != nil {
		return false, fmt.Errorf("failed to check interruptions: %w", err)
	}
	return count > 0, nil
}

// CreateInterruption stores an interruption
func (s *Store) CreateInterruption(ctx context.Context, interruption *core.Interruption) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO interruptions (id, organization_id, tool_id, type, priority, message,
			possible_actions, triggered_at, resolved_at)
		VALUES (:id, :organization_id, :tool_id, :type, :priority, :message,
			:possible_actions, :triggered_at, :resolved_at)`,
		newInterruptionRow(interruption))
	if err != nil {
		return fmt.Errorf("failed to create interruption: %w", err)
	}
	return nil
}

// ListOpenInterruptions returns an organization's unresolved interruptions, oldest first
func (s *Store) ListOpenInterruptions(ctx context.Context, organizationID string) ([]*core.Interruption, error) {
	var rows []interruptionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT * FROM interruptions
		WHERE organization_id = ? AND resolved_at IS NULL
		ORDER BY triggered_at, id`), organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interruptions: %w", err)
	}
	out := make([]*core.Interruption, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

// CreateScanLog stores a running scan log
func (s *Store) CreateScanLog(ctx context.Context, log *core.ScanLog) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scan_logs (id, connection_id, scan_type, status, emails_scanned, tools_detected,
			tools_updated, quota_limited, error_message, started_at, completed_at)
		VALUES (:id, :connection_id, :scan_type, :status, :emails_scanned, :tools_detected,
			:tools_updated, :quota_limited, :error_message, :started_at, :completed_at)`,
		newScanLogRow(log))
	if err != nil {
		return fmt.Errorf("failed to create scan log: %w", err)
	}
	return nil
}

// FinishScanLog stores the final state of a scan log
func (s *Store) FinishScanLog(ctx context.Context, log *core.ScanLog) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE scan_logs SET
			status = :status,
			emails_scanned = :emails_scanned,
			tools_detected = :tools_detected,
			tools_updated = :tools_updated,
			quota_limited = :quota_limited,
			error_message = :error_message,
			completed_at = :completed_at
		WHERE id = :id`,
		newScanLogRow(log))
	if err != nil {
		return fmt.Errorf("failed to finish scan log: %w", err)
	}
	return requireRow(res)
}

// ScanLogs returns the scan logs of a connection ordered by start time
func (s *Store) ScanLogs(ctx context.Context, connectionID string) ([]*core.ScanLog, error) {
	var rows []scanLogRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT * FROM scan_logs WHERE connection_id = ? ORDER BY started_at`), connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan logs: %w", err)
	}
	out := make([]*core.ScanLog, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

// RecordExtraction appends an audit entry
func (s *Store) RecordExtraction(ctx context.Context, entry *core.ExtractionLog) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO extraction_logs (id, user_id, email_id, email_subject, classification_confidence,
			extraction_attempted, extraction_success, validation_passed, failure_reason, created_at)
		VALUES (:id, :user_id, :email_id, :email_subject, :classification_confidence,
			:extraction_attempted, :extraction_success, :validation_passed, :failure_reason, :created_at)`,
		newExtractionLogRow(entry))
	if err != nil {
		return fmt.Errorf("failed to record extraction: %w", err)
	}
	return nil
}

// GetQuotaUsage returns a user's counters for a day, zero when none exist
func (s *Store) GetQuotaUsage(ctx context.Context, userID, day string) (*core.QuotaCounters, error) {
	var row quotaRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT * FROM quota_usage WHERE user_id = ? AND day = ?`), userID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.QuotaCounters{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota usage: %w", err)
	}
	return &core.QuotaCounters{
		UserID:          row.UserID,
		Day:             row.Day,
		Emails:          row.Emails,
		Classifications: row.Classifications,
		Extractions:     row.Extractions,
	}, nil
}

// ConsumeQuota grants up to n units without exceeding limit. The counter is
// advanced with a compare-and-swap so concurrent scanners cannot overshoot.
func (s *Store) ConsumeQuota(ctx context.Context, userID, day string, kind core.QuotaKind, n, limit int) (int, error) {
	column, ok := quotaColumns[kind]
	if !ok {
		return 0, fmt.Errorf("unknown quota kind: %s", kind)
	}
	if n <= 0 {
		return 0, nil
	}

	insert := s.dialect.insertIgnoreStatement("quota_usage",
		"user_id, day, emails, classifications, extractions", "?, ?, 0, 0, 0")
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(insert), userID, day); err != nil {
		return 0, fmt.Errorf("failed to initialise quota row: %w", err)
	}

	selectUsed := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM quota_usage WHERE user_id = ? AND day = ?`, column))
	update := s.db.Rebind(fmt.Sprintf(
		`UPDATE quota_usage SET %[1]s = %[1]s + ? WHERE user_id = ? AND day = ? AND %[1]s = ?`, column))

	for attempt := 0; attempt < maxQuotaAttempts; attempt++ {
		var used int
		if err := s.db.GetContext(ctx, &used, selectUsed, userID, day); err != nil {
			return 0, fmt.Errorf("failed to read quota usage: %w", err)
		}
		granted := min(n, limit-used)
		if granted <= 0 {
			return 0, nil
		}
		res, err := s.db.ExecContext(ctx, update, granted, userID, day, used)
		if err != nil {
			return 0, fmt.Errorf("failed to consume quota: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 1 {
			return granted, nil
		}
	}
	return 0, fmt.Errorf("failed to consume %s quota: too much contention", kind)
}

// HasRecentNotification reports whether a pending or sent reminder of kind is scheduled at or after since
func (s *Store) HasRecentNotification(ctx context.Context, toolID, userID string, kind core.NotificationType, since time.Time) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM notifications
		WHERE tool_id = ? AND user_id = ? AND type = ? AND status <> ? AND scheduled_for >= ?`),
		toolID, userID, string(kind), string(core.NotificationFailed), since.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to check notifications: %w", err)
	}
	return count > 0, nil
}

// CreateNotification stores a reminder
func (s *Store) CreateNotification(ctx context.Context, n *core.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, organization_id, tool_id, user_id, recipient, type, subject,
			body, scheduled_for, status, sent_at, error_message, created_at)
		VALUES (:id, :organization_id, :tool_id, :user_id, :recipient, :type, :subject,
			:body, :scheduled_for, :status, :sent_at, :error_message, :created_at)`,
		newNotificationRow(n))
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListDueNotifications returns pending reminders scheduled at or before now, oldest first
func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*core.Notification, error) {
	query := `SELECT * FROM notifications WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for, id`
	args := []interface{}{string(core.NotificationPending), now.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	out := make([]*core.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

// MarkNotification records the delivery outcome of a reminder
func (s *Store) MarkNotification(ctx context.Context, id string, status core.NotificationStatus, sentAt *time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notifications SET status = ?, sent_at = ?, error_message = ? WHERE id = ?`),
		string(status), nullTime(sentAt), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification: %w", err)
	}
	return requireRow(res)
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the cleanup task and closes the database
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

// Cleanup drops quota counters and audit entries older than the retention period
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UTC()

	var expiredCount int64
	for _, stmt := range []struct {
		query string
		arg   interface{}
	}{
		{`DELETE FROM quota_usage WHERE day < ?`, cutoff.Format("2006-01-02")},
		{`DELETE FROM extraction_logs WHERE created_at < ?`, cutoff},
	} {
		result, err := s.db.ExecContext(ctx, s.db.Rebind(stmt.query), stmt.arg)
		if err != nil {
			return fmt.Errorf("failed to clean up expired entries: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
			continue
		}
		expiredCount += rowsAffected
	}

	s.logger.Debug("Cleaned up expired store entries", zap.Int64("expired_count", expiredCount))
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

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// requireRow maps an update that touched nothing to core.ErrNotFound
func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}
