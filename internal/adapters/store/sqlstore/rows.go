package sqlstore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
)

type connectionRow struct {
	ID                   string       `db:"id"`
	UserID               string       `db:"user_id"`
	OrganizationID       string       `db:"organization_id"`
	Provider             string       `db:"provider"`
	EmailAddress         string       `db:"email_address"`
	AccessToken          string       `db:"access_token"`
	RefreshToken         string       `db:"refresh_token"`
	TokenExpiresAt       sql.NullTime `db:"token_expires_at"`
	IsActive             bool         `db:"is_active"`
	BackfillMonths       int          `db:"backfill_months"`
	LastScanAt           sql.NullTime `db:"last_scan_at"`
	LastScannedEmailDate sql.NullTime `db:"last_scanned_email_date"`
	LastBackfillAt       sql.NullTime `db:"last_backfill_at"`
}

func newConnectionRow(c *core.Connection) *connectionRow {
	return &connectionRow{
		ID:                   c.ID,
		UserID:               c.UserID,
		OrganizationID:       c.OrganizationID,
		Provider:             string(c.Provider),
		EmailAddress:         c.EmailAddress,
		AccessToken:          c.AccessToken,
		RefreshToken:         c.RefreshToken,
		TokenExpiresAt:       nullTimeValue(c.TokenExpiresAt),
		IsActive:             c.IsActive,
		BackfillMonths:       c.BackfillMonths,
		LastScanAt:           nullTime(c.LastScanAt),
		LastScannedEmailDate: nullTime(c.LastScannedEmailDate),
		LastBackfillAt:       nullTime(c.LastBackfillAt),
	}
}

func (r *connectionRow) toCore() *core.Connection {
	c := &core.Connection{
		ID:                   r.ID,
		UserID:               r.UserID,
		OrganizationID:       r.OrganizationID,
		Provider:             core.Provider(r.Provider),
		EmailAddress:         r.EmailAddress,
		AccessToken:          r.AccessToken,
		RefreshToken:         r.RefreshToken,
		IsActive:             r.IsActive,
		BackfillMonths:       r.BackfillMonths,
		LastScanAt:           timePtr(r.LastScanAt),
		LastScannedEmailDate: timePtr(r.LastScannedEmailDate),
		LastBackfillAt:       timePtr(r.LastBackfillAt),
	}
	if r.TokenExpiresAt.Valid {
		c.TokenExpiresAt = r.TokenExpiresAt.Time.UTC()
	}
	return c
}

type toolRow struct {
	ID                      string          `db:"id"`
	OrganizationID          string          `db:"organization_id"`
	VendorName              string          `db:"vendor_name"`
	NormalizedVendor        string          `db:"normalized_vendor"`
	LastChargeAmount        sql.NullFloat64 `db:"last_charge_amount"`
	LastChargeDate          sql.NullTime    `db:"last_charge_date"`
	Currency                string          `db:"currency"`
	BillingFrequency        string          `db:"billing_frequency"`
	EstimatedRenewalDate    sql.NullTime    `db:"estimated_renewal_date"`
	FirstSeenDate           time.Time       `db:"first_seen_date"`
	Status                  string          `db:"status"`
	RenewalCount            int             `db:"renewal_count"`
	ConfidenceScore         int             `db:"confidence_score"`
	DetectionReason         string          `db:"detection_reason"`
	InferredOwnerID         string          `db:"inferred_owner_id"`
	OwnerConfirmationStatus string          `db:"owner_confirmation_status"`
	LastInteractionDate     sql.NullTime    `db:"last_interaction_date"`
	ToolCategory            string          `db:"tool_category"`
	MarketingRelevanceScore int             `db:"marketing_relevance_score"`
	SourceConnectionID      string          `db:"source_connection_id"`
	SourceEmailID           string          `db:"source_email_id"`
	SourceEmailSubject      string          `db:"source_email_subject"`
	SourceEmailSender       string          `db:"source_email_sender"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

func newToolRow(t *core.DetectedTool) *toolRow {
	row := &toolRow{
		ID:                      t.ID,
		OrganizationID:          t.OrganizationID,
		VendorName:              t.VendorName,
		NormalizedVendor:        t.NormalizedVendor,
		LastChargeDate:          nullTime(t.LastChargeDate),
		Currency:                t.Currency,
		BillingFrequency:        string(t.BillingFrequency),
		EstimatedRenewalDate:    nullTime(t.EstimatedRenewalDate),
		FirstSeenDate:           t.FirstSeenDate.UTC(),
		Status:                  string(t.Status),
		RenewalCount:            t.RenewalCount,
		ConfidenceScore:         t.ConfidenceScore,
		DetectionReason:         t.DetectionReason,
		InferredOwnerID:         t.InferredOwnerID,
		OwnerConfirmationStatus: t.OwnerConfirmationStatus,
		LastInteractionDate:     nullTime(t.LastInteractionDate),
		ToolCategory:            t.ToolCategory,
		MarketingRelevanceScore: t.MarketingRelevanceScore,
		SourceConnectionID:      t.SourceConnectionID,
		SourceEmailID:           t.SourceEmailID,
		SourceEmailSubject:      t.SourceEmailSubject,
		SourceEmailSender:       t.SourceEmailSender,
		CreatedAt:               t.CreatedAt.UTC(),
		UpdatedAt:               t.UpdatedAt.UTC(),
	}
	if t.LastChargeAmount != nil {
		row.LastChargeAmount = sql.NullFloat64{Float64: *t.LastChargeAmount, Valid: true}
	}
	return row
}

func (r *toolRow) toCore() *core.DetectedTool {
	t := &core.DetectedTool{
		ID:                      r.ID,
		OrganizationID:          r.OrganizationID,
		VendorName:              r.VendorName,
		NormalizedVendor:        r.NormalizedVendor,
		LastChargeDate:          timePtr(r.LastChargeDate),
		Currency:                r.Currency,
		BillingFrequency:        core.BillingCycle(r.BillingFrequency),
		EstimatedRenewalDate:    timePtr(r.EstimatedRenewalDate),
		FirstSeenDate:           r.FirstSeenDate.UTC(),
		Status:                  core.ToolStatus(r.Status),
		RenewalCount:            r.RenewalCount,
		ConfidenceScore:         r.ConfidenceScore,
		DetectionReason:         r.DetectionReason,
		InferredOwnerID:         r.InferredOwnerID,
		OwnerConfirmationStatus: r.OwnerConfirmationStatus,
		LastInteractionDate:     timePtr(r.LastInteractionDate),
		ToolCategory:            r.ToolCategory,
		MarketingRelevanceScore: r.MarketingRelevanceScore,
		SourceConnectionID:      r.SourceConnectionID,
		SourceEmailID:           r.SourceEmailID,
		SourceEmailSubject:      r.SourceEmailSubject,
		SourceEmailSender:       r.SourceEmailSender,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if r.LastChargeAmount.Valid {
		amount := r.LastChargeAmount.Float64
		t.LastChargeAmount = &amount
	}
	return t
}

type interruptionRow struct {
	ID              string       `db:"id"`
	OrganizationID  string       `db:"organization_id"`
	ToolID          string       `db:"tool_id"`
	Type            string       `db:"type"`
	Priority        string       `db:"priority"`
	Message         string       `db:"message"`
	PossibleActions string       `db:"possible_actions"`
	TriggeredAt     time.Time    `db:"triggered_at"`
	ResolvedAt      sql.NullTime `db:"resolved_at"`
}

func newInterruptionRow(in *core.Interruption) *interruptionRow {
	actions := make([]string, len(in.PossibleActions))
	for i, a := range in.PossibleActions {
		actions[i] = string(a)
	}
	return &interruptionRow{
		ID:              in.ID,
		OrganizationID:  in.OrganizationID,
		ToolID:          in.ToolID,
		Type:            string(in.Type),
		Priority:        string(in.Priority),
		Message:         in.Message,
		PossibleActions: strings.Join(actions, ","),
		TriggeredAt:     in.TriggeredAt.UTC(),
		ResolvedAt:      nullTime(in.ResolvedAt),
	}
}

func (r *interruptionRow) toCore() *core.Interruption {
	in := &core.Interruption{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ToolID:         r.ToolID,
		Type:           core.InterruptionType(r.Type),
		Priority:       core.Priority(r.Priority),
		Message:        r.Message,
		TriggeredAt:    r.TriggeredAt.UTC(),
		ResolvedAt:     timePtr(r.ResolvedAt),
	}
	if r.PossibleActions != "" {
		for _, a := range strings.Split(r.PossibleActions, ",") {
			in.PossibleActions = append(in.PossibleActions, core.Action(a))
		}
	}
	return in
}

type scanLogRow struct {
	ID            string       `db:"id"`
	ConnectionID  string       `db:"connection_id"`
	ScanType      string       `db:"scan_type"`
	Status        string       `db:"status"`
	EmailsScanned int          `db:"emails_scanned"`
	ToolsDetected int          `db:"tools_detected"`
	ToolsUpdated  int          `db:"tools_updated"`
	QuotaLimited  bool         `db:"quota_limited"`
	ErrorMessage  string       `db:"error_message"`
	StartedAt     time.Time    `db:"started_at"`
	CompletedAt   sql.NullTime `db:"completed_at"`
}

func newScanLogRow(l *core.ScanLog) *scanLogRow {
	return &scanLogRow{
		ID:            l.ID,
		ConnectionID:  l.ConnectionID,
		ScanType:      string(l.ScanType),
		Status:        string(l.Status),
		EmailsScanned: l.EmailsScanned,
		ToolsDetected: l.ToolsDetected,
		ToolsUpdated:  l.ToolsUpdated,
		QuotaLimited:  l.QuotaLimited,
		ErrorMessage:  l.ErrorMessage,
		StartedAt:     l.StartedAt.UTC(),
		CompletedAt:   nullTime(l.CompletedAt),
	}
}

func (r *scanLogRow) toCore() *core.ScanLog {
	return &core.ScanLog{
		ID:            r.ID,
		ConnectionID:  r.ConnectionID,
		ScanType:      core.ScanType(r.ScanType),
		Status:        core.ScanStatus(r.Status),
		EmailsScanned: r.EmailsScanned,
		ToolsDetected: r.ToolsDetected,
		ToolsUpdated:  r.ToolsUpdated,
		QuotaLimited:  r.QuotaLimited,
		ErrorMessage:  r.ErrorMessage,
		StartedAt:     r.StartedAt.UTC(),
		CompletedAt:   timePtr(r.CompletedAt),
	}
}

type extractionLogRow struct {
	ID                       string        `db:"id"`
	UserID                   string        `db:"user_id"`
	EmailID                  string        `db:"email_id"`
	EmailSubject             string        `db:"email_subject"`
	ClassificationConfidence sql.NullInt64 `db:"classification_confidence"`
	ExtractionAttempted      bool          `db:"extraction_attempted"`
	ExtractionSuccess        bool          `db:"extraction_success"`
	ValidationPassed         bool          `db:"validation_passed"`
	FailureReason            string        `db:"failure_reason"`
	CreatedAt                time.Time     `db:"created_at"`
}

func newExtractionLogRow(e *core.ExtractionLog) *extractionLogRow {
	row := &extractionLogRow{
		ID:                  e.ID,
		UserID:              e.UserID,
		EmailID:             e.EmailID,
		EmailSubject:        e.EmailSubject,
		ExtractionAttempted: e.ExtractionAttempted,
		ExtractionSuccess:   e.ExtractionSuccess,
		ValidationPassed:    e.ValidationPassed,
		FailureReason:       e.FailureReason,
		CreatedAt:           e.CreatedAt.UTC(),
	}
	if e.ClassificationConfidence != nil {
		row.ClassificationConfidence = sql.NullInt64{Int64: int64(*e.ClassificationConfidence), Valid: true}
	}
	return row
}

type quotaRow struct {
	UserID          string `db:"user_id"`
	Day             string `db:"day"`
	Emails          int    `db:"emails"`
	Classifications int    `db:"classifications"`
	Extractions     int    `db:"extractions"`
}

type notificationRow struct {
	ID             string       `db:"id"`
	OrganizationID string       `db:"organization_id"`
	ToolID         string       `db:"tool_id"`
	UserID         string       `db:"user_id"`
	Recipient      string       `db:"recipient"`
	Type           string       `db:"type"`
	Subject        string       `db:"subject"`
	Body           string       `db:"body"`
	ScheduledFor   time.Time    `db:"scheduled_for"`
	Status         string       `db:"status"`
	SentAt         sql.NullTime `db:"sent_at"`
	ErrorMessage   string       `db:"error_message"`
	CreatedAt      time.Time    `db:"created_at"`
}

func newNotificationRow(n *core.Notification) *notificationRow {
	return &notificationRow{
		ID:             n.ID,
		OrganizationID: n.OrganizationID,
		ToolID:         n.ToolID,
		UserID:         n.UserID,
		Recipient:      n.Recipient,
		Type:           string(n.Type),
		Subject:        n.Subject,
		Body:           n.Body,
		ScheduledFor:   n.ScheduledFor.UTC(),
		Status:         string(n.Status),
		SentAt:         nullTime(n.SentAt),
		ErrorMessage:   n.ErrorMessage,
		CreatedAt:      n.CreatedAt.UTC(),
	}
}

func (r *notificationRow) toCore() *core.Notification {
	return &core.Notification{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ToolID:         r.ToolID,
		UserID:         r.UserID,
		Recipient:      r.Recipient,
		Type:           core.NotificationType(r.Type),
		Subject:        r.Subject,
		Body:           r.Body,
		ScheduledFor:   r.ScheduledFor.UTC(),
		Status:         core.NotificationStatus(r.Status),
		SentAt:         timePtr(r.SentAt),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
