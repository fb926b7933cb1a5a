package core

import (
	"time"
)

// Provider identifies the mailbox provider behind a connection
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// ScanType selects the fetch window of a scan
type ScanType string

const (
	ScanTypeBackfill ScanType = "backfill"
	ScanTypeDaily    ScanType = "daily"
	ScanTypeManual   ScanType = "manual"
)

// ParseScanType converts a request value into a ScanType, defaulting to daily
func ParseScanType(s string) (ScanType, bool) {
	switch ScanType(s) {
	case "":
		return ScanTypeDaily, true
	case ScanTypeBackfill, ScanTypeDaily, ScanTypeManual:
		return ScanType(s), true
	default:
		return "", false
	}
}

// ScanStatus is the lifecycle state of a ScanLog
type ScanStatus string

const (
	ScanStatusRunning ScanStatus = "running"
	ScanStatusSuccess ScanStatus = "success"
	ScanStatusFailed  ScanStatus = "failed"
)

// ToolStatus is the lifecycle state of a DetectedTool
type ToolStatus string

const (
	ToolStatusActive    ToolStatus = "active"
	ToolStatusTrial     ToolStatus = "trial"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// BillingCycle is the billing frequency of a subscription.
// The empty value means the cycle is unknown to the extraction.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleTrial   BillingCycle = "trial"
	BillingCycleUnknown BillingCycle = "unknown"
)

// ParseBillingCycle maps free text to a BillingCycle, returning "" for anything unrecognised
func ParseBillingCycle(s string) BillingCycle {
	switch BillingCycle(s) {
	case BillingCycleMonthly, BillingCycleYearly, BillingCycleTrial, BillingCycleUnknown:
		return BillingCycle(s)
	default:
		return ""
	}
}

// Owner confirmation states of a DetectedTool
const (
	OwnerUnconfirmed = "unconfirmed"
	OwnerConfirmed   = "confirmed"
	OwnerDisputed    = "disputed"
)

// InterruptionType is the rule that produced an interruption
type InterruptionType string

const (
	InterruptionSilentRenewal InterruptionType = "silent_renewal"
	InterruptionTrialEnding   InterruptionType = "trial_ending"
	InterruptionNoOwner       InterruptionType = "no_owner"
)

// Priority of an interruption
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Action a user may take to resolve an interruption
type Action string

const (
	ActionKeep        Action = "keep"
	ActionCancel      Action = "cancel"
	ActionAssignOwner Action = "assign_owner"
)

// QuotaKind names one of the per-user daily counters
type QuotaKind string

const (
	QuotaEmails          QuotaKind = "emails"
	QuotaClassifications QuotaKind = "classifications"
	QuotaExtractions     QuotaKind = "extractions"
)

// NotificationType distinguishes reminder kinds
type NotificationType string

const (
	NotificationRenewalAlert NotificationType = "renewal_alert"
	NotificationTrialAlert   NotificationType = "trial_alert"
)

// NotificationStatus is the delivery state of a reminder
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// RawMessage is one fetched email
type RawMessage struct {
	ID         string
	Sender     string
	Subject    string
	BodyText   string
	ReceivedAt time.Time
	Recipients []string
}

// ClassificationResult is the verdict of a Classifier
type ClassificationResult struct {
	IsToolRelated bool
	Confidence    int
	Reason        string
}

// ExtractionResult holds the structured fields pulled out of a message.
// Absent values are empty strings or nil pointers, never guesses.
type ExtractionResult struct {
	VendorName     string
	Amount         *float64
	Currency       string
	BillingCycle   BillingCycle
	RenewalDate    *time.Time
	IsTrial        bool
	IsCancellation bool
	Confidence     int
	Reason         string
}

// EmptyExtraction returns the all-null, zero-confidence result
func EmptyExtraction(reason string) *ExtractionResult {
	return &ExtractionResult{Reason: reason}
}

// Clone returns a deep copy of the extraction
func (e *ExtractionResult) Clone() *ExtractionResult {
	c := *e
	if e.Amount != nil {
		amount := *e.Amount
		c.Amount = &amount
	}
	if e.RenewalDate != nil {
		date := *e.RenewalDate
		c.RenewalDate = &date
	}
	return &c
}

// HasAmount reports whether the extraction carries a usable amount
func (e *ExtractionResult) HasAmount() bool {
	return e.Amount != nil && *e.Amount != 0
}

// DetectedTool is the canonical record of one vendor within an organization
type DetectedTool struct {
	ID                      string
	OrganizationID          string
	VendorName              string
	NormalizedVendor        string
	LastChargeAmount        *float64
	LastChargeDate          *time.Time
	Currency                string
	BillingFrequency        BillingCycle
	EstimatedRenewalDate    *time.Time
	FirstSeenDate           time.Time
	Status                  ToolStatus
	RenewalCount            int
	ConfidenceScore         int
	DetectionReason         string
	InferredOwnerID         string
	OwnerConfirmationStatus string
	LastInteractionDate     *time.Time
	ToolCategory            string
	MarketingRelevanceScore int
	SourceConnectionID      string
	SourceEmailID           string
	SourceEmailSubject      string
	SourceEmailSender       string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Interruption is an actionable alert derived from tool state
type Interruption struct {
	ID              string
	OrganizationID  string
	ToolID          string
	Type            InterruptionType
	Priority        Priority
	Message         string
	PossibleActions []Action
	TriggeredAt     time.Time
	ResolvedAt      *time.Time
}

// Connection is a user's authorised mailbox
type Connection struct {
	ID                   string
	UserID               string
	OrganizationID       string
	Provider             Provider
	EmailAddress         string
	AccessToken          string
	RefreshToken         string
	TokenExpiresAt       time.Time
	IsActive             bool
	BackfillMonths       int
	LastScanAt           *time.Time
	LastScannedEmailDate *time.Time
	LastBackfillAt       *time.Time
}

// OAuthToken is the result of a token refresh
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ScanWatermark records how far a connection has been scanned
type ScanWatermark struct {
	LastScanAt           time.Time
	LastScannedEmailDate *time.Time
	LastBackfillAt       *time.Time
}

// ScanLog is the audit record of one scan invocation for one connection
type ScanLog struct {
	ID            string
	ConnectionID  string
	ScanType      ScanType
	Status        ScanStatus
	EmailsScanned int
	ToolsDetected int
	ToolsUpdated  int
	QuotaLimited  bool
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// ExtractionLog is the per-message audit entry of the pipeline
type ExtractionLog struct {
	ID                       string
	UserID                   string
	EmailID                  string
	EmailSubject             string
	ClassificationConfidence *int
	ExtractionAttempted      bool
	ExtractionSuccess        bool
	ValidationPassed         bool
	FailureReason            string
	CreatedAt                time.Time
}

// QuotaCounters are the units a user consumed on one day
type QuotaCounters struct {
	UserID          string
	Day             string
	Emails          int
	Classifications int
	Extractions     int
}

// Get returns the counter for a kind
func (q *QuotaCounters) Get(kind QuotaKind) int {
	switch kind {
	case QuotaEmails:
		return q.Emails
	case QuotaClassifications:
		return q.Classifications
	case QuotaExtractions:
		return q.Extractions
	default:
		return 0
	}
}

// Add increments the counter for a kind
func (q *QuotaCounters) Add(kind QuotaKind, n int) {
	switch kind {
	case QuotaEmails:
		q.Emails += n
	case QuotaClassifications:
		q.Classifications += n
	case QuotaExtractions:
		q.Extractions += n
	}
}

// ScanResult summarises the outcome of one connection's scan
type ScanResult struct {
	ConnectionID  string `json:"connection_id"`
	Skipped       bool   `json:"skipped,omitempty"`
	Reason        string `json:"reason,omitempty"`
	EmailsScanned int    `json:"emails_scanned"`
	ToolsDetected int    `json:"tools_detected"`
	ToolsUpdated  int    `json:"tools_updated"`
	QuotaLimited  bool   `json:"quota_limited,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Notification is a scheduled reminder for a user
type Notification struct {
	ID             string
	OrganizationID string
	ToolID         string
	UserID         string
	Recipient      string
	Type           NotificationType
	Subject        string
	Body           string
	ScheduledFor   time.Time
	Status         NotificationStatus
	SentAt         *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
}
