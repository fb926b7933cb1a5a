package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertResult reports what an upsert did to the tool store
type UpsertResult struct {
	Created bool
	Updated bool
	Tool    *DetectedTool
}

// ToolMerger resolves validated extractions against the canonical tool records
type ToolMerger struct {
	tools       ToolRepository
	locker      VendorLocker
	categorizer Categorizer
	logger      *zap.Logger
	now         func() time.Time
}

// NewToolMerger creates a merge engine. categorizer may be nil.
func NewToolMerger(
	tools ToolRepository,
	locker VendorLocker,
	categorizer Categorizer,
	logger *zap.Logger,
) *ToolMerger {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &ToolMerger{
		tools:       tools,
		locker:      locker,
		categorizer: categorizer,
		logger:      logger,
		now:         time.Now,
	}
}

// Upsert creates the tool for the extraction's vendor or merges into the existing one
func (m *ToolMerger) Upsert(ctx context.Context, conn *Connection, e *ExtractionResult, msg *RawMessage) (*UpsertResult, error) {
	if e == nil || e.VendorName == "" {
		return nil, ErrMissingVendor
	}
	normalized := NormalizeVendor(e.VendorName)

	unlock, err := m.locker.Lock(ctx, vendorKey(conn.OrganizationID, normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to lock vendor %s: %w", normalized, err)
	}
	defer unlock()

	existing, err := m.tools.FindToolByVendor(ctx, conn.OrganizationID, normalized)
	if errors.Is(err, ErrNotFound) {
		tool := m.newTool(conn, e, msg, normalized)
		err = m.tools.CreateTool(ctx, tool)
		if err == nil {
			m.logger.Info("Detected new tool",
				zap.String("organization_id", conn.OrganizationID),
				zap.String("vendor", tool.VendorName),
				zap.String("status", string(tool.Status)))
			return &UpsertResult{Created: true, Tool: tool}, nil
		}
		if !errors.Is(err, ErrDuplicateVendor) {
			return nil, fmt.Errorf("failed to create tool: %w", err)
		}
		// a writer outside this lock created it first
		existing, err = m.tools.FindToolByVendor(ctx, conn.OrganizationID, normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tool: %w", err)
	}

	MergeExtraction(existing, e, msg.ReceivedAt)
	existing.UpdatedAt = m.now()
	if err := m.tools.UpdateTool(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update tool: %w", err)
	}
	m.logger.Debug("Merged extraction into tool",
		zap.String("tool_id", existing.ID),
		zap.String("vendor", existing.VendorName),
		zap.String("status", string(existing.Status)),
		zap.Int("renewal_count", existing.RenewalCount))
	return &UpsertResult{Updated: true, Tool: existing}, nil
}

func (m *ToolMerger) newTool(conn *Connection, e *ExtractionResult, msg *RawMessage, normalized string) *DetectedTool {
	now := m.now()
	seen := truncateDay(msg.ReceivedAt)
	tool := &DetectedTool{
		ID:                      uuid.NewString(),
		OrganizationID:          conn.OrganizationID,
		VendorName:              e.VendorName,
		NormalizedVendor:        normalized,
		BillingFrequency:        BillingCycleUnknown,
		FirstSeenDate:           seen,
		Status:                  initialStatus(e),
		ConfidenceScore:         e.Confidence,
		DetectionReason:         e.Reason,
		InferredOwnerID:         conn.UserID,
		OwnerConfirmationStatus: OwnerUnconfirmed,
		ToolCategory:            "other",
		SourceConnectionID:      conn.ID,
		SourceEmailID:           msg.ID,
		SourceEmailSubject:      msg.Subject,
		SourceEmailSender:       msg.Sender,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if e.HasAmount() {
		amount := *e.Amount
		tool.LastChargeAmount = &amount
		tool.LastChargeDate = &seen
		tool.Currency = e.Currency
	}
	if e.BillingCycle != "" {
		tool.BillingFrequency = e.BillingCycle
	}
	if e.RenewalDate != nil {
		renewal := *e.RenewalDate
		tool.EstimatedRenewalDate = &renewal
	}
	if m.categorizer != nil {
		tool.ToolCategory, tool.MarketingRelevanceScore = m.categorizer.Categorize(e.VendorName, msg.Subject, msg.BodyText)
	}
	return tool
}

// MergeExtraction applies e to tool. Fields absent from e never clear known values.
func MergeExtraction(tool *DetectedTool, e *ExtractionResult, receivedAt time.Time) {
	if e.HasAmount() {
		amount := *e.Amount
		charged := truncateDay(receivedAt)
		tool.LastChargeAmount = &amount
		tool.LastChargeDate = &charged
		if e.Currency != "" {
			tool.Currency = e.Currency
		}
	}
	if e.BillingCycle != "" {
		tool.BillingFrequency = e.BillingCycle
	}
	if e.RenewalDate != nil {
		renewal := *e.RenewalDate
		tool.EstimatedRenewalDate = &renewal
	}

	switch {
	case e.IsCancellation:
		tool.Status = ToolStatusCancelled
	case e.IsTrial:
		tool.Status = ToolStatusTrial
	case tool.Status != ToolStatusCancelled:
		tool.Status = ToolStatusActive
		tool.RenewalCount++
	}
}

// cancellation outranks trial here as it does in MergeExtraction
func initialStatus(e *ExtractionResult) ToolStatus {
	switch {
	case e.IsCancellation:
		return ToolStatusCancelled
	case e.IsTrial:
		return ToolStatusTrial
	default:
		return ToolStatusActive
	}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
