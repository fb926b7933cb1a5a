package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	renewalAlertDays = []int{30, 14, 7, 3, 1}
	trialAlertDays   = []int{3, 1}
)

const (
	trialLength       = 14 * 24 * time.Hour
	dispatchBatchSize = 100
	reminderCooldown  = 24 * time.Hour
)

// ReminderScheduler queues renewal and trial reminders and delivers due ones
type ReminderScheduler struct {
	tools         ToolRepository
	connections   ConnectionRepository
	notifications NotificationRepository
	notifier      Notifier
	logger        *zap.Logger
	now           func() time.Time
}

// NewReminderScheduler creates a reminder scheduler. notifier may be nil, in which case Dispatch is a no-op.
func NewReminderScheduler(
	tools ToolRepository,
	connections ConnectionRepository,
	notifications NotificationRepository,
	notifier Notifier,
	logger *zap.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		tools:         tools,
		connections:   connections,
		notifications: notifications,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

// ScheduleAll schedules reminders for every organization with an active connection
func (r *ReminderScheduler) ScheduleAll(ctx context.Context) (int, error) {
	connections, err := r.connections.ListActiveConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active connections: %w", err)
	}
	seen := make(map[string]bool)
	total := 0
	for _, conn := range connections {
		if seen[conn.OrganizationID] {
			continue
		}
		seen[conn.OrganizationID] = true
		n, err := r.Schedule(ctx, conn.OrganizationID)
		if err != nil {
			r.logger.Error("Failed to schedule reminders",
				zap.String("organization_id", conn.OrganizationID), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// Schedule creates pending reminders for an organization's tools and returns how many were created
func (r *ReminderScheduler) Schedule(ctx context.Context, organizationID string) (int, error) {
	now := r.now()
	created := 0

	active, err := r.tools.ListTools(ctx, organizationID, ToolStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list active tools: %w", err)
	}
	for _, tool := range active {
		if tool.EstimatedRenewalDate == nil {
			continue
		}
		days := daysUntil(*tool.EstimatedRenewalDate, now)
		if !containsDay(renewalAlertDays, days) {
			continue
		}
		subject := fmt.Sprintf("%s renews in %d %s", tool.VendorName, days, pluralDays(days))
		body := renewalBody(tool, days)
		if r.queue(ctx, tool, NotificationRenewalAlert, subject, body, now) {
			created++
		}
	}

	trials, err := r.tools.ListTools(ctx, organizationID, ToolStatusTrial)
	if err != nil {
		return created, fmt.Errorf("failed to list trial tools: %w", err)
	}
	for _, tool := range trials {
		days := daysUntil(tool.FirstSeenDate.Add(trialLength), now)
		if !containsDay(trialAlertDays, days) {
			continue
		}
		subject := fmt.Sprintf("Your %s trial ends in %d %s", tool.VendorName, days, pluralDays(days))
		body := fmt.Sprintf("The %s trial first seen on %s ends in %d %s. Decide whether to keep it before it converts to a paid plan.\n",
			tool.VendorName, tool.FirstSeenDate.Format("2006-01-02"), days, pluralDays(days))
		if r.queue(ctx, tool, NotificationTrialAlert, subject, body, now) {
			created++
		}
	}

	return created, nil
}

func (r *ReminderScheduler) queue(ctx context.Context, tool *DetectedTool, kind NotificationType, subject, body string, now time.Time) bool {
	logger := r.logger.With(
		zap.String("tool_id", tool.ID),
		zap.String("type", string(kind)))

	recent, err := r.notifications.HasRecentNotification(ctx, tool.ID, tool.InferredOwnerID, kind, now.Add(-reminderCooldown))
	if err != nil {
		logger.Error("Failed to check pending notifications", zap.Error(err))
		return false
	}
	if recent {
		return false
	}

	recipient, err := r.recipient(ctx, tool)
	if err != nil {
		logger.Warn("No recipient for reminder", zap.Error(err))
		return false
	}

	n := &Notification{
		ID:             uuid.NewString(),
		OrganizationID: tool.OrganizationID,
		ToolID:         tool.ID,
		UserID:         tool.InferredOwnerID,
		Recipient:      recipient,
		Type:           kind,
		Subject:        subject,
		Body:           body,
		ScheduledFor:   now,
		Status:         NotificationPending,
		CreatedAt:      now,
	}
	if err := r.notifications.CreateNotification(ctx, n); err != nil {
		logger.Error("Failed to create notification", zap.Error(err))
		return false
	}
	logger.Info("Scheduled reminder", zap.String("recipient", recipient))
	return true
}

func (r *ReminderScheduler) recipient(ctx context.Context, tool *DetectedTool) (string, error) {
	if tool.SourceConnectionID == "" {
		return "", fmt.Errorf("tool %s has no source connection", tool.ID)
	}
	conn, err := r.connections.GetConnection(ctx, tool.SourceConnectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load connection %s: %w", tool.SourceConnectionID, err)
	}
	if conn.EmailAddress == "" {
		return "", fmt.Errorf("connection %s has no email address", conn.ID)
	}
	return conn.EmailAddress, nil
}

// Dispatch sends due reminders and returns how many were delivered
func (r *ReminderScheduler) Dispatch(ctx context.Context) (int, error) {
	if r.notifier == nil {
		return 0, nil
	}
	due, err := r.notifications.ListDueNotifications(ctx, r.now(), dispatchBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due notifications: %w", err)
	}

	sent := 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := r.notifier.Send(ctx, n.Recipient, n.Subject, n.Body); err != nil {
			r.logger.Error("Failed to send reminder",
				zap.String("notification_id", n.ID),
				zap.String("recipient", n.Recipient),
				zap.Error(err))
			if merr := r.notifications.MarkNotification(ctx, n.ID, NotificationFailed, nil, err.Error()); merr != nil {
				r.logger.Error("Failed to mark notification", zap.String("notification_id", n.ID), zap.Error(merr))
			}
			continue
		}
		at := r.now()
		if err := r.notifications.MarkNotification(ctx, n.ID, NotificationSent, &at, ""); err != nil {
			r.logger.Error("Failed to mark notification", zap.String("notification_id", n.ID), zap.Error(err))
		}
		sent++
	}
	return sent, nil
}

func renewalBody(tool *DetectedTool, days int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is expected to renew on %s (in %d %s).\n",
		tool.VendorName, tool.EstimatedRenewalDate.Format("2006-01-02"), days, pluralDays(days))
	if tool.LastChargeAmount != nil {
		currency := tool.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		fmt.Fprintf(&b, "Last charge: %.2f %s\n", *tool.LastChargeAmount, currency)
	}
	if tool.BillingFrequency != "" && tool.BillingFrequency != BillingCycleUnknown {
		fmt.Fprintf(&b, "Billing: %s\n", tool.BillingFrequency)
	}
	b.WriteString("Keep it, cancel it, or assign an owner before it renews.\n")
	return b.String()
}

// daysUntil returns the whole days from now to t, rounded up
func daysUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

func pluralDays(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
