package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	silentRenewalThreshold = 6
	noOwnerThreshold       = 3
	trialEndingWindow      = 7 * 24 * time.Hour
)

// InterruptionEngine derives alerts from the state of active tools
type InterruptionEngine struct {
	tools         ToolRepository
	interruptions InterruptionRepository
	locker        VendorLocker
	logger        *zap.Logger
	now           func() time.Time
}

// NewInterruptionEngine creates a rule engine. locker may be nil.
func NewInterruptionEngine(
	tools ToolRepository,
	interruptions InterruptionRepository,
	locker VendorLocker,
	logger *zap.Logger,
) *InterruptionEngine {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &InterruptionEngine{
		tools:         tools,
		interruptions: interruptions,
		locker:        locker,
		logger:        logger,
		now:           time.Now,
	}
}

// Generate emits at most one new interruption for each active tool of an organization
// that has no open interruption. It returns the number created.
func (e *InterruptionEngine) Generate(ctx context.Context, organizationID string) (int, error) {
	tools, err := e.tools.ListTools(ctx, organizationID, ToolStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list active tools: %w", err)
	}

	now := e.now()
	created := 0
	for _, tool := range tools {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := e.generateForTool(ctx, tool, now)
		if err != nil {
			e.logger.Error("Failed to generate interruption",
				zap.String("tool_id", tool.ID), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// generateForTool holds the tool's lock across the open check and the insert
// so concurrent passes cannot both create an interruption
func (e *InterruptionEngine) generateForTool(ctx context.Context, tool *DetectedTool, now time.Time) (bool, error) {
	unlock, err := e.locker.Lock(ctx, "interruption:"+tool.ID)
	if err != nil {
		return false, fmt.Errorf("failed to lock tool: %w", err)
	}
	defer unlock()

	open, err := e.interruptions.HasOpenInterruption(ctx, tool.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check open interruptions: %w", err)
	}
	if open {
		return false, nil
	}

	interruption := Evaluate(tool, now)
	if interruption == nil {
		return false, nil
	}
	interruption.ID = uuid.NewString()
	if err := e.interruptions.CreateInterruption(ctx, interruption); err != nil {
		return false, fmt.Errorf("failed to create %s interruption: %w", interruption.Type, err)
	}
	e.logger.Info("Created interruption",
		zap.String("tool_id", tool.ID),
		zap.String("type", string(interruption.Type)),
		zap.String("priority", string(interruption.Priority)))
	return true, nil
}

// Evaluate applies the rules to one tool in order silent_renewal, trial_ending, no_owner
// and returns the first that fires, or nil.
func Evaluate(tool *DetectedTool, now time.Time) *Interruption {
	newInterruption := func(t InterruptionType, p Priority, msg string, actions ...Action) *Interruption {
		return &Interruption{
			OrganizationID:  tool.OrganizationID,
			ToolID:          tool.ID,
			Type:            t,
			Priority:        p,
			Message:         msg,
			PossibleActions: actions,
			TriggeredAt:     now,
		}
	}

	if tool.RenewalCount >= silentRenewalThreshold && tool.LastInteractionDate == nil {
		return newInterruption(InterruptionSilentRenewal, PriorityHigh,
			fmt.Sprintf("%s has renewed %d times without any interaction", tool.VendorName, tool.RenewalCount),
			ActionKeep, ActionCancel, ActionAssignOwner)
	}

	if r := tool.EstimatedRenewalDate; r != nil && !r.Before(now) && !r.After(now.Add(trialEndingWindow)) {
		days := daysUntil(*r, now)
		return newInterruption(InterruptionTrialEnding, PriorityUrgent,
			fmt.Sprintf("%s renews in %d days", tool.VendorName, days),
			ActionKeep, ActionCancel)
	}

	if tool.OwnerConfirmationStatus == OwnerUnconfirmed && tool.RenewalCount >= noOwnerThreshold {
		return newInterruption(InterruptionNoOwner, PriorityMedium,
			fmt.Sprintf("%s has no confirmed owner", tool.VendorName),
			ActionAssignOwner)
	}

	return nil
}
