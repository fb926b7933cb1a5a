package core

import (
	"context"
	"fmt"
	"time"
)

// QuotaLimits are the per-user daily caps
type QuotaLimits struct {
	MaxEmails          int
	MaxClassifications int
	MaxExtractions     int
}

// DefaultQuotaLimits mirrors the production caps
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		MaxEmails:          300,
		MaxClassifications: 300,
		MaxExtractions:     30,
	}
}

// Limit returns the cap of a kind
func (l QuotaLimits) Limit(kind QuotaKind) int {
	switch kind {
	case QuotaEmails:
		return l.MaxEmails
	case QuotaClassifications:
		return l.MaxClassifications
	case QuotaExtractions:
		return l.MaxExtractions
	default:
		return 0
	}
}

// QuotaGuard enforces the daily caps over a QuotaRepository
type QuotaGuard struct {
	repo   QuotaRepository
	limits QuotaLimits
	now    func() time.Time
}

// NewQuotaGuard creates a quota guard
func NewQuotaGuard(repo QuotaRepository, limits QuotaLimits) *QuotaGuard {
	return &QuotaGuard{
		repo:   repo,
		limits: limits,
		now:    time.Now,
	}
}

// Today returns the UTC day key counters are stored under
func (g *QuotaGuard) Today() string {
	return g.now().UTC().Format("2006-01-02")
}

// Exhausted returns a human readable reason when the user may not scan today, or "" otherwise
func (g *QuotaGuard) Exhausted(ctx context.Context, userID string) (string, error) {
	usage, err := g.repo.GetQuotaUsage(ctx, userID, g.Today())
	if err != nil {
		return "", fmt.Errorf("failed to read quota usage: %w", err)
	}
	for _, kind := range []QuotaKind{QuotaEmails, QuotaClassifications} {
		if usage.Get(kind) >= g.limits.Limit(kind) {
			return fmt.Sprintf("Daily limit reached: %s", kind), nil
		}
	}
	return "", nil
}

// Consume grants up to n units of kind and returns the number granted
func (g *QuotaGuard) Consume(ctx context.Context, userID string, kind QuotaKind, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	granted, err := g.repo.ConsumeQuota(ctx, userID, g.Today(), kind, n, g.limits.Limit(kind))
	if err != nil {
		return 0, fmt.Errorf("failed to consume %s quota: %w", kind, err)
	}
	return granted, nil
}
