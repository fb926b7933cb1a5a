package core

import (
	"strings"
	"time"
)

// Validator is the gate between extraction and persistence
type Validator struct {
	minConfidence int
	now           func() time.Time
}

// NewValidator creates a validator rejecting extractions below minConfidence
func NewValidator(minConfidence int, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		minConfidence: minConfidence,
		now:           now,
	}
}

// Validate returns a cleaned copy of e, or an error naming why it was rejected.
// A stale or far-future renewal date is cleared instead of rejecting the extraction.
func (v *Validator) Validate(e *ExtractionResult) (*ExtractionResult, error) {
	if e == nil || strings.TrimSpace(e.VendorName) == "" {
		return nil, ErrMissingVendor
	}
	if e.Confidence < v.minConfidence {
		return nil, ErrLowConfidence
	}

	out := e.Clone()
	out.VendorName = strings.TrimSpace(out.VendorName)
	if out.Amount != nil && *out.Amount == 0 {
		out.Amount = nil
	}
	if !out.IsTrial && out.Amount == nil && out.RenewalDate == nil {
		return nil, ErrNothingActionable
	}
	if out.Amount != nil && (*out.Amount < 0 || *out.Amount > MaxPlausibleAmount) {
		return nil, ErrImplausibleAmount
	}

	if out.RenewalDate != nil && !RenewalDateInWindow(*out.RenewalDate, v.now()) {
		out.RenewalDate = nil
	}
	out.Currency = NormalizeCurrency(out.Currency)

	return out, nil
}
