package core

import (
	"regexp"
	"strings"
	"time"
)

const (
	// MaxPlausibleAmount is the exclusive upper bound of a believable charge
	MaxPlausibleAmount = 100000
	// RenewalHorizon is how far ahead a renewal date may lie
	RenewalHorizon = 365 * 24 * time.Hour
	// DefaultCurrency replaces malformed currency codes
	DefaultCurrency = "USD"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// renewalDateLayouts are tried in order when decoding a renewal date string
var renewalDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseRenewalDate decodes a date string and returns nil when it is not a date
func ParseRenewalDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range renewalDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// RenewalDateInWindow reports whether date is not in the past and at most one year ahead
func RenewalDateInWindow(date, now time.Time) bool {
	return !date.Before(now) && !date.After(now.Add(RenewalHorizon))
}

// NormalizeCurrency keeps a three letter ISO code and maps anything else to USD
func NormalizeCurrency(code string) string {
	if code == "" {
		return ""
	}
	if currencyPattern.MatchString(code) {
		return code
	}
	return DefaultCurrency
}

// ConstrainExtraction applies the extractor-side plausibility rules to e in place:
// amounts outside (0, 100000) and renewal dates outside the freshness window
// are dropped, and currencies are normalised
func ConstrainExtraction(e *ExtractionResult, now time.Time) *ExtractionResult {
	if e == nil {
		return EmptyExtraction("no extraction")
	}
	e.VendorName = strings.TrimSpace(e.VendorName)
	if e.Amount != nil && (*e.Amount <= 0 || *e.Amount >= MaxPlausibleAmount) {
		e.Amount = nil
	}
	if e.RenewalDate != nil && !RenewalDateInWindow(*e.RenewalDate, now) {
		e.RenewalDate = nil
	}
	e.Currency = NormalizeCurrency(e.Currency)
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 100 {
		e.Confidence = 100
	}
	return e
}
