package heuristic

import (
	"context"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const minExtractionConfidence = 30

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\s?([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{2})?|[0-9]+(?:[.,][0-9]{2})?)`),
		regexp.MustCompile(`([0-9]+(?:[.,][0-9]{2})?)\s*(?:usd|dollars?)`),
		regexp.MustCompile(`total[:\s]+\$?([0-9]+(?:[.,][0-9]{2})?)`),
		regexp.MustCompile(`amount[:\s]+\$?([0-9]+(?:[.,][0-9]{2})?)`),
	}

	monthlyPattern = regexp.MustCompile(`\b(month|monthly)\b`)
	yearlyPattern  = regexp.MustCompile(`\b(year|yearly|annual|annually)\b`)
	usdPattern     = regexp.MustCompile(`\busd\b|\$`)
	eurPattern     = regexp.MustCompile(`\beur\b|€`)
	gbpPattern     = regexp.MustCompile(`\bgbp\b|£`)

	// phrases, not bare words: "cancel anytime" and "industrial" evidence nothing
	trialPattern = regexp.MustCompile(
		`\bfree trial\b|\btrial (period|account|ends|ended|expires|expired|expiring|will end|is ending|has started)\b|\byour trial\b`)
	cancellationPattern = regexp.MustCompile(
		`\b(subscription|plan|membership|account) (has been |was |is )?(cancell?ed|terminated)\b` +
			`|\b(we|you)('ve| have)? cancell?ed your\b` +
			`|\bcancell?ation (confirmed|confirmation|is complete)\b` +
			`|\bsubscription (has )?ended\b`)
	priceChangePattern = regexp.MustCompile(`price change|price update|new pricing`)
	renewalPattern     = regexp.MustCompile(`renew|renewal|will be charged|upcoming charge`)

	isoDatePattern     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	usDatePattern      = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`)
	writtenDatePattern = regexp.MustCompile(`(?:renews?|renewal|next charge)\s+(?:on|date)?\s*:?\s*([a-z]+\.?\s+\d{1,2},?\s+\d{4})`)
)

var writtenDateLayouts = []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006", "Jan. 2, 2006"}

// Extractor pulls subscription fields out of a message with regular expressions
type Extractor struct {
	lexicon *Lexicon
	title   cases.Caser
	now     func() time.Time
}

// NewExtractor creates a regex extractor
func NewExtractor(lexicon *Lexicon, now func() time.Time) *Extractor {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		lexicon: lexicon,
		title:   cases.Title(language.English),
		now:     now,
	}
}

// Extract implements core.Extractor
func (x *Extractor) Extract(ctx context.Context, msg *core.RawMessage) (*core.ExtractionResult, error) {
	text := strings.ToLower(msg.Subject + " " + msg.BodyText)
	now := x.now()

	result := &core.ExtractionResult{
		VendorName:   x.vendorFromSender(msg.Sender),
		Amount:       findAmount(text),
		Currency:     findCurrency(text),
		BillingCycle: findBillingCycle(text),
		RenewalDate:  findRenewalDate(text, now),
	}

	event := detectEvent(text)
	switch event {
	case "trial":
		result.IsTrial = true
	case "cancellation":
		result.IsCancellation = true
	}

	confidence := 20
	if result.VendorName != "" {
		confidence += 20
	}
	if result.Amount != nil {
		confidence += 30
	}
	if result.BillingCycle != "" {
		confidence += 15
	}
	if result.RenewalDate != nil {
		confidence += 15
	}
	if confidence < minExtractionConfidence {
		return core.EmptyExtraction("Low confidence"), nil
	}
	result.Confidence = min(confidence, 100)
	result.Reason = "Detected " + event + " email"

	return core.ConstrainExtraction(result, now), nil
}

// vendorFromSender names the vendor after the registrable domain of the sender,
// so billing@mail.hubspot.com becomes Hubspot
func (x *Extractor) vendorFromSender(sender string) string {
	address := sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		address = parsed.Address
	}
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(strings.Trim(address[at+1:], " >."))
	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return ""
	}
	label, _, _ := strings.Cut(registrable, ".")
	if label == "" {
		return ""
	}
	return x.title.String(label)
}

func findAmount(text string) *float64 {
	for _, pattern := range amountPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := m[1]
		if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") && len(raw)-strings.Index(raw, ",") == 3 {
			raw = strings.Replace(raw, ",", ".", 1)
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		if amount > 0 && amount < core.MaxPlausibleAmount {
			return &amount
		}
	}
	return nil
}

func findCurrency(text string) string {
	switch {
	case usdPattern.MatchString(text):
		return "USD"
	case eurPattern.MatchString(text):
		return "EUR"
	case gbpPattern.MatchString(text):
		return "GBP"
	default:
		return core.DefaultCurrency
	}
}

func findBillingCycle(text string) core.BillingCycle {
	switch {
	case monthlyPattern.MatchString(text):
		return core.BillingCycleMonthly
	case yearlyPattern.MatchString(text):
		return core.BillingCycleYearly
	default:
		return ""
	}
}

func detectEvent(text string) string {
	switch {
	case trialPattern.MatchString(text):
		return "trial"
	case cancellationPattern.MatchString(text):
		return "cancellation"
	case priceChangePattern.MatchString(text):
		return "price change"
	case renewalPattern.MatchString(text):
		return "renewal"
	default:
		return "invoice"
	}
}

// findRenewalDate returns the first date in the text that lies inside the renewal window
func findRenewalDate(text string, now time.Time) *time.Time {
	for _, m := range isoDatePattern.FindAllStringSubmatch(text, -1) {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil && core.RenewalDateInWindow(t, now) {
			return &t
		}
	}
	for _, m := range usDatePattern.FindAllStringSubmatch(text, -1) {
		if t, err := time.Parse("1/2/2006", m[1]); err == nil && core.RenewalDateInWindow(t, now) {
			return &t
		}
	}
	for _, m := range writtenDatePattern.FindAllStringSubmatch(text, -1) {
		for _, layout := range writtenDateLayouts {
			if t, err := time.Parse(layout, m[1]); err == nil && core.RenewalDateInWindow(t, now) {
				return &t
			}
		}
	}
	return nil
}
