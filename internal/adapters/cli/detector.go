package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/domainlist"
)

// DetectorDeps are the pipeline stages a Detector runs
type DetectorDeps struct {
	Classifier  core.Classifier
	Extractor   core.Extractor
	Validator   *core.Validator
	Categorizer core.Categorizer
	Ignore      *domainlist.Checker
}

// Outcome is the result of running one message through the pipeline
type Outcome struct {
	Sender         string     `json:"sender"`
	Subject        string     `json:"subject"`
	Ignored        bool       `json:"ignored,omitempty"`
	IsToolRelated  bool       `json:"is_tool_related"`
	Classification int        `json:"classification_confidence"`
	Reason         string     `json:"reason"`
	Extracted      bool       `json:"extracted"`
	Valid          bool       `json:"valid"`
	Rejection      string     `json:"rejection,omitempty"`
	Vendor         string     `json:"vendor,omitempty"`
	Amount         *float64   `json:"amount,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	BillingCycle   string     `json:"billing_cycle,omitempty"`
	RenewalDate    *time.Time `json:"renewal_date,omitempty"`
	IsTrial        bool       `json:"is_trial"`
	IsCancellation bool       `json:"is_cancellation"`
	Category       string     `json:"category,omitempty"`
	Relevance      int        `json:"marketing_relevance,omitempty"`
	Duration       string     `json:"duration"`
}

// Detector runs a single message through classification, extraction and validation
// and prints the outcome
type Detector struct {
	deps          DetectorDeps
	minConfidence int
	jsonOutput    bool
	out           io.Writer
	logger        *zap.Logger
}

// NewDetector creates a new detector
func NewDetector(deps DetectorDeps, minConfidence int, jsonOutput bool, out io.Writer, logger *zap.Logger) *Detector {
	return &Detector{
		deps:          deps,
		minConfidence: minConfidence,
		jsonOutput:    jsonOutput,
		out:           out,
		logger:        logger,
	}
}

// Detect runs the pipeline on msg. Rejections are reported in the outcome, not as errors.
func (d *Detector) Detect(ctx context.Context, msg *core.RawMessage) (*Outcome, error) {
	d.logger.Debug("Processing message", zap.String("sender", msg.Sender))
	start := time.Now()

	outcome := &Outcome{Sender: msg.Sender, Subject: msg.Subject}
	defer func() { outcome.Duration = time.Since(start).Round(time.Millisecond).String() }()

	if d.deps.Ignore != nil && d.deps.Ignore.IsIgnored(msg.Sender) {
		outcome.Ignored = true
		outcome.Reason = "sender domain is ignored"
		return outcome, nil
	}

	cls, err := d.deps.Classifier.Classify(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	outcome.IsToolRelated = cls.IsToolRelated
	outcome.Classification = cls.Confidence
	outcome.Reason = cls.Reason
	if !cls.IsToolRelated || cls.Confidence < d.minConfidence {
		return outcome, nil
	}

	extraction, err := d.deps.Extractor.Extract(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	outcome.Extracted = true

	valid, err := d.deps.Validator.Validate(extraction)
	if err != nil {
		outcome.Rejection = err.Error()
		return outcome, nil
	}
	outcome.Valid = true
	outcome.Vendor = valid.VendorName
	outcome.Amount = valid.Amount
	outcome.Currency = valid.Currency
	outcome.BillingCycle = string(valid.BillingCycle)
	outcome.RenewalDate = valid.RenewalDate
	outcome.IsTrial = valid.IsTrial
	outcome.IsCancellation = valid.IsCancellation
	if d.deps.Categorizer != nil {
		outcome.Category, outcome.Relevance = d.deps.Categorizer.Categorize(valid.VendorName, msg.Subject, msg.BodyText)
	}
	return outcome, nil
}

// Print writes the outcome as text or JSON
func (d *Detector) Print(o *Outcome) error {
	if d.jsonOutput {
		enc := json.NewEncoder(d.out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	fmt.Fprintf(d.out, "\n=== Message ===\n")
	fmt.Fprintf(d.out, "From: %s\n", o.Sender)
	fmt.Fprintf(d.out, "Subject: %s\n", o.Subject)

	if o.Ignored {
		fmt.Fprintf(d.out, "\nSkipped: %s\n", o.Reason)
		fmt.Fprintf(d.out, "Processing time: %s\n", o.Duration)
		return nil
	}

	fmt.Fprintf(d.out, "\n=== Classification ===\n")
	fmt.Fprintf(d.out, "Tool related: %t\n", o.IsToolRelated)
	fmt.Fprintf(d.out, "Confidence: %d\n", o.Classification)
	fmt.Fprintf(d.out, "Reason: %s\n", o.Reason)

	if o.Extracted {
		fmt.Fprintf(d.out, "\n=== Extraction ===\n")
		if !o.Valid {
			fmt.Fprintf(d.out, "Rejected: %s\n", o.Rejection)
		} else {
			fmt.Fprintf(d.out, "Vendor: %s\n", o.Vendor)
			if o.Amount != nil {
				fmt.Fprintf(d.out, "Amount: %.2f %s\n", *o.Amount, o.Currency)
			}
			if o.BillingCycle != "" {
				fmt.Fprintf(d.out, "Billing cycle: %s\n", o.BillingCycle)
			}
			if o.RenewalDate != nil {
				fmt.Fprintf(d.out, "Renewal date: %s\n", o.RenewalDate.Format("2006-01-02"))
			}
			fmt.Fprintf(d.out, "Trial: %t\n", o.IsTrial)
			fmt.Fprintf(d.out, "Cancellation: %t\n", o.IsCancellation)
			if o.Category != "" {
				fmt.Fprintf(d.out, "Category: %s (relevance %d)\n", o.Category, o.Relevance)
			}
		}
	}

	fmt.Fprintf(d.out, "\nProcessing time: %s\n", o.Duration)
	return nil
}
