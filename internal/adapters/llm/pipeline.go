package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/utils"
	"go.uber.org/zap"
)

const (
	classifySystem = "You are a precise classifier. Respond only with valid JSON."
	extractSystem  = "You are a precise data extractor. Respond only with valid JSON. Never invent information."

	parseErrorReason = "Parse error"
)

// Options tune the prompts sent by a Pipeline
type Options struct {
	ClassifyTemperature float32
	ClassifyMaxTokens   int
	ExtractTemperature  float32
	ExtractMaxTokens    int
	PreviewChars        int
	MaxBodyChars        int
}

// DefaultOptions returns the prompt settings used in production
func DefaultOptions() Options {
	return Options{
		ClassifyTemperature: 0.1,
		ClassifyMaxTokens:   150,
		ExtractTemperature:  0,
		ExtractMaxTokens:    300,
		PreviewChars:        1000,
		MaxBodyChars:        3000,
	}
}

// Pipeline classifies and extracts messages through a hosted model
type Pipeline struct {
	completer      Completer
	retry          core.RetryPolicy
	textProcessor  *utils.TextProcessor
	opts           Options
	logger         *zap.Logger
	now            func() time.Time
	classifyFormat string
	extractFormat  string
}

// NewPipeline creates a model-backed classifier and extractor
func NewPipeline(
	completer Completer,
	retry core.RetryPolicy,
	textProcessor *utils.TextProcessor,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		completer:     completer,
		retry:         retry,
		textProcessor: textProcessor,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
		classifyFormat: `Analyze if this email is about a SaaS tool, software subscription, or recurring service charge.

Email Subject: %s
From: %s
Body Preview: %s

EXCLUDE:
- Food delivery (DoorDash, Uber Eats, etc.)
- Travel bookings (flights, hotels)
- One-time purchases
- Refund emails without future charges
- Marketing newsletters
- E-commerce receipts

Respond with JSON only:
{
  "is_tool_related": boolean,
  "confidence": number (0-100),
  "reason": "brief explanation"
}`,
		extractFormat: `Extract subscription/tool information from this email.

Email Subject: %s
From: %s
Body: %s

Extract the following. Use null for unknown values. NEVER guess or invent:

{
  "vendor_name": string or null (company name),
  "amount": number or null (price only, no currency symbols),
  "currency": string or null (USD, EUR, etc.),
  "billing_cycle": "monthly" | "yearly" | "trial" | null,
  "renewal_date": string or null (YYYY-MM-DD format),
  "is_trial": boolean (true only if explicitly mentioned),
  "is_cancellation": boolean (true only if subscription ended),
  "confidence": number (0-100),
  "reason": "brief explanation of what was detected"
}

Be conservative. If unsure, use null.`,
	}
}

// Classify asks the model whether msg is about a subscription.
// An unparseable reply yields a zero-confidence, not related result.
func (p *Pipeline) Classify(ctx context.Context, msg *core.RawMessage) (*core.ClassificationResult, error) {
	preview := utils.TruncateRunes(p.textProcessor.SanitizeUTF8(msg.BodyText), p.opts.PreviewChars)
	prompt := fmt.Sprintf(p.classifyFormat, msg.Subject, msg.Sender, preview)

	reply, err := p.complete(ctx, "classify", CompletionRequest{
		System:      classifySystem,
		Prompt:      prompt,
		Temperature: p.opts.ClassifyTemperature,
		MaxTokens:   p.opts.ClassifyMaxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var resp classificationResponse
	if err := decodeJSON(reply, &resp); err != nil {
		p.logger.Warn("Unparseable classification reply",
			zap.String("message_id", msg.ID), zap.Error(err))
		return &core.ClassificationResult{Reason: parseErrorReason}, nil
	}

	result := &core.ClassificationResult{
		IsToolRelated: resp.IsToolRelated,
		Confidence:    clampConfidence(resp.Confidence),
		Reason:        resp.Reason,
	}
	p.logger.Debug("Classified message",
		zap.String("message_id", msg.ID),
		zap.Bool("is_tool_related", result.IsToolRelated),
		zap.Int("confidence", result.Confidence),
		zap.String("model", p.completer.ModelName()))
	return result, nil
}

// Extract asks the model for the subscription fields of msg.
// An unparseable reply yields the empty extraction.
func (p *Pipeline) Extract(ctx context.Context, msg *core.RawMessage) (*core.ExtractionResult, error) {
	body := p.textProcessor.ProcessText(msg.BodyText, p.opts.MaxBodyChars)
	prompt := fmt.Sprintf(p.extractFormat, msg.Subject, msg.Sender, body)

	reply, err := p.complete(ctx, "extract", CompletionRequest{
		System:      extractSystem,
		Prompt:      prompt,
		Temperature: p.opts.ExtractTemperature,
		MaxTokens:   p.opts.ExtractMaxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var resp extractionResponse
	if err := decodeJSON(reply, &resp); err != nil {
		p.logger.Warn("Unparseable extraction reply",
			zap.String("message_id", msg.ID), zap.Error(err))
		return core.EmptyExtraction(parseErrorReason), nil
	}

	result := toExtraction(&resp)
	core.ConstrainExtraction(result, p.now())

	p.logger.Debug("Extracted message",
		zap.String("message_id", msg.ID),
		zap.String("vendor", result.VendorName),
		zap.Int("confidence", result.Confidence),
		zap.String("model", p.completer.ModelName()))
	return result, nil
}

func (p *Pipeline) complete(ctx context.Context, op string, req CompletionRequest) (string, error) {
	var reply string
	err := p.retry.Do(ctx, op, func() error {
		var err error
		reply, err = p.completer.Complete(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to %s with %s: %w", op, p.completer.ModelName(), err)
	}
	return reply, nil
}

func toExtraction(resp *extractionResponse) *core.ExtractionResult {
	e := &core.ExtractionResult{
		IsTrial:        resp.IsTrial,
		IsCancellation: resp.IsCancellation,
		Confidence:     clampConfidence(resp.Confidence),
		Reason:         resp.Reason,
	}
	if resp.VendorName != nil {
		e.VendorName = strings.TrimSpace(*resp.VendorName)
	}
	if resp.Amount != nil {
		amount := float64(*resp.Amount)
		e.Amount = &amount
	}
	if resp.Currency != nil {
		e.Currency = strings.ToUpper(strings.TrimSpace(*resp.Currency))
	}
	if resp.BillingCycle != nil {
		e.BillingCycle = core.ParseBillingCycle(strings.ToLower(strings.TrimSpace(*resp.BillingCycle)))
	}
	if resp.RenewalDate != nil {
		e.RenewalDate = core.ParseRenewalDate(*resp.RenewalDate)
	}
	return e
}
