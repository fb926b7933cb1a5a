package heuristic

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/tool-scanner/internal/core"
)

// Classifier scores messages by keyword matches. It never calls out and is deterministic.
type Classifier struct {
	lexicon *Lexicon
}

// NewClassifier creates a keyword classifier, falling back to the default lexicon
func NewClassifier(lexicon *Lexicon) *Classifier {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Classifier{lexicon: lexicon}
}

// Classify implements core.Classifier
func (c *Classifier) Classify(ctx context.Context, msg *core.RawMessage) (*core.ClassificationResult, error) {
	text := strings.ToLower(msg.Subject + " " + msg.BodyText)

	gateHits := countMatches(text, c.lexicon.SubscriptionKeywords)
	if gateHits == 0 {
		return &core.ClassificationResult{Reason: "No subscription keywords"}, nil
	}
	if kw, ok := firstMatch(text, c.lexicon.ExclusionKeywords); ok {
		return &core.ClassificationResult{
			Confidence: 10,
			Reason:     fmt.Sprintf("Excluded transactional mail (%s)", kw),
		}, nil
	}

	confidence := 30 + 10*min(gateHits, 3)
	signals := []string{fmt.Sprintf("%d subscription keywords", gateHits)}
	if countMatches(text, c.lexicon.RecurringKeywords) > 0 {
		confidence += 10
		signals = append(signals, "recurring charge")
	}
	if countMatches(text, c.lexicon.MarketingKeywords)+
		countMatches(text, c.lexicon.InfraKeywords)+
		countMatches(text, c.lexicon.EngineeringKeywords) > 0 {
		confidence += 10
		signals = append(signals, "tool vocabulary")
	}
	if findAmount(text) != nil {
		confidence += 10
		signals = append(signals, "amount")
	}

	return &core.ClassificationResult{
		IsToolRelated: true,
		Confidence:    min(confidence, 100),
		Reason:        "Matched " + strings.Join(signals, ", "),
	}, nil
}
