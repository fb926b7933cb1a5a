package heuristic

import (
	"math"
	"strings"

	"github.com/mikey/tool-scanner/internal/core"
)

// Tool categories
const (
	CategoryMarketing         = "marketing"
	CategoryMarketingAdjacent = "marketing_adjacent"
	CategoryOther             = "other"
)

// Categorizer rates how marketing-relevant a tool is from its vendor and the email that revealed it
type Categorizer struct {
	lexicon *Lexicon
}

// NewCategorizer creates a categorizer, falling back to the default lexicon
func NewCategorizer(lexicon *Lexicon) *Categorizer {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Categorizer{lexicon: lexicon}
}

// Categorize implements core.Categorizer
func (c *Categorizer) Categorize(vendor, subject, body string) (string, int) {
	score := c.lexicon.VendorHints[core.NormalizeVendor(vendor)] + c.contextScore(subject, body)
	score = max(0, min(score, 100))
	return CategoryFor(score), score
}

// contextScore is the share of marketing vocabulary among all tool vocabulary, scaled to 30
func (c *Categorizer) contextScore(subject, body string) int {
	text := strings.ToLower(subject + " " + body)
	marketing := countMatches(text, c.lexicon.MarketingKeywords)
	total := marketing +
		countMatches(text, c.lexicon.InfraKeywords) +
		countMatches(text, c.lexicon.EngineeringKeywords)
	if total == 0 {
		return 0
	}
	ratio := float64(marketing) / float64(total)
	return min(30, int(math.Round(ratio*30)))
}

// CategoryFor maps a relevance score to a category
func CategoryFor(score int) string {
	switch {
	case score >= 70:
		return CategoryMarketing
	case score >= 40:
		return CategoryMarketingAdjacent
	default:
		return CategoryOther
	}
}
