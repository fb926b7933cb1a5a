package heuristic

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon is the keyword data behind the deterministic classifier, extractor and categorizer
type Lexicon struct {
	// SubscriptionKeywords gate classification: a message matching none is not tool related
	SubscriptionKeywords []string `yaml:"subscription_keywords"`
	// ExclusionKeywords mark transactional mail that is never a subscription
	ExclusionKeywords []string `yaml:"exclusion_keywords"`
	RecurringKeywords []string `yaml:"recurring_keywords"`

	MarketingKeywords   []string `yaml:"marketing_keywords"`
	InfraKeywords       []string `yaml:"infra_keywords"`
	EngineeringKeywords []string `yaml:"engineering_keywords"`

	// VendorHints maps a normalized vendor name to its default marketing relevance
	VendorHints map[string]int `yaml:"vendor_hints"`
}

// DefaultLexicon returns the built-in keyword lists
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		SubscriptionKeywords: []string{
			"invoice", "receipt", "subscription", "payment", "renewal", "renew",
			"trial", "bill", "charge", "plan",
		},
		ExclusionKeywords: []string{
			"uber eats", "doordash", "grubhub", "deliveroo", "food delivery",
			"boarding pass", "flight confirmation", "itinerary", "hotel reservation",
			"booking confirmation", "has been refunded", "refund issued",
			"your order has shipped", "tracking number", "out for delivery",
			"weekly newsletter", "daily digest",
		},
		RecurringKeywords: []string{
			"monthly", "annual", "yearly", "per month", "per year", "/mo", "/yr",
			"recurring", "renews", "auto-renew", "next billing", "next charge",
		},
		MarketingKeywords: []string{
			"campaign", "ads", "advertising", "marketing", "crm", "leads",
			"subscribers", "newsletter", "email marketing", "automation",
			"seo", "analytics", "growth", "engagement", "conversion",
		},
		InfraKeywords: []string{
			"cloud", "server", "hosting", "database", "deployment", "ci/cd",
			"monitoring", "infrastructure", "compute", "storage", "dyno",
		},
		EngineeringKeywords: []string{
			"repository", "code", "commits", "pull request", "issues", "tickets",
			"sprint", "project management", "version control", "devops",
		},
		VendorHints: map[string]int{
			"hubspot":    70,
			"mailchimp":  75,
			"semrush":    70,
			"hootsuite":  70,
			"buffer":     60,
			"canva":      45,
			"intercom":   45,
			"hotjar":     45,
			"salesforce": 40,
			"github":     0,
			"aws":        0,
		},
	}
}

// LoadLexicon reads a YAML lexicon file. Sections missing from the file keep their defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes YAML lexicon data over the defaults
func ParseLexicon(data []byte) (*Lexicon, error) {
	lex := DefaultLexicon()
	if err := yaml.Unmarshal(data, lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	lex.normalize()
	return lex, nil
}

func (l *Lexicon) normalize() {
	for _, list := range []*[]string{
		&l.SubscriptionKeywords, &l.ExclusionKeywords, &l.RecurringKeywords,
		&l.MarketingKeywords, &l.InfraKeywords, &l.EngineeringKeywords,
	} {
		out := (*list)[:0]
		for _, kw := range *list {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				out = append(out, kw)
			}
		}
		*list = out
	}
}

// countMatches returns how many keywords occur in the lower-cased text
func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// firstMatch returns the first keyword found in the text
func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
