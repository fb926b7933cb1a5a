package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type classificationResponse struct {
	IsToolRelated bool      `json:"is_tool_related"`
	Confidence    flexFloat `json:"confidence"`
	Reason        string    `json:"reason"`
}

type extractionResponse struct {
	VendorName     *string    `json:"vendor_name"`
	Amount         *flexFloat `json:"amount"`
	Currency       *string    `json:"currency"`
	BillingCycle   *string    `json:"billing_cycle"`
	RenewalDate    *string    `json:"renewal_date"`
	IsTrial        bool       `json:"is_trial"`
	IsCancellation bool       `json:"is_cancellation"`
	Confidence     flexFloat  `json:"confidence"`
	Reason         string     `json:"reason"`
}

// flexFloat accepts a JSON number or a numeric string such as "$1,299.00"
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(n)
	return nil
}

// decodeJSON parses a model reply, falling back to the outermost {...} when the
// model wrapped its JSON in prose or code fences
func decodeJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "{}"
	}
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("failed to extract JSON from model response: %w", err)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	return nil
}

func clampConfidence(f flexFloat) int {
	c := int(float64(f) + 0.5)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
