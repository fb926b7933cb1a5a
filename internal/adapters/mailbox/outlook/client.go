package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultKeywords restrict the provider-side search to billing mail
var DefaultKeywords = []string{"invoice", "receipt", "subscription", "payment", "renewal", "trial", "bill", "charge"}

const selectFields = "id,from,subject,body,bodyPreview,receivedDateTime,toRecipients,ccRecipients"

// Options configures the Outlook client
type Options struct {
	BaseURL    string
	MaxResults int
	Keywords   []string
	Timeout    time.Duration
}

// Client fetches billing messages from an Outlook mailbox through Microsoft Graph
type Client struct {
	opts   Options
	logger *zap.Logger
}

// messagesResponse is one page of /me/messages
type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    *struct {
		EmailAddress emailAddress `json:"emailAddress"`
	} `json:"from"`
	Body *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview      string      `json:"bodyPreview"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	ToRecipients     []recipient `json:"toRecipients"`
	CcRecipients     []recipient `json:"ccRecipients"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NewClient creates a new Outlook client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.MaxResults <= 0 {
		opts.MaxResults = 300
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = DefaultKeywords
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		logger: logger,
	}
}

// Search builds the KQL expression for messages received on or after since.
// Graph does not accept $filter together with $search on messages, so the
// date bound is part of the search.
func (c *Client) Search(since time.Time) string {
	return fmt.Sprintf(`"received>=%s AND (%s)"`,
		since.UTC().Format("2006-01-02"), strings.Join(c.opts.Keywords, " OR "))
}

// FetchMessages implements core.MailboxClient
func (c *Client) FetchMessages(ctx context.Context, accessToken string, since time.Time) ([]*core.RawMessage, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = c.opts.Timeout

	params := url.Values{}
	params.Set("$search", c.Search(since))
	params.Set("$top", strconv.Itoa(min(c.opts.MaxResults, 250)))
	params.Set("$select", selectFields)
	nextURL := c.opts.BaseURL + "/me/messages?" + params.Encode()

	var messages []*core.RawMessage
	for nextURL != "" && len(messages) < c.opts.MaxResults {
		page, err := c.fetchPage(ctx, httpClient, nextURL)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			// the day-granular search bound may include messages from earlier that day
			if m.ReceivedDateTime.Before(since) {
				continue
			}
			messages = append(messages, convertMessage(m))
		}
		nextURL = page.NextLink
	}
	if len(messages) > c.opts.MaxResults {
		messages = messages[:c.opts.MaxResults]
	}

	c.logger.Debug("Fetched Outlook messages", zap.Int("count", len(messages)))
	return messages, nil
}

func (c *Client) fetchPage(ctx context.Context, client *http.Client, pageURL string) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)
	req.Header.Set("ConsistencyLevel", "eventual")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.RateLimited(fmt.Errorf("graph returned HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Outlook API error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode messages response: %w", err)
	}
	return &page, nil
}

func convertMessage(m graphMessage) *core.RawMessage {
	raw := &core.RawMessage{
		ID:         m.ID,
		Subject:    m.Subject,
		BodyText:   m.BodyPreview,
		ReceivedAt: m.ReceivedDateTime.UTC(),
	}
	if m.From != nil {
		raw.Sender = m.From.EmailAddress.Address
	}
	if m.Body != nil && strings.EqualFold(m.Body.ContentType, "text") && strings.TrimSpace(m.Body.Content) != "" {
		raw.BodyText = m.Body.Content
	}
	for _, r := range append(m.ToRecipients, m.CcRecipients...) {
		if r.EmailAddress.Address != "" {
			raw.Recipients = append(raw.Recipients, r.EmailAddress.Address)
		}
	}
	return raw
}
