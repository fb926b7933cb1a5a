package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultKeywords restrict the provider-side search to billing mail
var DefaultKeywords = []string{"invoice", "receipt", "subscription", "payment", "renewal", "trial", "bill", "charge"}

// Options configures the Gmail client
type Options struct {
	// Endpoint overrides the API base URL
	Endpoint   string
	MaxResults int
	Keywords   []string
	Timeout    time.Duration
}

// Client fetches billing messages from Gmail
type Client struct {
	opts   Options
	logger *zap.Logger
}

// NewClient creates a new Gmail client
func NewClient(opts Options, logger *zap.Logger) *Client {
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

// Query builds the search expression for messages received after since
func (c *Client) Query(since time.Time) string {
	return fmt.Sprintf("%s after:%d", strings.Join(c.opts.Keywords, " OR "), since.Unix())
}

// FetchMessages implements core.MailboxClient
func (c *Client) FetchMessages(ctx context.Context, accessToken string, since time.Time) ([]*core.RawMessage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var ids []string
	call := svc.Users.Messages.List("me").Q(c.Query(since))
	for pageToken := ""; ; {
		remaining := c.opts.MaxResults - len(ids)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.MaxResults(int64(min(remaining, 500))).Context(ctx).Do()
		if err != nil {
			return nil, wrapError(err, "failed to list messages")
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(ids) >= c.opts.MaxResults {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > c.opts.MaxResults {
		ids = ids[:c.opts.MaxResults]
	}

	messages := make([]*core.RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			wrapped := wrapError(err, "failed to get message")
			if errors.Is(wrapped, core.ErrRateLimited) {
				return nil, wrapped
			}
			c.logger.Warn("Skipping unreadable message", zap.String("message_id", id), zap.Error(err))
			continue
		}
		messages = append(messages, c.convertMessage(msg))
	}

	c.logger.Debug("Fetched Gmail messages", zap.Int("count", len(messages)))
	return messages, nil
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = c.opts.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.opts.Endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

func (c *Client) convertMessage(msg *gmailapi.Message) *core.RawMessage {
	raw := &core.RawMessage{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		raw.BodyText = msg.Snippet
		return raw
	}

	headers := msg.Payload.Headers
	raw.Sender = getHeader(headers, "From")
	raw.Subject = getHeader(headers, "Subject")
	for _, name := range []string{"To", "Cc"} {
		if v := getHeader(headers, name); v != "" {
			raw.Recipients = append(raw.Recipients, v)
		}
	}

	plain, htmlBody := extractBody(msg.Payload)
	switch {
	case plain != "":
		raw.BodyText = plain
	case htmlBody != "":
		text, err := utils.HTMLToText(htmlBody)
		if err != nil {
			c.logger.Debug("Failed to parse HTML body", zap.String("message_id", msg.Id), zap.Error(err))
			text = msg.Snippet
		}
		raw.BodyText = text
	default:
		raw.BodyText = msg.Snippet
	}
	return raw
}

// extractBody walks the MIME tree and returns the first text/plain and text/html bodies
func extractBody(part *gmailapi.MessagePart) (plain, htmlBody string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		data := decodeBase64URL(part.Body.Data)
		switch {
		case strings.HasPrefix(part.MimeType, "text/html"):
			htmlBody = data
		case strings.HasPrefix(part.MimeType, "text/"), part.MimeType == "":
			plain = data
		}
	}
	for _, child := range part.Parts {
		p, h := extractBody(child)
		if plain == "" {
			plain = p
		}
		if htmlBody == "" {
			htmlBody = h
		}
		if plain != "" && htmlBody != "" {
			break
		}
	}
	return plain, htmlBody
}

func decodeBase64URL(s string) string {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return string(data)
	}
	if data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return string(data)
	}
	return ""
}

func getHeader(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func wrapError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return core.RateLimited(fmt.Errorf("%s: %w", msg, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}
