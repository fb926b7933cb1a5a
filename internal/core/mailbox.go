package core

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/tool-scanner/internal/utils"
	"go.uber.org/zap"
)

// MailboxService fetches messages for a connection, refreshing its token first when needed
type MailboxService struct {
	clients       map[Provider]MailboxClient
	refresher     TokenRefresher
	connections   ConnectionRepository
	retry         RetryPolicy
	refreshMargin time.Duration
	maxBodyChars  int
	logger        *zap.Logger
	now           func() time.Time
}

// MailboxOptions tune the mailbox service
type MailboxOptions struct {
	RefreshMargin time.Duration
	MaxBodyChars  int
}

// NewMailboxService creates a mailbox service over the given provider clients
func NewMailboxService(
	clients map[Provider]MailboxClient,
	refresher TokenRefresher,
	connections ConnectionRepository,
	retry RetryPolicy,
	opts MailboxOptions,
	logger *zap.Logger,
) *MailboxService {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 5 * time.Minute
	}
	if opts.MaxBodyChars <= 0 {
		opts.MaxBodyChars = 3000
	}
	return &MailboxService{
		clients:       clients,
		refresher:     refresher,
		connections:   connections,
		retry:         retry,
		refreshMargin: opts.RefreshMargin,
		maxBodyChars:  opts.MaxBodyChars,
		logger:        logger,
		now:           time.Now,
	}
}

// FetchMessages returns the connection's billing-related messages received after since.
// A failed token refresh is returned as a *ReauthRequiredError.
func (s *MailboxService) FetchMessages(ctx context.Context, conn *Connection, since time.Time) ([]*RawMessage, error) {
	client, ok := s.clients[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, conn.Provider)
	}

	token, err := s.accessToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	var messages []*RawMessage
	err = s.retry.Do(ctx, string(conn.Provider)+" fetch", func() error {
		var fetchErr error
		messages, fetchErr = client.FetchMessages(ctx, token, since)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s messages: %w", conn.Provider, err)
	}

	for _, msg := range messages {
		msg.BodyText = utils.TruncateRunes(msg.BodyText, s.maxBodyChars)
	}
	return messages, nil
}

func (s *MailboxService) accessToken(ctx context.Context, conn *Connection) (string, error) {
	if conn.AccessToken != "" && conn.TokenExpiresAt.After(s.now().Add(s.refreshMargin)) {
		return conn.AccessToken, nil
	}
	if s.refresher == nil || conn.RefreshToken == "" {
		return "", &ReauthRequiredError{ConnectionID: conn.ID, Err: fmt.Errorf("no refresh token")}
	}

	s.logger.Debug("Refreshing access token",
		zap.String("connection_id", conn.ID),
		zap.String("provider", string(conn.Provider)))

	token, err := s.refresher.Refresh(ctx, conn.Provider, conn.RefreshToken)
	if err != nil {
		return "", &ReauthRequiredError{ConnectionID: conn.ID, Err: err}
	}
	if token.RefreshToken == "" {
		token.RefreshToken = conn.RefreshToken
	}
	if err := s.connections.UpdateTokens(ctx, conn.ID, token); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	conn.AccessToken = token.AccessToken
	conn.RefreshToken = token.RefreshToken
	conn.TokenExpiresAt = token.Expiry
	return token.AccessToken, nil
}
