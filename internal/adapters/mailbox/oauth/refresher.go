package oauth

import (
	"context"
	"fmt"

	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// ClientConfig holds the OAuth application credentials of one provider
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the provider's default token endpoint
	TokenURL string
	// Tenant selects the Azure AD tenant, "common" when empty
	Tenant string
}

// Configured reports whether credentials are present
func (c ClientConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Refresher exchanges refresh tokens for access tokens
type Refresher struct {
	configs map[core.Provider]*oauth2.Config
	logger  *zap.Logger
}

// NewRefresher creates a refresher for the configured providers; providers
// without credentials are left out
func NewRefresher(gmail, outlook ClientConfig, logger *zap.Logger) *Refresher {
	r := &Refresher{
		configs: make(map[core.Provider]*oauth2.Config),
		logger:  logger,
	}
	if gmail.Configured() {
		r.configs[core.ProviderGmail] = newConfig(gmail, google.Endpoint)
	}
	if outlook.Configured() {
		tenant := outlook.Tenant
		if tenant == "" {
			tenant = "common"
		}
		r.configs[core.ProviderOutlook] = newConfig(outlook, microsoft.AzureADEndpoint(tenant))
	}
	return r
}

func newConfig(c ClientConfig, endpoint oauth2.Endpoint) *oauth2.Config {
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
	}
}

// Configured reports whether the provider has OAuth credentials
func (r *Refresher) Configured(provider core.Provider) bool {
	_, ok := r.configs[provider]
	return ok
}

// Refresh implements core.TokenRefresher
func (r *Refresher) Refresh(ctx context.Context, provider core.Provider, refreshToken string) (*core.OAuthToken, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no OAuth credentials for %s", core.ErrUnsupportedProvider, provider)
	}

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %s token: %w", provider, err)
	}

	r.logger.Debug("Refreshed access token",
		zap.String("provider", string(provider)),
		zap.Time("expiry", token.Expiry))

	return &core.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}
