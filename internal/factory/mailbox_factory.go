package factory

import (
	"github.com/mikey/tool-scanner/internal/adapters/mailbox/gmail"
	"github.com/mikey/tool-scanner/internal/adapters/mailbox/oauth"
	"github.com/mikey/tool-scanner/internal/adapters/mailbox/outlook"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates the provider clients and the token refresher
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRefresher creates the OAuth refresher for the configured providers
func (f *MailboxFactory) CreateRefresher() *oauth.Refresher {
	oauthCfg := f.cfg.GetOAuth()
	refresher := oauth.NewRefresher(
		oauth.ClientConfig{
			ClientID:     oauthCfg.Google.ClientID,
			ClientSecret: oauthCfg.Google.ClientSecret,
			TokenURL:     oauthCfg.Google.TokenURL,
		},
		oauth.ClientConfig{
			ClientID:     oauthCfg.Microsoft.ClientID,
			ClientSecret: oauthCfg.Microsoft.ClientSecret,
			TokenURL:     oauthCfg.Microsoft.TokenURL,
			Tenant:       oauthCfg.Microsoft.Tenant,
		},
		f.logger,
	)
	for _, p := range []core.Provider{core.ProviderGmail, core.ProviderOutlook} {
		if !refresher.Configured(p) {
			f.logger.Warn("OAuth credentials missing, token refresh disabled", zap.String("provider", string(p)))
		}
	}
	return refresher
}

// CreateMailboxService creates the token-refreshing fetcher over both providers
func (f *MailboxFactory) CreateMailboxService(
	refresher core.TokenRefresher,
	connections core.ConnectionRepository,
	retry core.RetryPolicy,
) *core.MailboxService {
	scanCfg := f.cfg.GetScan()

	clients := map[core.Provider]core.MailboxClient{
		core.ProviderGmail: gmail.NewClient(gmail.Options{
			Endpoint:   f.cfg.GetGmail().Endpoint,
			MaxResults: scanCfg.MaxResults,
			Keywords:   scanCfg.Keywords,
			Timeout:    scanCfg.Timeout,
		}, f.logger),
		core.ProviderOutlook: outlook.NewClient(outlook.Options{
			BaseURL:    f.cfg.GetOutlook().BaseURL,
			MaxResults: scanCfg.MaxResults,
			Keywords:   scanCfg.Keywords,
			Timeout:    scanCfg.Timeout,
		}, f.logger),
	}

	return core.NewMailboxService(clients, refresher, connections, retry, core.MailboxOptions{
		RefreshMargin: scanCfg.RefreshMargin,
		MaxBodyChars:  scanCfg.MaxBodyChars,
	}, f.logger)
}
