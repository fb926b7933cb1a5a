package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/mikey/tool-scanner/internal/adapters/notify"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// NotifierFactory creates the reminder delivery channel
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNotifier returns the notifier for notify.type, or nil for "none"
func (f *NotifierFactory) CreateNotifier() (core.Notifier, error) {
	notifyCfg := f.cfg.GetNotify()

	switch notifyCfg.Type {
	case "", "none":
		f.logger.Info("Reminder delivery disabled")
		return nil, nil
	case "smtp":
		if notifyCfg.From == "" {
			return nil, fmt.Errorf("notify.from is required for SMTP delivery")
		}
		smtpCfg := f.cfg.GetSMTP()
		return notify.NewSMTPNotifier(notify.SMTPOptions{
			Address:  smtpCfg.Address,
			Username: smtpCfg.Username,
			Password: smtpCfg.Password,
			From:     notifyCfg.From,
			StartTLS: smtpCfg.StartTLS,
			Timeout:  smtpCfg.Timeout,
		}, f.logger), nil
	case "ses":
		if notifyCfg.From == "" {
			return nil, fmt.Errorf("notify.from is required for SES delivery")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.cfg.GetSES().Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return notify.NewSESNotifier(ses.NewFromConfig(awsCfg), notifyCfg.From, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", notifyCfg.Type)
	}
}
