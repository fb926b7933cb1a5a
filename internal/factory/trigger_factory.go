package factory

import (
	"github.com/mikey/tool-scanner/internal/adapters/trigger"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/ports"
	"go.uber.org/zap"
)

// TriggerFactory creates the runners that drive scans
type TriggerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewTriggerFactory creates a new trigger factory
func NewTriggerFactory(cfg *config.Config, logger *zap.Logger) *TriggerFactory {
	return &TriggerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRunners returns the enabled scheduler and HTTP trigger
func (f *TriggerFactory) CreateRunners(
	scanner trigger.Scanner,
	reminders trigger.Reminders,
	store trigger.Pinger,
	oauth trigger.OAuthStatus,
	notifierConfigured bool,
) []ports.Runner {
	var runners []ports.Runner

	if schedCfg := f.cfg.GetScheduler(); schedCfg.Enabled {
		runners = append(runners, trigger.NewScheduler(scanner, reminders, trigger.SchedulerOptions{
			DailyScan:  schedCfg.DailyScan,
			Reminders:  schedCfg.Reminders,
			RunOnStart: schedCfg.RunOnStart,
		}, f.logger))
	}

	if serverCfg := f.cfg.GetServer(); serverCfg.Enabled {
		runners = append(runners, trigger.NewHTTPServer(scanner, store, oauth, trigger.ServerOptions{
			ListenAddress:      serverCfg.ListenAddress,
			ScanTimeout:        serverCfg.ScanTimeout,
			ShutdownTimeout:    serverCfg.ShutdownTimeout,
			NotifierConfigured: notifierConfigured,
		}, f.logger))
	}

	if len(runners) == 0 {
		f.logger.Warn("No triggers enabled; the daemon will idle until stopped")
	}
	return runners
}
