package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/tool-scanner/internal/adapters/mailbox/oauth"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/domainlist"
	"github.com/mikey/tool-scanner/internal/factory"
	"github.com/mikey/tool-scanner/internal/logging"
	"github.com/mikey/tool-scanner/internal/ports"
)

// BuildContainer creates and configures the daemon's dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration and logger
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	for _, ctor := range []interface{}{
		factory.NewLLMFactory,
		factory.NewStoreFactory,
		factory.NewMailboxFactory,
		factory.NewNotifierFactory,
		factory.NewTriggerFactory,
	} {
		if err := container.Provide(ctor); err != nil {
			return nil, err
		}
	}

	if err := providePipeline(container); err != nil {
		return nil, err
	}

	// Register persistence
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.StoreFactory, store core.Store) (core.QuotaRepository, error) {
		return f.CreateQuotaRepository(store)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.StoreFactory) (core.VendorLocker, error) {
		return f.CreateVendorLocker()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, repo core.QuotaRepository) *core.QuotaGuard {
		q := cfg.GetQuota()
		return core.NewQuotaGuard(repo, core.QuotaLimits{
			MaxEmails:          q.MaxEmails,
			MaxClassifications: q.MaxClassifications,
			MaxExtractions:     q.MaxExtractions,
		})
	}); err != nil {
		return nil, err
	}

	// Register mailbox access
	if err := container.Provide(func(f *factory.MailboxFactory) *oauth.Refresher {
		return f.CreateRefresher()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		f *factory.MailboxFactory,
		refresher *oauth.Refresher,
		store core.Store,
		retry core.RetryPolicy,
	) *core.MailboxService {
		return f.CreateMailboxService(refresher, store, retry)
	}); err != nil {
		return nil, err
	}

	// Register domain services
	if err := container.Provide(func(f *factory.LLMFactory) (core.Categorizer, error) {
		return f.CreateCategorizer()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		store core.Store,
		locker core.VendorLocker,
		categorizer core.Categorizer,
		logger *zap.Logger,
	) *core.ToolMerger {
		return core.NewToolMerger(store, locker, categorizer, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(store core.Store, locker core.VendorLocker, logger *zap.Logger) *core.InterruptionEngine {
		return core.NewInterruptionEngine(store, store, locker, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *domainlist.Checker {
		return domainlist.NewChecker(cfg.GetScan().IgnoredDomains, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(newScanService); err != nil {
		return nil, err
	}

	// Register reminders
	if err := container.Provide(func(f *factory.NotifierFactory) (core.Notifier, error) {
		return f.CreateNotifier()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(store core.Store, notifier core.Notifier, logger *zap.Logger) *core.ReminderScheduler {
		return core.NewReminderScheduler(store, store, store, notifier, logger)
	}); err != nil {
		return nil, err
	}

	// Register triggers
	if err := container.Provide(func(
		f *factory.TriggerFactory,
		scanner *core.ScanService,
		reminders *core.ReminderScheduler,
		store core.Store,
		refresher *oauth.Refresher,
		notifier core.Notifier,
	) []ports.Runner {
		return f.CreateRunners(scanner, reminders, store, refresher, notifier != nil)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// providePipeline registers the retry policy, validator and classification pipeline
func providePipeline(container *dig.Container) error {
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.RetryPolicy {
		r := cfg.GetRetry()
		policy := core.DefaultRetryPolicy(logger)
		if r.Attempts > 0 {
			policy.Attempts = uint(r.Attempts)
		}
		if r.Delay > 0 {
			policy.Delay = r.Delay
		}
		if r.MaxDelay > 0 {
			policy.MaxDelay = r.MaxDelay
		}
		return policy
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.LLMFactory, retry core.RetryPolicy) (*factory.Pipeline, error) {
		return f.CreatePipeline(retry)
	}); err != nil {
		return err
	}
	return container.Provide(func(cfg *config.Config) *core.Validator {
		return core.NewValidator(cfg.GetScan().MinConfidence, nil)
	})
}

// scanServiceParams gathers the scan orchestrator's collaborators
type scanServiceParams struct {
	dig.In

	Config        *config.Config
	Logger        *zap.Logger
	Store         core.Store
	Mailbox       *core.MailboxService
	Pipeline      *factory.Pipeline
	Validator     *core.Validator
	Merger        *core.ToolMerger
	Interruptions *core.InterruptionEngine
	Quota         *core.QuotaGuard
	Ignore        *domainlist.Checker
	Locker        core.VendorLocker
}

func newScanService(p scanServiceParams) *core.ScanService {
	scanCfg := p.Config.GetScan()
	return core.NewScanService(core.ScanDeps{
		Connections:   p.Store,
		ScanLogs:      p.Store,
		Audit:         p.Store,
		Fetcher:       p.Mailbox,
		Classifier:    p.Pipeline.Classifier,
		Extractor:     p.Pipeline.Extractor,
		Validator:     p.Validator,
		Merger:        p.Merger,
		Interruptions: p.Interruptions,
		Quota:         p.Quota,
		Ignore:        p.Ignore,
		Locker:        p.Locker,
	}, core.ScanOptions{
		CallDelay:             scanCfg.CallDelay,
		MinConfidence:         scanCfg.MinConfidence,
		DefaultBackfillMonths: scanCfg.DefaultBackfillMonths,
	}, p.Logger)
}
