package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerOptions configures the cron trigger
type SchedulerOptions struct {
	DailyScan  string
	Reminders  string
	RunOnStart bool
}

// Scheduler fires the daily scan and the reminder pass on cron specs
type Scheduler struct {
	cron      *cron.Cron
	scanner   Scanner
	reminders Reminders
	opts      SchedulerOptions
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a cron trigger. reminders may be nil.
func NewScheduler(scanner Scanner, reminders Reminders, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		// overlapping runs of one job are skipped rather than queued
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		scanner:   scanner,
		reminders: reminders,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the jobs and starts the cron loop
func (s *Scheduler) Start() error {
	if s.opts.DailyScan != "" {
		if _, err := s.cron.AddFunc(s.opts.DailyScan, s.runDailyScan); err != nil {
			return fmt.Errorf("invalid daily scan schedule %q: %w", s.opts.DailyScan, err)
		}
	}
	if s.opts.Reminders != "" && s.reminders != nil {
		if _, err := s.cron.AddFunc(s.opts.Reminders, s.runReminders); err != nil {
			return fmt.Errorf("invalid reminder schedule %q: %w", s.opts.Reminders, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("daily_scan", s.opts.DailyScan),
		zap.String("reminders", s.opts.Reminders))

	if s.opts.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runDailyScan()
			if s.reminders != nil {
				s.runReminders()
			}
		}()
	}
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() error {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runDailyScan() {
	s.logger.Info("Daily scan started")
	results, err := s.scanner.RunScan(s.ctx, "", core.ScanTypeDaily)
	if err != nil {
		s.logger.Error("Daily scan failed", zap.Error(err))
		return
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	s.logger.Info("Daily scan complete",
		zap.Int("connections", len(results)),
		zap.Int("failed", failed))
}

func (s *Scheduler) runReminders() {
	queued, err := s.reminders.ScheduleAll(s.ctx)
	if err != nil {
		s.logger.Error("Failed to schedule reminders", zap.Error(err))
	}
	sent, err := s.reminders.Dispatch(s.ctx)
	if err != nil {
		s.logger.Error("Failed to dispatch reminders", zap.Error(err))
	}
	s.logger.Info("Reminder pass complete", zap.Int("queued", queued), zap.Int("sent", sent))
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
