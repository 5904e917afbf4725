package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

// SchedulerService owns the recurring jobs: the daily pipeline, the daily
// group directory sync and the weekly maintenance.
type SchedulerService interface {
	// Start registers the jobs and starts the cron loop. Starting a running
	// scheduler is a no-op.
	Start() error

	// Stop halts the cron loop and waits for in-flight jobs until ctx ends.
	// Returns apperrors.ErrSchedulerStopped if the scheduler was not running.
	Stop(ctx context.Context) error

	// GetStatus returns a snapshot of state and counters.
	GetStatus() models.SchedulerStatus

	// RunNow executes the pipeline immediately, counted like a scheduled run.
	// Cancelling ctx does not stop a run once started; only its values carry.
	RunNow(ctx context.Context, sink ProgressSink) (*models.PipelineResult, error)
}

// schedulerSwitch is the bot setting that pauses scheduled pipeline runs.
const schedulerSwitch = "scheduler_on"

type schedulerService struct {
	cfg         config.SchedulerConfig
	pipeline    PipelineService
	directory   DirectorySyncService
	maintenance MaintenanceService
	settingRepo repositories.BotSettingRepository
	logger      *zap.Logger
	now         func() time.Time

	mu         sync.Mutex
	cron       *cron.Cron
	cancel     context.CancelFunc
	background sync.WaitGroup
	lastRun    *time.Time
	lastStatus *models.RunStatus
	lastRunID  string
	stats      models.RunStats
}

// NewSchedulerService creates a stopped scheduler.
func NewSchedulerService(
	cfg config.SchedulerConfig,
	pipeline PipelineService,
	directory DirectorySyncService,
	maintenance MaintenanceService,
	settingRepo repositories.BotSettingRepository,
	logger *zap.Logger,
) SchedulerService {
	return &schedulerService{
		cfg:         cfg,
		pipeline:    pipeline,
		directory:   directory,
		maintenance: maintenance,
		settingRepo: settingRepo,
		logger:      logger.Named("scheduler"),
		now:         time.Now,
	}
}

var _ SchedulerService = (*schedulerService)(nil)

func (s *schedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load scheduler timezone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cronLog := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"pipeline", s.cfg.PipelineSpec, func() { s.scheduledPipeline(ctx) }},
		{"directory_sync", s.cfg.DirectorySpec, func() { s.syncDirectory(ctx) }},
		{"maintenance", s.cfg.MaintainSpec, func() { s.maintenance.Run(ctx) }},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, job.run); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule %s job %q: %w", job.name, job.spec, err)
		}
	}

	c.Start()
	s.cron = c
	s.cancel = cancel

	s.logger.Info("Scheduler started",
		zap.String("timezone", loc.String()),
		zap.String("pipeline", s.cfg.PipelineSpec),
		zap.String("directory_sync", s.cfg.DirectorySpec),
		zap.String("maintenance", s.cfg.MaintainSpec))

	if s.cfg.RunOnStartup {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.logger.Info("Running pipeline on startup")
			_, _ = s.execute(ctx, NopProgress{})
		}()
	}
	return nil
}

func (s *schedulerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return apperrors.ErrSchedulerStopped
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out, abandoning in-flight jobs", zap.Error(ctx.Err()))
	}
	cancel()

	stats := s.GetStatus().Stats
	s.logger.Info("Scheduler stopped",
		zap.Int("total_runs", stats.TotalRuns),
		zap.Int("successful_runs", stats.SuccessfulRuns),
		zap.Int("failed_runs", stats.FailedRuns))
	return nil
}

func (s *schedulerService) GetStatus() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SchedulerStatus{
		Running:   s.cron != nil,
		LastRunID: s.lastRunID,
		Stats:     s.stats,
	}
	if s.lastRun != nil {
		t := *s.lastRun
		status.LastRun = &t
	}
	if s.lastStatus != nil {
		st := *s.lastStatus
		status.LastStatus = &st
	}
	return status
}

func (s *schedulerService) RunNow(ctx context.Context, sink ProgressSink) (*models.PipelineResult, error) {
	s.logger.Info("Manual pipeline run requested")
	// The downloader records a file in the ledger before its lessons are
	// stored, so a run cut short by the caller would skip that file for good.
	return s.execute(context.WithoutCancel(ctx), sink)
}

// execute runs the pipeline once and updates the counters. Errors and panics
// are logged and counted, never propagated to the cron loop.
func (s *schedulerService) execute(ctx context.Context, sink ProgressSink) (result *models.PipelineResult, err error) {
	s.mu.Lock()
	s.stats.TotalRuns++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v", r)
		}

		now := s.now()
		status := models.RunStatusSuccess
		s.mu.Lock()
		if err != nil {
			status = models.RunStatusFailed
			s.stats.FailedRuns++
		} else {
			s.stats.SuccessfulRuns++
		}
		s.lastRun = &now
		s.lastStatus = &status
		if result != nil {
			s.lastRunID = result.RunID
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("Pipeline run failed", zap.Error(err))
		}
	}()

	return s.pipeline.RunPipeline(ctx, nil, sink)
}

func (s *schedulerService) scheduledPipeline(ctx context.Context) {
	settings, err := s.settingRepo.GetAll(ctx)
	if err != nil {
		s.logger.Warn("Failed to read scheduler switch, running anyway", zap.Error(err))
	} else if settings[schedulerSwitch] == "0" {
		s.logger.Info("Scheduled pipeline skipped, scheduler switched off")
		return
	}

	_, err = s.execute(ctx, LogProgress{Logger: s.logger})
	if errors.Is(err, apperrors.ErrPipelineRunning) {
		s.logger.Warn("Scheduled pipeline overlapped a running one")
	}
}

func (s *schedulerService) syncDirectory(ctx context.Context) {
	if _, err := s.directory.Sync(ctx); err != nil {
		s.logger.Error("Directory sync failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
