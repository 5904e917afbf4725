package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/parser"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

// PipelineService runs one ingestion pass: schedules first, then occupancy.
type PipelineService interface {
	// RunPipeline downloads and parses the schedules of groups (all tracked
	// groups when empty), then refreshes occupancy. It returns
	// apperrors.ErrPipelineRunning when another run is in progress.
	RunPipeline(ctx context.Context, groups []string, sink ProgressSink) (*models.PipelineResult, error)
}

// DocumentParser turns a schedule document into lessons.
type DocumentParser func(data []byte, group string) ([]models.Lesson, error)

type pipelineService struct {
	downloader  ScheduleDownloader
	occupancy   OccupancySyncService
	lessonRepo  repositories.LessonRepository
	settingRepo repositories.BotSettingRepository
	lock        RunLock
	parse       DocumentParser
	logger      *zap.Logger
}

// NewPipelineService creates a new pipeline service.
func NewPipelineService(
	downloader ScheduleDownloader,
	occupancy OccupancySyncService,
	lessonRepo repositories.LessonRepository,
	settingRepo repositories.BotSettingRepository,
	lock RunLock,
	logger *zap.Logger,
) PipelineService {
	return &pipelineService{
		downloader:  downloader,
		occupancy:   occupancy,
		lessonRepo:  lessonRepo,
		settingRepo: settingRepo,
		lock:        lock,
		parse:       parser.ParseScheduleDocument,
		logger:      logger.Named("pipeline"),
	}
}

var _ PipelineService = (*pipelineService)(nil)

func (s *pipelineService) RunPipeline(ctx context.Context, groups []string, sink ProgressSink) (*models.PipelineResult, error) {
	release, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	result := &models.PipelineResult{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", result.RunID))
	logger.Info("Pipeline started", zap.Strings("groups", groups))

	if err := s.settingRepo.EnsureDefaults(ctx, models.DefaultBotSettings); err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}

	var errs []error

	report(ctx, sink, logger, "Downloading schedules", Fraction(0.1))
	docs, err := s.downloader.Download(ctx, groups, sink)
	if err != nil {
		// Documents already recorded in the ledger are still parsed below
		errs = append(errs, fmt.Errorf("schedule download: %w", err))
	}
	result.Documents = len(docs)

	if len(docs) > 0 {
		report(ctx, sink, logger, fmt.Sprintf("Parsing %d files", len(docs)), Fraction(0.3))
		for i, doc := range docs {
			report(ctx, sink, logger, "Parsing "+doc.Group, Fraction(0.3+0.5*float64(i)/float64(len(docs))))

			n, err := s.ingest(ctx, logger, doc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			result.Lessons += n
		}
	} else {
		logger.Info("No new schedule documents")
	}

	report(ctx, sink, logger, "Updating occupancy", Fraction(0.8))
	summary, err := s.occupancy.Refresh(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("occupancy refresh: %w", err))
	}
	if summary != nil {
		result.OccupancyReports = summary.Updated
		result.OccupancyRecords = summary.Records
	}

	report(ctx, sink, logger, "Pipeline finished", Fraction(1.0))
	result.Duration = time.Since(start)

	logger.Info("Pipeline finished",
		zap.Int("documents", result.Documents),
		zap.Int("lessons", result.Lessons),
		zap.Int("occupancy_reports", result.OccupancyReports),
		zap.Int("occupancy_records", result.OccupancyRecords),
		zap.Duration("duration", result.Duration),
		zap.Int("errors", len(errs)))

	return result, errors.Join(errs...)
}

// ingest parses one document and appends its lessons. Parse problems are
// logged and yield zero lessons; only the insert can fail the run.
func (s *pipelineService) ingest(ctx context.Context, logger *zap.Logger, doc DownloadedDocument) (int, error) {
	lessons, err := s.parse(doc.Body, doc.Group)
	if err != nil {
		logger.Warn("Failed to parse schedule document",
			zap.String("group", doc.Group),
			zap.String("filename", doc.Filename),
			zap.Error(err))
		return 0, nil
	}
	if len(lessons) == 0 {
		logger.Warn("Schedule document yielded no lessons",
			zap.String("group", doc.Group),
			zap.String("filename", doc.Filename))
		return 0, nil
	}

	n, err := s.lessonRepo.InsertBatch(ctx, lessons)
	if err != nil {
		return 0, fmt.Errorf("failed to store lessons of %s: %w", doc.Filename, err)
	}
	logger.Info("Parsed schedule document",
		zap.String("group", doc.Group),
		zap.String("filename", doc.Filename),
		zap.Int64("lessons", n))
	return int(n), nil
}
