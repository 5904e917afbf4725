package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/storage"
)

// MaintenanceReport lists what one maintenance pass removed. Errors holds
// one entry per failed step; the other steps still ran.
type MaintenanceReport struct {
	FilesDeleted      int      `json:"files_deleted"`
	TempDeleted       int      `json:"temp_deleted"`
	LessonsDeleted    int64    `json:"lessons_deleted"`
	ActionLogsDeleted int64    `json:"action_logs_deleted"`
	Errors            []string `json:"errors,omitempty"`
}

// MaintenanceService applies the retention windows to disk and databases.
type MaintenanceService interface {
	Run(ctx context.Context) *MaintenanceReport
}

type maintenanceService struct {
	retention     config.RetentionConfig
	store         *storage.ArtifactStore
	lessonRepo    repositories.LessonRepository
	actionLogRepo repositories.ActionLogRepository
	logger        *zap.Logger
	now           func() time.Time
}

// NewMaintenanceService creates a new maintenance service.
func NewMaintenanceService(
	retention config.RetentionConfig,
	store *storage.ArtifactStore,
	lessonRepo repositories.LessonRepository,
	actionLogRepo repositories.ActionLogRepository,
	logger *zap.Logger,
) MaintenanceService {
	return &maintenanceService{
		retention:     retention,
		store:         store,
		lessonRepo:    lessonRepo,
		actionLogRepo: actionLogRepo,
		logger:        logger.Named("maintenance"),
		now:           time.Now,
	}
}

var _ MaintenanceService = (*maintenanceService)(nil)

func (s *maintenanceService) Run(ctx context.Context) *MaintenanceReport {
	now := s.now()
	rep := &MaintenanceReport{}

	fail := func(step string, err error) {
		s.logger.Error("Maintenance step failed", zap.String("step", step), zap.Error(err))
		rep.Errors = append(rep.Errors, step+": "+err.Error())
	}

	var err error
	if rep.FilesDeleted, err = s.store.PruneSchedules(now.Add(-s.retention.FileAge)); err != nil {
		fail("prune_files", err)
	}
	if rep.TempDeleted, err = s.store.ClearTemp(); err != nil {
		fail("clear_temp", err)
	}
	if rep.LessonsDeleted, err = s.lessonRepo.DeleteOlderThan(ctx, now.Add(-s.retention.LessonAge)); err != nil {
		fail("prune_lessons", err)
	}
	if rep.ActionLogsDeleted, err = s.actionLogRepo.DeleteOlderThan(ctx, now.Add(-s.retention.ActionLogAge)); err != nil {
		fail("prune_action_logs", err)
	}

	s.logger.Info("Maintenance finished",
		zap.Int("files_deleted", rep.FilesDeleted),
		zap.Int("temp_deleted", rep.TempDeleted),
		zap.Int64("lessons_deleted", rep.LessonsDeleted),
		zap.Int64("action_logs_deleted", rep.ActionLogsDeleted),
		zap.Int("failed_steps", len(rep.Errors)))

	return rep
}
