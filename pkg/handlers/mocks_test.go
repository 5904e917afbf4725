package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/services"
)

type mockScheduler struct {
	status models.SchedulerStatus
	result *models.PipelineResult
	err    error
	steps  []string
}

func (m *mockScheduler) Start() error                     { return nil }
func (m *mockScheduler) Stop(context.Context) error       { return nil }
func (m *mockScheduler) GetStatus() models.SchedulerStatus { return m.status }

func (m *mockScheduler) RunNow(ctx context.Context, sink services.ProgressSink) (*models.PipelineResult, error) {
	for i, step := range m.steps {
		_ = sink.Report(ctx, step, services.Fraction(float64(i+1)/float64(len(m.steps))))
	}
	return m.result, m.err
}

type mockMaintenance struct {
	report *services.MaintenanceReport
}

func (m *mockMaintenance) Run(context.Context) *services.MaintenanceReport { return m.report }

type mockDirectory struct {
	result *services.DirectorySyncResult
	err    error
}

func (m *mockDirectory) Sync(context.Context) (*services.DirectorySyncResult, error) {
	return m.result, m.err
}

type mockGroupRepo struct {
	groups map[string]bool
	err    error
}

func (m *mockGroupRepo) InsertUntracked(context.Context, []string) (int, error) { return 0, m.err }
func (m *mockGroupRepo) UpsertTracked(context.Context, []string) error         { return m.err }
func (m *mockGroupRepo) ListTracked(context.Context) ([]string, error)         { return nil, m.err }
func (m *mockGroupRepo) Count(context.Context) (int, error)                    { return len(m.groups), m.err }

func (m *mockGroupRepo) SetTracked(_ context.Context, name string, tracked bool) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.groups[name]; !ok {
		return apperrors.ErrNotFound
	}
	m.groups[name] = tracked
	return nil
}

func (m *mockGroupRepo) List(context.Context) ([]models.TrackedGroup, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.TrackedGroup
	for name, tracked := range m.groups {
		out = append(out, models.TrackedGroup{GroupName: name, IsTracked: tracked})
	}
	return out, nil
}

type mockSettingRepo struct {
	settings map[string]string
	err      error
}

func (m *mockSettingRepo) EnsureDefaults(context.Context, map[string]string) error { return m.err }

func (m *mockSettingRepo) GetAll(context.Context) (map[string]string, error) {
	return m.settings, m.err
}

func (m *mockSettingRepo) Set(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.settings[key] = value
	return nil
}

type mockFileRepo struct{}

func (mockFileRepo) GetHash(context.Context, string) (string, error) { return "", apperrors.ErrNotFound }
func (mockFileRepo) Upsert(context.Context, string, string, models.FileType) error {
	return nil
}
func (mockFileRepo) Delete(context.Context, models.FileType) (int64, error) { return 0, nil }
func (mockFileRepo) Count(context.Context) (map[models.FileType]int, error) {
	return map[models.FileType]int{models.FileTypeSchedule: 12, models.FileTypeOccupancy: 4}, nil
}

type mockActionLogRepo struct {
	mu      sync.Mutex
	entries []models.ActionLog
	since   time.Time
	err     error
}

func (m *mockActionLogRepo) Log(_ context.Context, entry *models.ActionLog) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockActionLogRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *mockActionLogRepo) CountSince(_ context.Context, since time.Time) (map[string]int, error) {
	m.since = since
	return map[string]int{models.ActionViewSchedule: 3}, m.err
}

type mockScheduleQuery struct {
	day     *models.DaySchedule
	slots   []models.FreeSlot
	found   []string
	tracked []string
	err     error

	gotGroups []string
	gotDate   time.Time
}

func (m *mockScheduleQuery) DaySchedule(_ context.Context, group string, date time.Time) (*models.DaySchedule, error) {
	m.gotGroups, m.gotDate = []string{group}, date
	if m.err != nil {
		return nil, m.err
	}
	return m.day, nil
}

func (m *mockScheduleQuery) PredictedSchedule(context.Context, string, time.Time) ([]models.Lesson, error) {
	return nil, m.err
}

func (m *mockScheduleQuery) CommonFreeSlots(_ context.Context, groups []string, date time.Time) ([]models.FreeSlot, error) {
	m.gotGroups, m.gotDate = groups, date
	return m.slots, m.err
}

func (m *mockScheduleQuery) SearchGroups(context.Context, string) ([]string, error) {
	return m.found, m.err
}

func (m *mockScheduleQuery) SearchTrackedGroups(context.Context, string) ([]string, error) {
	return m.tracked, m.err
}

type mockRoomQuery struct {
	rooms     []string
	buildings []string
	err       error
	gotPair   int
}

func (m *mockRoomQuery) FreeRooms(_ context.Context, _ time.Time, pair int, _ string) ([]string, error) {
	m.gotPair = pair
	return m.rooms, m.err
}

func (m *mockRoomQuery) Buildings(context.Context) ([]string, error) {
	return m.buildings, m.err
}
