package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

// maxSearchResults caps group search answers.
const maxSearchResults = 15

// ScheduleQueryService answers read-only questions about group schedules.
type ScheduleQueryService interface {
	// DaySchedule returns a group's concrete lessons on date, or the
	// predicted ones when the date has none.
	DaySchedule(ctx context.Context, group string, date time.Time) (*models.DaySchedule, error)

	// PredictedSchedule infers a day from lessons held on the same weekday.
	PredictedSchedule(ctx context.Context, group string, date time.Time) ([]models.Lesson, error)

	// CommonFreeSlots returns the pairs free for every group on date.
	CommonFreeSlots(ctx context.Context, groups []string, date time.Time) ([]models.FreeSlot, error)

	// SearchGroups matches group names that have lessons.
	SearchGroups(ctx context.Context, query string) ([]string, error)

	// SearchTrackedGroups matches every known group name.
	SearchTrackedGroups(ctx context.Context, query string) ([]string, error)
}

type scheduleQueryService struct {
	lessonRepo repositories.LessonRepository
	groupRepo  repositories.TrackedGroupRepository
	logger     *zap.Logger
}

// NewScheduleQueryService creates a new schedule query service.
func NewScheduleQueryService(
	lessonRepo repositories.LessonRepository,
	groupRepo repositories.TrackedGroupRepository,
	logger *zap.Logger,
) ScheduleQueryService {
	return &scheduleQueryService{
		lessonRepo: lessonRepo,
		groupRepo:  groupRepo,
		logger:     logger.Named("schedule-query"),
	}
}

var _ ScheduleQueryService = (*scheduleQueryService)(nil)

func (s *scheduleQueryService) DaySchedule(ctx context.Context, group string, date time.Time) (*models.DaySchedule, error) {
	day := models.DaySchedule{Group: group, Date: date}

	lessons, err := s.lessonRepo.ListForDate(ctx, group, date)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		if lessons, err = s.PredictedSchedule(ctx, group, date); err != nil {
			return nil, err
		}
		day.Predicted = len(lessons) > 0
	}

	day.Lessons = lessons
	day.Windows = findWindows(lessons)
	return &day, nil
}

func (s *scheduleQueryService) PredictedSchedule(ctx context.Context, group string, date time.Time) ([]models.Lesson, error) {
	rows, err := s.lessonRepo.PredictFrequencies(ctx, group, date)
	if err != nil {
		return nil, err
	}

	// Rows arrive ordered by pair then frequency, so the first row of each
	// pair is the most frequent one. Unknown pairs form one bucket.
	type bucket struct {
		known bool
		pair  int
	}
	seen := make(map[bucket]bool)
	var lessons []models.Lesson
	for _, row := range rows {
		b := bucket{known: row.PairNumber != nil}
		if b.known {
			b.pair = *row.PairNumber
		}
		if seen[b] {
			continue
		}
		seen[b] = true

		lesson := models.Lesson{
			GroupName:  group,
			Date:       date,
			PairNumber: row.PairNumber,
			Subject:    row.Subject,
			ClassType:  row.ClassType,
			Teacher:    row.Teacher,
			Building:   row.Building,
			Room:       row.Room,
			Subgroup:   row.Subgroup,
		}
		if b.known {
			if r := models.PairTimeRange(b.pair); r != "" {
				start, end, _ := strings.Cut(r, " - ")
				lesson.StartTime, lesson.EndTime = &start, &end
			}
		}
		lessons = append(lessons, lesson)
	}

	sortByPair(lessons)
	s.logger.Debug("Predicted schedule",
		zap.String("group", group),
		zap.Time("date", date),
		zap.Int("history_rows", len(rows)),
		zap.Int("lessons", len(lessons)))
	return lessons, nil
}

func (s *scheduleQueryService) CommonFreeSlots(ctx context.Context, groups []string, date time.Time) ([]models.FreeSlot, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("at least one group is required")
	}
	lessons, err := s.lessonRepo.ListForGroupsOnDate(ctx, groups, date)
	if err != nil {
		return nil, err
	}
	return freeSlots(lessons), nil
}

func (s *scheduleQueryService) SearchGroups(ctx context.Context, query string) ([]string, error) {
	names, err := s.lessonRepo.ListGroupNames(ctx)
	if err != nil {
		return nil, err
	}
	return rankGroups(names, query), nil
}

func (s *scheduleQueryService) SearchTrackedGroups(ctx context.Context, query string) ([]string, error) {
	groups, err := s.groupRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.GroupName
	}
	return rankGroups(names, query), nil
}

// freeSlots returns pairs 1..7 not taken by any lesson, ascending.
func freeSlots(lessons []models.Lesson) []models.FreeSlot {
	busy := make(map[int]bool)
	for _, l := range lessons {
		if l.PairNumber != nil {
			busy[*l.PairNumber] = true
		}
	}
	slots := []models.FreeSlot{}
	for p := models.MinPair; p <= models.MaxPair; p++ {
		if !busy[p] {
			slots = append(slots, models.FreeSlot{PairNumber: p, TimeRange: models.PairTimeRange(p)})
		}
	}
	return slots
}

// findWindows reports gaps between consecutive known pairs.
// Lessons must be sorted by pair.
func findWindows(lessons []models.Lesson) []models.Window {
	var windows []models.Window
	prev := 0
	for _, l := range lessons {
		if l.PairNumber == nil {
			continue
		}
		cur := *l.PairNumber
		if prev != 0 && cur-prev > 1 {
			windows = append(windows, models.Window{FromPair: prev + 1, ToPair: cur - 1})
		}
		if cur > prev {
			prev = cur
		}
	}
	return windows
}

// sortByPair orders lessons by pair number, unknown pairs last.
func sortByPair(lessons []models.Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		a, b := lessons[i].PairNumber, lessons[j].PairNumber
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a < *b
	})
}

// rankGroups keeps names containing query, case-insensitively: exact
// matches first, then prefix matches, then the rest.
func rankGroups(names []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []string{}
	}

	var exact, prefix, other []string
	for _, name := range names {
		n := strings.ToLower(name)
		switch {
		case n == q:
			exact = append(exact, name)
		case strings.HasPrefix(n, q):
			prefix = append(prefix, name)
		case strings.Contains(n, q):
			other = append(other, name)
		}
	}
	sort.Strings(prefix)
	sort.Strings(other)

	out := append(append(exact, prefix...), other...)
	if len(out) > maxSearchResults {
		out = out[:maxSearchResults]
	}
	if out == nil {
		out = []string{}
	}
	return out
}
