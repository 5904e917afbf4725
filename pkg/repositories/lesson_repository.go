package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// LessonRepository defines data access for parsed schedule rows.
type LessonRepository interface {
	// InsertBatch appends lessons in one COPY. Existing rows are never replaced.
	InsertBatch(ctx context.Context, lessons []models.Lesson) (int64, error)

	// ListForDate returns a group's lessons on one date ordered by pair.
	ListForDate(ctx context.Context, group string, date time.Time) ([]models.Lesson, error)

	// ListForGroupsOnDate returns lessons of several groups on one date.
	ListForGroupsOnDate(ctx context.Context, groups []string, date time.Time) ([]models.Lesson, error)

	// PredictFrequencies aggregates a group's lessons held on the same ISO
	// weekday as date, grouped by (pair, subject, teacher), ordered by pair
	// (unknown pairs last) then by descending frequency.
	PredictFrequencies(ctx context.Context, group string, date time.Time) ([]models.PairFrequency, error)

	// ListGroupNames returns the distinct group names that have lessons.
	ListGroupNames(ctx context.Context) ([]string, error)

	// DeleteOlderThan removes lessons dated before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type lessonRepository struct {
	db *database.DB
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *database.DB) LessonRepository {
	return &lessonRepository{db: db}
}

var _ LessonRepository = (*lessonRepository)(nil)

var lessonColumns = []string{
	"group_name", "date", "pair_number", "start_time", "end_time",
	"subject", "class_type", "teacher", "building", "room", "subgroup", "raw_info",
}

const lessonSelect = `
	SELECT id, group_name, date, pair_number, start_time, end_time,
	       subject, class_type, teacher, building, room, subgroup, raw_info
	FROM lessons`

func (r *lessonRepository) InsertBatch(ctx context.Context, lessons []models.Lesson) (int64, error) {
	if len(lessons) == 0 {
		return 0, nil
	}

	var n int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.db.Conn(ctx).CopyFrom(ctx, pgx.Identifier{"lessons"}, lessonColumns,
			pgx.CopyFromSlice(len(lessons), func(i int) ([]any, error) {
				l := lessons[i]
				return []any{
					l.GroupName, l.Date, nullable(l.PairNumber), nullable(l.StartTime), nullable(l.EndTime),
					nullable(l.Subject), nullable(l.ClassType), nullable(l.Teacher),
					nullable(l.Building), nullable(l.Room), nullable(l.Subgroup), l.RawInfo,
				}, nil
			}))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert lessons: %w", err)
	}
	return n, nil
}

func (r *lessonRepository) ListForDate(ctx context.Context, group string, date time.Time) ([]models.Lesson, error) {
	query := lessonSelect + `
		WHERE group_name = $1 AND date = $2
		ORDER BY pair_number NULLS LAST, id`

	return r.query(ctx, query, group, date)
}

func (r *lessonRepository) ListForGroupsOnDate(ctx context.Context, groups []string, date time.Time) ([]models.Lesson, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	query := lessonSelect + `
		WHERE group_name = ANY($1) AND date = $2
		ORDER BY group_name, pair_number NULLS LAST, id`

	return r.query(ctx, query, groups, date)
}

func (r *lessonRepository) query(ctx context.Context, query string, args ...any) ([]models.Lesson, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []models.Lesson
	for rows.Next() {
		var l models.Lesson
		err := rows.Scan(&l.ID, &l.GroupName, &l.Date, &l.PairNumber, &l.StartTime, &l.EndTime,
			&l.Subject, &l.ClassType, &l.Teacher, &l.Building, &l.Room, &l.Subgroup, &l.RawInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lessons: %w", err)
	}
	return lessons, nil
}

func (r *lessonRepository) PredictFrequencies(ctx context.Context, group string, date time.Time) ([]models.PairFrequency, error) {
	// Columns outside the grouping key take their most common value.
	query := `
		SELECT pair_number, subject, teacher,
		       mode() WITHIN GROUP (ORDER BY class_type),
		       mode() WITHIN GROUP (ORDER BY building),
		       mode() WITHIN GROUP (ORDER BY room),
		       mode() WITHIN GROUP (ORDER BY subgroup),
		       COUNT(*) AS frequency
		FROM lessons
		WHERE group_name = $1
		  AND EXTRACT(ISODOW FROM date) = EXTRACT(ISODOW FROM $2::date)
		GROUP BY pair_number, subject, teacher
		ORDER BY pair_number NULLS LAST, frequency DESC, subject NULLS LAST, teacher NULLS LAST`

	rows, err := r.db.Conn(ctx).Query(ctx, query, group, date)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate lesson history: %w", err)
	}
	defer rows.Close()

	var out []models.PairFrequency
	for rows.Next() {
		var f models.PairFrequency
		err := rows.Scan(&f.PairNumber, &f.Subject, &f.Teacher,
			&f.ClassType, &f.Building, &f.Room, &f.Subgroup, &f.Frequency)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson frequency: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lesson frequencies: %w", err)
	}
	return out, nil
}

func (r *lessonRepository) ListGroupNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT DISTINCT group_name FROM lessons ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson groups: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan lesson groups: %w", err)
	}
	return names, nil
}

func (r *lessonRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM lessons WHERE date < $1`, cutoff)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old lessons: %w", err)
	}
	return n, nil
}

// nullable turns a nil pointer into an untyped nil so COPY writes NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
