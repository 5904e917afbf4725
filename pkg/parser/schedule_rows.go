package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/piculi-bot/piculi-engine/pkg/models"
)

// Table is one extracted table: rows of normalized cell text.
type Table [][]string

var dayDatePattern = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{2})`)

// rowState carries the day and time columns across rows. Merged cells in the
// documents leave these columns blank on every row but the first one.
type rowState struct {
	Day  string
	Time string
}

// advance applies one row's day and time cells. Time header labels
// ("Интервал") never replace the carried time.
func (s rowState) advance(day, tm string) rowState {
	if day != "" {
		s.Day = day
	}
	if tm != "" && !strings.Contains(strings.ToLower(tm), "интервал") {
		s.Time = tm
	}
	return s
}

// ParseScheduleDocument extracts lessons from one group's schedule PDF.
func ParseScheduleDocument(data []byte, group string) ([]models.Lesson, error) {
	tables, err := ExtractTables(data)
	if err != nil {
		return nil, err
	}
	return ScheduleRows(tables, group), nil
}

// ScheduleRows turns extracted tables into lessons for group. Column 0 is the
// day, column 1 the time range and everything after is the lesson text.
// Rows without a date, without lesson text, or whose text yields neither a
// subject nor a class type are dropped.
func ScheduleRows(tables []Table, group string) []models.Lesson {
	var rows [][]string
	width := 0
	for _, t := range tables {
		for _, row := range t {
			rows = append(rows, row)
			if len(row) > width {
				width = len(row)
			}
		}
	}
	if width < 3 {
		return nil
	}

	var (
		lessons []models.Lesson
		state   rowState
	)
	for _, row := range rows {
		day := cellAt(row, 0)
		tm := cellAt(row, 1)
		text := lessonText(row)

		state = state.advance(day, tm)
		if text == "" {
			continue
		}
		if strings.Contains(strings.ToLower(state.Day), "день") && strings.Contains(strings.ToLower(tm), "интервал") {
			continue
		}

		lesson, ok := buildLesson(state, text, group)
		if ok {
			lessons = append(lessons, lesson)
		}
	}
	return lessons
}

func buildLesson(state rowState, text, group string) (models.Lesson, bool) {
	date, ok := parseDayDate(state.Day)
	if !ok {
		return models.Lesson{}, false
	}

	lesson := models.Lesson{
		GroupName: group,
		Date:      date,
		RawInfo:   text,
	}

	if state.Time != "" {
		parts := strings.Split(state.Time, "-")
		start := strings.TrimSpace(parts[0])
		if start != "" {
			lesson.StartTime = ptr(start)
		}
		if len(parts) > 1 {
			if end := strings.TrimSpace(parts[1]); end != "" {
				lesson.EndTime = ptr(end)
			}
		}
		lesson.PairNumber = models.PairForStartTime(start)
	}

	fields := ExtractLessonFields(text, group)
	if fields.Subject == nil && fields.ClassType == nil {
		return models.Lesson{}, false
	}
	lesson.SetFields(fields)
	return lesson, true
}

// parseDayDate reads a DD.MM.YY date from a day cell. Two-digit years are in
// the 2000s. Impossible dates are rejected.
func parseDayDate(day string) (time.Time, bool) {
	m := dayDatePattern.FindStringSubmatch(day)
	if m == nil {
		return time.Time{}, false
	}
	d, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	return calendarDate(2000+y, mo, d)
}

// calendarDate builds a UTC date, rejecting values time.Date would normalize.
func calendarDate(y, m, d int) (time.Time, bool) {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func cellAt(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return NormalizeCell(row[i])
}

func lessonText(row []string) string {
	if len(row) <= 2 {
		return ""
	}
	cells := make([]string, 0, len(row)-2)
	for _, c := range row[2:] {
		cells = append(cells, NormalizeCell(c))
	}
	return strings.TrimSpace(strings.Join(cells, " "))
}

// String renders a table for debugging.
func (t Table) String() string {
	var b strings.Builder
	for i, row := range t {
		fmt.Fprintf(&b, "%3d | %s\n", i, strings.Join(row, " | "))
	}
	return b.String()
}
