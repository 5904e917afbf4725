package parser

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

var (
	roomHeaderPattern    = regexp.MustCompile(`^\d+-\d+[а-яА-Я_]*$`)
	occupancyDatePattern = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{2,4})`)
	pairLabelPattern     = regexp.MustCompile(`^(\d)\s*пара`)
)

// occupancyState carries the date across rows: only the first row of each
// day has the day cell.
type occupancyState struct {
	Date *time.Time
}

func (s occupancyState) advance(dayCell string) occupancyState {
	m := occupancyDatePattern.FindStringSubmatch(dayCell)
	if m == nil {
		return s
	}
	d, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		y += 2000
	}
	if t, ok := calendarDate(y, mo, d); ok {
		s.Date = &t
	}
	return s
}

type occupancyKey struct {
	room string
	date time.Time
	pair int
}

// ParseOccupancyTable reads one building's room occupancy report.
//
// The second table row holds room headers ("2-100", "3-204а", "2-100_");
// columns without one are ignored. Each data row is one pair on the carried
// date; rows whose pair label falls outside the day's pairs are dropped. A
// cell is free when it is empty or reads none/nan; otherwise its text
// is the occupying group. Duplicate (room, date, pair) records collapse into
// one, and occupied beats free.
func ParseOccupancyTable(r io.Reader, building string) ([]models.Occupancy, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse occupancy report: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("building %s: %w", building, apperrors.ErrNoTable)
	}
	rows := table.Find("tr")
	if rows.Length() < 2 {
		return nil, fmt.Errorf("building %s: no header row: %w", building, apperrors.ErrNoTable)
	}

	rooms := make(map[int]string)
	var columns []int
	rows.Eq(1).Find("td").Each(func(i int, cell *goquery.Selection) {
		text := strippedText(cell.Get(0))
		if roomHeaderPattern.MatchString(text) {
			rooms[i] = strings.TrimRight(text, "_")
			columns = append(columns, i)
		}
	})
	if len(columns) == 0 {
		return nil, fmt.Errorf("building %s: no room columns: %w", building, apperrors.ErrNoTable)
	}

	var (
		out   []models.Occupancy
		index = make(map[occupancyKey]int)
		state occupancyState
	)
	rows.Slice(2, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strippedText(cell.Get(0)))
		})
		if len(cells) == 0 {
			return
		}

		state = state.advance(cells[0])
		if state.Date == nil {
			return
		}
		pair, ok := rowPair(cells)
		if !ok {
			return
		}

		for _, col := range columns {
			if col >= len(cells) {
				continue
			}
			rec := models.Occupancy{
				Building:   building,
				Room:       rooms[col],
				Date:       *state.Date,
				PairNumber: pair,
				IsFree:     isFreeCell(cells[col]),
			}
			if !rec.IsFree {
				rec.GroupName = ptr(cells[col])
			}

			key := occupancyKey{rec.Room, rec.Date, rec.PairNumber}
			if i, seen := index[key]; seen {
				if out[i].IsFree && !rec.IsFree {
					out[i] = rec
				}
				continue
			}
			index[key] = len(out)
			out = append(out, rec)
		}
	})
	return out, nil
}

func rowPair(cells []string) (int, bool) {
	for _, c := range cells {
		if m := pairLabelPattern.FindStringSubmatch(c); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, models.ValidPair(n)
		}
	}
	return 0, false
}

func isFreeCell(text string) bool {
	switch strings.ToLower(text) {
	case "", "none", "nan":
		return true
	}
	return false
}
