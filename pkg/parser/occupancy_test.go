package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

const occupancyReport = `<html><body><table>
<tr><td colspan="6">16.02.2026 - 01.03.2026</td></tr>
<tr><td></td><td>Интервал</td><td>2-100</td><td>2-101а</td><td>2-100_</td><td>Примечание</td></tr>
<tr><td>Пн 16.02.26</td><td>1 пара</td><td></td><td>ИВТб-2301</td><td>ФИб-1201</td><td>x</td></tr>
<tr><td></td><td>2 пара</td><td>nan</td><td> None </td><td></td><td>x</td></tr>
<tr><td></td><td>Итого</td><td>ИВТб-2301</td><td></td><td></td><td></td></tr>
<tr><td>Вт 17.02.2026</td><td>3пара</td><td>ИВТб-2301</td></tr>
</table></body></html>`

func TestParseOccupancyTable(t *testing.T) {
	records, err := ParseOccupancyTable(strings.NewReader(occupancyReport), "2")
	require.NoError(t, err)

	mon := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	tue := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	require.Len(t, records, 5)

	// 2-100 and 2-100_ collapse; the occupied variant wins
	assert.Equal(t, "2", records[0].Building)
	assert.Equal(t, "2-100", records[0].Room)
	assert.Equal(t, mon, records[0].Date)
	assert.Equal(t, 1, records[0].PairNumber)
	assert.False(t, records[0].IsFree)
	assert.Equal(t, "ФИб-1201", *records[0].GroupName)

	assert.Equal(t, "2-101а", records[1].Room)
	assert.False(t, records[1].IsFree)
	assert.Equal(t, "ИВТб-2301", *records[1].GroupName)

	// nan and None are free
	assert.Equal(t, 2, records[2].PairNumber)
	assert.True(t, records[2].IsFree)
	assert.Nil(t, records[2].GroupName)
	assert.True(t, records[3].IsFree)

	// row without a pair label is skipped; short row only covers its columns
	assert.Equal(t, tue, records[4].Date)
	assert.Equal(t, 3, records[4].PairNumber)
	assert.Equal(t, "2-100", records[4].Room)
}

func TestParseOccupancyTable_RowsBeforeDateAreSkipped(t *testing.T) {
	html := `<table>
<tr><td></td></tr>
<tr><td></td><td>Интервал</td><td>3-204</td></tr>
<tr><td></td><td>1 пара</td><td>X</td></tr>
<tr><td>Ср 18.02.26</td><td>1 пара</td><td></td></tr>
</table>`

	records, err := ParseOccupancyTable(strings.NewReader(html), "3")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsFree)
}

func TestParseOccupancyTable_SkipsPairsOutsideDay(t *testing.T) {
	html := `<table>
<tr><td></td></tr>
<tr><td></td><td>Интервал</td><td>2-100</td></tr>
<tr><td>Пт 20.02.26</td><td>7 пара</td><td>ИВТб-2301</td></tr>
<tr><td></td><td>8 пара</td><td>ФИб-1201</td></tr>
<tr><td></td><td>0 пара</td><td></td></tr>
</table>`

	records, err := ParseOccupancyTable(strings.NewReader(html), "2")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, 7, records[0].PairNumber)
	assert.Equal(t, "ИВТб-2301", *records[0].GroupName)
	for _, rec := range records {
		assert.True(t, models.ValidPair(rec.PairNumber), "pair %d", rec.PairNumber)
	}
}

func TestRowPair(t *testing.T) {
	tests := []struct {
		cells []string
		want  int
		ok    bool
	}{
		{[]string{"", "1 пара"}, 1, true},
		{[]string{"", "7пара"}, 7, true},
		{[]string{"", "8 пара"}, 0, false},
		{[]string{"", "0 пара"}, 0, false},
		{[]string{"", "Итого"}, 0, false},
	}

	for _, tt := range tests {
		got, ok := rowPair(tt.cells)
		assert.Equal(t, tt.ok, ok, "%v", tt.cells)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestParseOccupancyTable_NoTable(t *testing.T) {
	_, err := ParseOccupancyTable(strings.NewReader("<html><body>нет данных</body></html>"), "2")
	assert.True(t, errors.Is(err, apperrors.ErrNoTable))

	_, err = ParseOccupancyTable(strings.NewReader(`<table><tr><td>a</td></tr><tr><td>Интервал</td></tr></table>`), "2")
	assert.True(t, errors.Is(err, apperrors.ErrNoTable))
}

const occupancyIndex = `<html><body>
<a href="/reports/schedule/room/2_1_16022026_01032026.html">Корпус 2</a>
<a href="/reports/schedule/room/2_1_02022026_15022026.html">Корпус 2</a>
<a href="/reports/schedule/room/2_1_16022026_01032026.html">дубль</a>
<a href="https://www.vyatsu.ru/reports/schedule/room/15_2_16022026_01032026.html">Корпус 15</a>
<a href="/reports/schedule/room/3_1_99999999_01032026.html">Корпус 3</a>
<a href="/reports/schedule/Group/11_1_02092024_15092024.pdf">pdf</a>
</body></html>`

func TestParseOccupancyIndex(t *testing.T) {
	reports, err := ParseOccupancyIndex(strings.NewReader(occupancyIndex), "https://www.vyatsu.ru/")
	require.NoError(t, err)
	require.Len(t, reports, 4)

	first := reports[0]
	assert.Equal(t, "2", first.Building)
	assert.Equal(t, "1", first.Variant)
	assert.Equal(t, time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC), first.Start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), first.End)
	assert.Equal(t, "https://www.vyatsu.ru/reports/schedule/room/2_1_16022026_01032026.html", first.URL)
	assert.Equal(t, "2_1_16022026_01032026.html", first.Filename)

	assert.Equal(t, "15", reports[2].Building)

	// unreadable dates leave the report undated
	assert.Equal(t, "3", reports[3].Building)
	assert.True(t, reports[3].Start.IsZero())
}

func TestSelectCurrentReports(t *testing.T) {
	d := func(m time.Month, day int) time.Time { return time.Date(2026, m, day, 0, 0, 0, 0, time.UTC) }
	reports := []OccupancyReport{
		{Building: "2", Start: d(2, 2), End: d(2, 15), Filename: "old"},
		{Building: "2", Start: d(2, 16), End: d(3, 1), Filename: "current"},
		{Building: "2", Start: d(3, 2), End: d(3, 15), Filename: "next"},
		{Building: "2", Start: d(3, 16), End: d(3, 29), Filename: "far"},
		{Building: "15", Start: d(2, 16), End: d(3, 1), Filename: "b15"},
		{Building: "3", Filename: "undated"},
	}
	today := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

	got := SelectCurrentReports(reports, today, 24*time.Hour, 14*24*time.Hour, 3)

	var names []string
	for _, r := range got {
		names = append(names, r.Filename)
	}
	assert.Equal(t, []string{"next", "current", "b15"}, names)
}

func TestSelectCurrentReports_FallbackAndLimit(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }
	reports := []OccupancyReport{
		{Building: "2", Start: d(1), End: d(2), Filename: "a"},
		{Building: "2", Start: d(3), End: d(4), Filename: "b"},
		{Building: "2", Start: d(5), End: d(6), Filename: "c"},
		{Building: "2", Start: d(7), End: d(8), Filename: "d"},
		{Building: "ФОК", Filename: "e"},
	}

	got := SelectCurrentReports(reports, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), 24*time.Hour, 14*24*time.Hour, 3)

	var names []string
	for _, r := range got {
		names = append(names, r.Filename)
	}
	assert.Equal(t, []string{"d", "c", "b", "e"}, names)
}
