package parser

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/piculi-bot/piculi-engine/pkg/models"
)

var reportLinkPattern = regexp.MustCompile(`/reports/schedule/room/\d+_\d+_\d+_\d+\.html`)

// OccupancyReport is one room occupancy report listed on the index page.
// Start and End are zero when the file name carries no readable dates.
type OccupancyReport struct {
	Building string
	Variant  string
	Start    time.Time
	End      time.Time
	URL      string
	Filename string
}

func (r OccupancyReport) dated() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// ParseOccupancyIndex lists the report links on the occupancy index page.
// File names look like 2_1_16022026_01032026.html:
// building, variant, first day, last day.
func ParseOccupancyIndex(r io.Reader, baseURL string) ([]OccupancyReport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse occupancy index: %w", err)
	}

	seen := make(map[string]bool)
	var reports []OccupancyReport
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !reportLinkPattern.MatchString(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true

		filename := path.Base(ref.Path)
		parts := strings.Split(strings.TrimSuffix(filename, ".html"), "_")
		if len(parts) < 4 {
			return
		}
		report := OccupancyReport{
			Building: parts[0],
			Variant:  parts[1],
			URL:      abs,
			Filename: filename,
		}
		start, errStart := time.Parse("02012006", parts[2])
		end, errEnd := time.Parse("02012006", parts[3])
		if errStart == nil && errEnd == nil {
			report.Start, report.End = start, end
		}
		reports = append(reports, report)
	})
	return reports, nil
}

// SelectCurrentReports picks, per building, up to maxPerBuilding reports
// covering the window [today-lookback, today+lookahead], newest first.
// When no dated report overlaps the window every report is a candidate.
func SelectCurrentReports(reports []OccupancyReport, today time.Time, lookback, lookahead time.Duration, maxPerBuilding int) []OccupancyReport {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	from, until := day.Add(-lookback), day.Add(lookahead)

	var candidates []OccupancyReport
	for _, r := range reports {
		if r.dated() && !r.End.Before(from) && !r.Start.After(until) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		candidates = reports
	}

	byBuilding := make(map[string][]OccupancyReport)
	var buildings []string
	for _, r := range candidates {
		if _, ok := byBuilding[r.Building]; !ok {
			buildings = append(buildings, r.Building)
		}
		byBuilding[r.Building] = append(byBuilding[r.Building], r)
	}
	models.SortBuildings(buildings)

	var out []OccupancyReport
	for _, b := range buildings {
		list := byBuilding[b]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start.After(list[j].Start) })
		if maxPerBuilding > 0 && len(list) > maxPerBuilding {
			list = list[:maxPerBuilding]
		}
		out = append(out, list...)
	}
	return out
}
