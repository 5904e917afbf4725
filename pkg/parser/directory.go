package parser

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// The site writes the leading "c" in Latin or Cyrillic depending on the page.
var validityPattern = regexp.MustCompile(`[cс]\s+(\d{2})\s+(\d{2})\s+(\d{4})\s+по\s+(\d{2})\s+(\d{2})\s+(\d{4})`)

// ScheduleLink is one schedule document listed for a group.
type ScheduleLink struct {
	Group     string
	Text      string
	URL       string
	Filename  string
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// IsCurrent reports whether the link's validity window ended no earlier than
// validity before today. Links without a readable window are current.
func (l ScheduleLink) IsCurrent(today time.Time, validity time.Duration) bool {
	if l.ValidTo == nil {
		return true
	}
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return !l.ValidTo.Before(midnight.Add(-validity))
}

// ParseGroupLabels returns the distinct group labels on the schedule listing
// page, in page order.
func ParseGroupLabels(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	seen := make(map[string]bool)
	var labels []string
	doc.Find("div.grpPeriod").Each(func(_ int, s *goquery.Selection) {
		label := strippedText(s.Get(0))
		if label == "" || seen[label] {
			return
		}
		seen[label] = true
		labels = append(labels, label)
	})
	return labels, nil
}

// ParseScheduleDirectory collects the PDF links listed for the requested
// groups. An empty groups slice selects every group. Relative links are
// resolved against baseURL.
func ParseScheduleDirectory(r io.Reader, baseURL string, groups []string) ([]ScheduleLink, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	wanted := make(map[string]bool, len(groups))
	for _, g := range groups {
		wanted[g] = true
	}

	var links []ScheduleLink
	doc.Find("div.grpPeriod").Each(func(_ int, s *goquery.Selection) {
		group := strippedText(s.Get(0))
		if len(wanted) > 0 && !wanted[group] {
			return
		}
		periodID, ok := s.Attr("data-grp_period_id")
		if !ok {
			return
		}

		list := doc.Find(`div[id="listPeriod_` + periodID + `"]`).First()
		list.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if !strings.HasSuffix(href, ".pdf") {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref)

			text := strippedText(a.Get(0))
			from, to := parseValidity(text)
			links = append(links, ScheduleLink{
				Group:     group,
				Text:      text,
				URL:       abs.String(),
				Filename:  path.Base(abs.Path),
				ValidFrom: from,
				ValidTo:   to,
			})
		})
	})
	return links, nil
}

// parseValidity reads "c DD MM YYYY по DD MM YYYY". Either bound is nil when
// missing or not a real date.
func parseValidity(text string) (from, to *time.Time) {
	m := validityPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	return dmy(m[1], m[2], m[3]), dmy(m[4], m[5], m[6])
}

func dmy(d, m, y string) *time.Time {
	day, _ := strconv.Atoi(d)
	month, _ := strconv.Atoi(m)
	year, _ := strconv.Atoi(y)
	t, ok := calendarDate(year, month, day)
	if !ok {
		return nil
	}
	return &t
}
