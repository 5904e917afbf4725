// Package parser turns the university's published documents into records.
//
// Everything here is pure: functions take bytes or strings and return
// values. Fetching, persistence and logging live in the services package.
package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// wordStart matches the position before a word the way a Unicode-aware \b
// does when the next character is a word character. Go's \b only knows ASCII.
const wordStart = `(?:^|[^\p{L}\p{N}_])`

// wordEnd is the trailing counterpart of wordStart.
const wordEnd = `(?:[^\p{L}\p{N}_]|$)`

// CleanString drops underscores and carriage returns, turns NBSP and newlines
// into spaces and collapses runs of whitespace.
func CleanString(s string) string {
	if s == "" {
		return ""
	}
	s = strings.NewReplacer(
		"_", "",
		"\u00a0", " ",
		"\n", " ",
		"\r", "",
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCell prepares an extracted table cell: newlines become spaces,
// carriage returns are dropped and the result is trimmed.
func NormalizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s)
}

// strippedText concatenates every text node under n, each trimmed, skipping
// empty ones. This is how cell and label text is read from the site's HTML.
func strippedText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func ptr(s string) *string {
	return &s
}
