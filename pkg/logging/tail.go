package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
)

const (
	DefaultTailLines = 20
	MinTailLines     = 5
	MaxTailLines     = 100
)

// DefaultTailKeywords select the ingestion-related entries of the log.
var DefaultTailKeywords = []string{"pipeline", "parser", "scheduler"}

// ClampTailLines applies the default and the [MinTailLines, MaxTailLines] bounds.
func ClampTailLines(n int) int {
	switch {
	case n <= 0:
		return DefaultTailLines
	case n < MinTailLines:
		return MinTailLines
	case n > MaxTailLines:
		return MaxTailLines
	}
	return n
}

// TailFile returns the last lines of the log file at path that contain any of
// keywords, case-insensitively, oldest first. A nil keywords slice uses
// DefaultTailKeywords; an empty non-nil one matches every line.
// A missing file yields apperrors.ErrNotFound.
func TailFile(path string, lines int, keywords []string) ([]string, error) {
	lines = ClampTailLines(lines)
	if keywords == nil {
		keywords = DefaultTailKeywords
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("log file %s: %w", path, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, lines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !matchesAny(strings.ToLower(line), lowered) {
			continue
		}
		if len(ring) == lines {
			copy(ring, ring[1:])
			ring = ring[:lines-1]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring, nil
}

func matchesAny(line string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(line, k) {
			return true
		}
	}
	return false
}
