package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ProgressSink receives coarse pipeline progress. fraction is in [0,1] or nil
// when the step has no meaningful fraction. Sinks are best-effort: the
// pipeline ignores their errors.
type ProgressSink interface {
	Report(ctx context.Context, message string, fraction *float64) error
}

// Fraction is a convenience for building the fraction argument.
func Fraction(f float64) *float64 {
	return &f
}

// NopProgress discards every report.
type NopProgress struct{}

func (NopProgress) Report(context.Context, string, *float64) error { return nil }

// LogProgress writes reports to a zap logger at info level.
type LogProgress struct {
	Logger *zap.Logger
}

func (p LogProgress) Report(_ context.Context, message string, fraction *float64) error {
	fields := []zap.Field{zap.String("step", message)}
	if fraction != nil {
		fields = append(fields, zap.Float64("fraction", *fraction))
	}
	p.Logger.Info("Pipeline progress", fields...)
	return nil
}

const barCells = 10

// BarProgress renders each report as the message followed by a ten-cell bar
// ("▓▓▓░░░░░░░ 30%") and forwards it to Write. A report that renders the same
// text as the previous one is dropped.
type BarProgress struct {
	Prefix string
	Write  func(ctx context.Context, text string) error

	mu   sync.Mutex
	last string
}

// NewBarProgress creates a bar sink forwarding rendered text to write.
func NewBarProgress(prefix string, write func(ctx context.Context, text string) error) *BarProgress {
	return &BarProgress{Prefix: prefix, Write: write}
}

func (p *BarProgress) Report(ctx context.Context, message string, fraction *float64) error {
	text := RenderProgress(p.Prefix, message, fraction)

	p.mu.Lock()
	if text == p.last {
		p.mu.Unlock()
		return nil
	}
	p.last = text
	p.mu.Unlock()

	return p.Write(ctx, text)
}

// RenderProgress formats one progress report.
func RenderProgress(prefix, message string, fraction *float64) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n")
	}
	b.WriteString(message)
	if fraction != nil {
		f := min(max(*fraction, 0), 1)
		filled := int(f * barCells)
		fmt.Fprintf(&b, "\n%s%s %d%%",
			strings.Repeat("▓", filled), strings.Repeat("░", barCells-filled), int(f*100))
	}
	return b.String()
}

// report calls the sink, swallowing its errors and panics.
func report(ctx context.Context, sink ProgressSink, logger *zap.Logger, message string, fraction *float64) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Progress sink panicked", zap.Any("panic", r))
		}
	}()
	if err := sink.Report(ctx, message, fraction); err != nil {
		logger.Debug("Progress sink failed", zap.Error(err))
	}
}
