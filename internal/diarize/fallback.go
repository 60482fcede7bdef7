package diarize

import (
	"context"
	"log/slog"

	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/transcript"
)

// Fallback tries the primary labeler and answers with the secondary on any error.
type Fallback struct {
	primary   Labeler
	secondary Labeler
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewFallback chains primary and secondary.
func NewFallback(primary, secondary Labeler, logger *slog.Logger, m *metrics.Metrics) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger, metrics: m}
}

// Name implements Labeler.
func (f *Fallback) Name() string { return f.primary.Name() }

// Label implements Labeler.
func (f *Fallback) Label(ctx context.Context, audioPath string, turns []transcript.Turn) ([]transcript.Turn, error) {
	out, err := f.primary.Label(ctx, audioPath, turns)
	if err == nil {
		return out, nil
	}

	f.metrics.ObserveLabelerFallback()
	if f.logger != nil {
		f.logger.Warn("speaker labeling fell back",
			"primary", f.primary.Name(),
			"fallback", f.secondary.Name(),
			"audio", audioPath,
			"error", err.Error(),
		)
	}
	return f.secondary.Label(ctx, audioPath, turns)
}
