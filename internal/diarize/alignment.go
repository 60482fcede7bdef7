package diarize

import (
	"context"
	"fmt"

	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/transcript"
)

// UnknownSpeaker labels turns no model span covers.
const UnknownSpeaker = "UNKNOWN"

// Alignment labels turns from diarization model spans.
type Alignment struct {
	source  SpanSource
	metrics *metrics.Metrics
}

// NewAlignment builds a model-backed labeler.
func NewAlignment(source SpanSource, m *metrics.Metrics) *Alignment {
	return &Alignment{source: source, metrics: m}
}

// Name implements Labeler.
func (a *Alignment) Name() string { return ModeModel }

// Label implements Labeler.
func (a *Alignment) Label(ctx context.Context, audioPath string, turns []transcript.Turn) ([]transcript.Turn, error) {
	spans, err := a.source.Diarize(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("diarize %s: %w", audioPath, err)
	}
	if len(spans) == 0 {
		return nil, ErrNoSpans
	}
	out := AssignSpans(turns, spans)
	a.metrics.ObserveLabels(a.Name(), len(out))
	return out, nil
}

// AssignSpans returns a labeled copy of turns. Each turn takes the speaker of the
// span that contains its midpoint and overlaps it most (first wins ties); raw model
// labels are then renamed Pessoa1, Pessoa2, ... in order of first appearance.
func AssignSpans(turns []transcript.Turn, spans []transcript.SpeakerSpan) []transcript.Turn {
	out := transcript.Clone(turns)
	for i := range out {
		out[i].Speaker = bestSpan(out[i], spans)
	}

	names := map[string]string{}
	for i := range out {
		raw := out[i].Speaker
		if raw == UnknownSpeaker {
			continue
		}
		name, ok := names[raw]
		if !ok {
			name = fmt.Sprintf("Pessoa%d", len(names)+1)
			names[raw] = name
		}
		out[i].Speaker = name
	}
	return out
}

func bestSpan(turn transcript.Turn, spans []transcript.SpeakerSpan) string {
	mid := turn.Midpoint()
	best := UnknownSpeaker
	bestOverlap := 0.0
	for _, span := range spans {
		if !span.Contains(mid) {
			continue
		}
		if overlap := span.Overlap(turn.Start, turn.End); overlap > bestOverlap {
			bestOverlap = overlap
			best = span.Speaker
		}
	}
	return best
}
