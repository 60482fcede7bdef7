package diarize

import (
	"context"
	"math"

	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/transcript"
)

// Pause heuristic thresholds, in seconds.
const (
	LongPause        = 1.5
	DurationShift    = 2.0
	AlternationPause = 0.8
)

// PauseHeuristic guesses speaker changes from pause length and turn duration.
//
// Turn 0 takes the vocabulary's first label. Each later turn switches speaker when
// the gap before it exceeds LongPause, when its duration differs from the previous
// turn's by more than DurationShift, or when its index is odd and the gap exceeds
// AlternationPause.
type PauseHeuristic struct {
	vocab   Vocabulary
	metrics *metrics.Metrics
}

// NewPauseHeuristic builds a heuristic labeler over vocab.
func NewPauseHeuristic(vocab Vocabulary, m *metrics.Metrics) *PauseHeuristic {
	return &PauseHeuristic{vocab: vocab, metrics: m}
}

// Name implements Labeler.
func (h *PauseHeuristic) Name() string { return ModeHeuristic }

// Label implements Labeler. It never fails.
func (h *PauseHeuristic) Label(_ context.Context, _ string, turns []transcript.Turn) ([]transcript.Turn, error) {
	out := h.Assign(turns)
	h.metrics.ObserveLabels(h.Name(), len(out))
	return out, nil
}

// Assign returns a labeled copy of turns.
func (h *PauseHeuristic) Assign(turns []transcript.Turn) []transcript.Turn {
	out := transcript.Clone(turns)
	if len(out) == 0 {
		return out
	}

	current := h.vocab.First
	out[0].Speaker = current
	for i := 1; i < len(out); i++ {
		prev := out[i-1]
		pause := out[i].Start - prev.End

		if pause > LongPause ||
			math.Abs(out[i].Duration()-prev.Duration()) > DurationShift ||
			(i%2 == 1 && pause > AlternationPause) {
			current = h.vocab.other(current)
		}
		out[i].Speaker = current
	}
	return out
}
