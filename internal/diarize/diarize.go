// Package diarize assigns speaker labels to transcribed turns.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/transcript"
)

// Labeling modes.
const (
	ModeHeuristic = "heuristic"
	ModeModel     = "model"
)

// ErrNoSpans reports a diarization model that returned nothing usable.
var ErrNoSpans = errors.New("diarization returned no speaker spans")

// Labeler assigns Speaker on a copy of turns. The input slice is never modified.
type Labeler interface {
	Name() string
	Label(ctx context.Context, audioPath string, turns []transcript.Turn) ([]transcript.Turn, error)
}

// SpanSource runs a diarization model over an audio file.
type SpanSource interface {
	Diarize(ctx context.Context, audioPath string) ([]transcript.SpeakerSpan, error)
}

// Vocabulary is the pair of labels the pause heuristic alternates between.
type Vocabulary struct {
	Name   string
	First  string
	Second string
}

// Built-in vocabularies.
var (
	Roles   = Vocabulary{Name: "roles", First: "Terapeuta", Second: "Paciente"}
	Neutral = Vocabulary{Name: "neutral", First: "Pessoa1", Second: "Pessoa2"}
)

// VocabularyByName resolves "roles" or "neutral".
func VocabularyByName(name string) (Vocabulary, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Roles.Name:
		return Roles, nil
	case Neutral.Name:
		return Neutral, nil
	default:
		return Vocabulary{}, fmt.Errorf("unknown speaker vocabulary %q (want roles or neutral)", name)
	}
}

func (v Vocabulary) other(label string) string {
	if label == v.First {
		return v.Second
	}
	return v.First
}

// Config selects a labeler.
type Config struct {
	Mode       string
	Vocabulary string
}

// New builds the labeler for cfg. Model mode needs a span source and always falls
// back to the pause heuristic.
func New(cfg Config, source SpanSource, logger *slog.Logger, m *metrics.Metrics) (Labeler, error) {
	vocab, err := VocabularyByName(cfg.Vocabulary)
	if err != nil {
		return nil, err
	}
	heuristic := NewPauseHeuristic(vocab, m)

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeHeuristic:
		return heuristic, nil
	case ModeModel:
		if source == nil {
			return nil, errors.New("diarization mode model requires a diarization service")
		}
		return NewFallback(NewAlignment(source, m), heuristic, logger, m), nil
	default:
		return nil, fmt.Errorf("unknown diarization mode %q (want heuristic or model)", cfg.Mode)
	}
}
