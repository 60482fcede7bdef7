// Package transcript holds transcribed turns and renders labeled turns as a
// readable session report.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Turn is one transcribed utterance. Only Speaker is assigned by labelers.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Duration returns End-Start in seconds.
func (t Turn) Duration() float64 {
	return t.End - t.Start
}

// Midpoint returns the centre of the turn in seconds.
func (t Turn) Midpoint() float64 {
	return (t.Start + t.End) / 2
}

// SpeakerSpan is one diarization model segment.
type SpeakerSpan struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Overlap returns how many seconds the span shares with [start, end].
func (s SpeakerSpan) Overlap(start, end float64) float64 {
	lo := max(s.Start, start)
	hi := min(s.End, end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Contains reports whether t falls inside the span, inclusive.
func (s SpeakerSpan) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// Clone returns a copy of turns.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// SortByStart returns a copy of turns ordered by start time. Turns that start
// together keep their input order.
func SortByStart(turns []Turn) []Turn {
	out := Clone(turns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// LoadTurns reads a JSON array of turns, or an object with a "segments" array, and
// returns them ordered by start time.
func LoadTurns(path string) ([]Turn, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err == nil {
		return SortByStart(turns), nil
	}

	var wrapped struct {
		Segments []Turn `json:"segments"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode turns %s: %w", path, err)
	}
	return SortByStart(wrapped.Segments), nil
}
