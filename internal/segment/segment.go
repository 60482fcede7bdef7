// Package segment names and tracks the per-pause audio files of one session.
package segment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
)

// TimestampLayout is the timestamp embedded in every session file name.
const TimestampLayout = "20060102_150405"

const (
	partInfix       = "_part"
	completeSuffix  = "_completo"
	enhancedSuffix  = "_normalizado"
	wavExtension    = ".wav"
	replacementRune = '_'
)

// ErrEmptyPatient reports a patient identifier with nothing left after normalization.
var ErrEmptyPatient = errors.New("patient identifier is empty")

// Segment is one flushed recording part. It is never modified after it is written.
type Segment struct {
	Ordinal    int
	Path       string
	Frames     int
	SampleRate int
	Channels   int
	CreatedAt  time.Time
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Frames) / float64(s.SampleRate)
}

// NormalizePatient makes a patient identifier safe inside a file name. Leading and
// trailing whitespace is trimmed first, so " ana" becomes "ana" rather than "_ana".
// Inner whitespace and the path separators '/' and '\' then become underscores,
// which keeps a name like "a/b" inside the output directory as "a_b".
func NormalizePatient(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyPatient
	}
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' || r == filepath.Separator {
			return replacementRune
		}
		return r
	}, trimmed)
	if strings.Trim(normalized, string(replacementRune)+".") == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyPatient, raw)
	}
	return normalized, nil
}

// PartName returns the file name of the ordinal-th part.
func PartName(patient string, at time.Time, ordinal int) string {
	return fmt.Sprintf("%s_%s%s%d%s", patient, at.Format(TimestampLayout), partInfix, ordinal, wavExtension)
}

// CompleteName returns the file name of the combined recording.
func CompleteName(patient string, at time.Time) string {
	return fmt.Sprintf("%s_%s%s%s", patient, at.Format(TimestampLayout), completeSuffix, wavExtension)
}

// EnhancedPath returns the _normalizado sibling of path.
func EnhancedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + enhancedSuffix + wavExtension
}

// IsPart reports whether name looks like a session part file.
func IsPart(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, wavExtension) && strings.Contains(base, partInfix)
}

// Store is the ordered list of segments flushed in one session.
type Store struct {
	mu       sync.RWMutex
	segments []Segment
}

// Append adds seg with the next ordinal and returns the stored copy.
func (s *Store) Append(seg Segment) Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg.Ordinal = len(s.segments) + 1
	s.segments = append(s.segments, seg)
	return seg
}

// NextOrdinal returns the ordinal the next Append will assign.
func (s *Store) NextOrdinal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments) + 1
}

// List returns a snapshot of all segments in order.
func (s *Store) List() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Paths returns the segment file paths in order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.segments))
	for i, seg := range s.segments {
		out[i] = seg.Path
	}
	return out
}

// Len returns the number of stored segments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// TotalFrames sums frames across all segments.
func (s *Store) TotalFrames() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, seg := range s.segments {
		total += seg.Frames
	}
	return total
}

// Reset forgets every segment. Files on disk are untouched.
func (s *Store) Reset() {
	s.mu.Lock()
	s.segments = nil
	s.mu.Unlock()
}
