package catalog

import "time"

// Session states stored in the catalog.
const (
	StateRecording = "recording"
	StateFinished  = "finished"
	StateFailed    = "failed"
	StateDiscarded = "discarded"
)

// Session is one journaled recording session.
type Session struct {
	ID            string
	Patient       string
	SampleRate    int
	Channels      int
	State         string
	CombinedPath  string
	CanonicalPath string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Segments      []Segment
}

// Segment is one part file recorded for a session.
type Segment struct {
	SessionID  string
	Ordinal    int
	Path       string
	Frames     int
	SampleRate int
	CreatedAt  time.Time
}
