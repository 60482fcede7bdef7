// Package session owns one recording session: the capture stream, the frame buffer,
// the segment list, and the pause/resume/stop lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/fsm"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/segment"
)

// ErrDeviceUnavailable wraps failures to open the input stream.
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// Opener starts a capture stream delivering frames to sink.
type Opener interface {
	Open(ctx context.Context, format audio.Format, sink audio.FrameSink) (audio.Stream, error)
}

// Combiner merges the flushed segments on stop.
type Combiner interface {
	Combine(ctx context.Context, req combine.Request) (combine.Result, error)
}

// Journal records session progress for later recovery. Errors are logged only.
type Journal interface {
	Begin(ctx context.Context, id, patient string, format audio.Format, createdAt time.Time) error
	Segment(ctx context.Context, id string, seg segment.Segment) error
	Finish(ctx context.Context, id string, result combine.Result) error
	Fail(ctx context.Context, id string, cause error) error
	Discard(ctx context.Context, id string) error
}

// Config is the per-owner recorder configuration.
type Config struct {
	OutputDir string
	Format    audio.Format
	Now       func() time.Time
}

// Status is a point-in-time view of the recorder.
type Status struct {
	State      fsm.State
	SessionID  string
	Patient    string
	StartedAt  time.Time
	Segments   int
	Frames     int
	Buffered   int
	LastResult *combine.Result
}

// Recorder drives a session through idle, recording, paused, and stopped.
//
// Control operations are serialized by opMu, so at most one flush is in flight.
// The capture callback only touches the frame buffer.
type Recorder struct {
	cfg      Config
	logger   *slog.Logger
	opener   Opener
	combiner Combiner
	journal  Journal
	metrics  *metrics.Metrics

	opMu sync.Mutex

	mu         sync.RWMutex
	state      fsm.State
	sessionID  string
	patient    string
	startedAt  time.Time
	stream     audio.Stream
	lastResult *combine.Result

	buffer audio.FrameBuffer
	store  segment.Store
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithJournal sets the session journal.
func WithJournal(journal Journal) Option {
	return func(r *Recorder) { r.journal = journal }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder constructs an idle recorder.
func NewRecorder(cfg Config, opener Opener, combiner Combiner, opts ...Option) *Recorder {
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}
	if cfg.Format.BitDepth == 0 {
		cfg.Format.BitDepth = audio.DefaultBitDepth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Recorder{
		cfg:      cfg,
		opener:   opener,
		combiner: combiner,
		state:    fsm.StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.journal == nil {
		r.journal = nopJournal{}
	}
	return r
}

// State returns the current state.
func (r *Recorder) State() fsm.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Segments returns the segments flushed so far.
func (r *Recorder) Segments() []segment.Segment {
	return r.store.List()
}

// Status returns a snapshot for status reporting.
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		State:      r.state,
		SessionID:  r.sessionID,
		Patient:    r.patient,
		StartedAt:  r.startedAt,
		Segments:   r.store.Len(),
		Frames:     r.store.TotalFrames(),
		Buffered:   r.cfg.Format.Frames(r.buffer.Len()),
		LastResult: r.lastResult,
	}
}

// Start begins a new session for patient. Only valid from idle.
func (r *Recorder) Start(ctx context.Context, patient string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.allow(fsm.EventStart); err != nil {
		return err
	}
	normalized, err := segment.NormalizePatient(patient)
	if err != nil {
		return err
	}

	r.buffer.Reset()
	r.store.Reset()

	stream, err := r.opener.Open(ctx, r.cfg.Format, r.onFrames)
	if err != nil {
		r.metrics.ObserveTransition(string(fsm.EventStart), err)
		r.logger.Error("open input stream failed", "patient", normalized, "error", err.Error())
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	now := r.cfg.Now()
	id := uuid.NewString()

	r.mu.Lock()
	r.sessionID = id
	r.patient = normalized
	r.startedAt = now
	r.stream = stream
	r.lastResult = nil
	r.mu.Unlock()
	r.apply(fsm.EventStart)

	r.journalErr("begin", r.journal.Begin(ctx, id, normalized, r.cfg.Format, now))
	r.logger.Info("session started",
		"session_id", id,
		"patient", normalized,
		"sample_rate", r.cfg.Format.SampleRate,
		"channels", r.cfg.Format.Channels,
	)
	return nil
}

// Pause closes the stream and flushes buffered frames into a new segment.
//
// The session is paused even when the flush fails; the frames stay buffered so a
// later stop can retry the write.
func (r *Recorder) Pause(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.allow(fsm.EventPause); err != nil {
		return err
	}
	r.closeStream()
	r.apply(fsm.EventPause)

	seg, err := r.flush(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("session paused", "session_id", r.currentID(), "segment", seg.Path, "segments", r.store.Len())
	return nil
}

// Resume reopens the stream. A non-empty patient replaces the session's patient.
func (r *Recorder) Resume(ctx context.Context, patient string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.allow(fsm.EventResume); err != nil {
		return err
	}
	if err := r.rename(patient); err != nil {
		return err
	}

	stream, err := r.opener.Open(ctx, r.cfg.Format, r.onFrames)
	if err != nil {
		r.metrics.ObserveTransition(string(fsm.EventResume), err)
		r.logger.Error("reopen input stream failed", "session_id", r.currentID(), "error", err.Error())
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	r.apply(fsm.EventResume)

	r.logger.Info("session resumed", "session_id", r.currentID(), "segments", r.store.Len())
	return nil
}

// Stop closes the stream, flushes the final segment, and combines the session.
//
// A failed final flush leaves the session paused with its frames buffered so stop can
// be retried. A combine failure leaves the session stopped with its segments on disk.
func (r *Recorder) Stop(ctx context.Context, patient string) (combine.Result, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.allow(fsm.EventStop); err != nil {
		return combine.Result{}, err
	}
	if err := r.rename(patient); err != nil {
		return combine.Result{}, err
	}

	wasRecording := r.State() == fsm.StateRecording
	r.closeStream()
	if _, err := r.flush(ctx); err != nil {
		if wasRecording {
			r.apply(fsm.EventPause)
		}
		return combine.Result{}, err
	}
	r.apply(fsm.EventStop)

	id, patientName := r.currentID(), r.currentPatient()
	result, err := r.combiner.Combine(ctx, combine.Request{
		Patient:   patientName,
		SessionID: id,
		Segments:  r.store.Paths(),
		OutputDir: r.cfg.OutputDir,
		Timestamp: r.cfg.Now(),
	})
	if err != nil {
		r.journalErr("fail", r.journal.Fail(ctx, id, err))
		return combine.Result{}, fmt.Errorf("combine session %s: %w", id, err)
	}

	r.mu.Lock()
	r.lastResult = &result
	r.mu.Unlock()

	r.journalErr("finish", r.journal.Finish(ctx, id, result))
	r.logger.Info("session stopped",
		"session_id", id,
		"patient", patientName,
		"segments", result.Segments,
		"canonical", result.CanonicalPath,
		"enhanced", result.Enhanced,
	)
	return result, nil
}

// Clear discards the session and returns to idle. Files on disk are kept.
func (r *Recorder) Clear(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.allow(fsm.EventClear); err != nil {
		return err
	}

	id := r.currentID()
	r.closeStream()
	r.buffer.Reset()
	r.store.Reset()

	r.mu.Lock()
	r.sessionID = ""
	r.patient = ""
	r.startedAt = time.Time{}
	r.lastResult = nil
	r.mu.Unlock()
	r.apply(fsm.EventClear)

	if id != "" {
		r.journalErr("discard", r.journal.Discard(ctx, id))
		r.logger.Info("session cleared", "session_id", id)
	}
	return nil
}

// onFrames is the capture callback.
func (r *Recorder) onFrames(samples []int16) {
	r.buffer.Append(samples)
	r.metrics.AddFrames(r.cfg.Format.Frames(len(samples)))
}

// flush swaps the buffer and writes it as the next segment. An empty buffer writes
// nothing. On failure the frames go back to the front of the buffer.
func (r *Recorder) flush(ctx context.Context) (segment.Segment, error) {
	samples := r.buffer.Swap()
	if len(samples) == 0 {
		return segment.Segment{}, nil
	}

	now := r.cfg.Now()
	ordinal := r.store.NextOrdinal()
	id := r.currentID()
	path := filepath.Join(r.cfg.OutputDir, segment.PartName(r.currentPatient(), now, ordinal))

	started := time.Now()
	err := audio.WritePCM(path, samples, r.cfg.Format)
	r.metrics.ObserveFlush(time.Since(started), err)
	if err != nil {
		r.buffer.Restore(samples)
		r.logger.Error("segment flush failed", "session_id", id, "path", path, "error", err.Error())
		return segment.Segment{}, fmt.Errorf("flush segment %s (session %s): %w", path, id, err)
	}

	seg := r.store.Append(segment.Segment{
		Path:       path,
		Frames:     r.cfg.Format.Frames(len(samples)),
		SampleRate: r.cfg.Format.SampleRate,
		Channels:   r.cfg.Format.Channels,
		CreatedAt:  now,
	})
	r.journalErr("segment", r.journal.Segment(ctx, id, seg))
	return seg, nil
}

// allow checks event against the current state, logging and counting rejections.
func (r *Recorder) allow(event fsm.Event) error {
	state := r.State()
	if err := fsm.Allowed(state, event); err != nil {
		r.metrics.ObserveTransition(string(event), err)
		r.logger.Warn("invalid transition", "state", string(state), "event", string(event), "session_id", r.currentID())
		return err
	}
	return nil
}

// apply moves the state machine. Callers have already checked the event.
func (r *Recorder) apply(event fsm.Event) {
	r.mu.Lock()
	next, err := fsm.Transition(r.state, event)
	if err == nil {
		r.state = next
	}
	r.mu.Unlock()
	r.metrics.ObserveTransition(string(event), err)
}

func (r *Recorder) rename(patient string) error {
	if patient == "" {
		return nil
	}
	normalized, err := segment.NormalizePatient(patient)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patient = normalized
	r.mu.Unlock()
	return nil
}

func (r *Recorder) closeStream() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		r.logger.Warn("close input stream failed", "error", err.Error())
	}
}

func (r *Recorder) currentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

func (r *Recorder) currentPatient() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.patient
}

func (r *Recorder) journalErr(op string, err error) {
	if err != nil {
		r.logger.Warn("session journal write failed", "op", op, "session_id", r.currentID(), "error", err.Error())
	}
}

type nopJournal struct{}

func (nopJournal) Begin(context.Context, string, string, audio.Format, time.Time) error { return nil }
func (nopJournal) Segment(context.Context, string, segment.Segment) error            { return nil }
func (nopJournal) Finish(context.Context, string, combine.Result) error              { return nil }
func (nopJournal) Fail(context.Context, string, error) error                         { return nil }
func (nopJournal) Discard(context.Context, string) error                             { return nil }
