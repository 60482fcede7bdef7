package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/fsm"
	"github.com/rbright/escuta/internal/ipc"
	"github.com/rbright/escuta/internal/segment"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}

type fakeStream struct {
	mu     sync.Mutex
	sink   audio.FrameSink
	closed bool
	frames int
}

func (s *fakeStream) push(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sink(samples)
	s.frames += len(samples)
	return true
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (o *fakeOpener) Open(_ context.Context, format audio.Format, sink audio.FrameSink) (audio.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	if format != testFormat {
		return nil, errors.New("unexpected format")
	}
	s := &fakeStream{sink: sink}
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) current() *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	return o.streams[len(o.streams)-1]
}

func (o *fakeOpener) open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.streams {
		s.mu.Lock()
		if !s.closed {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type fakeJournal struct {
	mu    sync.Mutex
	calls []string
}

func (j *fakeJournal) record(call string) error {
	j.mu.Lock()
	j.calls = append(j.calls, call)
	j.mu.Unlock()
	return nil
}

func (j *fakeJournal) Begin(_ context.Context, _ string, patient string, _ audio.Format, _ time.Time) error {
	return j.record("begin:" + patient)
}
func (j *fakeJournal) Segment(_ context.Context, _ string, seg segment.Segment) error {
	return j.record("segment:" + filepath.Base(seg.Path))
}
func (j *fakeJournal) Finish(context.Context, string, combine.Result) error { return j.record("finish") }
func (j *fakeJournal) Fail(context.Context, string, error) error            { return j.record("fail") }
func (j *fakeJournal) Discard(context.Context, string) error                { return j.record("discard") }

func newTestRecorder(t *testing.T, dir string) (*Recorder, *fakeOpener, *fakeJournal) {
	t.Helper()
	opener := &fakeOpener{}
	journal := &fakeJournal{}
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	rec := NewRecorder(
		Config{OutputDir: dir, Format: testFormat, Now: func() time.Time { return now }},
		opener,
		combine.New(nil, nil, nil),
		WithJournal(journal),
	)
	return rec, opener, journal
}

func TestRecorderPauseResumeStopCombinesSegments(t *testing.T) {
	dir := t.TempDir()
	rec, opener, journal := newTestRecorder(t, dir)
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "Ana Souza"))
	require.Equal(t, fsm.StateRecording, rec.State())
	require.True(t, opener.current().push([]int16{1, 2, 3}))

	require.NoError(t, rec.Pause(ctx))
	require.Equal(t, fsm.StatePaused, rec.State())
	require.Len(t, rec.Segments(), 1)
	require.Equal(t, 0, opener.open())
	require.Equal(t, filepath.Join(dir, "Ana_Souza_20240203_040506_part1.wav"), rec.Segments()[0].Path)

	require.NoError(t, rec.Resume(ctx, ""))
	require.True(t, opener.current().push([]int16{4, 5}))

	result, err := rec.Stop(ctx, "")
	require.NoError(t, err)
	require.Equal(t, fsm.StateStopped, rec.State())
	require.Equal(t, 2, result.Segments)
	require.Equal(t, 5, result.Frames)
	require.Equal(t, filepath.Join(dir, "Ana_Souza_20240203_040506_completo.wav"), result.CombinedPath)
	require.Equal(t, 0, opener.open())

	samples, _, err := audio.ReadPCM(result.CombinedPath)
	require.NoError(t, err)
	require.Equal(t, []int16{1, 2, 3, 4, 5}, samples)

	require.Equal(t, []string{
		"begin:Ana_Souza",
		"segment:Ana_Souza_20240203_040506_part1.wav",
		"segment:Ana_Souza_20240203_040506_part2.wav",
		"finish",
	}, journal.calls)
	require.NotNil(t, rec.Status().LastResult)
}

func TestRecorderSegmentCountEqualsNonEmptyFlushes(t *testing.T) {
	rec, opener, _ := newTestRecorder(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	require.NoError(t, rec.Pause(ctx)) // empty
	require.NoError(t, rec.Resume(ctx, ""))
	opener.current().push([]int16{9})
	require.NoError(t, rec.Pause(ctx))
	require.NoError(t, rec.Resume(ctx, ""))
	require.NoError(t, rec.Pause(ctx)) // empty
	require.Len(t, rec.Segments(), 1)
	require.Equal(t, 1, rec.Segments()[0].Ordinal)

	result, err := rec.Stop(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, result.Segments)
	require.False(t, result.Enhanced)
}

func TestRecorderDoubleStartKeepsOneStream(t *testing.T) {
	rec, opener, _ := newTestRecorder(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	err := rec.Start(ctx, "p")
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
	require.Equal(t, fsm.StateRecording, rec.State())
	require.Len(t, opener.streams, 1)
	require.Equal(t, 1, opener.open())
}

func TestRecorderStartDeviceUnavailable(t *testing.T) {
	rec, opener, journal := newTestRecorder(t, t.TempDir())
	opener.err = errors.New("no pulse server")

	err := rec.Start(context.Background(), "p")
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	require.Contains(t, err.Error(), "no pulse server")
	require.Equal(t, fsm.StateIdle, rec.State())
	require.Empty(t, journal.calls)
}

func TestRecorderRejectsEmptyPatient(t *testing.T) {
	rec, opener, _ := newTestRecorder(t, t.TempDir())
	require.ErrorIs(t, rec.Start(context.Background(), "   "), segment.ErrEmptyPatient)
	require.Equal(t, fsm.StateIdle, rec.State())
	require.Empty(t, opener.streams)
}

func TestRecorderInvalidTransitionsLeaveState(t *testing.T) {
	rec, _, _ := newTestRecorder(t, t.TempDir())
	ctx := context.Background()

	require.ErrorIs(t, rec.Pause(ctx), fsm.ErrInvalidTransition)
	require.ErrorIs(t, rec.Resume(ctx, ""), fsm.ErrInvalidTransition)
	_, err := rec.Stop(ctx, "")
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
	require.Equal(t, fsm.StateIdle, rec.State())

	require.NoError(t, rec.Start(ctx, "p"))
	require.ErrorIs(t, rec.Clear(ctx), fsm.ErrInvalidTransition)
	require.ErrorIs(t, rec.Resume(ctx, ""), fsm.ErrInvalidTransition)
	require.Equal(t, fsm.StateRecording, rec.State())
}

func TestRecorderFlushFailureRestoresFramesForRetry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	rec, opener, _ := newTestRecorder(t, dir)
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	opener.current().push([]int16{7, 8})

	err := rec.Pause(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "p_20240203_040506_part1.wav")
	require.Contains(t, err.Error(), rec.Status().SessionID)
	require.Equal(t, fsm.StatePaused, rec.State())
	require.Empty(t, rec.Segments())
	require.Equal(t, 2, rec.Status().Buffered)

	_, err = rec.Stop(ctx, "")
	require.Error(t, err)
	require.Equal(t, fsm.StatePaused, rec.State())

	require.NoError(t, os.MkdirAll(dir, 0o700))
	result, err := rec.Stop(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, result.Frames)
}

func TestRecorderStopWithoutAudio(t *testing.T) {
	rec, _, journal := newTestRecorder(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	_, err := rec.Stop(ctx, "")
	require.ErrorIs(t, err, combine.ErrNoAudioCaptured)
	require.Equal(t, fsm.StateStopped, rec.State())
	require.Contains(t, journal.calls, "fail")

	require.NoError(t, rec.Clear(ctx))
	require.Equal(t, fsm.StateIdle, rec.State())
}

func TestRecorderClearKeepsFilesAndResets(t *testing.T) {
	dir := t.TempDir()
	rec, opener, journal := newTestRecorder(t, dir)
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	opener.current().push([]int16{1})
	require.NoError(t, rec.Pause(ctx))
	part := rec.Segments()[0].Path

	require.NoError(t, rec.Clear(ctx))
	require.Equal(t, fsm.StateIdle, rec.State())
	require.Empty(t, rec.Segments())
	require.Empty(t, rec.Status().SessionID)
	require.Equal(t, "discard", journal.calls[len(journal.calls)-1])

	_, err := os.Stat(part)
	require.NoError(t, err)

	require.NoError(t, rec.Start(ctx, "q"))
}

func TestRecorderPatientRenameOnResumeAndStop(t *testing.T) {
	dir := t.TempDir()
	rec, opener, _ := newTestRecorder(t, dir)
	ctx := context.Background()

	require.NoError(t, rec.Start(ctx, "p"))
	opener.current().push([]int16{1})
	require.NoError(t, rec.Pause(ctx))
	require.NoError(t, rec.Resume(ctx, "Joao Silva"))
	opener.current().push([]int16{2})

	result, err := rec.Stop(ctx, "Maria Lima")
	require.NoError(t, err)
	require.Equal(t, "Maria_Lima_20240203_040506_completo.wav", filepath.Base(result.CombinedPath))
	require.Equal(t, "Maria_Lima", rec.Status().Patient)
}

func TestRecorderCaptureDuringPauseResumeCycles(t *testing.T) {
	rec, opener, _ := newTestRecorder(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, rec.Start(ctx, "p"))

	var delivered atomic.Int64
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if s := opener.current(); s != nil && s.push([]int16{1, 1}) {
				delivered.Add(2)
			}
		}
	}()

	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, rec.Pause(ctx))
		require.NoError(t, rec.Resume(ctx, ""))
	}
	time.Sleep(2 * time.Millisecond)
	close(done)
	wg.Wait()

	result, err := rec.Stop(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int(delivered.Load()), result.Frames)
}

func TestHandleMapsCommands(t *testing.T) {
	rec, opener, _ := newTestRecorder(t, t.TempDir())
	ctx := context.Background()

	resp := rec.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Equal(t, "no active session", resp.Message)

	require.NoError(t, rec.Start(ctx, "p"))
	opener.current().push(make([]int16, 8000))

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Contains(t, resp.Message, "1.0s buffered")

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandPause})
	require.True(t, resp.OK)
	require.Equal(t, "paused", resp.State)

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandPause})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "invalid transition")

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandResume})
	require.True(t, resp.OK)
	require.Equal(t, "recording", resp.State)

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stopped", resp.State)
	require.True(t, strings.HasPrefix(resp.Message, "saved "))

	resp = rec.Handle(ctx, ipc.Request{Command: ipc.CommandClear})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	resp = rec.Handle(ctx, ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
