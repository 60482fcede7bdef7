package combine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/enhance"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

type fakeEnhancer struct {
	calls  []string
	err    error
	ctxErr error
}

func (f *fakeEnhancer) Process(ctx context.Context, path string) (enhance.Output, error) {
	f.calls = append(f.calls, path)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return enhance.Output{}, f.err
	}
	return enhance.Output{Path: path + ".enhanced", Enhanced: true}, nil
}

func writePart(t *testing.T, dir, name string, samples []int16, rate int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, audio.WritePCM(path, samples, audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16}))
	return path
}

func TestCombineNoSegments(t *testing.T) {
	_, err := New(nil, nil, nil).Combine(context.Background(), Request{Patient: "ana"})
	require.ErrorIs(t, err, ErrNoAudioCaptured)
}

func TestCombineSingleSegmentIsByteIdenticalRename(t *testing.T) {
	dir := t.TempDir()
	part := writePart(t, dir, "ana_20240506_070000_part1.wav", []int16{1, 2, 3, 4}, 44100)
	want, err := os.ReadFile(part)
	require.NoError(t, err)

	enhancer := &fakeEnhancer{}
	result, err := New(enhancer, nil, nil).Combine(context.Background(), Request{
		Patient:   "ana",
		Segments:  []string{part},
		OutputDir: dir,
		Timestamp: stamp,
	})
	require.NoError(t, err)

	wantPath := filepath.Join(dir, "ana_20240506_070809_completo.wav")
	require.Equal(t, wantPath, result.CombinedPath)
	require.Equal(t, wantPath, result.CanonicalPath)
	require.False(t, result.Enhanced)
	require.Equal(t, 1, result.Segments)
	require.Equal(t, 4, result.Frames)
	require.Empty(t, enhancer.calls)

	got, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
	_, err = os.Stat(part)
	require.True(t, os.IsNotExist(err))
}

func TestCombineConcatenatesInOrderAndEnhances(t *testing.T) {
	dir := t.TempDir()
	parts := []string{
		writePart(t, dir, "ana_20240506_070000_part1.wav", []int16{1, 2, 3}, 44100),
		writePart(t, dir, "ana_20240506_070010_part2.wav", []int16{4, 5}, 44100),
		writePart(t, dir, "ana_20240506_070020_part3.wav", []int16{6}, 44100),
	}

	m := metrics.New()
	enhancer := &fakeEnhancer{}
	result, err := New(enhancer, nil, m).Combine(context.Background(), Request{
		Patient:   "ana",
		SessionID: "s-1",
		Segments:  parts,
		OutputDir: dir,
		Timestamp: stamp,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Segments)
	require.Equal(t, 6, result.Frames)
	require.Equal(t, 44100, result.SampleRate)
	require.True(t, result.Enhanced)
	require.Equal(t, result.CombinedPath+".enhanced", result.CanonicalPath)
	require.Equal(t, []string{result.CombinedPath}, enhancer.calls)

	samples, _, err := audio.ReadPCM(result.CombinedPath)
	require.NoError(t, err)
	require.Equal(t, []int16{1, 2, 3, 4, 5, 6}, samples)

	for _, part := range parts {
		_, err := os.Stat(part)
		require.True(t, os.IsNotExist(err), part)
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.Combines.WithLabelValues("ok")))
}

func TestCombineSampleRateMismatchLeavesInputs(t *testing.T) {
	dir := t.TempDir()
	first := writePart(t, dir, "p_part1.wav", []int16{1}, 44100)
	second := writePart(t, dir, "p_part2.wav", []int16{2}, 48000)

	_, err := New(nil, nil, nil).Combine(context.Background(), Request{
		Patient:   "p",
		Segments:  []string{first, second},
		OutputDir: dir,
		Timestamp: stamp,
	})
	require.ErrorIs(t, err, ErrSampleRateMismatch)

	var mismatch *SampleRateMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, second, mismatch.Path)
	require.Equal(t, 44100, mismatch.Expected)
	require.Equal(t, 48000, mismatch.Actual)

	for _, path := range []string{first, second} {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
	_, err = os.Stat(filepath.Join(dir, "p_20240506_070809_completo.wav"))
	require.True(t, os.IsNotExist(err))
}

func TestCombineChannelMismatch(t *testing.T) {
	dir := t.TempDir()
	first := writePart(t, dir, "p_part1.wav", []int16{1}, 16000)
	second := filepath.Join(dir, "p_part2.wav")
	require.NoError(t, audio.WritePCM(second, []int16{1, 2}, audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 16}))

	_, err := New(nil, nil, nil).Combine(context.Background(), Request{Patient: "p", Segments: []string{first, second}, Timestamp: stamp})
	require.ErrorIs(t, err, ErrChannelMismatch)
	require.NotErrorIs(t, err, ErrSampleRateMismatch)
}

func TestCombineEnhancerFailureKeepsCombinedCanonical(t *testing.T) {
	dir := t.TempDir()
	parts := []string{
		writePart(t, dir, "p_part1.wav", []int16{1}, 16000),
		writePart(t, dir, "p_part2.wav", []int16{2}, 16000),
	}

	result, err := New(&fakeEnhancer{err: errors.New("boom")}, nil, nil).Combine(context.Background(), Request{
		Patient:   "p",
		Segments:  parts,
		Timestamp: stamp,
	})
	require.NoError(t, err)
	require.False(t, result.Enhanced)
	require.Equal(t, result.CombinedPath, result.CanonicalPath)
	require.Equal(t, dir, filepath.Dir(result.CombinedPath))
}

func TestCombineFallbackCopyIsNotEnhanced(t *testing.T) {
	dir := t.TempDir()
	parts := []string{
		writePart(t, dir, "p_part1.wav", []int16{100, 200}, 16000),
		writePart(t, dir, "p_part2.wav", []int16{300, 400}, 16000),
	}
	opts := enhance.DefaultOptions()
	opts.PeakTarget = 3

	result, err := New(enhance.NewPreprocessor(opts, nil, nil), nil, nil).Combine(context.Background(), Request{
		Patient:   "p",
		Segments:  parts,
		Timestamp: stamp,
	})
	require.NoError(t, err)
	require.False(t, result.Enhanced)
	require.Equal(t, result.CombinedPath, result.CanonicalPath)
	require.FileExists(t, filepath.Join(dir, "p_20240506_070809_completo_normalizado.wav"))
}

func TestCombineEnhancesAfterCallerCancels(t *testing.T) {
	dir := t.TempDir()
	parts := []string{
		writePart(t, dir, "p_part1.wav", []int16{100, 200}, 16000),
		writePart(t, dir, "p_part2.wav", []int16{300, 400}, 16000),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enhancer := &fakeEnhancer{}
	result, err := New(enhancer, nil, nil).Combine(ctx, Request{
		Patient:   "p",
		Segments:  parts,
		Timestamp: stamp,
	})
	require.NoError(t, err)
	require.NoError(t, enhancer.ctxErr)
	require.True(t, result.Enhanced)
	require.Equal(t, result.CombinedPath+".enhanced", result.CanonicalPath)
}

func TestCombineMissingSegmentFails(t *testing.T) {
	dir := t.TempDir()
	first := writePart(t, dir, "p_part1.wav", []int16{1}, 16000)

	_, err := New(nil, nil, nil).Combine(context.Background(), Request{
		Patient:   "p",
		Segments:  []string{first, filepath.Join(dir, "gone.wav")},
		Timestamp: stamp,
	})
	require.Error(t, err)
	_, statErr := os.Stat(first)
	require.NoError(t, statErr)
}
