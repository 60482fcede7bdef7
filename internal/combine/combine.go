// Package combine merges the segments of a session into its canonical recording.
package combine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/enhance"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/segment"
)

var (
	// ErrNoAudioCaptured is returned when a session has no segments to combine.
	ErrNoAudioCaptured = errors.New("no audio captured")
	// ErrSampleRateMismatch matches every *SampleRateMismatchError.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")
	// ErrChannelMismatch reports segments with differing channel counts.
	ErrChannelMismatch = errors.New("channel count mismatch")
)

// SampleRateMismatchError names the first segment whose rate differs from the first
// segment's.
type SampleRateMismatchError struct {
	Path     string
	Expected int
	Actual   int
}

func (e *SampleRateMismatchError) Error() string {
	return fmt.Sprintf("sample rate mismatch: %s is %d Hz, expected %d Hz", e.Path, e.Actual, e.Expected)
}

// Is lets errors.Is match ErrSampleRateMismatch.
func (e *SampleRateMismatchError) Is(target error) bool {
	return target == ErrSampleRateMismatch
}

// Enhancer turns a combined recording into its enhanced sibling.
type Enhancer interface {
	Process(ctx context.Context, path string) (enhance.Output, error)
}

// Request describes one session's segments.
type Request struct {
	Patient   string
	SessionID string
	Segments  []string
	OutputDir string
	Timestamp time.Time
}

// Result describes the combined and canonical recordings.
type Result struct {
	CombinedPath  string
	CanonicalPath string
	Enhanced      bool
	Segments      int
	Frames        int
	SampleRate    int
	Channels      int
}

// Duration returns the combined recording length in seconds.
func (r Result) Duration() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return float64(r.Frames) / float64(r.SampleRate)
}

// Combiner concatenates segment files and hands the result to an Enhancer.
type Combiner struct {
	enhancer Enhancer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs a combiner. enhancer, logger, and m may be nil; a nil enhancer
// leaves the combined file canonical.
func New(enhancer Enhancer, logger *slog.Logger, m *metrics.Metrics) *Combiner {
	return &Combiner{enhancer: enhancer, logger: logger, metrics: m}
}

// Combine merges req.Segments in order.
//
// One segment is renamed to the `_completo` name without being decoded or enhanced.
// Several are checked against the first one's sample rate and channel count,
// concatenated into `_completo` (the segment files are removed only after that write
// succeeds), and enhanced. When enhancement fails or only copies the input, `_completo` stays canonical.
func (c *Combiner) Combine(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	result, err := c.combine(ctx, req)
	c.metrics.ObserveCombine(time.Since(started), result.Duration(), err)
	if err != nil {
		c.logError("combine failed", "session_id", req.SessionID, "segments", len(req.Segments), "error", err.Error())
		return Result{}, err
	}
	c.logInfo("session combined",
		"session_id", req.SessionID,
		"segments", result.Segments,
		"frames", result.Frames,
		"combined", result.CombinedPath,
		"canonical", result.CanonicalPath,
		"enhanced", result.Enhanced,
	)
	return result, nil
}

func (c *Combiner) combine(ctx context.Context, req Request) (Result, error) {
	if len(req.Segments) == 0 {
		return Result{}, ErrNoAudioCaptured
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(req.Segments[0])
	}
	combined := filepath.Join(outputDir, segment.CompleteName(req.Patient, req.Timestamp))

	if len(req.Segments) == 1 {
		return renameSingle(req.Segments[0], combined)
	}

	result, err := concatenate(req, combined)
	if err != nil {
		return Result{}, err
	}
	for _, path := range req.Segments {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logWarn("remove segment failed", "session_id", req.SessionID, "path", path, "error", err.Error())
		}
	}

	result.CanonicalPath = combined
	if c.enhancer == nil {
		return result, nil
	}
	// The segments are already gone, so a caller giving up must not cut this short.
	out, err := c.enhancer.Process(context.WithoutCancel(ctx), combined)
	if err == nil && !out.Enhanced {
		err = out.Cause
		if err == nil {
			err = errors.New("enhancer returned unprocessed audio")
		}
	}
	if err != nil {
		c.logWarn("enhancement unavailable; using combined recording", "session_id", req.SessionID, "path", combined, "error", err.Error())
		return result, nil
	}
	result.CanonicalPath = out.Path
	result.Enhanced = true
	return result, nil
}

func renameSingle(src, dst string) (Result, error) {
	info, err := audio.ReadInfo(src)
	if err != nil {
		return Result{}, fmt.Errorf("read segment %s: %w", src, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return Result{}, fmt.Errorf("rename segment %s: %w", src, err)
	}
	return Result{
		CombinedPath:  dst,
		CanonicalPath: dst,
		Segments:      1,
		Frames:        info.Frames,
		SampleRate:    info.Format.SampleRate,
		Channels:      info.Format.Channels,
	}, nil
}

// concatenate validates every header before decoding anything, then writes the
// samples of all segments in order.
func concatenate(req Request, dst string) (Result, error) {
	reference, err := audio.ReadInfo(req.Segments[0])
	if err != nil {
		return Result{}, fmt.Errorf("read segment %s: %w", req.Segments[0], err)
	}
	for _, path := range req.Segments[1:] {
		info, err := audio.ReadInfo(path)
		if err != nil {
			return Result{}, fmt.Errorf("read segment %s: %w", path, err)
		}
		if info.Format.SampleRate != reference.Format.SampleRate {
			return Result{}, &SampleRateMismatchError{
				Path:     path,
				Expected: reference.Format.SampleRate,
				Actual:   info.Format.SampleRate,
			}
		}
		if info.Format.Channels != reference.Format.Channels {
			return Result{}, fmt.Errorf("%w: %s has %d channels, expected %d",
				ErrChannelMismatch, path, info.Format.Channels, reference.Format.Channels)
		}
	}

	var merged []int16
	for _, path := range req.Segments {
		samples, _, err := audio.ReadPCM(path)
		if err != nil {
			return Result{}, fmt.Errorf("decode segment %s (session %s): %w", path, req.SessionID, err)
		}
		merged = append(merged, samples...)
	}

	if err := audio.WritePCM(dst, merged, reference.Format); err != nil {
		return Result{}, fmt.Errorf("write combined %s (session %s): %w", dst, req.SessionID, err)
	}
	return Result{
		CombinedPath: dst,
		Segments:     len(req.Segments),
		Frames:       reference.Format.Frames(len(merged)),
		SampleRate:   reference.Format.SampleRate,
		Channels:     reference.Format.Channels,
	}, nil
}

func (c *Combiner) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Combiner) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Combiner) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}
