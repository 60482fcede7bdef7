// Package enhance prepares finished recordings for transcription.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/dsp"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/segment"
)

// Options toggles and tunes the processing chain. Noise reduction always runs.
type Options struct {
	VoiceEmphasis  bool
	Normalize      bool
	PeakTarget     float64
	LimitThreshold float64
	LimitRatio     float64
}

// DefaultOptions returns the full chain with peak 0.7 and a 0.8/0.3 soft limit.
func DefaultOptions() Options {
	return Options{
		VoiceEmphasis:  true,
		Normalize:      true,
		PeakTarget:     0.7,
		LimitThreshold: 0.8,
		LimitRatio:     0.3,
	}
}

// Validate rejects parameters outside full scale.
func (o Options) Validate() error {
	if !o.Normalize {
		return nil
	}
	if o.PeakTarget <= 0 || o.PeakTarget > 1 {
		return fmt.Errorf("peak target must be in (0, 1], got %g", o.PeakTarget)
	}
	if o.LimitThreshold <= 0 || o.LimitThreshold > 1 {
		return fmt.Errorf("limit threshold must be in (0, 1], got %g", o.LimitThreshold)
	}
	if o.LimitRatio < 0 || o.LimitRatio > 1 {
		return fmt.Errorf("limit ratio must be in [0, 1], got %g", o.LimitRatio)
	}
	return nil
}

// Enhance runs the chain on interleaved samples and returns mono output:
// downmix, noise reduction, optional voice emphasis, optional normalize and limit.
func Enhance(samples []float64, format audio.Format, opts Options) ([]float64, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	out := dsp.Downmix(samples, format.Channels)
	out = dsp.ReduceNoise(out)

	if opts.VoiceEmphasis {
		emphasized, err := dsp.VoiceEmphasis(out, float64(format.SampleRate))
		if err != nil {
			return nil, fmt.Errorf("voice emphasis: %w", err)
		}
		out = emphasized
	}

	if opts.Normalize {
		out = dsp.Normalize(out, opts.PeakTarget)
		out = dsp.SoftLimit(out, opts.LimitThreshold, opts.LimitRatio)
	}
	return out, nil
}

// Preprocessor enhances WAV files on disk.
type Preprocessor struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPreprocessor constructs a preprocessor. logger and m may be nil.
func NewPreprocessor(opts Options, logger *slog.Logger, m *metrics.Metrics) *Preprocessor {
	return &Preprocessor{opts: opts, logger: logger, metrics: m}
}

// Output is the file written by Process.
type Output struct {
	Path string
	// Enhanced is false when Path holds an unprocessed copy of the input.
	Enhanced bool
	// Cause is the processing error answered by the copy.
	Cause error
}

// Process writes the `_normalizado` sibling of path.
//
// A missing input is an error. Any failure after the input has been found is logged
// and answered by copying the input to the output name, so callers always get a
// usable file; Output.Enhanced tells the two apart.
func (p *Preprocessor) Process(ctx context.Context, path string) (Output, error) {
	if _, err := os.Stat(path); err != nil {
		return Output{}, fmt.Errorf("enhance input %s: %w", path, err)
	}
	out := segment.EnhancedPath(path)
	started := time.Now()

	if err := p.process(ctx, path, out); err != nil {
		p.metrics.ObserveEnhance(time.Since(started), true)
		p.logWarn("enhancement failed; keeping original audio", "path", path, "error", err.Error())
		if copyErr := audio.CopyFile(path, out); copyErr != nil {
			return Output{}, errors.Join(err, fmt.Errorf("fallback copy: %w", copyErr))
		}
		return Output{Path: out, Cause: err}, nil
	}

	p.metrics.ObserveEnhance(time.Since(started), false)
	p.logInfo("recording enhanced", "input", path, "output", out, "elapsed_ms", time.Since(started).Milliseconds())
	return Output{Path: out, Enhanced: true}, nil
}

func (p *Preprocessor) process(ctx context.Context, in, out string) error {
	samples, format, err := audio.ReadPCM(in)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	enhanced, err := Enhance(audio.ToFloat(samples), format, p.opts)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return audio.WritePCM(out, audio.FromFloat(enhanced), audio.Format{
		SampleRate: format.SampleRate,
		Channels:   1,
		BitDepth:   16,
	})
}

func (p *Preprocessor) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Preprocessor) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
