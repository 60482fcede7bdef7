package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rbright/escuta/internal/asr"
	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/catalog"
	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/config"
	"github.com/rbright/escuta/internal/diarize"
	"github.com/rbright/escuta/internal/enhance"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/postprocess"
	"github.com/rbright/escuta/internal/session"
)

func audioFormat(cfg config.Config) audio.Format {
	return audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   audio.DefaultBitDepth,
	}
}

func enhanceOptions(cfg config.EnhanceConfig) enhance.Options {
	return enhance.Options{
		VoiceEmphasis:  cfg.VoiceEmphasis,
		Normalize:      cfg.Normalize,
		PeakTarget:     cfg.PeakTarget,
		LimitThreshold: cfg.LimitThreshold,
		LimitRatio:     cfg.LimitRatio,
	}
}

func asrConfig(cfg config.Config) asr.Config {
	return asr.Config{
		Endpoint:       cfg.Transcription.GRPC,
		Language:       cfg.Transcription.Language,
		DialTimeout:    cfg.Transcription.DialTimeout(),
		RequestTimeout: cfg.Transcription.RequestTimeout(),
	}
}

func newCombiner(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *combine.Combiner {
	return combine.New(enhance.NewPreprocessor(enhanceOptions(cfg.Enhance), logger, m), logger, m)
}

// newRecorder assembles the session owner's recorder. The catalog is optional: when it
// cannot be opened the session records without a journal.
func (r Runner) newRecorder(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*session.Recorder, func(), error) {
	if err := os.MkdirAll(cfg.Audio.OutputDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}

	opener := r.Opener
	if opener == nil {
		opener = audio.PulseOpener{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: logger}
	}

	opts := []session.Option{session.WithLogger(logger), session.WithMetrics(m)}
	cleanup := func() {}
	if cfg.Catalog.Enable {
		store, err := catalog.Open(ctx, cfg.CatalogPath())
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: session catalog unavailable: %v\n", err)
			logger.Warn("open catalog failed", "path", cfg.CatalogPath(), "error", err.Error())
		} else {
			opts = append(opts, session.WithJournal(store))
			cleanup = func() { _ = store.Close() }
		}
	}

	recorder := session.NewRecorder(session.Config{
		OutputDir: cfg.Audio.OutputDir,
		Format:    audioFormat(cfg),
	}, opener, newCombiner(cfg, logger, m), opts...)
	return recorder, cleanup, nil
}

// newLabeler builds the configured speaker labeler. source may be nil in heuristic mode.
func newLabeler(cfg config.Config, source diarize.SpanSource, logger *slog.Logger, m *metrics.Metrics) (diarize.Labeler, error) {
	return diarize.New(diarize.Config{
		Mode:       cfg.Diarization.Mode,
		Vocabulary: cfg.Diarization.Vocabulary,
	}, source, logger, m)
}

// transcribeTo runs the transcription pipeline for audioPath and reports where the
// transcript was written.
func (r Runner) transcribeTo(ctx context.Context, cfg config.Config, audioPath string, logger *slog.Logger, m *metrics.Metrics) error {
	client, err := asr.Dial(ctx, asrConfig(cfg))
	if err != nil {
		return err
	}
	defer client.Close()

	labeler, err := newLabeler(cfg, client, logger, m)
	if err != nil {
		return err
	}

	result, err := postprocess.New(client, labeler, cfg.TranscriptDir(), logger, m).Run(ctx, audioPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Stdout, "transcript %s (%d turns, %s)\n", result.ReportPath, len(result.Turns), result.Labeler)
	return nil
}
