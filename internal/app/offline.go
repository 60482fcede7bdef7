package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/escuta/internal/asr"
	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/catalog"
	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/config"
	"github.com/rbright/escuta/internal/diarize"
	"github.com/rbright/escuta/internal/enhance"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/postprocess"
	"github.com/rbright/escuta/internal/segment"
	"github.com/rbright/escuta/internal/transcript"
)

const defaultSessionsLimit = 10

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandSessions(ctx context.Context, cfg config.Config, args []string) int {
	limit := defaultSessionsLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintf(r.Stderr, "error: sessions limit must be a positive integer, got %q\n", args[0])
			return 2
		}
		limit = n
	}
	if !cfg.Catalog.Enable {
		fmt.Fprintln(r.Stderr, "error: session catalog is disabled (catalog.enable=false)")
		return 1
	}

	store, err := catalog.Open(ctx, cfg.CatalogPath())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	sessions, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintln(r.Stdout, "no sessions recorded")
		return 0
	}

	for _, sess := range sessions {
		line := fmt.Sprintf("%s | %s | %s | segments=%d",
			sess.CreatedAt.Local().Format(time.DateTime),
			sess.State,
			sess.Patient,
			len(sess.Segments),
		)
		if sess.CanonicalPath != "" {
			line += " | " + sess.CanonicalPath
		}
		if sess.Error != "" {
			line += " | error=" + sess.Error
		}
		fmt.Fprintln(r.Stdout, line)
	}
	return 0
}

// commandCombine merges existing segment files the same way a session stop does. The
// combined file is written next to the first segment.
func (r Runner) commandCombine(ctx context.Context, cfg config.Config, patient string, parts []string, logger *slog.Logger, m *metrics.Metrics) int {
	normalized, err := segment.NormalizePatient(patient)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, part := range parts {
		if _, err := os.Stat(part); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	result, err := newCombiner(cfg, logger, m).Combine(ctx, combineRequest(normalized, parts))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "saved %s (%d segment(s), %.1fs)\n", result.CanonicalPath, result.Segments, result.Duration())
	return 0
}

func (r Runner) commandEnhance(ctx context.Context, cfg config.Config, path string, logger *slog.Logger, m *metrics.Metrics) int {
	out, err := enhance.NewPreprocessor(enhanceOptions(cfg.Enhance), logger, m).Process(ctx, path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if !out.Enhanced {
		fmt.Fprintf(r.Stderr, "warning: enhancement failed (%v); wrote an unprocessed copy\n", out.Cause)
	}
	fmt.Fprintln(r.Stdout, out.Path)
	return 0
}

func (r Runner) commandTranscribe(ctx context.Context, cfg config.Config, path string, logger *slog.Logger, m *metrics.Metrics) int {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := r.transcribeTo(ctx, cfg, path, logger, m); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// commandLabel labels previously transcribed turns and prints the report. Model mode
// needs the recording the turns came from.
func (r Runner) commandLabel(ctx context.Context, cfg config.Config, turnsPath, audioPath string, logger *slog.Logger, m *metrics.Metrics) int {
	turns, err := transcript.LoadTurns(turnsPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var source diarize.SpanSource
	if strings.EqualFold(cfg.Diarization.Mode, diarize.ModeModel) {
		if audioPath == "" {
			fmt.Fprintln(r.Stderr, "error: diarization.mode=model needs the recording: label <turns.json> <audio.wav>")
			return 2
		}
		client, err := asr.Dial(ctx, asrConfig(cfg))
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer client.Close()
		source = client
	}

	labeler, err := newLabeler(cfg, source, logger, m)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	labeled, err := labeler.Label(ctx, audioPath, turns)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := postprocess.RenderReport(r.Stdout, labeled, labeler.Name()); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func combineRequest(patient string, parts []string) combine.Request {
	return combine.Request{
		Patient:   patient,
		SessionID: uuid.NewString(),
		Segments:  parts,
		Timestamp: time.Now(),
	}
}
