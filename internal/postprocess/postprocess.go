// Package postprocess turns a canonical recording into a labeled transcript report.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/escuta/internal/diarize"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/transcript"
)

const reportSuffix = "_transcrito.txt"

// ErrNoSpeech reports a recording in which the transcriber found nothing.
var ErrNoSpeech = errors.New("no speech recognized")

// Transcriber converts a recording into timed turns.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]transcript.Turn, error)
}

// Result is the output of one pipeline run.
type Result struct {
	AudioPath  string
	ReportPath string
	Turns      []transcript.Turn
	Labeler    string
	Elapsed    time.Duration
}

// Pipeline runs transcribe, label, and report for one recording.
type Pipeline struct {
	transcriber Transcriber
	labeler     diarize.Labeler
	outputDir   string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New constructs a pipeline writing reports into outputDir.
func New(transcriber Transcriber, labeler diarize.Labeler, outputDir string, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		transcriber: transcriber,
		labeler:     labeler,
		outputDir:   outputDir,
		logger:      logger,
		metrics:     m,
	}
}

// ReportPath returns where the report for audioPath is written.
func (p *Pipeline) ReportPath(audioPath string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(p.outputDir, base+reportSuffix)
}

// Run transcribes audioPath, labels the turns, and writes the report.
func (p *Pipeline) Run(ctx context.Context, audioPath string) (Result, error) {
	started := time.Now()

	turns, err := p.transcriber.Transcribe(ctx, audioPath)
	p.metrics.ObserveTranscribe(time.Since(started))
	if err != nil {
		return Result{}, err
	}
	if len(turns) == 0 {
		return Result{}, fmt.Errorf("%w in %s", ErrNoSpeech, audioPath)
	}

	labeled, err := p.labeler.Label(ctx, audioPath, turns)
	if err != nil {
		return Result{}, fmt.Errorf("label turns: %w", err)
	}

	reportPath := p.ReportPath(audioPath)
	if err := writeReport(reportPath, labeled, p.labeler.Name()); err != nil {
		return Result{}, err
	}

	result := Result{
		AudioPath:  audioPath,
		ReportPath: reportPath,
		Turns:      labeled,
		Labeler:    p.labeler.Name(),
		Elapsed:    time.Since(started),
	}
	if p.logger != nil {
		p.logger.Info("transcript written",
			"audio", audioPath,
			"report", reportPath,
			"turns", len(labeled),
			"labeler", result.Labeler,
			"elapsed_ms", result.Elapsed.Milliseconds(),
		)
	}
	return result, nil
}

func writeReport(path string, turns []transcript.Turn, labeler string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript %s: %w", path, err)
	}

	if err := RenderReport(file, turns, labeler); err != nil {
		_ = file.Close()
		return fmt.Errorf("write transcript %s: %w", path, err)
	}
	return file.Close()
}

// RenderReport writes the speaker report for turns labeled by the named labeler.
func RenderReport(w io.Writer, turns []transcript.Turn, labeler string) error {
	method := "identificação por pausas e padrões de fala"
	if labeler == diarize.ModeModel {
		method = "diarização por modelo"
	}
	return transcript.Render(w, turns, transcript.ReportOptions{
		Title:  "TRANSCRIÇÃO COM IDENTIFICAÇÃO DE FALANTES",
		Method: method,
	})
}
