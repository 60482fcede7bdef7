// Package metrics exposes Prometheus collectors for capture, flush, combine,
// enhancement, and turn labeling.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escuta"

// Metrics holds every collector on its own registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	FramesCaptured    prometheus.Counter
	SegmentsFlushed   prometheus.Counter
	FlushFailures     prometheus.Counter
	FlushDuration     prometheus.Histogram
	Combines          *prometheus.CounterVec
	CombineDuration   prometheus.Histogram
	Enhancements      *prometheus.CounterVec
	EnhanceDuration   prometheus.Histogram
	LabeledTurns      *prometheus.CounterVec
	LabelerFallbacks  prometheus.Counter
	RecordingSeconds  prometheus.Histogram
	TranscribeLatency prometheus.Histogram
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state machine events by outcome",
		}, []string{"event", "result"}),
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Audio frames delivered by the input stream",
		}),
		SegmentsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_flushed_total",
			Help:      "Segment files written on pause or stop",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_flush_failures_total",
			Help:      "Segment writes that failed and were returned to the buffer",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_flush_duration_seconds",
			Help:      "Time spent writing one segment",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		Combines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combines_total",
			Help:      "Segment combinations by outcome",
		}, []string{"result"}),
		CombineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "combine_duration_seconds",
			Help:      "Time spent combining and enhancing one session",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Enhancements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enhancements_total",
			Help:      "Preprocessor runs by outcome (ok or fallback)",
		}, []string{"result"}),
		EnhanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enhance_duration_seconds",
			Help:      "Time spent enhancing one recording",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		LabeledTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labeled_turns_total",
			Help:      "Transcribed turns labeled, by labeler",
		}, []string{"labeler"}),
		LabelerFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labeler_fallbacks_total",
			Help:      "Model labeling failures answered by the pause heuristic",
		}),
		RecordingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Audio length of combined recordings",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10),
		}),
		TranscribeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcribe_duration_seconds",
			Help:      "Round trip of transcription requests",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts one state machine event.
func (m *Metrics) ObserveTransition(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.Transitions.WithLabelValues(event, result).Inc()
}

// AddFrames counts captured frames.
func (m *Metrics) AddFrames(frames int) {
	if m == nil || frames <= 0 {
		return
	}
	m.FramesCaptured.Add(float64(frames))
}

// ObserveFlush records one segment write attempt.
func (m *Metrics) ObserveFlush(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.FlushFailures.Inc()
		return
	}
	m.SegmentsFlushed.Inc()
}

// ObserveCombine records one combination and, on success, the recording length.
func (m *Metrics) ObserveCombine(elapsed time.Duration, seconds float64, err error) {
	if m == nil {
		return
	}
	m.CombineDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.Combines.WithLabelValues("error").Inc()
		return
	}
	m.Combines.WithLabelValues("ok").Inc()
	m.RecordingSeconds.Observe(seconds)
}

// ObserveEnhance records one preprocessor run. fallback marks a copy-through.
func (m *Metrics) ObserveEnhance(elapsed time.Duration, fallback bool) {
	if m == nil {
		return
	}
	m.EnhanceDuration.Observe(elapsed.Seconds())
	result := "ok"
	if fallback {
		result = "fallback"
	}
	m.Enhancements.WithLabelValues(result).Inc()
}

// ObserveLabels counts turns labeled by the named labeler.
func (m *Metrics) ObserveLabels(labeler string, turns int) {
	if m == nil {
		return
	}
	m.LabeledTurns.WithLabelValues(labeler).Add(float64(turns))
}

// ObserveLabelerFallback counts one model-to-heuristic fallback.
func (m *Metrics) ObserveLabelerFallback() {
	if m == nil {
		return
	}
	m.LabelerFallbacks.Inc()
}

// ObserveTranscribe records one transcription round trip.
func (m *Metrics) ObserveTranscribe(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TranscribeLatency.Observe(elapsed.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	return m.serve(ctx, listener, logger)
}

func (m *Metrics) serve(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics listening", "addr", listener.Addr().String())
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
