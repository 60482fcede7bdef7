// Package config resolves, parses, validates, and defaults escuta configuration.
package config

import (
	"path/filepath"
	"time"
)

// Config is the fully materialized runtime configuration used by escuta.
type Config struct {
	Audio         AudioConfig
	Enhance       EnhanceConfig
	Transcription TranscriptionConfig
	Diarization   DiarizationConfig
	Catalog       CatalogConfig
	Metrics       MetricsConfig
	Log           LogConfig
}

// AudioConfig controls input-source selection, capture format, and where recordings land.
type AudioConfig struct {
	Input      string
	Fallback   string
	OutputDir  string
	SampleRate int
	Channels   int
}

// EnhanceConfig controls the preprocessing applied to combined recordings.
type EnhanceConfig struct {
	VoiceEmphasis  bool
	Normalize      bool
	PeakTarget     float64
	LimitThreshold float64
	LimitRatio     float64
}

// TranscriptionConfig controls the gRPC speech service and transcript output.
type TranscriptionConfig struct {
	GRPC             string
	Language         string
	DialTimeoutMS    int
	RequestTimeoutMS int
	AfterStop        bool
	OutputDir        string
}

// DiarizationConfig selects how transcript turns get speaker labels.
type DiarizationConfig struct {
	Mode       string
	Vocabulary string
}

// CatalogConfig controls the SQLite session journal.
type CatalogConfig struct {
	Enable bool
	Path   string
}

// MetricsConfig controls the optional Prometheus listener. Empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls log level and file rotation.
type LogConfig struct {
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// TranscriptDir returns where transcripts are written, defaulting to the audio directory.
func (c Config) TranscriptDir() string {
	if c.Transcription.OutputDir != "" {
		return c.Transcription.OutputDir
	}
	return c.Audio.OutputDir
}

// CatalogPath returns the catalog database path, defaulting to the audio directory.
func (c Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Audio.OutputDir, "escuta.sqlite")
}

// DialTimeout returns the gRPC readiness deadline.
func (t TranscriptionConfig) DialTimeout() time.Duration {
	return time.Duration(t.DialTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-request gRPC deadline.
func (t TranscriptionConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutMS) * time.Millisecond
}
