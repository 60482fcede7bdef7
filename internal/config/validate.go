package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Audio.OutputDir) == "" {
		return nil, fmt.Errorf("audio.output_dir must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return nil, fmt.Errorf("audio.channels must be 1 or 2")
	}
	if cfg.Audio.Channels == 2 {
		warnings = append(warnings, Warning{Message: "audio.channels=2: enhanced recordings are downmixed to mono"})
	}

	if cfg.Enhance.PeakTarget <= 0 || cfg.Enhance.PeakTarget > 1 {
		return nil, fmt.Errorf("enhance.peak_target must be in (0, 1]")
	}
	if cfg.Enhance.LimitThreshold <= 0 || cfg.Enhance.LimitThreshold > 1 {
		return nil, fmt.Errorf("enhance.limit_threshold must be in (0, 1]")
	}
	if cfg.Enhance.LimitRatio < 0 || cfg.Enhance.LimitRatio > 1 {
		return nil, fmt.Errorf("enhance.limit_ratio must be in [0, 1]")
	}
	if cfg.Enhance.Normalize && cfg.Enhance.PeakTarget > cfg.Enhance.LimitThreshold {
		warnings = append(warnings, Warning{Message: "enhance.peak_target is above enhance.limit_threshold; normalized peaks will be limited"})
	}

	if strings.TrimSpace(cfg.Transcription.GRPC) == "" {
		return nil, fmt.Errorf("transcription.grpc must not be empty")
	}
	if strings.TrimSpace(cfg.Transcription.Language) == "" {
		return nil, fmt.Errorf("transcription.language must not be empty")
	}
	if cfg.Transcription.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("transcription.dial_timeout_ms must be > 0")
	}
	if cfg.Transcription.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("transcription.request_timeout_ms must be > 0")
	}

	switch strings.ToLower(cfg.Diarization.Mode) {
	case "heuristic", "model":
	default:
		return nil, fmt.Errorf("diarization.mode must be one of: heuristic, model")
	}
	switch strings.ToLower(cfg.Diarization.Vocabulary) {
	case "roles", "neutral":
	default:
		return nil, fmt.Errorf("diarization.vocabulary must be one of: roles, neutral")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}
	if cfg.Log.MaxBackups < 0 {
		return nil, fmt.Errorf("log.max_backups must be >= 0")
	}

	return warnings, nil
}
