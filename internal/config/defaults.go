package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			OutputDir:  defaultOutputDir(),
			SampleRate: 44100,
			Channels:   1,
		},
		Enhance: EnhanceConfig{
			VoiceEmphasis:  true,
			Normalize:      true,
			PeakTarget:     0.7,
			LimitThreshold: 0.8,
			LimitRatio:     0.3,
		},
		Transcription: TranscriptionConfig{
			GRPC:             "127.0.0.1:50051",
			Language:         "pt",
			DialTimeoutMS:    3000,
			RequestTimeoutMS: 600000,
		},
		Diarization: DiarizationConfig{
			Mode:       "heuristic",
			Vocabulary: "roles",
		},
		Catalog: CatalogConfig{Enable: true},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 5,
		},
	}
}

// defaultOutputDir selects XDG_DATA_HOME when available, otherwise ~/.local/share.
func defaultOutputDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "escuta", "audio")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "audio")
	}
	return filepath.Join(home, ".local", "share", "escuta", "audio")
}
