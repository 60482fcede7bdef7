package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names an optional dotenv file read ahead of ./.env.
const EnvFileVar = "ESCUTA_ENV"

// Environment variables recognized as overrides on top of the config file.
const (
	EnvAudioDir          = "FOLDER_AUDIO"
	EnvTranscriptDir     = "FOLDER_TRANSCRIPT"
	EnvSampleRate        = "ESCUTA_SAMPLE_RATE"
	EnvChannels          = "ESCUTA_CHANNELS"
	EnvAudioInput        = "ESCUTA_AUDIO_INPUT"
	EnvTranscribeGRPC    = "ESCUTA_TRANSCRIBE_GRPC"
	EnvLanguage          = "WHISPER_LANGUAGE"
	EnvDiarizationMode   = "ESCUTA_DIARIZATION_MODE"
	EnvSpeakerVocabulary = "ESCUTA_SPEAKER_VOCABULARY"
	EnvMetricsListen     = "ESCUTA_METRICS_LISTEN"
)

// lookupFunc reports the value of one environment key.
type lookupFunc func(key string) (string, bool)

// loadEnv reads dotenv files without touching the process environment. Earlier files
// win over later ones and a non-empty process variable wins over both.
func loadEnv() (lookupFunc, []Warning, error) {
	warnings := make([]Warning, 0)
	files := make([]string, 0, 2)
	explicit := strings.TrimSpace(os.Getenv(EnvFileVar))
	if explicit != "" {
		files = append(files, explicit)
	}
	files = append(files, ".env")

	values := make(map[string]string)
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if path == explicit {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("%s=%q not found; ignoring", EnvFileVar, path)})
				}
				continue
			}
			return nil, nil, fmt.Errorf("stat env file %q: %w", path, err)
		}

		read, err := godotenv.Read(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read env file %q: %w", path, err)
		}
		for key, value := range read {
			if _, seen := values[key]; !seen {
				values[key] = value
			}
		}
	}

	return func(key string) (string, bool) {
		// A variable exported empty does not mask the dotenv value.
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return value, true
		}
		value, ok := values[key]
		return value, ok
	}, warnings, nil
}

// applyEnv overlays recognized environment variables. Empty values are ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}
	getInt := func(key string, dst *int) error {
		raw, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, raw)
		}
		*dst = n
		return nil
	}

	if v, ok := get(EnvAudioDir); ok {
		cfg.Audio.OutputDir = expandHome(v)
	}
	if v, ok := get(EnvTranscriptDir); ok {
		cfg.Transcription.OutputDir = expandHome(v)
	}
	if err := getInt(EnvSampleRate, &cfg.Audio.SampleRate); err != nil {
		return err
	}
	if err := getInt(EnvChannels, &cfg.Audio.Channels); err != nil {
		return err
	}
	if v, ok := get(EnvAudioInput); ok {
		cfg.Audio.Input = v
	}
	if v, ok := get(EnvTranscribeGRPC); ok {
		cfg.Transcription.GRPC = v
	}
	if v, ok := get(EnvLanguage); ok {
		cfg.Transcription.Language = v
	}
	if v, ok := get(EnvDiarizationMode); ok {
		cfg.Diarization.Mode = v
	}
	if v, ok := get(EnvSpeakerVocabulary); ok {
		cfg.Diarization.Vocabulary = v
	}
	if v, ok := get(EnvMetricsListen); ok {
		cfg.Metrics.Listen = v
	}
	return nil
}
