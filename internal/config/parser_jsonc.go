package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio         *jsoncAudio         `json:"audio"`
	Enhance       *jsoncEnhance       `json:"enhance"`
	Transcription *jsoncTranscription `json:"transcription"`
	Diarization   *jsoncDiarization   `json:"diarization"`
	Catalog       *jsoncCatalog       `json:"catalog"`
	Metrics       *jsoncMetrics       `json:"metrics"`
	Log           *jsoncLog           `json:"log"`
}

type jsoncAudio struct {
	Input      *string `json:"input"`
	Fallback   *string `json:"fallback"`
	OutputDir  *string `json:"output_dir"`
	SampleRate *int    `json:"sample_rate"`
	Channels   *int    `json:"channels"`
}

type jsoncEnhance struct {
	VoiceEmphasis  *bool    `json:"voice_emphasis"`
	Normalize      *bool    `json:"normalize"`
	PeakTarget     *float64 `json:"peak_target"`
	LimitThreshold *float64 `json:"limit_threshold"`
	LimitRatio     *float64 `json:"limit_ratio"`
}

type jsoncTranscription struct {
	GRPC             *string `json:"grpc"`
	Language         *string `json:"language"`
	DialTimeoutMS    *int    `json:"dial_timeout_ms"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
	AfterStop        *bool   `json:"after_stop"`
	OutputDir        *string `json:"output_dir"`
}

type jsoncDiarization struct {
	Mode       *string `json:"mode"`
	Vocabulary *string `json:"vocabulary"`
}

type jsoncCatalog struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncLog struct {
	Level      *string `json:"level"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if payload.Audio != nil {
		setString(&cfg.Audio.Input, payload.Audio.Input)
		setString(&cfg.Audio.Fallback, payload.Audio.Fallback)
		if payload.Audio.OutputDir != nil {
			cfg.Audio.OutputDir = expandHome(strings.TrimSpace(*payload.Audio.OutputDir))
		}
		setInt(&cfg.Audio.SampleRate, payload.Audio.SampleRate)
		setInt(&cfg.Audio.Channels, payload.Audio.Channels)
	}

	if payload.Enhance != nil {
		setBool(&cfg.Enhance.VoiceEmphasis, payload.Enhance.VoiceEmphasis)
		setBool(&cfg.Enhance.Normalize, payload.Enhance.Normalize)
		setFloat(&cfg.Enhance.PeakTarget, payload.Enhance.PeakTarget)
		setFloat(&cfg.Enhance.LimitThreshold, payload.Enhance.LimitThreshold)
		setFloat(&cfg.Enhance.LimitRatio, payload.Enhance.LimitRatio)
	}

	if payload.Transcription != nil {
		setString(&cfg.Transcription.GRPC, payload.Transcription.GRPC)
		setString(&cfg.Transcription.Language, payload.Transcription.Language)
		setInt(&cfg.Transcription.DialTimeoutMS, payload.Transcription.DialTimeoutMS)
		setInt(&cfg.Transcription.RequestTimeoutMS, payload.Transcription.RequestTimeoutMS)
		setBool(&cfg.Transcription.AfterStop, payload.Transcription.AfterStop)
		if payload.Transcription.OutputDir != nil {
			cfg.Transcription.OutputDir = expandHome(strings.TrimSpace(*payload.Transcription.OutputDir))
		}
	}

	if payload.Diarization != nil {
		setString(&cfg.Diarization.Mode, payload.Diarization.Mode)
		setString(&cfg.Diarization.Vocabulary, payload.Diarization.Vocabulary)
	}

	if payload.Catalog != nil {
		setBool(&cfg.Catalog.Enable, payload.Catalog.Enable)
		if payload.Catalog.Path != nil {
			cfg.Catalog.Path = expandHome(strings.TrimSpace(*payload.Catalog.Path))
		}
	}

	if payload.Metrics != nil {
		setString(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	if payload.Log != nil {
		setString(&cfg.Log.Level, payload.Log.Level)
		setInt(&cfg.Log.MaxSizeMB, payload.Log.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, payload.Log.MaxBackups)
	}

	if payload.Catalog != nil && payload.Catalog.Path != nil && !cfg.Catalog.Enable {
		warnings = append(warnings, Warning{Message: "catalog.path is set but catalog.enable=false; the catalog will not be opened"})
	}

	return warnings
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
