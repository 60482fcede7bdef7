// Package doctor runs runtime readiness diagnostics for config, storage, audio, and
// the transcription service.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbright/escuta/internal/asr"
	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/catalog"
	"github.com/rbright/escuta/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "session socket directory is set", "XDG_RUNTIME_DIR is empty; pause/resume/stop cannot reach the recorder"))

	checks = append(checks, checkWritableDir("audio.output_dir", cfg.Audio.OutputDir))
	if cfg.TranscriptDir() != cfg.Audio.OutputDir {
		checks = append(checks, checkWritableDir("transcription.output_dir", cfg.TranscriptDir()))
	}
	if cfg.Catalog.Enable {
		checks = append(checks, checkCatalog(ctx, cfg.CatalogPath()))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg))

	services := []string{asr.TranscriberService}
	if strings.EqualFold(cfg.Diarization.Mode, "model") {
		services = append(services, asr.DiarizerService)
	}
	checks = append(checks, checkServices(ctx, asr.Config{
		Endpoint:       cfg.Transcription.GRPC,
		Language:       cfg.Transcription.Language,
		DialTimeout:    cfg.Transcription.DialTimeout(),
		RequestTimeout: cfg.Transcription.RequestTimeout(),
	}, services)...)

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkWritableDir creates dir when missing and proves a file can be written in it.
func checkWritableDir(name, dir string) Check {
	if strings.TrimSpace(dir) == "" {
		return Check{Name: name, Pass: false, Message: "directory is empty"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	scratch, err := os.CreateTemp(dir, ".escuta-doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = scratch.Close()
	_ = os.Remove(scratch.Name())
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("writable %s", dir)}
}

// checkCatalog opens the session catalog, creating its schema when needed.
func checkCatalog(ctx context.Context, path string) Check {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Check{Name: "catalog", Pass: false, Message: err.Error()}
	}
	store, err := catalog.Open(ctx, path)
	if err != nil {
		return Check{Name: "catalog", Pass: false, Message: err.Error()}
	}
	defer store.Close()

	recent, err := store.Recent(ctx, 1)
	if err != nil {
		return Check{Name: "catalog", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("opened %s", path)
	if len(recent) > 0 {
		message += fmt.Sprintf(" (last session %s)", recent[0].Patient)
	}
	return Check{Name: "catalog", Pass: true, Message: message}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkServices dials the transcription host once and checks each service's health.
func checkServices(ctx context.Context, cfg asr.Config, services []string) []Check {
	client, err := asr.Dial(ctx, cfg)
	if err != nil {
		return []Check{{Name: "transcription.grpc", Pass: false, Message: err.Error()}}
	}
	defer client.Close()

	checks := make([]Check, 0, len(services))
	for _, service := range services {
		if err := client.Ready(ctx, service); err != nil {
			checks = append(checks, Check{Name: service, Pass: false, Message: err.Error()})
			continue
		}
		checks = append(checks, Check{Name: service, Pass: true, Message: fmt.Sprintf("serving at %s", cfg.Endpoint)})
	}
	return checks
}
