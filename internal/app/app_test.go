package app

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/escuta/internal/asr"
	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/config"
	"github.com/rbright/escuta/internal/fsm"
	"github.com/rbright/escuta/internal/ipc"
)

const testRate = 16000

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "escuta")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteInvalidConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"audio": {"channels": 5}}`), 0o600))

	code, _, stderr := paths.run(t, Runner{}, "status")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "audio.channels")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	code, stdout, stderr := paths.run(t, Runner{}, "status")
	require.Equal(t, 0, code)
	require.Equal(t, "idle\n", stdout)
	require.Empty(t, stderr)
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	code, _, stderr := paths.run(t, Runner{}, "stop")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no active escuta session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording", Message: "patient ana"}
		case ipc.CommandPause, ipc.CommandResume, ipc.CommandStop, ipc.CommandClear:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	code, stdout, stderr := paths.run(t, Runner{}, "status")
	require.Equal(t, 0, code)
	require.Empty(t, stderr)
	require.Equal(t, "recording: patient ana\n", stdout)

	for _, args := range [][]string{{"pause"}, {"resume", "Joana", "Lima"}, {"stop"}, {"clear"}} {
		code, stdout, stderr := paths.run(t, Runner{}, args...)
		require.Equal(t, 0, code, args)
		require.Empty(t, stderr, args)
		require.Equal(t, args[0]+" handled\n", stdout)
	}

	got := make([]ipc.Request, 0, 5)
	for i := 0; i < 5; i++ {
		got = append(got, <-requests)
	}
	require.Equal(t, []ipc.Request{
		{Command: ipc.CommandStatus},
		{Command: ipc.CommandPause},
		{Command: ipc.CommandResume, Patient: "Joana Lima"},
		{Command: ipc.CommandStop},
		{Command: ipc.CommandClear},
	}, got)
}

func TestRunnerForwardReportsOwnerError(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "idle", Error: "invalid transition: idle -> pause"}
	})
	defer shutdown()

	code, _, stderr := paths.run(t, Runner{}, "pause")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "invalid transition")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "escuta.sock")

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, time.Second)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "recording", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandPause}, time.Second)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "cancel"}, time.Second)
	require.True(t, handled)
	require.ErrorContains(t, err, "unknown command")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "escuta.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, time.Second)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "escuta.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, time.Second)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, func(cfg map[string]any) {
		cfg["transcription"].(map[string]any)["grpc"] = "127.0.0.1:1"
		cfg["transcription"].(map[string]any)["dial_timeout_ms"] = 100
	})
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, stdout, _ := paths.run(t, Runner{}, "doctor")
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "config: loaded")
	require.Contains(t, stdout, "[OK] audio.output_dir")
	require.Contains(t, stdout, "[FAIL] transcription.grpc")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, _, stderr := paths.run(t, Runner{}, "devices")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerRecordReturnsErrorWhenCaptureStartupFails(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, _, stderr := paths.run(t, Runner{}, "record", "ana")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
	require.Contains(t, stderr, "audio input device unavailable")

	// owner path should clean up runtime socket on exit
	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordRefusesSecondOwner(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "recording"}
	})
	defer shutdown()

	code, _, stderr := paths.run(t, Runner{Opener: &pushOpener{}}, "record", "ana")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already running")
}

func TestRunnerRecordPauseResumeStop(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	opener := &pushOpener{samples: tone(3200)}

	owner := startOwner(t, paths, opener, "Ana", "Souza")

	code, stdout, stderr := paths.run(t, Runner{}, "pause")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "paused; 1 segment(s) saved")

	code, stdout, _ = paths.run(t, Runner{}, "status")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "paused: patient Ana_Souza, 1 segment(s)")

	code, _, stderr = paths.run(t, Runner{}, "resume")
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr = paths.run(t, Runner{}, "stop")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "saved ")
	require.Contains(t, stdout, "2 segment(s)")

	exit, ownerOut, ownerErr := owner.wait(t)
	require.Equal(t, 0, exit, ownerErr)
	require.Contains(t, ownerOut, "recording Ana_Souza")
	require.Contains(t, ownerOut, "_completo_normalizado.wav")
	require.Equal(t, 2, opener.opened())

	completes, err := filepath.Glob(filepath.Join(paths.audioDir, "Ana_Souza_*_completo.wav"))
	require.NoError(t, err)
	require.Len(t, completes, 1)
	enhanced, err := filepath.Glob(filepath.Join(paths.audioDir, "Ana_Souza_*_completo_normalizado.wav"))
	require.NoError(t, err)
	require.Len(t, enhanced, 1)
	parts, err := filepath.Glob(filepath.Join(paths.audioDir, "*_part*.wav"))
	require.NoError(t, err)
	require.Empty(t, parts)

	info, err := audio.ReadInfo(completes[0])
	require.NoError(t, err)
	require.Equal(t, 6400, info.Frames)

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)

	code, stdout, stderr = paths.run(t, Runner{}, "sessions")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "finished | Ana_Souza | segments=2")
}

func TestRunnerRecordClearExitsOwner(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	owner := startOwner(t, paths, &pushOpener{samples: tone(800)}, "bruno")

	code, _, stderr := paths.run(t, Runner{}, "pause")
	require.Equal(t, 0, code, stderr)
	code, stdout, stderr := paths.run(t, Runner{}, "clear")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "session cleared")

	exit, ownerOut, _ := owner.wait(t)
	require.Equal(t, 0, exit)
	require.Contains(t, ownerOut, "session cleared")

	// clear is a logical reset: the saved segment stays on disk
	parts, err := filepath.Glob(filepath.Join(paths.audioDir, "bruno_*_part1.wav"))
	require.NoError(t, err)
	require.Len(t, parts, 1)

	code, stdout, _ = paths.run(t, Runner{}, "sessions", "5")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "discarded | bruno")
}

func TestRunnerRecordStopsOnInterrupt(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	owner := startOwnerWithContext(t, ctx, paths, &pushOpener{samples: tone(1600)}, "carla")

	cancel()
	exit, ownerOut, ownerErr := owner.wait(t)
	require.Equal(t, 0, exit, ownerErr)
	require.Contains(t, ownerOut, "saved ")

	completes, err := filepath.Glob(filepath.Join(paths.audioDir, "carla_*_completo.wav"))
	require.NoError(t, err)
	require.Len(t, completes, 1)
}

func TestRunnerRecordTranscribesAfterStop(t *testing.T) {
	addr := startTranscriberServer(t, []any{
		map[string]any{"start": 0.0, "end": 0.1, "text": "Pode entrar."},
	})
	paths := setupRunnerEnv(t, func(cfg map[string]any) {
		cfg["transcription"].(map[string]any)["grpc"] = addr
		cfg["transcription"].(map[string]any)["after_stop"] = true
	})
	owner := startOwner(t, paths, &pushOpener{samples: tone(1600)}, "davi")

	code, _, stderr := paths.run(t, Runner{}, "stop")
	require.Equal(t, 0, code, stderr)

	exit, ownerOut, ownerErr := owner.wait(t)
	require.Equal(t, 0, exit, ownerErr)
	require.Contains(t, ownerOut, "transcript ")
	require.Contains(t, ownerOut, "1 turns, heuristic")

	reports, err := filepath.Glob(filepath.Join(paths.transcriptDir, "davi_*_completo_transcrito.txt"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func TestRunnerSessionsEmptyCatalog(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	code, stdout, _ := paths.run(t, Runner{}, "sessions")
	require.Equal(t, 0, code)
	require.Equal(t, "no sessions recorded\n", stdout)

	code, _, stderr := paths.run(t, Runner{}, "sessions", "zero")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "positive integer")
}

func TestRunnerCombineCommand(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	dir := t.TempDir()
	format := audio.Format{SampleRate: testRate, Channels: 1, BitDepth: 16}
	first := filepath.Join(dir, "dora_20260101_100000_part1.wav")
	second := filepath.Join(dir, "dora_20260101_100500_part2.wav")
	require.NoError(t, audio.WritePCM(first, tone(2400), format))
	require.NoError(t, audio.WritePCM(second, tone(2400), format))

	code, stdout, stderr := paths.run(t, Runner{}, "combine", "Dora Maria", first, second)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "2 segment(s)")

	enhanced, err := filepath.Glob(filepath.Join(dir, "Dora_Maria_*_completo_normalizado.wav"))
	require.NoError(t, err)
	require.Len(t, enhanced, 1)
	require.NoFileExists(t, first)
	require.NoFileExists(t, second)
}

func TestRunnerCombineMissingPart(t *testing.T) {
	paths := setupRunnerEnv(t, nil)

	code, _, stderr := paths.run(t, Runner{}, "combine", "dora", filepath.Join(t.TempDir(), "missing.wav"))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerEnhanceCommand(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	input := filepath.Join(t.TempDir(), "sessao.wav")
	require.NoError(t, audio.WritePCM(input, tone(4096), audio.Format{SampleRate: testRate, Channels: 1, BitDepth: 16}))

	code, stdout, stderr := paths.run(t, Runner{}, "enhance", input)
	require.Equal(t, 0, code, stderr)
	out := strings.TrimSpace(stdout)
	require.True(t, strings.HasSuffix(out, "sessao_normalizado.wav"), out)
	require.FileExists(t, out)
	require.NotContains(t, stderr, "warning:")

	code, _, _ = paths.run(t, Runner{}, "enhance", filepath.Join(t.TempDir(), "missing.wav"))
	require.Equal(t, 1, code)
}

func TestRunnerEnhanceCommandWarnsOnFallbackCopy(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	input := filepath.Join(t.TempDir(), "quebrado.wav")
	require.NoError(t, os.WriteFile(input, []byte("not a wav"), 0o600))

	code, stdout, stderr := paths.run(t, Runner{}, "enhance", input)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "warning: enhancement failed")
	out := strings.TrimSpace(stdout)
	require.True(t, strings.HasSuffix(out, "quebrado_normalizado.wav"), out)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "not a wav", string(got))
}

func TestRunnerLabelCommandUsesPauseHeuristic(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	turnsPath := filepath.Join(t.TempDir(), "turns.json")
	writeJSON(t, turnsPath, []map[string]any{
		{"start": 0, "end": 2, "text": "Bom dia."},
		{"start": 2.1, "end": 4, "text": "Como tem passado?"},
		{"start": 6, "end": 7, "text": "Bem."},
	})

	code, stdout, stderr := paths.run(t, Runner{}, "label", turnsPath)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "=== Terapeuta ===")
	require.Contains(t, stdout, "=== Paciente ===")
	require.Contains(t, stdout, "Terapeuta: 2 falas")
	require.Contains(t, stdout, "Paciente: 1 falas")
	require.Contains(t, stdout, "pausas")
}

func TestRunnerLabelCommandOrdersHandWrittenTurns(t *testing.T) {
	paths := setupRunnerEnv(t, nil)
	dir := t.TempDir()
	ordered := filepath.Join(dir, "ordered.json")
	shuffled := filepath.Join(dir, "shuffled.json")
	writeJSON(t, ordered, []map[string]any{
		{"start": 0, "end": 2, "text": "Bom dia."},
		{"start": 2.1, "end": 4, "text": "Como tem passado?"},
		{"start": 6, "end": 7, "text": "Bem."},
	})
	writeJSON(t, shuffled, []map[string]any{
		{"start": 6, "end": 7, "text": "Bem."},
		{"start": 0, "end": 2, "text": "Bom dia."},
		{"start": 2.1, "end": 4, "text": "Como tem passado?"},
	})

	code, want, stderr := paths.run(t, Runner{}, "label", ordered)
	require.Equal(t, 0, code, stderr)
	code, got, stderr := paths.run(t, Runner{}, "label", shuffled)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, want, got)
}

func TestRunnerLabelModelModeNeedsRecording(t *testing.T) {
	paths := setupRunnerEnv(t, func(cfg map[string]any) {
		cfg["diarization"] = map[string]any{"mode": "model"}
	})
	turnsPath := filepath.Join(t.TempDir(), "turns.json")
	writeJSON(t, turnsPath, []map[string]any{{"start": 0, "end": 1, "text": "oi"}})

	code, _, stderr := paths.run(t, Runner{}, "label", turnsPath)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "needs the recording")
}

func TestRunnerTranscribeWritesReport(t *testing.T) {
	addr := startTranscriberServer(t, []any{
		map[string]any{"start": 0.0, "end": 2.0, "text": "Bom dia."},
		map[string]any{"start": 4.0, "end": 5.0, "text": "Bom dia, doutora."},
	})
	paths := setupRunnerEnv(t, func(cfg map[string]any) {
		cfg["transcription"].(map[string]any)["grpc"] = addr
	})
	input := filepath.Join(paths.audioDir, "eva_completo_normalizado.wav")
	require.NoError(t, os.MkdirAll(paths.audioDir, 0o755))
	require.NoError(t, audio.WritePCM(input, tone(1600), audio.Format{SampleRate: testRate, Channels: 1, BitDepth: 16}))

	code, stdout, stderr := paths.run(t, Runner{}, "transcribe", input)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "2 turns")

	report := filepath.Join(paths.transcriptDir, "eva_completo_normalizado_transcrito.txt")
	contents, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(contents), "=== Terapeuta ===")
	require.Contains(t, string(contents), "=== Paciente ===")
	require.Contains(t, string(contents), "[00:04-00:05] Bom dia, doutora.")
}

func TestSessionEnded(t *testing.T) {
	require.True(t, sessionEnded(ipc.CommandStop, fsm.StateStopped))
	require.False(t, sessionEnded(ipc.CommandStop, fsm.StatePaused))
	require.True(t, sessionEnded(ipc.CommandClear, fsm.StateIdle))
	require.False(t, sessionEnded(ipc.CommandPause, fsm.StatePaused))

	require.True(t, sessionActive(fsm.StateRecording))
	require.True(t, sessionActive(fsm.StatePaused))
	require.False(t, sessionActive(fsm.StateStopped))
	require.False(t, sessionActive(fsm.StateIdle))
}

func TestWiringMapsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2
	cfg.Transcription.DialTimeoutMS = 250

	require.Equal(t, audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, audioFormat(cfg))
	require.Equal(t, 250*time.Millisecond, asrConfig(cfg).DialTimeout)
	require.Equal(t, cfg.Transcription.GRPC, asrConfig(cfg).Endpoint)

	opts := enhanceOptions(cfg.Enhance)
	require.Equal(t, 0.7, opts.PeakTarget)
	require.NoError(t, opts.Validate())
}

// pushOpener delivers one block of samples each time a stream opens.
type pushOpener struct {
	mu      sync.Mutex
	samples []int16
	count   int
}

type nopStream struct{}

func (nopStream) Close() error { return nil }

func (o *pushOpener) Open(_ context.Context, _ audio.Format, sink audio.FrameSink) (audio.Stream, error) {
	o.mu.Lock()
	o.count++
	o.mu.Unlock()
	if len(o.samples) > 0 {
		sink(append([]int16(nil), o.samples...))
	}
	return nopStream{}, nil
}

func (o *pushOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return out
}

type runnerPaths struct {
	configPath    string
	runtimeDir    string
	audioDir      string
	transcriptDir string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "escuta.sock")
}

func (p runnerPaths) run(t *testing.T, runner Runner, args ...string) (int, string, string) {
	t.Helper()
	return p.runContext(context.Background(), runner, args...)
}

func (p runnerPaths) runContext(ctx context.Context, runner Runner, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	runner.Stdout = &stdout
	runner.Stderr = &stderr
	code := runner.Execute(ctx, append([]string{"--config", p.configPath}, args...))
	return code, stdout.String(), stderr.String()
}

func setupRunnerEnv(t *testing.T, mutate func(map[string]any)) runnerPaths {
	t.Helper()

	for _, key := range []string{
		config.EnvFileVar, config.EnvAudioDir, config.EnvTranscriptDir, config.EnvSampleRate,
		config.EnvChannels, config.EnvAudioInput, config.EnvTranscribeGRPC, config.EnvLanguage,
		config.EnvDiarizationMode, config.EnvSpeakerVocabulary, config.EnvMetricsListen,
	} {
		t.Setenv(key, "")
	}

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	paths := runnerPaths{
		configPath:    filepath.Join(t.TempDir(), "config.jsonc"),
		runtimeDir:    runtimeDir,
		audioDir:      filepath.Join(t.TempDir(), "audio"),
		transcriptDir: filepath.Join(t.TempDir(), "transcricoes"),
	}

	cfg := map[string]any{
		"audio": map[string]any{
			"output_dir":  paths.audioDir,
			"sample_rate": testRate,
		},
		"transcription": map[string]any{
			"output_dir": paths.transcriptDir,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	writeJSON(t, paths.configPath, cfg)
	return paths
}

func writeJSON(t *testing.T, path string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

type ownerProcess struct {
	exit   chan int
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func startOwner(t *testing.T, paths runnerPaths, opener *pushOpener, patient ...string) *ownerProcess {
	t.Helper()
	return startOwnerWithContext(t, context.Background(), paths, opener, patient...)
}

func startOwnerWithContext(t *testing.T, ctx context.Context, paths runnerPaths, opener *pushOpener, patient ...string) *ownerProcess {
	t.Helper()

	owner := &ownerProcess{exit: make(chan int, 1), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	runner := Runner{Stdout: owner.stdout, Stderr: owner.stderr, Opener: opener}
	args := append([]string{"--config", paths.configPath, "record"}, patient...)
	go func() {
		owner.exit <- runner.Execute(ctx, args)
	}()

	require.Eventually(t, func() bool {
		resp, err := ipc.Send(context.Background(), paths.socketPath(), ipc.Request{Command: ipc.CommandStatus}, time.Second)
		return err == nil && resp.State == string(fsm.StateRecording)
	}, 5*time.Second, 20*time.Millisecond)
	return owner
}

func (o *ownerProcess) wait(t *testing.T) (int, string, string) {
	t.Helper()
	select {
	case code := <-o.exit:
		return code, o.stdout.String(), o.stderr.String()
	case <-time.After(30 * time.Second):
		t.Fatal("session owner did not exit")
		return 0, "", ""
	}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// startTranscriberServer serves a fixed transcription on a loopback TCP port.
func startTranscriberServer(t *testing.T, segments []any) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: asr.TranscriberService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Transcribe",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return structpb.NewStruct(map[string]any{"segments": segments})
			},
		}},
	}, struct{}{})
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return lis.Addr().String()
}
