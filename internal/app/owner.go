package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbright/escuta/internal/config"
	"github.com/rbright/escuta/internal/fsm"
	"github.com/rbright/escuta/internal/ipc"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/session"
)

// commandRecord makes this process the session owner: it starts capture, serves
// control commands on the runtime socket, and exits once the session is stopped or
// cleared. An interrupt stops the session so captured audio is kept.
func (r Runner) commandRecord(ctx context.Context, cfg config.Config, patient string, logger *slog.Logger, m *metrics.Metrics) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a session is already running; use pause, resume, stop, or clear")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	recorder, cleanup, err := r.newRecorder(ctx, cfg, logger, m)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer cleanup()

	if err := recorder.Start(ctx, patient); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	status := recorder.Status()
	fmt.Fprintf(r.Stdout, "recording %s (session %s)\n", status.Patient, status.SessionID)

	finished := make(chan struct{})
	var finishOnce sync.Once
	handler := ipc.HandlerFunc(func(hctx context.Context, req ipc.Request) ipc.Response {
		resp := recorder.Handle(hctx, req)
		if sessionEnded(req.Command, recorder.State()) {
			finishOnce.Do(func() { close(finished) })
		}
		return resp
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	server := &ipc.Server{Handler: handler, Logger: logger}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Serve(serverCtx, listener)
	}()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(serverCtx, cfg.Metrics.Listen, logger); err != nil {
				logger.Warn("metrics server stopped", "listen", cfg.Metrics.Listen, "error", err.Error())
			}
		}()
	}

	select {
	case <-finished:
	case <-ctx.Done():
		r.stopOnInterrupt(context.WithoutCancel(ctx), recorder, logger)
	}

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	final := recorder.Status()
	switch {
	case final.State == fsm.StateIdle:
		fmt.Fprintln(r.Stdout, "session cleared")
		return 0
	case final.LastResult == nil:
		fmt.Fprintf(r.Stderr, "error: session %s was not combined; segments kept in %s\n", status.SessionID, cfg.Audio.OutputDir)
		return 1
	}

	fmt.Fprintf(r.Stdout, "saved %s\n", final.LastResult.CanonicalPath)
	if !cfg.Transcription.AfterStop {
		return 0
	}

	// The recording is already safe; transcription failures do not fail the command.
	if err := r.transcribeTo(context.WithoutCancel(ctx), cfg, final.LastResult.CanonicalPath, logger, m); err != nil {
		fmt.Fprintf(r.Stderr, "warning: transcription skipped: %v\n", err)
		logger.Warn("post-stop transcription failed", "audio", final.LastResult.CanonicalPath, "error", err.Error())
	}
	return 0
}

// sessionEnded reports whether a handled command left the owner with nothing to do.
func sessionEnded(command string, state fsm.State) bool {
	switch command {
	case ipc.CommandStop:
		return state == fsm.StateStopped
	case ipc.CommandClear:
		return state == fsm.StateIdle
	default:
		return false
	}
}

func sessionActive(state fsm.State) bool {
	return state == fsm.StateRecording || state == fsm.StatePaused
}

func (r Runner) stopOnInterrupt(ctx context.Context, recorder *session.Recorder, logger *slog.Logger) {
	state := recorder.State()
	if !sessionActive(state) {
		return
	}
	logger.Info("interrupted; stopping session", "state", state)
	if _, err := recorder.Stop(ctx, ""); err != nil {
		// A stop or clear that arrived over the socket first already ended the session.
		if errors.Is(err, fsm.ErrInvalidTransition) && !sessionActive(recorder.State()) {
			logger.Info("session ended before interrupt stop", "state", recorder.State())
			return
		}
		fmt.Fprintf(r.Stderr, "error: stop on interrupt: %v\n", err)
		logger.Error("stop on interrupt failed", "error", err.Error())
	}
}
