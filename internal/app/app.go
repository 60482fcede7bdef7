package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/escuta/internal/cli"
	"github.com/rbright/escuta/internal/config"
	"github.com/rbright/escuta/internal/doctor"
	"github.com/rbright/escuta/internal/ipc"
	"github.com/rbright/escuta/internal/logging"
	"github.com/rbright/escuta/internal/metrics"
	"github.com/rbright/escuta/internal/session"
	"github.com/rbright/escuta/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Opener overrides the PulseAudio capture opener used by record.
	Opener session.Opener
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("escuta"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("escuta"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, cfgErr := config.Load(parsed.ConfigPath)
	logCfg := config.Default().Log
	if cfgErr == nil {
		logCfg = cfgLoaded.Config.Log
	}

	logRuntime, err := logging.New(logging.Options{
		Level:      logCfg.Level,
		MaxSizeMB:  logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	if cfgErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", cfgErr)
		logger.Error("load config failed", "error", cfgErr.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"args", len(parsed.Args),
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	cfg := cfgLoaded.Config
	m := metrics.New()

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfg, parsed.Patient(), logger, m)
	case cli.CommandPause:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandPause})
	case cli.CommandResume:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandResume, Patient: parsed.Patient()})
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandStop})
	case cli.CommandClear:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandClear})
	case cli.CommandSessions:
		return r.commandSessions(ctx, cfg, parsed.Args)
	case cli.CommandCombine:
		return r.commandCombine(ctx, cfg, parsed.Args[0], parsed.Args[1:], logger, m)
	case cli.CommandEnhance:
		return r.commandEnhance(ctx, cfg, parsed.Args[0], logger, m)
	case cli.CommandTranscribe:
		return r.commandTranscribe(ctx, cfg, parsed.Args[0], logger, m)
	case cli.CommandLabel:
		audioPath := ""
		if len(parsed.Args) > 1 {
			audioPath = parsed.Args[1]
		}
		return r.commandLabel(ctx, cfg, parsed.Args[0], audioPath, logger, m)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	req := ipc.Request{Command: ipc.CommandStatus}
	resp, handled, err := tryForward(ctx, socketPath, req, req.Timeout())
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.Message != "" {
			fmt.Fprintf(r.Stdout, "%s: %s\n", resp.State, resp.Message)
			return 0
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req, req.Timeout())
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active escuta session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward sends req to the session owner. handled is false when no owner is
// listening.
func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		return resp, true, resp.Err()
	}

	if ipc.IsUnavailable(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}
