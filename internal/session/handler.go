package session

import (
	"context"
	"fmt"

	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/ipc"
)

// Handle serves IPC commands for the session owner.
func (r *Recorder) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var (
		message string
		err     error
	)
	switch req.Command {
	case ipc.CommandStatus:
		message = r.describe()
	case ipc.CommandPause:
		err = r.Pause(ctx)
		message = fmt.Sprintf("paused; %d segment(s) saved", r.store.Len())
	case ipc.CommandResume:
		err = r.Resume(ctx, req.Patient)
		message = "recording resumed"
	case ipc.CommandStop:
		var result combine.Result
		result, err = r.Stop(ctx, req.Patient)
		message = describeResult(result)
	case ipc.CommandClear:
		err = r.Clear(ctx)
		message = "session cleared"
	default:
		return ipc.Response{OK: false, State: string(r.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}

	if err != nil {
		return ipc.Response{OK: false, State: string(r.State()), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(r.State()), Message: message}
}

func (r *Recorder) describe() string {
	status := r.Status()
	if status.SessionID == "" {
		return "no active session"
	}
	return fmt.Sprintf("patient %s, %d segment(s), %.1fs saved, %.1fs buffered",
		status.Patient,
		status.Segments,
		r.cfg.Format.Duration(status.Frames),
		r.cfg.Format.Duration(status.Buffered),
	)
}

func describeResult(result combine.Result) string {
	if result.Enhanced {
		return fmt.Sprintf("saved %s (%d segment(s), %.1fs, enhanced)", result.CanonicalPath, result.Segments, result.Duration())
	}
	return fmt.Sprintf("saved %s (%d segment(s), %.1fs)", result.CanonicalPath, result.Segments, result.Duration())
}
