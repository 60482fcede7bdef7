// Package ipc carries session control commands between escuta processes over a
// unix socket, one JSON object per line.
package ipc

import (
	"errors"
	"fmt"
	"time"
)

// Commands understood by the session owner.
const (
	CommandStatus = "status"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
	CommandClear  = "clear"
)

const (
	// ControlTimeout bounds a status, pause, resume, or clear roundtrip.
	ControlTimeout = 2 * time.Second
	// StopTimeout covers combining and enhancing the whole session in the owner.
	StopTimeout = 10 * time.Minute
)

var (
	// ErrUnknownCommand reports a request naming no known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnexpectedPatient reports a patient name on a command that cannot rename.
	ErrUnexpectedPatient = errors.New("patient is only accepted by resume and stop")
)

// Request is one control command. Patient optionally renames the session on
// resume and stop.
type Request struct {
	Command string `json:"command"`
	Patient string `json:"patient,omitempty"`
}

// Validate rejects requests the owner would never act on.
func (r Request) Validate() error {
	switch r.Command {
	case CommandResume, CommandStop:
		return nil
	case CommandStatus, CommandPause, CommandClear:
		if r.Patient != "" {
			return fmt.Errorf("%w: %s", ErrUnexpectedPatient, r.Command)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, r.Command)
	}
}

// Timeout is how long a client waits for the owner to answer r.
func (r Request) Timeout() time.Duration {
	if r.Command == CommandStop {
		return StopTimeout
	}
	return ControlTimeout
}

// Response reports the owner's state after handling a Request.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Err returns the owner's refusal as an error, or nil for an OK response.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(r.Error)
}
