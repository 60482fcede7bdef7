package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultReadTimeout bounds how long a client may take to send its request line.
const DefaultReadTimeout = 2 * time.Second

const writeTimeout = 2 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers control commands for the session owner.
type Server struct {
	Handler Handler
	// ReadTimeout defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts clients until ctx is cancelled or the listener is closed, then waits
// for every accepted request to be answered.
//
// Handlers run under a context that ctx's cancellation does not reach: a stop that
// is combining the session when shutdown begins still finishes and replies.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	handlerCtx := context.WithoutCancel(ctx)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(handlerCtx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		s.logDebug("read IPC request failed", "error", err.Error())
		s.reply(conn, Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	if err := req.Validate(); err != nil {
		s.logWarn("rejected IPC request", "command", req.Command, "error", err.Error())
		s.reply(conn, Response{OK: false, Error: err.Error()})
		return
	}

	started := time.Now()
	resp := s.Handler.Handle(ctx, req)
	s.logDebug("IPC request handled", "command", req.Command, "ok", resp.OK, "elapsed_ms", time.Since(started).Milliseconds())
	s.reply(conn, resp)
}

func (s *Server) reply(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logWarn("write IPC response failed", "error", err.Error())
	}
}

func (s *Server) readTimeout() time.Duration {
	if s.ReadTimeout > 0 {
		return s.ReadTimeout
	}
	return DefaultReadTimeout
}

func (s *Server) logDebug(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Debug(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}
