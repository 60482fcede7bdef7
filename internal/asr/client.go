// Package asr is the gRPC client for the external transcription and diarization
// services.
//
// Both services exchange google.protobuf.Struct messages:
//
//	Transcriber/Transcribe  {audio_path, language} -> {segments: [{start, end, text}]}
//	Diarizer/Diarize        {audio_path}           -> {spans: [{start, end, speaker}]}
package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/escuta/internal/transcript"
)

// Service names and full method paths.
const (
	TranscriberService = "escuta.asr.v1.Transcriber"
	DiarizerService    = "escuta.asr.v1.Diarizer"

	transcribeMethod = "/" + TranscriberService + "/Transcribe"
	diarizeMethod    = "/" + DiarizerService + "/Diarize"
)

// Config controls dialing and per-request deadlines.
type Config struct {
	Endpoint       string
	Language       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	DialOptions    []grpc.DialOption
}

// Client wraps one connection to the transcription host.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    Config
}

// Dial connects to cfg.Endpoint and waits until the connection is ready.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("transcription endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, cfg.DialOptions...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial transcription grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for transcription grpc readiness: %w", err)
	}

	return &Client{conn: conn, health: healthpb.NewHealthClient(conn), cfg: cfg}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ready asks the standard health service whether service is serving.
func (c *Client) Ready(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", service, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check %s: status %s", service, resp.GetStatus())
	}
	return nil
}

// Transcribe returns the timed turns recognized in audioPath.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]transcript.Turn, error) {
	req, err := structpb.NewStruct(map[string]any{
		"audio_path": audioPath,
		"language":   c.cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("build transcribe request: %w", err)
	}

	resp, err := c.invoke(ctx, transcribeMethod, req)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", audioPath, err)
	}

	var turns []transcript.Turn
	for i, item := range resp.GetFields()["segments"].GetListValue().GetValues() {
		fields := item.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("transcribe %s: segment %d is not an object", audioPath, i)
		}
		turns = append(turns, transcript.Turn{
			Start: fields["start"].GetNumberValue(),
			End:   fields["end"].GetNumberValue(),
			Text:  strings.TrimSpace(fields["text"].GetStringValue()),
		})
	}
	return turns, nil
}

// Diarize returns the speaker spans the model found in audioPath.
func (c *Client) Diarize(ctx context.Context, audioPath string) ([]transcript.SpeakerSpan, error) {
	req, err := structpb.NewStruct(map[string]any{"audio_path": audioPath})
	if err != nil {
		return nil, fmt.Errorf("build diarize request: %w", err)
	}

	resp, err := c.invoke(ctx, diarizeMethod, req)
	if err != nil {
		return nil, fmt.Errorf("diarize %s: %w", audioPath, err)
	}

	var spans []transcript.SpeakerSpan
	for _, item := range resp.GetFields()["spans"].GetListValue().GetValues() {
		fields := item.GetStructValue().GetFields()
		speaker := strings.TrimSpace(fields["speaker"].GetStringValue())
		if speaker == "" {
			continue
		}
		spans = append(spans, transcript.SpeakerSpan{
			Start:   fields["start"].GetNumberValue(),
			End:     fields["end"].GetNumberValue(),
			Speaker: speaker,
		})
	}
	return spans, nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
