package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const fragmentMillis = 20

// FrameSink receives interleaved s16 samples. It runs on the Pulse client goroutine
// and must not block on file I/O.
type FrameSink func(samples []int16)

// Capture delivers decoded PCM frames from one Pulse record stream to a sink.
type Capture struct {
	client *pulse.Client
	stream *pulse.RecordStream
	device Device
	format Format
	sink   FrameSink

	mu       sync.Mutex
	pending  []byte
	inflight sync.WaitGroup
	stopped  bool

	bytes  atomic.Int64
	frames atomic.Int64

	stopOnce sync.Once
}

// StartCapture opens and starts a Pulse record stream for the selected device.
func StartCapture(device Device, format Format, sink FrameSink) (*Capture, error) {
	if sink == nil {
		return nil, errors.New("capture sink is required")
	}
	channelOpt, err := channelOption(format.Channels)
	if err != nil {
		return nil, err
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}

	capture := &Capture{
		client: client,
		device: device,
		format: format,
		sink:   sink,
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	fragmentBytes := uint32(format.SampleRate*format.Channels*2*fragmentMillis) / 1000
	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		channelOpt,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("escuta session"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()
	return capture, nil
}

// Device returns the selected source for this capture.
func (c *Capture) Device() Device {
	return c.device
}

// Format returns the stream format negotiated for this capture.
func (c *Capture) Format() Format {
	return c.format
}

// BytesCaptured reports how much PCM data was delivered by Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// FramesCaptured reports how many whole frames were handed to the sink.
func (c *Capture) FramesCaptured() int64 {
	return c.frames.Load()
}

// Close stops the stream, waits for in-flight sink calls, and releases the client.
// It is safe to call more than once.
func (c *Capture) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		if c.stream != nil {
			c.stream.Stop()
			c.stream.Close()
		}
		c.inflight.Wait()
		if c.client != nil {
			c.client.Close()
		}
	})
	return nil
}

// onPCM decodes little-endian s16 bytes into whole frames and forwards them.
// Partial frames are kept until the next callback.
func (c *Capture) onPCM(p []byte) (int, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.inflight.Add(1)
	c.bytes.Add(int64(len(p)))

	frameBytes := 2 * c.format.Channels
	if frameBytes <= 0 {
		frameBytes = 2
	}
	c.pending = append(c.pending, p...)
	whole := len(c.pending) - len(c.pending)%frameBytes
	samples := make([]int16, whole/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(c.pending[i*2:]))
	}
	c.pending = append(c.pending[:0], c.pending[whole:]...)
	c.mu.Unlock()

	defer c.inflight.Done()
	if len(samples) > 0 {
		c.frames.Add(int64(whole / frameBytes))
		c.sink(samples)
	}
	return len(p), nil
}

func channelOption(channels int) (pulse.RecordOption, error) {
	switch channels {
	case 1:
		return pulse.RecordMono, nil
	case 2:
		return pulse.RecordStereo, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d (want 1 or 2)", channels)
	}
}

// writerFunc adapts a function to io.Writer.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
