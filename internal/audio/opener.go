package audio

import (
	"context"
	"log/slog"
)

// Stream is an open capture stream. Close stops delivery and is idempotent.
type Stream interface {
	Close() error
}

// PulseOpener opens Pulse record streams on the device chosen by input/fallback.
type PulseOpener struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

// Open selects a device and starts capturing into sink.
func (o PulseOpener) Open(ctx context.Context, format Format, sink FrameSink) (Stream, error) {
	selection, err := SelectDevice(ctx, o.Input, o.Fallback)
	if err != nil {
		return nil, err
	}
	if o.Logger != nil {
		if selection.Warning != "" {
			o.Logger.Warn(selection.Warning)
		}
		o.Logger.Info("audio device selected",
			"device", selection.Device.ID,
			"description", selection.Device.Description,
			"fallback", selection.Fallback,
			"sample_rate", format.SampleRate,
			"channels", format.Channels,
		)
	}
	return StartCapture(selection.Device, format, sink)
}
