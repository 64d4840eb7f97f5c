// Package pipeline implements the streaming audio processing graph and the
// controller that owns it.
//
// A [Controller] accepts interleaved S16LE PCM buffers pushed from a single
// producer and drives them through a linear stage chain — entry queue, channel
// conversion, resampling, Opus encoding, container or payload framing — ending
// in a file or network sink. The controller is a small state machine
// (Uninitialized → Initialized → Playing → Stopped) with graceful end-of-stream
// draining bounded by a fixed timeout, and a polled last-error record fed by a
// background event loop observing the graph's message bus.
package pipeline

import (
	"errors"
	"fmt"
)

// SinkKind selects the terminal stage of the graph.
type SinkKind string

const (
	// SinkWAV writes raw PCM into a RIFF/WAVE container file. The encode
	// stage is bypassed: WAV is a PCM container.
	SinkWAV SinkKind = "wav"

	// SinkOgg writes Opus packets into an Ogg container file.
	SinkOgg SinkKind = "ogg"

	// SinkRTP transmits Opus packets as RTP over UDP.
	SinkRTP SinkKind = "rtp"
)

// Sink describes the destination of a session's output.
type Sink struct {
	Kind SinkKind

	// Channels overrides the output channel count, e.g. 1 to downmix a
	// stereo capture before it reaches the sink. 0 keeps the capture
	// channel count.
	Channels int

	// Path is the output file for SinkWAV and SinkOgg.
	Path string

	// Host and Port address the SinkRTP destination. Port 0 selects the
	// well-known RTP port.
	Host string
	Port int
}

// Opus encoder bitrate bounds in bits per second.
const (
	minBitrate = 500
	maxBitrate = 512000
)

// Config holds the immutable per-session pipeline parameters. The sample
// format is fixed: interleaved signed 16-bit little-endian PCM.
type Config struct {
	// SampleRate in Hz of the pushed PCM.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitrateBps is the Opus encoder target bitrate. Ignored by SinkWAV.
	BitrateBps int

	Sink Sink
}

// outChannels is the channel count leaving the convert stage.
func (c Config) outChannels() int {
	if c.Sink.Channels != 0 {
		return c.Sink.Channels
	}
	return c.Channels
}

// validate checks the session parameters before any stage is constructed.
func (c Config) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d out of range", c.SampleRate))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, fmt.Errorf("channel count %d out of range", c.Channels))
	}
	if c.Sink.Channels != 0 && c.Sink.Channels != 1 && c.Sink.Channels != 2 {
		errs = append(errs, fmt.Errorf("sink channel count %d out of range", c.Sink.Channels))
	}
	switch c.Sink.Kind {
	case SinkWAV:
		if c.Sink.Path == "" {
			errs = append(errs, errors.New("wav sink requires an output path"))
		}
	case SinkOgg, SinkRTP:
		if c.BitrateBps < minBitrate || c.BitrateBps > maxBitrate {
			errs = append(errs, fmt.Errorf("bitrate %d unsupported by the opus encoder", c.BitrateBps))
		}
		if c.Sink.Kind == SinkOgg && c.Sink.Path == "" {
			errs = append(errs, errors.New("ogg sink requires an output path"))
		}
		if c.Sink.Kind == SinkRTP && c.Sink.Host == "" {
			errs = append(errs, errors.New("rtp sink requires a destination host"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", c.Sink.Kind))
	}
	return errors.Join(errs...)
}
