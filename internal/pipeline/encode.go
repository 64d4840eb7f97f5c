package pipeline

import (
	"context"
	"fmt"

	"layeh.com/gopus"

	"github.com/justivo/wavecast/internal/observe"
	"github.com/justivo/wavecast/pkg/pcm"
)

// Opus framing constants. The encoder always runs at 48 kHz with 20 ms
// frames; the resample stage upstream guarantees the rate.
const (
	encodeSampleRate = 48000
	frameDurationMs  = 20

	// frameSamples is the number of samples per channel per 20 ms frame.
	frameSamples = encodeSampleRate * frameDurationMs / 1000 // 960
)

// encodeStage accumulates PCM into fixed 20 ms frames and Opus-encodes them.
// The final partial frame at end-of-stream is padded with silence so no
// captured audio is lost.
type encodeStage struct {
	enc        *gopus.Encoder
	channels   int
	frameBytes int
	pending    []byte
	metrics    *observe.Metrics
}

func newEncodeStage(channels, bitrate int, metrics *observe.Metrics) (*encodeStage, error) {
	enc, err := gopus.NewEncoder(encodeSampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("encode: create opus encoder: %w", err)
	}
	enc.SetBitrate(bitrate)

	return &encodeStage{
		enc:        enc,
		channels:   channels,
		frameBytes: frameSamples * channels * pcm.BytesPerSample,
		metrics:    metrics,
	}, nil
}

func (s *encodeStage) name() string { return "encode" }

func (s *encodeStage) release() error {
	s.enc = nil
	return nil
}

// encodeFrame encodes exactly one 20 ms frame of PCM bytes.
func (s *encodeStage) encodeFrame(frame []byte) ([]byte, error) {
	packet, err := s.enc.Encode(pcm.BytesToInt16s(frame), frameSamples, len(frame))
	if err != nil {
		return nil, fmt.Errorf("encode: opus encode: %w", err)
	}
	return packet, nil
}

func (s *encodeStage) run(in <-chan []byte, out chan<- []byte, b *bus, quit <-chan struct{}) {
	defer close(out)

	emit := func(packet []byte) bool {
		if s.metrics != nil {
			s.metrics.PacketsEncoded.Add(context.Background(), 1)
		}
		select {
		case out <- packet:
			return true
		case <-quit:
			return false
		}
	}

	for chunk := range in {
		s.pending = append(s.pending, chunk...)
		for len(s.pending) >= s.frameBytes {
			packet, err := s.encodeFrame(s.pending[:s.frameBytes])
			s.pending = s.pending[s.frameBytes:]
			if err != nil {
				b.error(s.name(), err)
				drain(in, quit)
				return
			}
			if !emit(packet) {
				return
			}
		}
	}

	// End-of-stream: pad the final partial frame with silence.
	if len(s.pending) > 0 {
		frame := make([]byte, s.frameBytes)
		copy(frame, s.pending)
		s.pending = nil
		packet, err := s.encodeFrame(frame)
		if err != nil {
			b.error(s.name(), err)
			return
		}
		emit(packet)
	}
}
