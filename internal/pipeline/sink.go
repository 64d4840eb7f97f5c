package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/justivo/wavecast/internal/observe"
	"github.com/justivo/wavecast/internal/ogg"
	"github.com/justivo/wavecast/internal/rtpsink"
	"github.com/justivo/wavecast/internal/wav"
)

// wavSink appends raw PCM to a RIFF/WAVE file and patches the header size
// fields when the stream ends. Finalize failure is non-fatal: the file stays
// readable, only the size fields are stale.
type wavSink struct {
	w       *wav.Writer
	metrics *observe.Metrics
}

func newWAVSink(path string, sampleRate, channels int, metrics *observe.Metrics) (*wavSink, error) {
	w, err := wav.NewWriter(path, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &wavSink{w: w, metrics: metrics}, nil
}

func (s *wavSink) name() string { return "wav-sink" }

// release finalizes the file if the run loop did not get to do it (forced
// teardown). The writer guards against double finalize internally.
func (s *wavSink) release() error { return s.w.Close() }

func (s *wavSink) run(in <-chan []byte, b *bus, quit <-chan struct{}) {
	for frame := range in {
		n, err := s.w.Write(frame)
		if err != nil {
			b.error(s.name(), err)
			drain(in, quit)
			return
		}
		if s.metrics != nil {
			s.metrics.BytesOut.Add(context.Background(), int64(n))
		}
	}
	if err := s.w.Close(); err != nil {
		// The data is on disk; only the header sizes are inconsistent.
		b.warning(s.name(), fmt.Errorf("finalize wav header: %w", err))
	}
	b.eos(s.name())
}

// oggSink muxes Opus packets into an Ogg container file.
type oggSink struct {
	f       *os.File
	mux     *ogg.Writer
	metrics *observe.Metrics

	closeOnce sync.Once
	closeErr  error
}

func newOggSink(path string, channels, inputSampleRate int, metrics *observe.Metrics) (*oggSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %q: %w", path, err)
	}
	mux, err := ogg.NewWriter(f, rand.Uint32(), channels, inputSampleRate)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &oggSink{f: f, mux: mux, metrics: metrics}, nil
}

func (s *oggSink) name() string { return "ogg-sink" }

// close terminates the Ogg stream and the file exactly once.
func (s *oggSink) close() error {
	s.closeOnce.Do(func() {
		muxErr := s.mux.Close()
		fileErr := s.f.Close()
		if muxErr != nil {
			s.closeErr = muxErr
		} else {
			s.closeErr = fileErr
		}
	})
	return s.closeErr
}

func (s *oggSink) release() error { return s.close() }

func (s *oggSink) run(in <-chan []byte, b *bus, quit <-chan struct{}) {
	for packet := range in {
		if err := s.mux.WritePacket(packet, frameSamples); err != nil {
			b.error(s.name(), err)
			drain(in, quit)
			return
		}
		if s.metrics != nil {
			s.metrics.BytesOut.Add(context.Background(), int64(len(packet)))
		}
	}
	if err := s.close(); err != nil {
		b.warning(s.name(), fmt.Errorf("finalize ogg stream: %w", err))
	}
	b.eos(s.name())
}

// rtpSink transmits Opus packets over UDP. Nothing is persisted; end-of-stream
// simply stops the packet flow.
type rtpSink struct {
	sender  *rtpsink.Sender
	metrics *observe.Metrics
}

func newRTPSink(host string, port int, metrics *observe.Metrics) (*rtpSink, error) {
	sender, err := rtpsink.NewSender(host, port)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &rtpSink{sender: sender, metrics: metrics}, nil
}

func (s *rtpSink) name() string { return "rtp-sink" }

func (s *rtpSink) release() error { return s.sender.Close() }

func (s *rtpSink) run(in <-chan []byte, b *bus, quit <-chan struct{}) {
	for packet := range in {
		if err := s.sender.WritePacket(packet, frameSamples); err != nil {
			b.error(s.name(), err)
			drain(in, quit)
			return
		}
		if s.metrics != nil {
			s.metrics.BytesOut.Add(context.Background(), int64(len(packet)))
		}
	}
	b.eos(s.name())
}
