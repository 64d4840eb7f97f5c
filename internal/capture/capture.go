// Package capture reads PCM from an audio source on a dedicated loop and
// fans it out to the processing pipeline and an optional raw recording file.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/justivo/wavecast/internal/wav"
)

// DefaultBufferBytes is the read chunk size when none is configured.
const DefaultBufferBytes = 4096

// Source is a blocking PCM producer. Read follows the io.Reader contract;
// Recording reports whether the source is still live. A Read may return
// data after Recording turns false; the loop stops at the next iteration.
type Source interface {
	Read(p []byte) (int, error)
	Recording() bool
}

// Pusher receives captured PCM buffers. The callee must not retain the
// slice past the call.
type Pusher interface {
	PushBuffer(p []byte) error
}

// Config describes one capture loop.
type Config struct {
	// Source provides the PCM. Required.
	Source Source

	// Pusher receives every captured buffer. Optional.
	Pusher Pusher

	// TeePath, when set, duplicates the raw capture into a WAV file
	// alongside whatever the pusher does with it.
	TeePath string

	// SampleRate and Channels describe the captured PCM for the tee header.
	// Required when TeePath is set.
	SampleRate int
	Channels   int

	// BufferBytes is the per-read chunk size. Zero selects
	// [DefaultBufferBytes].
	BufferBytes int
}

// Loop pulls fixed-size PCM chunks from a [Source] until stopped or until
// the source stops recording. Run it on its own goroutine; it is the sole
// producer towards the pusher.
type Loop struct {
	src     Source
	pusher  Pusher
	tee     *wav.Writer
	bufSize int

	stop atomic.Bool
}

// NewLoop validates cfg and opens the tee file if one is configured.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("capture: source is required")
	}
	if cfg.BufferBytes < 0 {
		return nil, fmt.Errorf("capture: buffer size %d out of range", cfg.BufferBytes)
	}
	if cfg.BufferBytes == 0 {
		cfg.BufferBytes = DefaultBufferBytes
	}

	l := &Loop{src: cfg.Source, pusher: cfg.Pusher, bufSize: cfg.BufferBytes}
	if cfg.TeePath != "" {
		w, err := wav.NewWriter(cfg.TeePath, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("capture: open tee: %w", err)
		}
		l.tee = w
	}
	return l, nil
}

// Stop requests a cooperative shutdown. The loop exits after the in-flight
// Read completes; Run finalizes the tee before returning.
func (l *Loop) Stop() {
	l.stop.Store(true)
}

// Run blocks reading from the source until Stop is called, the source stops
// recording, or the stream ends. The tee file is finalized on every exit
// path. A clean end of input is not an error.
func (l *Loop) Run() error {
	buf := make([]byte, l.bufSize)
	var runErr error

	for !l.stop.Load() && l.src.Recording() {
		n, err := l.src.Read(buf)
		if n > 0 {
			if pushErr := l.dispatch(buf[:n]); pushErr != nil {
				runErr = pushErr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				runErr = fmt.Errorf("capture: read source: %w", err)
			}
			break
		}
	}

	if l.tee != nil {
		if err := l.tee.Close(); err != nil {
			slog.Warn("finalize capture tee failed", "err", err)
			if runErr == nil {
				runErr = fmt.Errorf("capture: finalize tee: %w", err)
			}
		}
	}
	return runErr
}

// dispatch forwards one chunk to the pusher and the tee. The pusher copies
// the buffer before returning, so both consumers can share it.
func (l *Loop) dispatch(chunk []byte) error {
	if l.pusher != nil {
		if err := l.pusher.PushBuffer(chunk); err != nil {
			return fmt.Errorf("capture: push buffer: %w", err)
		}
	}
	if l.tee != nil {
		if _, err := l.tee.Write(chunk); err != nil {
			return fmt.Errorf("capture: write tee: %w", err)
		}
	}
	return nil
}

// ReaderSource adapts an io.Reader into a [Source] with an explicit stop
// switch. It stands in for a platform capture API in tests and file-driven
// runs.
type ReaderSource struct {
	r       io.Reader
	stopped atomic.Bool
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource wraps r as a recording source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Read(p []byte) (int, error) { return s.r.Read(p) }

// Recording reports true until [ReaderSource.StopRecording] is called.
func (s *ReaderSource) Recording() bool { return !s.stopped.Load() }

// StopRecording marks the source as no longer live.
func (s *ReaderSource) StopRecording() { s.stopped.Store(true) }
