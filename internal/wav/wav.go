// Package wav writes standard RIFF/WAVE files containing interleaved signed
// 16-bit little-endian PCM.
//
// A [Writer] writes a 44-byte placeholder header up front, appends raw PCM
// verbatim, and patches the two size fields in place once the stream is
// closed. The patch step runs after the data file handle is closed so that
// the on-disk size is accurate.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// HeaderSize is the fixed size of the canonical PCM WAV header.
const HeaderSize = 44

const (
	riffSizeOffset = 4  // total RIFF chunk size = file size - 8
	dataSizeOffset = 40 // PCM data chunk size = file size - 44
)

// Writer appends PCM bytes to a WAV file. It is not safe for concurrent use;
// the capture loop is the single producer.
type Writer struct {
	f        *os.File
	path     string
	finalize sync.Once
	closed   bool
}

// NewWriter creates (truncating) the file at path and writes a placeholder
// header carrying the format fields. The two size fields stay zero until
// [Writer.Close] patches them.
func NewWriter(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate %d out of range", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("wav: channel count %d out of range", channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %q: %w", path, err)
	}
	if _, err := f.Write(header(sampleRate, channels)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Write appends raw PCM bytes after the header.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("wav: write after close: %w", os.ErrClosed)
	}
	n, err := w.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("wav: append pcm: %w", err)
	}
	return n, nil
}

// Close closes the data stream and patches the header size fields exactly
// once. Subsequent calls return nil without touching the file again.
func (w *Writer) Close() error {
	var err error
	w.finalize.Do(func() {
		w.closed = true
		if cerr := w.f.Close(); cerr != nil {
			err = fmt.Errorf("wav: close %q: %w", w.path, cerr)
			return
		}
		err = Finalize(w.path)
	})
	return err
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Finalize patches the RIFF chunk size (offset 4) and data chunk size
// (offset 40) of an already-closed WAV file from its on-disk size. The file
// stays playable by tolerant decoders even if this step fails, so callers
// treat an error here as non-fatal.
func Finalize(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("wav: open for finalize %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("wav: stat %q: %w", path, err)
	}
	size := info.Size()
	if size < HeaderSize {
		return fmt.Errorf("wav: file %q shorter than header (%d bytes)", path, size)
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(size-8))
	if _, err := f.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("wav: patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(field[:], uint32(size-HeaderSize))
	if _, err := f.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("wav: patch data size: %w", err)
	}
	return nil
}

// header builds the 44-byte PCM header with zeroed size fields.
func header(sampleRate, channels int) []byte {
	h := make([]byte, HeaderSize)
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	copy(h[0:4], "RIFF")
	// h[4:8] RIFF chunk size, patched by Finalize.
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size for PCM
	binary.LittleEndian.PutUint16(h[20:22], 1)  // format tag: PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], 16) // bits per sample
	copy(h[36:40], "data")
	// h[40:44] data chunk size, patched by Finalize.
	return h
}

// WriteHeader writes the placeholder header to an arbitrary stream. Used when
// the caller owns the output file handle instead of going through [Writer].
func WriteHeader(w io.Writer, sampleRate, channels int) error {
	if _, err := w.Write(header(sampleRate, channels)); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	return nil
}
