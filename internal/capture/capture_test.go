package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// recordingPusher collects every pushed buffer.
type recordingPusher struct {
	chunks [][]byte
}

func (p *recordingPusher) PushBuffer(b []byte) error {
	c := make([]byte, len(b))
	copy(c, b)
	p.chunks = append(p.chunks, c)
	return nil
}

// failingPusher errors on every push.
type failingPusher struct{}

func (failingPusher) PushBuffer([]byte) error { return errors.New("pipeline gone") }

func TestLoopForwardsAllData(t *testing.T) {
	input := make([]byte, 10_000)
	for i := range input {
		input[i] = byte(i)
	}
	pusher := &recordingPusher{}
	l, err := NewLoop(Config{
		Source:      NewReaderSource(bytes.NewReader(input)),
		Pusher:      pusher,
		BufferBytes: 4096,
	})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}

	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var got []byte
	for _, c := range pusher.chunks {
		got = append(got, c...)
	}
	if !bytes.Equal(got, input) {
		t.Errorf("forwarded %d bytes, want the full %d-byte input verbatim", len(got), len(input))
	}
}

func TestLoopWritesTee(t *testing.T) {
	input := make([]byte, 2048)
	for i := range input {
		input[i] = byte(i * 3)
	}
	teePath := filepath.Join(t.TempDir(), "tee.wav")

	l, err := NewLoop(Config{
		Source:     NewReaderSource(bytes.NewReader(input)),
		TeePath:    teePath,
		SampleRate: 44100,
		Channels:   2,
	})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	if err := l.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(teePath)
	if err != nil {
		t.Fatalf("read tee: %v", err)
	}
	if len(data) != 44+len(input) {
		t.Fatalf("tee size = %d, want %d", len(data), 44+len(input))
	}
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != uint32(len(data)-8) {
		t.Errorf("tee RIFF size = %d, want %d: header not finalized", riff, len(data)-8)
	}
	if !bytes.Equal(data[44:], input) {
		t.Error("tee payload differs from captured input")
	}
}

func TestLoopStopsWhenSourceStopsRecording(t *testing.T) {
	src := NewReaderSource(neverEndingReader{})
	src.StopRecording()

	l, err := NewLoop(Config{Source: src, Pusher: &recordingPusher{}})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after the source stopped recording")
	}
}

func TestLoopCooperativeStop(t *testing.T) {
	l, err := NewLoop(Config{Source: NewReaderSource(neverEndingReader{})})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	l.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop")
	}
}

func TestLoopPushFailureStopsAndFinalizesTee(t *testing.T) {
	teePath := filepath.Join(t.TempDir(), "tee.wav")
	l, err := NewLoop(Config{
		Source:     NewReaderSource(bytes.NewReader(make([]byte, 8192))),
		Pusher:     failingPusher{},
		TeePath:    teePath,
		SampleRate: 48000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}

	if err := l.Run(); err == nil {
		t.Fatal("Run() succeeded with a failing pusher, want error")
	}

	data, err := os.ReadFile(teePath)
	if err != nil {
		t.Fatalf("read tee: %v", err)
	}
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != uint32(len(data)-8) {
		t.Errorf("tee RIFF size = %d, want %d: tee must be finalized on failure exits", riff, len(data)-8)
	}
}

func TestNewLoopValidation(t *testing.T) {
	if _, err := NewLoop(Config{}); err == nil {
		t.Error("NewLoop() without a source succeeded, want error")
	}
	if _, err := NewLoop(Config{Source: NewReaderSource(bytes.NewReader(nil)), BufferBytes: -1}); err == nil {
		t.Error("NewLoop() with negative buffer size succeeded, want error")
	}
}

// neverEndingReader blocks briefly and returns silence forever.
type neverEndingReader struct{}

func (neverEndingReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return len(p), nil
}
