package pipeline

import (
	"bytes"
	"testing"
)

func TestConvertStagePassthrough(t *testing.T) {
	s, err := newConvertStage(2, 2)
	if err != nil {
		t.Fatalf("newConvertStage() error = %v", err)
	}
	frame := []byte{1, 2, 3, 4}
	if got := s.apply(frame, newBus()); !bytes.Equal(got, frame) {
		t.Errorf("apply() = %v, want input unchanged", got)
	}
}

func TestConvertStageMonoToStereo(t *testing.T) {
	s, err := newConvertStage(1, 2)
	if err != nil {
		t.Fatalf("newConvertStage() error = %v", err)
	}
	// One mono sample 0x0201 becomes the same sample on both channels.
	got := s.apply([]byte{0x01, 0x02}, newBus())
	want := []byte{0x01, 0x02, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("apply() = %v, want %v", got, want)
	}
}

func TestConvertStageStereoToMono(t *testing.T) {
	s, err := newConvertStage(2, 1)
	if err != nil {
		t.Fatalf("newConvertStage() error = %v", err)
	}
	// Left 100, right 200 average to 150.
	got := s.apply([]byte{100, 0, 200, 0}, newBus())
	want := []byte{150, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("apply() = %v, want %v", got, want)
	}
}

func TestConvertStageDropsOddFrames(t *testing.T) {
	s, err := newConvertStage(2, 2)
	if err != nil {
		t.Fatalf("newConvertStage() error = %v", err)
	}
	b := newBus()

	if got := s.apply([]byte{1, 2, 3}, b); got != nil {
		t.Errorf("apply() on odd frame = %v, want nil", got)
	}

	select {
	case msg := <-b.ch:
		if msg.Kind != MsgWarning || msg.Stage != "convert" {
			t.Errorf("bus message = %+v, want convert warning", msg)
		}
	default:
		t.Error("no warning posted for corrupt frame")
	}

	// The warning is one-shot; a second corrupt frame stays silent.
	s.apply([]byte{1, 2, 3}, b)
	select {
	case msg := <-b.ch:
		t.Errorf("unexpected second bus message %+v", msg)
	default:
	}
}

func TestConvertStageRejectsBadChannelCount(t *testing.T) {
	if _, err := newConvertStage(3, 2); err == nil {
		t.Error("newConvertStage(3, 2) succeeded, want error")
	}
	if _, err := newConvertStage(1, 0); err == nil {
		t.Error("newConvertStage(1, 0) succeeded, want error")
	}
}
