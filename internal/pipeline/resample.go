package pipeline

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resampleStage converts the PCM sample rate. When the source rate already
// matches the target, frames pass through untouched and byte-exact — the wav
// path relies on this to keep the container verbatim PCM.
type resampleStage struct {
	srcRate  int
	dstRate  int
	channels int

	// resampler is nil in passthrough mode.
	resampler resampling.Resampler
}

func newResampleStage(srcRate, dstRate, channels int) (*resampleStage, error) {
	s := &resampleStage{srcRate: srcRate, dstRate: dstRate, channels: channels}
	if srcRate == dstRate {
		return s, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: create %d->%d Hz resampler: %w", srcRate, dstRate, err)
	}
	s.resampler = r
	return s, nil
}

func (s *resampleStage) name() string { return "resample" }

func (s *resampleStage) release() error {
	s.resampler = nil
	return nil
}

// apply resamples one frame of interleaved S16LE PCM.
func (s *resampleStage) apply(frame []byte) ([]byte, error) {
	if s.resampler == nil {
		return frame, nil
	}

	// Normalize int16 samples to [-1, 1] floats for the resampler.
	samples := len(frame) / 2
	input := make([]float64, samples)
	for i := range samples {
		v := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		input[i] = float64(v) / 32768.0
	}

	output, err := s.resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample: process frame: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, v := range output {
		sample := int16(v * 32767.0)
		if v > 1.0 {
			sample = 32767
		} else if v < -1.0 {
			sample = -32768
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out, nil
}

func (s *resampleStage) run(in <-chan []byte, out chan<- []byte, b *bus, quit <-chan struct{}) {
	defer close(out)
	for frame := range in {
		converted, err := s.apply(frame)
		if err != nil {
			b.error(s.name(), err)
			drain(in, quit)
			return
		}
		if len(converted) == 0 {
			continue
		}
		select {
		case out <- converted:
		case <-quit:
			return
		}
	}
}

// drain discards remaining input after a fatal stage error so the upstream
// stages can finish instead of blocking.
func drain(in <-chan []byte, quit <-chan struct{}) {
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return
			}
		case <-quit:
			return
		}
	}
}
