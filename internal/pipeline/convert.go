package pipeline

import (
	"fmt"
	"sync"

	"github.com/justivo/wavecast/pkg/pcm"
)

// convertStage normalizes the channel count of S16LE PCM frames and guards
// sample alignment. Frames with an odd byte count cannot be valid int16 PCM
// and are dropped with a one-shot warning, matching the behaviour of the
// capture formats upstream.
type convertStage struct {
	srcChannels int
	dstChannels int

	warnedCorrupt sync.Once
}

func newConvertStage(srcChannels, dstChannels int) (*convertStage, error) {
	for _, ch := range []int{srcChannels, dstChannels} {
		if ch != 1 && ch != 2 {
			return nil, fmt.Errorf("convert: channel count %d out of range", ch)
		}
	}
	return &convertStage{srcChannels: srcChannels, dstChannels: dstChannels}, nil
}

func (s *convertStage) name() string { return "convert" }

func (s *convertStage) release() error { return nil }

// apply converts one frame. Returns nil for frames that must be dropped.
func (s *convertStage) apply(frame []byte, b *bus) []byte {
	if len(frame)%pcm.BytesPerSample != 0 {
		s.warnedCorrupt.Do(func() {
			b.warning(s.name(), fmt.Errorf("odd byte count %d in PCM frame, dropping", len(frame)))
		})
		return nil
	}
	switch {
	case s.srcChannels == s.dstChannels:
		return frame
	case s.srcChannels == 1 && s.dstChannels == 2:
		return pcm.MonoToStereo(frame)
	default:
		return pcm.StereoToMono(frame)
	}
}

func (s *convertStage) run(in <-chan []byte, out chan<- []byte, b *bus, quit <-chan struct{}) {
	defer close(out)
	for frame := range in {
		converted := s.apply(frame, b)
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
