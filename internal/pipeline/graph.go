package pipeline

import (
	"fmt"
	"sync"

	"github.com/justivo/wavecast/internal/observe"
	"github.com/justivo/wavecast/pkg/pcm"
)

// transformStage is a processing unit with one input and one output. run
// consumes in until it closes or quit closes, forwards results to out, and
// closes out before returning. Fatal failures are posted to the bus.
type transformStage interface {
	name() string
	run(in <-chan []byte, out chan<- []byte, b *bus, quit <-chan struct{})
	release() error
}

// sinkStage is the terminal stage. It posts MsgEOS once its input closes and
// the output is finalized.
type sinkStage interface {
	name() string
	run(in <-chan []byte, b *bus, quit <-chan struct{})
	release() error
}

const (
	// entryQueueSeconds sizes the entry stage's byte budget.
	entryQueueSeconds = 2

	// stageChannelBuffer is the per-link channel capacity between stages.
	stageChannelBuffer = 8
)

// graph is the linear stage chain for one session: exactly one entry, zero or
// more transforms, exactly one sink. Topology is fixed at construction; the
// controller owns the graph exclusively and releases stages in reverse
// construction order during teardown.
type graph struct {
	entry      *entryQueue
	transforms []transformStage
	sink       sinkStage
	bus        *bus

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// newGraph constructs and links all stages for cfg. If any stage cannot be
// built, every previously constructed stage is released and an error is
// returned — no partial graph is left reachable.
func newGraph(cfg Config, metrics *observe.Metrics) (*graph, error) {
	g := &graph{
		bus:  newBus(),
		quit: make(chan struct{}),
	}

	maxBytes := cfg.SampleRate * cfg.Channels * pcm.BytesPerSample * entryQueueSeconds
	g.entry = newEntryQueue(maxBytes)

	fail := func(err error) (*graph, error) {
		g.release()
		return nil, err
	}

	// The wav sink stores the converted PCM verbatim; the Opus paths encode
	// at the fixed 48 kHz rate.
	targetRate := cfg.SampleRate
	if cfg.Sink.Kind != SinkWAV {
		targetRate = encodeSampleRate
	}
	outCh := cfg.outChannels()

	conv, err := newConvertStage(cfg.Channels, outCh)
	if err != nil {
		return fail(fmt.Errorf("pipeline: build convert stage: %w", err))
	}
	g.transforms = append(g.transforms, conv)

	res, err := newResampleStage(cfg.SampleRate, targetRate, outCh)
	if err != nil {
		return fail(fmt.Errorf("pipeline: build resample stage: %w", err))
	}
	g.transforms = append(g.transforms, res)

	if cfg.Sink.Kind != SinkWAV {
		enc, err := newEncodeStage(outCh, cfg.BitrateBps, metrics)
		if err != nil {
			return fail(fmt.Errorf("pipeline: build encode stage: %w", err))
		}
		g.transforms = append(g.transforms, enc)
	}

	switch cfg.Sink.Kind {
	case SinkWAV:
		g.sink, err = newWAVSink(cfg.Sink.Path, cfg.SampleRate, outCh, metrics)
	case SinkOgg:
		g.sink, err = newOggSink(cfg.Sink.Path, outCh, cfg.SampleRate, metrics)
	case SinkRTP:
		g.sink, err = newRTPSink(cfg.Sink.Host, cfg.Sink.Port, metrics)
	default:
		err = fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
	if err != nil {
		g.sink = nil
		return fail(fmt.Errorf("pipeline: build sink stage: %w", err))
	}

	return g, nil
}

// start wires the stage links and launches one goroutine per stage.
func (g *graph) start() {
	g.started = true

	ch := make(chan []byte, stageChannelBuffer)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.entry.run(ch, g.quit)
	}()

	in := (<-chan []byte)(ch)
	for _, t := range g.transforms {
		out := make(chan []byte, stageChannelBuffer)
		g.wg.Add(1)
		go func(in <-chan []byte, out chan<- []byte) {
			defer g.wg.Done()
			t.run(in, out, g.bus, g.quit)
		}(in, out)
		in = out
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.sink.run(in, g.bus, g.quit)
	}()

	g.bus.post(Message{Kind: MsgStateChanged, Stage: "graph", State: StatePlaying})
}

// push copies p into the entry queue, blocking under backpressure.
func (g *graph) push(p []byte) error {
	return g.entry.push(p)
}

// sendEOS signals end-of-stream at the entry stage; queued data still drains
// through the chain.
func (g *graph) sendEOS() {
	g.entry.closeInput()
}

// forceIdle unconditionally stops all stage goroutines and waits for them to
// exit. Safe to call multiple times and without a prior start.
func (g *graph) forceIdle() {
	g.quitOnce.Do(func() { close(g.quit) })
	g.entry.abort()
	if g.started {
		g.wg.Wait()
	}
}

// release frees stage resources in reverse construction order. The caller
// must have stopped the stage goroutines first (forceIdle) if the graph was
// started.
func (g *graph) release() {
	if g.sink != nil {
		if err := g.sink.release(); err != nil {
			g.bus.warning(g.sink.name(), err)
		}
		g.sink = nil
	}
	for i := len(g.transforms) - 1; i >= 0; i-- {
		if err := g.transforms[i].release(); err != nil {
			g.bus.warning(g.transforms[i].name(), err)
		}
	}
	g.transforms = nil
}
