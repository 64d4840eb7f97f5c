package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justivo/wavecast/internal/observe"
)

// drainTimeout bounds how long Stop waits for the end-of-stream signal to
// propagate through the graph before forcing teardown.
const drainTimeout = 3 * time.Second

// ErrNotInitialized is returned by Start when no graph has been built.
var ErrNotInitialized = errors.New("pipeline: not initialized")

// Controller owns one session's processing graph and drives its lifecycle.
//
// The zero-value-like instance from [New] starts Uninitialized. Initialize
// builds and links the graph, Start activates it and spawns the event loop,
// PushBuffer feeds PCM from the single producer, and Stop drains and tears
// everything down. Initialize on a live session tears the old one down
// first, so a controller can be reused across sessions.
//
// Initialize, Start and Stop are synchronous and may block briefly (linking,
// drain wait, goroutine join). PushBuffer blocks only under backpressure.
// LastError is safe to call from any goroutine at any time.
type Controller struct {
	mu        sync.Mutex
	state     State
	g         *graph
	sessionID string

	// Event-loop plumbing, valid while Playing or Stopped-after-Playing.
	loopDone chan struct{}
	quitLoop chan struct{}
	drained  chan struct{}

	// errMu guards lastErr: written by the event loop, read by any caller.
	errMu   sync.Mutex
	lastErr string

	metrics *observe.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics attaches metric instruments to the controller and its stages.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New returns an Uninitialized controller.
func New(opts ...Option) *Controller {
	c := &Controller{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the controller is accepting pushed buffers.
func (c *Controller) Active() bool {
	return c.State() == StatePlaying
}

// LastError returns the most recent error or warning text observed from the
// graph, or the empty string if none occurred since the last Initialize.
func (c *Controller) LastError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Controller) setLastError(text string) {
	c.errMu.Lock()
	c.lastErr = text
	c.errMu.Unlock()
}

// Initialize validates cfg, builds the stage graph, and moves the controller
// to Initialized. A still-present previous session is torn down first. On
// failure every partially constructed stage is released, the error is
// recorded, and the controller stays Uninitialized.
func (c *Controller) Initialize(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.g != nil {
		slog.Warn("pipeline already initialized, tearing down previous session",
			"session_id", c.sessionID)
		c.teardownLocked()
	}
	c.state = StateUninitialized
	c.setLastError("")

	if err := cfg.validate(); err != nil {
		err = fmt.Errorf("pipeline: invalid config: %w", err)
		c.setLastError(err.Error())
		return err
	}

	g, err := newGraph(cfg, c.metrics)
	if err != nil {
		c.setLastError(err.Error())
		return err
	}

	c.g = g
	c.sessionID = uuid.NewString()
	c.state = StateInitialized

	slog.Info("pipeline initialized",
		"session_id", c.sessionID,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"bitrate_bps", cfg.BitrateBps,
		"sink", cfg.Sink.Kind,
	)
	return nil
}

// Start activates the graph and spawns the event-loop goroutine that
// observes the graph bus for the lifetime of the session.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInitialized {
		err := fmt.Errorf("%w (state %s)", ErrNotInitialized, c.state)
		c.setLastError(err.Error())
		return err
	}

	c.g.start()

	c.drained = make(chan struct{})
	c.quitLoop = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.eventLoop(c.g, c.drained, c.loopDone, c.quitLoop)

	c.state = StatePlaying
	if c.metrics != nil {
		c.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("pipeline started", "session_id", c.sessionID)
	return nil
}

// PushBuffer copies p into the graph's entry queue. Called while not Playing
// it silently succeeds — a benign race at session boundaries must not fault
// the producer. Blocks when the entry queue is full (backpressure).
func (c *Controller) PushBuffer(p []byte) error {
	c.mu.Lock()
	g := c.g
	playing := c.state == StatePlaying
	c.mu.Unlock()

	if !playing || len(p) == 0 {
		return nil
	}
	if err := g.push(p); err != nil {
		return fmt.Errorf("pipeline: push buffer: %w", err)
	}
	if c.metrics != nil {
		ctx := context.Background()
		c.metrics.BuffersPushed.Add(ctx, 1)
		c.metrics.PCMBytesIn.Add(ctx, int64(len(p)))
	}
	return nil
}

// Stop drains and tears down the session. Always succeeds from the caller's
// point of view; drain timeouts and finalize problems are logged, not
// returned. Safe to call in any state, repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// teardownLocked performs the full stop/drain/release sequence. Caller holds
// c.mu. No-op when no graph is present.
func (c *Controller) teardownLocked() {
	if c.g == nil {
		c.state = StateStopped
		return
	}

	wasPlaying := c.state == StatePlaying
	if wasPlaying {
		slog.Info("stopping pipeline", "session_id", c.sessionID)
		start := time.Now()
		c.g.sendEOS()

		select {
		case <-c.drained:
			slog.Debug("drain complete", "session_id", c.sessionID,
				"elapsed", time.Since(start))
		case <-time.After(drainTimeout):
			slog.Warn("drain timed out, forcing teardown",
				"session_id", c.sessionID, "timeout", drainTimeout)
		}
		if c.metrics != nil {
			c.metrics.DrainDuration.Record(context.Background(),
				time.Since(start).Seconds())
		}
	}

	c.g.forceIdle()

	if c.loopDone != nil {
		close(c.quitLoop)
		<-c.loopDone
		c.loopDone = nil
		c.quitLoop = nil
		c.drained = nil
	}

	c.g.release()
	c.g = nil
	c.state = StateStopped

	if wasPlaying && c.metrics != nil {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("pipeline stopped", "session_id", c.sessionID)
}

// eventLoop is the sole reader of the graph bus and the sole writer of the
// error record. It exits on the first terminal message (error or EOS) or
// when quit closes during teardown. Messages are observed in emission order.
func (c *Controller) eventLoop(g *graph, drained, done, quit chan struct{}) {
	defer close(done)

	var drainedOnce sync.Once
	signalDrained := func() { drainedOnce.Do(func() { close(drained) }) }

	for {
		select {
		case <-quit:
			return
		case msg := <-g.bus.ch:
			switch msg.Kind {
			case MsgError:
				c.setLastError(msg.Err.Error())
				if c.metrics != nil {
					c.metrics.PipelineErrors.Add(context.Background(), 1,
						observe.StageAttr(msg.Stage))
				}
				slog.Error("pipeline error", "stage", msg.Stage, "err", msg.Err)
				signalDrained()
				return
			case MsgWarning:
				c.setLastError(msg.Err.Error())
				slog.Warn("pipeline warning", "stage", msg.Stage, "err", msg.Err)
			case MsgEOS:
				slog.Debug("end of stream reached", "stage", msg.Stage)
				signalDrained()
				return
			case MsgStateChanged:
				slog.Debug("pipeline state changed", "stage", msg.Stage,
					"state", msg.State)
			}
		}
	}
}
