package pipeline

import "log/slog"

// State identifies the controller's position in its lifecycle.
type State int

const (
	// StateUninitialized means no graph exists.
	StateUninitialized State = iota

	// StateInitialized means the graph is built and linked but not running.
	StateInitialized

	// StatePlaying means the graph is active and accepting pushed buffers.
	StatePlaying

	// StateStopped means the session was torn down; a new Initialize is
	// required before further use.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StatePlaying:
		return "PLAYING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MessageKind classifies messages on the graph's internal bus.
type MessageKind int

const (
	// MsgError reports a fatal stage failure. The event loop records it and
	// exits.
	MsgError MessageKind = iota

	// MsgWarning reports a recoverable condition. Logged and recorded, but
	// the graph keeps running.
	MsgWarning

	// MsgEOS reports that the end-of-stream signal reached the sink and the
	// output is finalized.
	MsgEOS

	// MsgStateChanged is informational.
	MsgStateChanged
)

// Message is a single bus notification emitted by a graph stage.
type Message struct {
	Kind MessageKind

	// Stage names the emitting stage.
	Stage string

	// Err carries the failure for MsgError and MsgWarning.
	Err error

	// State carries the new state for MsgStateChanged.
	State State
}

// busCapacity bounds how many undelivered messages the bus holds. Stages
// never block on a full bus; informational overflow is dropped with a log
// line, while terminal messages evict older ones to guarantee delivery.
const busCapacity = 16

// terminal reports whether k ends the event loop. Losing one of these would
// leave the controller waiting out the full drain timeout on every Stop.
func terminal(k MessageKind) bool {
	return k == MsgError || k == MsgEOS
}

// bus is the ordered message channel between graph stages (writers) and the
// controller's event loop (single reader).
type bus struct {
	ch chan Message
}

func newBus() *bus {
	return &bus{ch: make(chan Message, busCapacity)}
}

// post delivers msg without blocking the emitting stage. When the bus is
// full, informational messages are dropped; a terminal message instead
// evicts the oldest queued message until it fits. An evicted message that is
// itself terminal takes msg's place — the event loop exits on the first
// terminal message it sees, so a later one is redundant.
func (b *bus) post(msg Message) {
	for {
		select {
		case b.ch <- msg:
			return
		default:
		}
		if !terminal(msg.Kind) {
			slog.Warn("pipeline bus full, dropping message", "kind", msg.Kind, "stage", msg.Stage)
			return
		}
		select {
		case evicted := <-b.ch:
			if terminal(evicted.Kind) {
				msg = evicted
			} else {
				slog.Warn("pipeline bus full, evicting message", "kind", evicted.Kind, "stage", evicted.Stage)
			}
		default:
			// The reader drained the bus in the meantime; retry the send.
		}
	}
}

// error posts a fatal stage failure.
func (b *bus) error(stage string, err error) {
	b.post(Message{Kind: MsgError, Stage: stage, Err: err})
}

// warning posts a recoverable condition.
func (b *bus) warning(stage string, err error) {
	b.post(Message{Kind: MsgWarning, Stage: stage, Err: err})
}

// eos reports drain completion from the sink.
func (b *bus) eos(stage string) {
	b.post(Message{Kind: MsgEOS, Stage: stage})
}
