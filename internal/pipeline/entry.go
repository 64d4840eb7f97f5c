package pipeline

import "sync"

// entryQueue is the graph's entry stage: a byte-bounded FIFO between the
// producer thread calling PushBuffer and the first processing goroutine.
//
// The queue admits new frames while the queued level is below maxBytes (two
// seconds of audio). A full queue blocks the pusher instead of dropping
// data — deliberate flow control, so a slow downstream stage throttles
// capture rather than losing samples. Closing the input marks end-of-stream;
// queued frames still drain.
type entryQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	frames      [][]byte
	queuedBytes int
	maxBytes    int

	// closed marks end-of-stream: no further pushes accepted, queued frames
	// still delivered.
	closed bool

	// aborted marks forced teardown: delivery stops immediately.
	aborted bool
}

func newEntryQueue(maxBytes int) *entryQueue {
	q := &entryQueue{maxBytes: maxBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push copies p into a queue-owned buffer and enqueues it, blocking while the
// queued level is at or over budget. The check is on the current level only,
// so a buffer larger than the whole budget is still accepted once the queue
// drains. Pushes after close or abort are silently dropped — a benign race at
// session boundaries, not an error.
func (q *entryQueue) push(p []byte) error {
	// The caller may reuse p immediately after we return, and the buffer
	// outlives this call inside the graph, so copy up front.
	buf := make([]byte, len(p))
	copy(buf, p)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.queuedBytes >= q.maxBytes && !q.closed && !q.aborted {
		q.cond.Wait()
	}
	if q.closed || q.aborted {
		return nil
	}
	q.frames = append(q.frames, buf)
	q.queuedBytes += len(buf)
	q.cond.Broadcast()
	return nil
}

// closeInput signals end-of-stream. Idempotent.
func (q *entryQueue) closeInput() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// abort unblocks all waiters and stops delivery. Idempotent.
func (q *entryQueue) abort() {
	q.mu.Lock()
	q.aborted = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// pop removes the oldest frame, blocking until one is available. Returns
// ok=false when the queue is drained after closeInput, or immediately after
// abort.
func (q *entryQueue) pop() (frame []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed && !q.aborted {
		q.cond.Wait()
	}
	if q.aborted || len(q.frames) == 0 {
		return nil, false
	}
	frame = q.frames[0]
	q.frames = q.frames[1:]
	q.queuedBytes -= len(frame)
	q.cond.Broadcast()
	return frame, true
}

// run forwards queued frames to out until end-of-stream or abort, then
// closes out to propagate EOS downstream.
func (q *entryQueue) run(out chan<- []byte, quit <-chan struct{}) {
	defer close(out)
	for {
		frame, ok := q.pop()
		if !ok {
			return
		}
		select {
		case out <- frame:
		case <-quit:
			return
		}
	}
}
