package pipeline

import (
	"bytes"
	"testing"
	"time"
)

func TestEntryQueueDeliversInOrder(t *testing.T) {
	q := newEntryQueue(1024)

	first := []byte{1, 2, 3, 4}
	second := []byte{5, 6}
	if err := q.push(first); err != nil {
		t.Fatalf("push() error = %v", err)
	}
	if err := q.push(second); err != nil {
		t.Fatalf("push() error = %v", err)
	}

	got, ok := q.pop()
	if !ok || !bytes.Equal(got, first) {
		t.Fatalf("first pop = %v, %v; want %v, true", got, ok, first)
	}
	got, ok = q.pop()
	if !ok || !bytes.Equal(got, second) {
		t.Fatalf("second pop = %v, %v; want %v, true", got, ok, second)
	}
}

func TestEntryQueueCopiesInput(t *testing.T) {
	q := newEntryQueue(1024)
	buf := []byte{1, 2, 3, 4}
	if err := q.push(buf); err != nil {
		t.Fatalf("push() error = %v", err)
	}
	buf[0] = 99

	got, _ := q.pop()
	if got[0] != 1 {
		t.Errorf("queued frame mutated by caller reuse: got[0] = %d, want 1", got[0])
	}
}

func TestEntryQueueBackpressure(t *testing.T) {
	q := newEntryQueue(8)
	if err := q.push(make([]byte, 8)); err != nil {
		t.Fatalf("push() error = %v", err)
	}

	// A second push over budget must block until the consumer drains.
	pushed := make(chan struct{})
	go func() {
		q.push(make([]byte, 8))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push over budget returned before pop")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := q.pop(); !ok {
		t.Fatal("pop() returned ok=false with queued data")
	}
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop")
	}
}

func TestEntryQueueAcceptsOversizedBuffer(t *testing.T) {
	q := newEntryQueue(8)

	// A buffer larger than the whole budget must go through when the queue
	// is empty; only the current level gates admission.
	pushed := make(chan struct{})
	go func() {
		q.push(make([]byte, 16))
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("oversized push blocked on an empty queue")
	}

	got, ok := q.pop()
	if !ok || len(got) != 16 {
		t.Fatalf("pop = %d bytes, %v; want 16, true", len(got), ok)
	}

	// With the budget already consumed, an oversized push waits for the
	// drain like any other.
	q.push(make([]byte, 8))
	pushed = make(chan struct{})
	go func() {
		q.push(make([]byte, 16))
		close(pushed)
	}()
	select {
	case <-pushed:
		t.Fatal("oversized push did not wait while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}
	q.pop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("oversized push did not unblock after the queue drained")
	}
}

func TestEntryQueueCloseDrainsRemaining(t *testing.T) {
	q := newEntryQueue(1024)
	q.push([]byte{1})
	q.push([]byte{2})
	q.closeInput()

	// Pushes after close are dropped, not queued.
	if err := q.push([]byte{3}); err != nil {
		t.Fatalf("push() after close error = %v", err)
	}

	for want := byte(1); want <= 2; want++ {
		got, ok := q.pop()
		if !ok || got[0] != want {
			t.Fatalf("pop = %v, %v; want [%d], true", got, ok, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop() after drain returned ok=true")
	}
}

func TestEntryQueueAbortDiscardsAndUnblocks(t *testing.T) {
	q := newEntryQueue(4)
	q.push(make([]byte, 4))

	blocked := make(chan struct{})
	go func() {
		q.push(make([]byte, 4))
		close(blocked)
	}()
	time.Sleep(20 * time.Millisecond)

	q.abort()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("abort did not unblock a waiting push")
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop() after abort returned ok=true, want immediate stop")
	}
}
