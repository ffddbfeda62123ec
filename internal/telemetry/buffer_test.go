package telemetry

import (
	"io"
	"log"
	"testing"
)

func newTestBuffer(capacity int) *ringBuffer {
	return newRingBuffer(capacity, log.New(io.Discard, "", 0))
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newTestBuffer(4)
	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	rb := newTestBuffer(5)
	for i := 0; i < 8; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
	if rb.len() != 5 {
		t.Fatalf("expected len 5, got %d", rb.len())
	}

	got := rb.drainAll()
	for i, msg := range got {
		want := byte(i + 3)
		if msg.payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, msg.payload[0])
		}
	}
	if rb.len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d", rb.len())
	}
}

func TestRingBufferCycles(t *testing.T) {
	rb := newTestBuffer(3)
	rb.push(bufferedMsg{topic: "a"})
	rb.push(bufferedMsg{topic: "b"})
	if got := rb.drainAll(); len(got) != 2 || got[0].topic != "a" {
		t.Fatalf("cycle 1: got %+v", got)
	}

	rb.push(bufferedMsg{topic: "c", qos: 1})
	got := rb.drainAll()
	if len(got) != 1 || got[0].topic != "c" || got[0].qos != 1 {
		t.Fatalf("cycle 2: got %+v", got)
	}
}

func TestRingBufferZeroCapacity(t *testing.T) {
	rb := newTestBuffer(0)
	rb.push(bufferedMsg{topic: "t"})
	if rb.len() != 0 {
		t.Errorf("expected zero-capacity buffer to stay empty")
	}
}
