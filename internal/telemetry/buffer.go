package telemetry

import "log"

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic   string
	payload []byte
	qos     byte
}

// ringBuffer is a fixed-capacity FIFO of messages queued while
// disconnected. Not safe for concurrent use.
type ringBuffer struct {
	buf      []bufferedMsg
	head     int // next write position
	count    int
	overflow bool
	logger   *log.Logger
}

func newRingBuffer(capacity int, logger *log.Logger) *ringBuffer {
	return &ringBuffer{buf: make([]bufferedMsg, capacity), logger: logger}
}

// push appends msg, overwriting the oldest entry when full.
func (r *ringBuffer) push(msg bufferedMsg) {
	n := len(r.buf)
	if n == 0 {
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % n
	if r.count == n {
		if !r.overflow {
			r.logger.Printf("telemetry: buffer full (%d messages), dropping oldest", n)
			r.overflow = true
		}
		return
	}
	r.count++
}

// drainAll returns the queued messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	n := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + n) % n
	for i := range out {
		out[i] = r.buf[(start+i)%n]
	}
	r.count = 0
	r.head = 0
	r.overflow = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
