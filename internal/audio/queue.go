// internal/audio/queue.go
package audio

import (
	"sync"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/output"
)

// Queue is the bounded FIFO of interleaved stereo samples between the
// feeder and the playback callback. Writes accept whole frames only.
type Queue struct {
	mu    sync.Mutex
	buf   []int16
	head  int
	count int
	space chan struct{}
}

// NewQueue creates a queue holding frames stereo frames.
func NewQueue(frames int) *Queue {
	return &Queue{
		buf:   make([]int16, frames*Channels),
		space: make(chan struct{}, 1),
	}
}

// Write copies as many whole frames as fit, waiting up to timeout for room.
// It returns output.ErrSinkTimeout if nothing could be queued.
func (q *Queue) Write(samples []int16, timeout time.Duration) (int, error) {
	samples = samples[:len(samples)-len(samples)%Channels]
	if len(samples) == 0 {
		return 0, nil
	}

	var timer *time.Timer
	for {
		if n := q.put(samples); n > 0 {
			if timer != nil {
				timer.Stop()
			}
			return n, nil
		}
		if timeout <= 0 {
			return 0, output.ErrSinkTimeout
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.space:
		case <-timer.C:
			return 0, output.ErrSinkTimeout
		}
	}
}

func (q *Queue) put(samples []int16) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	free := len(q.buf) - q.count
	free -= free % Channels
	n := min(len(samples), free)
	tail := (q.head + q.count) % len(q.buf)
	first := copy(q.buf[tail:], samples[:n])
	copy(q.buf, samples[first:n])
	q.count += n
	return n
}

// Read moves up to len(dst) samples out of the queue and returns how many
// were copied.
func (q *Queue) Read(dst []int16) int {
	q.mu.Lock()
	n := min(len(dst), q.count)
	first := copy(dst[:n], q.buf[q.head:])
	copy(dst[first:n], q.buf)
	q.head = (q.head + n) % len(q.buf)
	q.count -= n
	q.mu.Unlock()

	if n > 0 {
		select {
		case q.space <- struct{}{}:
		default:
		}
	}
	return n
}

// Flush drops all queued samples.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.head, q.count = 0, 0
	q.mu.Unlock()

	select {
	case q.space <- struct{}{}:
	default:
	}
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity in samples.
func (q *Queue) Cap() int {
	return len(q.buf)
}
