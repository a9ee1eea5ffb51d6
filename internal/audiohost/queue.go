package audiohost

import "sync"

// sampleQueue is a bounded FIFO of samples between the pump and the
// raw-sample loop. When full, the oldest samples are discarded.
type sampleQueue struct {
	mu    sync.Mutex
	buf   []float32
	limit int
}

func newSampleQueue(limit int) *sampleQueue {
	return &sampleQueue{limit: limit}
}

// push appends block and returns how many old samples were dropped.
func (q *sampleQueue) push(block []float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, block...)
	over := len(q.buf) - q.limit
	if over <= 0 {
		return 0
	}
	q.buf = append(q.buf[:0], q.buf[over:]...)
	return over
}

// pop fills dst with the oldest len(dst) samples. It reports false and
// leaves the queue untouched when fewer are buffered.
func (q *sampleQueue) pop(dst []float32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) < len(dst) {
		return false
	}
	n := copy(dst, q.buf)
	q.buf = append(q.buf[:0], q.buf[n:]...)
	return true
}

// len returns the number of buffered samples.
func (q *sampleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
