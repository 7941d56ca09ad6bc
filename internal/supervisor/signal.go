package supervisor

import "sync"

// stopSignal is a one-shot flag that can be polled or waited on.
type stopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

// Set marks the signal. Safe to call more than once.
func (s *stopSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether Set has been called.
func (s *stopSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the signal is set.
func (s *stopSignal) Done() <-chan struct{} {
	return s.ch
}

// queueItem is one raw output line, or the end-of-stream sentinel.
type queueItem struct {
	line string
	eof  bool
}

// lineQueue is the unbounded FIFO between a reader and its processor.
type lineQueue struct {
	mu    sync.Mutex
	items []queueItem
}

func newLineQueue() *lineQueue {
	return &lineQueue{}
}

func (q *lineQueue) push(it queueItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

// drain removes and returns up to max items without blocking.
func (q *lineQueue) drain(max int) []queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	out := make([]queueItem, n)
	copy(out, q.items)

	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]
	return out
}

func (q *lineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
