package pipeline

import "sync"

// queue hands callbacks from timers and other goroutines to the event loop.
// Posting never blocks, so the loop may post to itself.
type queue struct {
	mu     sync.Mutex
	funcs  []func()
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) post(f func()) {

	q.mu.Lock()
	q.funcs = append(q.funcs, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) ready() <-chan struct{} {
	return q.signal
}

// drain returns the queued callbacks in post order
func (q *queue) drain() []func() {

	q.mu.Lock()
	defer q.mu.Unlock()

	funcs := q.funcs
	q.funcs = nil

	return funcs
}
