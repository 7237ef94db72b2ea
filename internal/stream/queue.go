package stream

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("stream: prompt queue closed")

// PromptQueue serializes client-side mutating calls: a single worker
// goroutine executes submitted tasks one at a time in submission order, so
// prompt requests never interleave partial updates to the same frame's
// cache. This mirrors the server's one-prompt-at-a-time processing.
type PromptQueue struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
	wg     sync.WaitGroup
}

// NewPromptQueue starts the worker. buffer bounds how many tasks may wait;
// Submit blocks once it is full.
func NewPromptQueue(buffer int) *PromptQueue {
	q := &PromptQueue{tasks: make(chan func(), buffer)}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for task := range q.tasks {
			task()
		}
	}()
	return q
}

// Submit enqueues task for FIFO execution. The returned channel closes when
// the task has finished.
func (q *PromptQueue) Submit(task func()) (<-chan struct{}, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	done := make(chan struct{})
	q.tasks <- func() {
		defer close(done)
		task()
	}
	q.mu.Unlock()
	return done, nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *PromptQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}
