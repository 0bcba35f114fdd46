package archive

import (
	"fmt"
	"sync"

	"github.com/soltixdb/historian/internal/logging"
)

// processQueue hands items to a single consumer goroutine in batches. Items
// are processed in the order they were added.
type processQueue[T any] struct {
	name      string
	batchSize int
	process   func([]T)
	logger    *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	busy    bool
	started bool
	stopped bool
	done    chan struct{}
}

func newProcessQueue[T any](name string, batchSize int, process func([]T), logger *logging.Logger) *processQueue[T] {
	q := &processQueue[T]{
		name:      name,
		batchSize: batchSize,
		process:   process,
		logger:    logger.With("queue", name),
		done:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the consumer goroutine
func (q *processQueue[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.run()
}

func (q *processQueue[T]) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}

		n := len(q.items)
		if n > q.batchSize {
			n = q.batchSize
		}
		batch := make([]T, n)
		copy(batch, q.items)
		q.items = q.items[n:]
		q.busy = true
		q.mu.Unlock()

		q.processBatch(batch)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *processQueue[T]) processBatch(batch []T) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queue batch panicked",
				"batch_size", len(batch),
				"panic", fmt.Sprint(r))
		}
	}()
	q.process(batch)
}

// Add queues items; it reports false once the queue is stopped
func (q *processQueue[T]) Add(items ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.items = append(q.items, items...)
	q.cond.Broadcast()
	return true
}

// WaitIdle blocks until every queued item has been processed
func (q *processQueue[T]) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}
	for (len(q.items) > 0 || q.busy) && !q.finished() {
		q.cond.Wait()
	}
}

func (q *processQueue[T]) finished() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Stop processes the remaining items and stops the consumer
func (q *processQueue[T]) Stop() {
	q.mu.Lock()
	q.stopped = true
	started := q.started
	q.cond.Broadcast()
	q.mu.Unlock()

	if started {
		<-q.done
	}
}

// Len returns the number of items waiting
func (q *processQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
