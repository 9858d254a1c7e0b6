package formdata

import "sync"

// serialQueue linearizes all side-effecting work for one upload session
// onto a single worker goroutine. Push never blocks the producer; only
// consumption is serialized. Closing the queue discards pending tasks:
// once a session aborts, nothing queued behind the failure may run.
type serialQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	// stopped is closed when the worker goroutine exits.
	stopped chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{stopped: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.drain()
	return q
}

// push enqueues task and returns false if the queue is already closed.
func (q *serialQueue) push(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// close marks the queue non-accepting and discards anything not yet
// started. Idempotent.
func (q *serialQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.tasks = nil
	q.cond.Signal()
}

func (q *serialQueue) drain() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
