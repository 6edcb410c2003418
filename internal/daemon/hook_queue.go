package daemon

import "sync"

// hookQueue runs registry hook work off the job goroutines. Work runs in
// submission order on a single worker that exits when the queue is empty.
type hookQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	wg      sync.WaitGroup
}

func (q *hookQueue) enqueue(work func()) {
	q.wg.Add(1)
	q.mu.Lock()
	q.pending = append(q.pending, work)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *hookQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		work := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		work()
		q.wg.Done()
	}
}

// wait blocks until every enqueued item has run.
func (q *hookQueue) wait() {
	q.wg.Wait()
}
