package follower

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// queue holds keys waiting to be reconciled. A key is queued at most
// once, and is never handed to two workers at the same time.
type queue struct {
	waiting    map[string]bool
	inProgress map[string]bool
	keys       *deque.Deque[string]
	lock       sync.Mutex
	cond       *sync.Cond
	closed     bool
}

func newQueue() *queue {
	q := &queue{
		waiting:    make(map[string]bool),
		inProgress: make(map[string]bool),
		keys:       deque.New[string](),
	}
	q.cond = sync.NewCond(&q.lock)
	return q
}

func (q *queue) add(key string) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.waiting[key] {
		return
	}
	q.keys.PushBack(key)
	q.waiting[key] = true
	q.cond.Signal()
}

func (q *queue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.keys.Len()
}

// take blocks until a key is available that no other worker holds, or
// the queue is closed.
func (q *queue) take() (string, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for {
		if q.closed {
			return "", false
		}
		// If the key has been re-added since a worker started on it, it
		// waits at the back of the line for that run to complete.
		for i := q.keys.Len(); i > 0; i-- {
			key := q.keys.PopFront()
			if q.inProgress[key] {
				q.keys.PushBack(key)
				continue
			}
			delete(q.waiting, key)
			q.inProgress[key] = true
			return key, true
		}
		q.cond.Wait()
	}
}

func (q *queue) done(key string) {
	q.lock.Lock()
	delete(q.inProgress, key)
	q.lock.Unlock()
	q.cond.Broadcast()
}

func (q *queue) close() {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	q.cond.Broadcast()
}

// run hands queued keys to r until ctx is done.
func (q *queue) run(ctx context.Context, r Reconciler, onError func(key string, err error)) {
	stop := context.AfterFunc(ctx, q.close)
	defer stop()

	for {
		key, ok := q.take()
		if !ok {
			return
		}
		if err := r.Reconcile(ctx, key); err != nil {
			onError(key, err)
		}
		q.done(key)
	}
}
