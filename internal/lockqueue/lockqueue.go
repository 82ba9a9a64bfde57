// Package lockqueue implements a cooperative, FIFO, single-holder mutex
// with an optional bounded waiter count. It has no
// reentrancy: acquiring twice from the same goroutine deadlocks, same as a
// plain sync.Mutex.
package lockqueue

import (
	"context"
	"sync"

	"github.com/maruel/blockdb/internal/xerrors"
)

// Queue is a FIFO async mutex. The zero value is not usable; use New.
type Queue struct {
	maxWaiters int

	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New creates a lock queue. maxWaiters <= 0 means unbounded waiters.
func New(maxWaiters int) *Queue {
	return &Queue{maxWaiters: maxWaiters}
}

// Acquire suspends the caller until every prior acquirer has released, then
// takes the lock. It fails with xerrors.ErrLockQueueOverflow if the queue
// already has maxWaiters waiters ahead of this call. ctx cancellation
// releases the caller from the wait list without ever taking the lock.
func (q *Queue) Acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.held {
		q.held = true
		q.mu.Unlock()
		return nil
	}
	if q.maxWaiters > 0 && len(q.waiters) >= q.maxWaiters {
		q.mu.Unlock()
		return xerrors.Busy(xerrors.ErrLockQueueOverflow, "lock queue overflow")
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		q.abandon(ch)
		return ctx.Err()
	}
}

// abandon removes ch from the waiter list if it was never woken; if it was
// already woken (Release sent on it) the lock it was handed off stays held,
// so abandon must release it right back to the next waiter.
func (q *Queue) abandon(ch chan struct{}) {
	q.mu.Lock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			q.mu.Unlock()
			return
		}
	}
	q.mu.Unlock()
	select {
	case <-ch:
		// We had already been handed the lock; pass it on.
		q.Release()
	default:
	}
}

// Release hands the lock to the next FIFO waiter, or marks the queue free
// if there is none.
func (q *Queue) Release() {
	q.mu.Lock()
	if len(q.waiters) == 0 {
		q.held = false
		q.mu.Unlock()
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	q.mu.Unlock()
	close(next)
}

// TryAcquire attempts to take the lock without waiting, returning false if
// it is already held.
func (q *Queue) TryAcquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.held {
		return false
	}
	q.held = true
	return true
}
