package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker provides operation-level mutual exclusion per conversation.
// Waiters are granted the lock in the order they called Lock, so calls for
// one conversation run in arrival order.
type SessionLocker struct {
	mu     sync.Mutex
	queues map[string]*lockQueue
}

// lockQueue is the state for one key. The lock is held while the queue
// exists; waiters are handed the lock directly by closing their channel.
type lockQueue struct {
	waiters []chan struct{}
}

// NewSessionLocker creates a new session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{
		queues: make(map[string]*lockQueue),
	}
}

// Lock acquires the lock for key. It blocks until the lock is acquired or
// the context is cancelled. Returns an unlock function that MUST be called
// when the operation is complete. Calling it more than once is a no-op.
func (sl *SessionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sl.mu.Lock()
	q, held := sl.queues[key]
	if !held {
		sl.queues[key] = &lockQueue{}
		sl.mu.Unlock()
		return sl.unlocker(key), nil
	}
	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	sl.mu.Unlock()

	select {
	case <-ready:
		return sl.unlocker(key), nil

	case <-ctx.Done():
		sl.mu.Lock()
		select {
		case <-ready:
			// Handed the lock while giving up; pass it on.
			sl.releaseLocked(key)
		default:
			q.remove(ready)
		}
		sl.mu.Unlock()
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) unlocker(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			sl.mu.Lock()
			sl.releaseLocked(key)
			sl.mu.Unlock()
		})
	}
}

// releaseLocked hands the lock to the oldest waiter or drops the key.
// sl.mu must be held.
func (sl *SessionLocker) releaseLocked(key string) {
	q, ok := sl.queues[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(sl.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

func (q *lockQueue) remove(ch chan struct{}) {
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// ActiveCount returns the number of keys with active or pending locks.
// Intended for testing.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.queues)
}

// Waiting returns the number of callers queued behind the holder of key.
func (sl *SessionLocker) Waiting(key string) int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if q, ok := sl.queues[key]; ok {
		return len(q.waiters)
	}
	return 0
}
