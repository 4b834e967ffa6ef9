// Package album implements the per-user batching core: the queue registry,
// the per-user inactivity timers, and the dispatcher that turns pending
// queues into single or grouped sends.
package album

import (
	"sync"
	"time"

	kit "albumbot/internal/transport"
	logx "albumbot/pkg/logx"
)

// queue holds one user's pending items and their inactivity timer state.
// A queue exists iff the user has >=1 pending item.
type queue struct {
	items []kit.Media

	// gen is the timer generation. Every arm/cancel bumps it; a firing
	// timer only proceeds if its captured generation is still current.
	gen   uint64
	timer *time.Timer
}

// userLock is a refcounted per-user dispatch mutex. Refcounting lets the
// registry drop the mutex once nobody holds or waits on it, so the lock map
// does not grow with every user ever seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// Registry maps user IDs to their pending queues. All mutations go through
// its mutex so interleaved handlers and timer callbacks observe atomic
// enqueue/trim/clear operations.
type Registry struct {
	mu    sync.Mutex
	users map[int64]*queue
	locks map[int64]*userLock
	log   logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		users: map[int64]*queue{},
		locks: map[int64]*userLock{},
		log:   log,
	}
}

// Enqueue appends item to the user's queue, creating it if absent, and
// returns the resulting item count.
func (r *Registry) Enqueue(userID int64, item kit.Media) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.users[userID]
	if q == nil {
		q = &queue{}
		r.users[userID] = q
	}
	q.items = append(q.items, item)
	return len(q.items)
}

// Peek returns a read-only snapshot of the user's pending items.
func (r *Registry) Peek(userID int64) []kit.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.users[userID]
	if q == nil || len(q.items) == 0 {
		return nil
	}
	out := make([]kit.Media, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the user's pending item count (0 if no entry).
func (r *Registry) Len(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.users[userID]
	if q == nil {
		return 0
	}
	return len(q.items)
}

// Clear removes the user's entry entirely, cancelling any live timer, and
// reports whether an entry existed.
func (r *Registry) Clear(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.users[userID]
	if q == nil {
		return false
	}
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	delete(r.users, userID)
	return true
}

// TakeAndTrim removes up to n items from the front of the user's queue and
// returns both the removed batch and what is left. If nothing remains the
// entry is deleted from the registry.
func (r *Registry) TakeAndTrim(userID int64, n int) (batch, remaining []kit.Media) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.users[userID]
	if q == nil || len(q.items) == 0 {
		return nil, nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch = make([]kit.Media, n)
	copy(batch, q.items[:n])

	rest := q.items[n:]
	if len(rest) == 0 {
		q.gen++
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		delete(r.users, userID)
		return batch, nil
	}
	q.items = append([]kit.Media(nil), rest...)
	remaining = make([]kit.Media, len(q.items))
	copy(remaining, q.items)
	return batch, remaining
}

// QueueCount returns how many users currently have a non-empty queue.
func (r *Registry) QueueCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// lockUser acquires the user's dispatch mutex, creating it on demand.
// The returned handle must be passed back to unlockUser.
func (r *Registry) lockUser(userID int64) *userLock {
	r.mu.Lock()
	l := r.locks[userID]
	if l == nil {
		l = &userLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

// unlockUser releases the dispatch mutex and drops it from the map once the
// last holder/waiter is gone.
func (r *Registry) unlockUser(userID int64, l *userLock) {
	l.mu.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs <= 0 {
		delete(r.locks, userID)
	}
	r.mu.Unlock()
}
