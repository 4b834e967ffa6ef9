package album

import (
	"time"
)

// ArmTimer (re)starts the user's inactivity timer: any previously armed
// timer is cancelled first, so at most one is live per user. fire runs
// after delay unless the timer is cancelled or superseded before then.
//
// Arming is a no-op when the user has no pending entry: a timer must never
// resurrect a queue that was already cleared or drained.
func (r *Registry) ArmTimer(userID int64, delay time.Duration, fire func()) {
	r.mu.Lock()
	q := r.users[userID]
	if q == nil {
		r.mu.Unlock()
		return
	}
	q.gen++
	gen := q.gen
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, func() {
		r.timerFired(userID, gen, fire)
	})
	r.mu.Unlock()
}

// CancelTimer stops the user's timer if armed. Idempotent: cancelling an
// idle timer is a no-op. A cancel that completes before the fire callback
// re-checks its generation fully suppresses that fire; once the callback is
// past the check, cancellation no longer affects that invocation.
func (r *Registry) CancelTimer(userID int64) {
	r.mu.Lock()
	if q := r.users[userID]; q != nil {
		q.gen++
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
	}
	r.mu.Unlock()
}

func (r *Registry) timerFired(userID int64, gen uint64, fire func()) {
	r.mu.Lock()
	q := r.users[userID]
	if q == nil || q.gen != gen || len(q.items) == 0 {
		// Stale timer: the queue was cleared, drained, or re-armed since
		// this handle was scheduled.
		r.mu.Unlock()
		return
	}
	q.timer = nil
	r.mu.Unlock()

	fire()
}
