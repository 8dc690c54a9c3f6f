package sync

// Cond is a condition variable associated with a Lock, modeled after the
// classic Mesa-style monitor pattern: callers must hold the associated lock
// before calling Wait, Signal or Broadcast. Each waiter parks on a private
// semaphore; Signal ups the semaphore of the highest-priority waiter.
type Cond struct {
	L       *Lock
	waiters [maxWaiters]condWaiter
	count   int
}

type condWaiter struct {
	sema  *Semaphore
	owner Waiter
}

// NewCond returns a condition variable that uses l for its associated lock.
func NewCond(l *Lock) *Cond {
	return &Cond{L: l}
}

// Wait atomically releases the associated lock and suspends the calling
// thread until woken by Signal or Broadcast, then reacquires the lock
// before returning. The caller must re-check its wait condition in a loop,
// since Broadcast wakes every waiter.
//
// A Signal landing between the Release and the Down is not lost: the
// private semaphore counts it, so the Down that follows returns without
// blocking.
func (c *Cond) Wait() {
	waiterSema := &Semaphore{}
	if c.count < maxWaiters {
		c.waiters[c.count] = condWaiter{sema: waiterSema, owner: CurrentFn()}
		c.count++
	}

	c.L.Release()
	waiterSema.Down()
	c.L.Acquire()
}

// Signal wakes the highest-priority thread blocked on Wait, if any; ties
// go to the longest waiting. The caller must hold c.L.
func (c *Cond) Signal() {
	if c.count == 0 {
		return
	}

	best := 0
	for i := 1; i < c.count; i++ {
		if PriorityFn(c.waiters[i].owner) > PriorityFn(c.waiters[best].owner) {
			best = i
		}
	}

	woken := c.waiters[best]
	copy(c.waiters[best:], c.waiters[best+1:c.count])
	c.count--
	woken.sema.Up()
}

// Broadcast wakes every thread blocked on Wait. The caller must hold c.L.
func (c *Cond) Broadcast() {
	for c.count > 0 {
		c.Signal()
	}
}
