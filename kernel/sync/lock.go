package sync

// Lock is a sleeping mutex built on top of Semaphore. Unlike Spinlock it is
// intended for critical sections that may hold the lock across a blocking
// operation. Lock additionally tracks its current holder so the scheduler
// can walk the donation chain when a higher-priority thread blocks on it.
type Lock struct {
	sema   Semaphore
	holder Waiter
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{sema: Semaphore{value: 1}}
}

// Acquire blocks until the lock is held by the calling thread. If the lock
// is currently held by a lower-priority thread, DonateFn (registered by the
// scheduler) is invoked so that holder can run with the caller's priority
// until it releases the lock. Before the scheduler wires CurrentFn during
// boot, uncontended acquires still work; they just record no holder.
func (l *Lock) Acquire() {
	var self Waiter
	if CurrentFn != nil {
		self = CurrentFn()
	}

	holder := l.holder
	if holder != nil && self != nil && DonateFn != nil {
		DonateFn(self, holder, l)
	}

	l.sema.Down()
	l.holder = self
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *Lock) TryAcquire() bool {
	if !l.sema.TryDown() {
		return false
	}
	if CurrentFn != nil {
		l.holder = CurrentFn()
	}
	return true
}

// Release relinquishes the lock. Any priority donated to the caller on
// account of this lock is revoked via RevokeDonationFn.
func (l *Lock) Release() {
	self := l.holder
	l.holder = nil
	if RevokeDonationFn != nil {
		RevokeDonationFn(self, l)
	}
	l.sema.Up()
}

// IsHeldByCurrent reports whether the calling thread currently holds the
// lock.
func (l *Lock) IsHeldByCurrent() bool {
	return l.holder != nil && CurrentFn != nil && l.holder == CurrentFn()
}

// LockHolder returns the Waiter currently holding l, or nil if it is free.
// Exported for the scheduler's nested donation chain, which must find the
// holder of whatever lock a donation recipient is itself blocked on.
func LockHolder(l *Lock) Waiter {
	return l.holder
}

var (
	// DonateFn is invoked when waiter blocks on a lock held by holder,
	// giving the scheduler a chance to temporarily raise holder's
	// effective priority (and recurse across nested donations).
	DonateFn func(waiter, holder Waiter, on *Lock)

	// RevokeDonationFn is invoked when a lock is released, letting the
	// scheduler recompute the releasing thread's effective priority from
	// its remaining donations.
	RevokeDonationFn func(holder Waiter, on *Lock)
)
