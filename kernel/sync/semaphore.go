package sync

// Waiter is an opaque handle for a blocked thread. The sync package never
// looks inside it; it is whatever token the scheduler hands back from
// CurrentFn and passes to PriorityFn/WakeFn.
type Waiter interface{}

var (
	// CurrentFn returns a handle for the thread that is currently
	// executing. Registered by the scheduler package during boot.
	CurrentFn func() Waiter

	// BlockFn suspends the calling thread until a subsequent WakeFn call
	// targets it. It must only return after the thread has been
	// rescheduled.
	BlockFn func()

	// WakeFn moves a blocked thread back onto the ready queue. If the
	// woken thread now has a higher priority than the caller, the
	// scheduler yields to it before WakeFn returns, so callers release
	// any spinlock they hold before calling it.
	WakeFn func(Waiter)

	// PriorityFn returns the effective scheduling priority for a waiter,
	// used to keep wait queues ordered highest-priority-first.
	PriorityFn func(Waiter) int

	// YieldNowFn relinquishes the CPU immediately. Used after releasing a
	// lock/semaphore when the wake-up produced a higher priority thread.
	YieldNowFn func()
)

const maxWaiters = 256

// Semaphore is a classic counting semaphore. Down blocks while the count is
// zero; Up increments the count and wakes the highest-priority waiter, if
// any.
type Semaphore struct {
	lock    Spinlock
	value   int
	waiters [maxWaiters]Waiter
	count   int
}

// NewSemaphore returns a semaphore initialized with the given value.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{value: value}
}

// Down decrements the semaphore, blocking the calling thread while the
// value is zero.
//
// The spinlock cannot be held across BlockFn (the blocked thread would
// still own it), so enqueue and block are not one critical section. The
// race that leaves open — an Up on another code path dequeues this waiter
// and wakes it after the release but before BlockFn runs — is handled by
// the scheduler: a wake targeting a thread that has not blocked yet is
// recorded as pending and consumed by the next BlockFn, which then returns
// immediately.
func (s *Semaphore) Down() {
	for {
		s.lock.Acquire()
		if s.value > 0 {
			s.value--
			s.lock.Release()
			return
		}

		self := CurrentFn()
		s.insertWaiter(self)
		s.lock.Release()

		BlockFn()
	}
}

// TryDown attempts to decrement the semaphore without blocking, reporting
// whether it succeeded.
func (s *Semaphore) TryDown() bool {
	s.lock.Acquire()
	defer s.lock.Release()

	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the semaphore and, if any thread is waiting, wakes the one
// with the highest scheduling priority.
func (s *Semaphore) Up() {
	s.lock.Acquire()
	var woken Waiter
	if s.count > 0 {
		woken = s.waiters[0]
		copy(s.waiters[0:], s.waiters[1:s.count])
		s.count--
	}
	s.value++
	s.lock.Release()

	if woken != nil {
		WakeFn(woken)
	}
}

// insertWaiter inserts w into the wait list ordered by descending priority,
// with ties broken by arrival order (FIFO), mirroring a priority-ordered
// wait queue.
func (s *Semaphore) insertWaiter(w Waiter) {
	if s.count >= maxWaiters {
		// Wait list exhausted; fall back to FIFO insertion at the tail.
		s.waiters[maxWaiters-1] = w
		return
	}

	pri := PriorityFn(w)
	i := s.count
	for i > 0 && PriorityFn(s.waiters[i-1]) < pri {
		s.waiters[i] = s.waiters[i-1]
		i--
	}
	s.waiters[i] = w
	s.count++
}
