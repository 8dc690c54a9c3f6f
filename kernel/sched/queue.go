package sched

import (
	"reflect"

	"gophernel/kernel/cpu"
	"gophernel/kernel/gate"
	"gophernel/kernel/sync"
)

// lock guards every field below: ready/sleep/destruction queues, the tid
// allocator and the current/idle pointers. Per this kernel's shared-state
// rules, the scheduler's own bookkeeping is mutated only under this
// dedicated spinlock (or with interrupts disabled, modeled here as holding
// the same lock since this Go port has no interrupt-enable flag to toggle).
var lock sync.Spinlock

var (
	readyQueue       []*Thread
	sleepQueue       []*Thread
	destructionQueue []*Thread

	// allThreads registers every live thread regardless of scheduling
	// state, so the MLFQS recompute passes reach threads blocked on a
	// semaphore/lock/condition too, which appear on no scheduler queue.
	allThreads []*Thread

	current *Thread
	idle    *Thread

	nextTID  uint64 = 1
	ticks    uint64
	enabled  bool

	switchContextFn  = cpu.SwitchContext
	newThreadStackFn = cpu.NewThreadStack
	setKernelSPFn    = gate.SetKernelStackPointer
	activatePDTFn    = func(t *Thread) { t.PDT.Activate() }
)

// Init brings the scheduler up: it creates the Thread record for the
// already-running boot context (so it has somewhere to save its context on
// the first switch away), creates the idle thread, and wires kernel/sync's
// CurrentFn/BlockFn/WakeFn/PriorityFn/YieldNowFn and SetYieldFunc hooks.
// It must run before any Lock/Semaphore is used.
func Init() *Thread {
	lock.Acquire()
	defer lock.Release()

	boot := &Thread{
		ID:           nextTID,
		Name:         "main",
		Status:       StatusRunning,
		basePriority: PriDefault,
		effPriority:  PriDefault,
	}
	nextTID++
	current = boot
	allThreads = append(allThreads, boot)

	idle = newThreadLocked("idle", PriMin, idleLoop)

	wireSyncHooks()
	enabled = true
	return boot
}

func wireSyncHooks() {
	sync.CurrentFn = func() sync.Waiter { return CurrentThread() }
	sync.PriorityFn = func(w sync.Waiter) int { return w.(*Thread).Priority() }
	sync.BlockFn = Block
	sync.WakeFn = func(w sync.Waiter) { Wake(w.(*Thread)) }
	sync.YieldNowFn = Yield
	sync.SetYieldFunc(Yield)
}

// CurrentThread returns the thread currently executing.
func CurrentThread() *Thread {
	lock.Acquire()
	defer lock.Release()
	return current
}

// CreateThread allocates a kernel stack for a new thread, registers it on
// the ready queue at the given base priority, and returns it. entry runs on
// the thread's own stack the first time it is scheduled. The new thread is
// linked as a child of the calling thread so Wait can observe its exit.
func CreateThread(name string, priority int, entry func()) *Thread {
	lock.Acquire()
	defer lock.Release()

	t := newThreadLocked(name, priority, entry)
	if current != nil {
		t.Parent = current
		current.Children = append(current.Children, t)
	}
	insertReadyLocked(t)
	maybePreemptLocked()
	return t
}

func newThreadLocked(name string, priority int, entry func()) *Thread {
	t := &Thread{
		ID:           nextTID,
		Name:         name,
		Status:       StatusReady,
		basePriority: clampPriority(priority),
		effPriority:  clampPriority(priority),
		Nice:         NiceDefault,
		ForkSema:     sync.NewSemaphore(0),
		WaitSema:     sync.NewSemaphore(0),
		ExitSema:     sync.NewSemaphore(0),
	}
	nextTID++

	if entry != nil {
		t.kstack = make([]byte, kernelStackSize)
		t.entry = entry
		top := uintptr(reflect.ValueOf(&t.kstack[len(t.kstack)-1]).Pointer()) + 1
		trampoline := reflect.ValueOf(ThreadEntryTrampoline).Pointer()
		t.sp = newThreadStackFn(top, uintptr(trampoline), uintptr(reflect.ValueOf(t).Pointer()))
	}

	allThreads = append(allThreads, t)
	return t
}

// insertReadyLocked inserts t into the ready queue ordered by descending
// effective priority, ties broken by FIFO (arrival order), matching the
// ready-queue invariant.
func insertReadyLocked(t *Thread) {
	t.Status = StatusReady
	pri := t.Priority()
	i := len(readyQueue)
	readyQueue = append(readyQueue, nil)
	for i > 0 && readyQueue[i-1].Priority() < pri {
		readyQueue[i] = readyQueue[i-1]
		i--
	}
	readyQueue[i] = t
}

// popReadyLocked removes and returns the highest-priority ready thread, or
// idle if none are ready.
func popReadyLocked() *Thread {
	if len(readyQueue) == 0 {
		return idle
	}
	t := readyQueue[0]
	readyQueue = readyQueue[1:]
	return t
}

// maybePreemptLocked yields the CPU immediately if the ready queue's head
// now strictly outranks the running thread, per the preemption invariant
// checked on create/unblock/priority-update.
func maybePreemptLocked() {
	if !enabled || len(readyQueue) == 0 || current == nil {
		return
	}
	if readyQueue[0].Priority() > current.Priority() {
		lock.Release()
		Yield()
		lock.Acquire()
	}
}

// Yield voluntarily gives up the CPU, placing the calling thread back on
// the ready queue at its current priority.
func Yield() {
	lock.Acquire()
	self := current
	if self != idle {
		insertReadyLocked(self)
	} else {
		self.Status = StatusReady
	}
	switchToNextLocked()
}

// Block suspends the calling thread until a subsequent Wake call targets
// it; the thread is removed from every queue and simply stops being
// runnable until Wake reinserts it. If a Wake already raced ahead of this
// call (the caller was dequeued from a wait list before it got here), the
// pending wake is consumed and Block returns immediately.
func Block() {
	lock.Acquire()
	if current.wakePending {
		current.wakePending = false
		lock.Release()
		return
	}
	current.Status = StatusBlocked
	switchToNextLocked()
}

// Wake moves a blocked (or sleeping) thread back onto the ready queue and
// preempts the current thread if the woken thread now outranks it. A wake
// targeting a thread that has not blocked yet (it is still Running or
// Ready, on its way into Block) is recorded on the thread instead of
// dropped, so the enqueue-then-block window in the semaphore's Down cannot
// lose it.
func Wake(t *Thread) {
	lock.Acquire()
	if t.Status == StatusDying {
		lock.Release()
		return
	}
	if t.Status == StatusReady || t.Status == StatusRunning {
		t.wakePending = true
		lock.Release()
		return
	}
	insertReadyLocked(t)
	maybePreemptLocked()
	lock.Release()
}

// SleepUntil records wakeupTick, moves the calling thread to the sleep
// queue, and blocks it. TimerTick scans the sleep queue each tick and wakes
// every thread whose wakeup tick has elapsed.
func SleepUntil(wakeupTick uint64) {
	lock.Acquire()
	current.wakeTick = wakeupTick
	current.Status = StatusSleeping
	sleepQueue = append(sleepQueue, current)
	switchToNextLocked()
}

// TimerTick advances the tick counter, wakes any thread whose sleep has
// elapsed, runs the MLFQS per-tick/per-4-tick/per-second bookkeeping if
// enabled, and expires the current thread's time slice.
func TimerTick() {
	lock.Acquire()
	ticks++
	t := ticks

	remaining := sleepQueue[:0]
	var woken []*Thread
	for _, s := range sleepQueue {
		if t >= s.wakeTick {
			woken = append(woken, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	sleepQueue = remaining
	for _, s := range woken {
		insertReadyLocked(s)
	}

	mlfqsTickLocked(t)

	expireSlice := current != idle && t%TimeSliceTicks == 0
	lock.Release()

	if len(woken) > 0 {
		lock.Acquire()
		maybePreemptLocked()
		lock.Release()
	}
	if expireSlice {
		Yield()
	}
}

// switchToNextLocked picks the next thread to run and performs the context
// switch; it is called with lock held and returns with lock released (the
// resumed thread continues past its own call site with lock already
// re-acquired by whichever path blocked it, mirroring a classic
// schedule()).
func switchToNextLocked() {
	prev := current
	next := popReadyLocked()
	current = next
	next.Status = StatusRunning
	next.WaitingOn = nil

	if next.SPT != nil {
		// User process: its user-half mappings only exist in its own page
		// directory, so it must become the active one before next runs.
		activatePDTFn(next)
	}
	if next.sp != 0 {
		setKernelSPFn(kstackTopOf(next))
	}

	drainDestructionLocked(prev)

	if prev == next {
		lock.Release()
		return
	}

	lock.Release()
	switchContextFn(&prev.sp, next.sp)
}

func kstackTopOf(t *Thread) uintptr {
	if len(t.kstack) == 0 {
		return 0
	}
	return uintptr(reflect.ValueOf(&t.kstack[len(t.kstack)-1]).Pointer()) + 1
}

// drainDestructionLocked frees the kernel stack of any thread queued for
// destruction by Exit, deferred until a safe point (never free the stack a
// thread is still running on).
func drainDestructionLocked(except *Thread) {
	if len(destructionQueue) == 0 {
		return
	}
	kept := destructionQueue[:0]
	for _, d := range destructionQueue {
		if d == except {
			kept = append(kept, d)
			continue
		}
		d.kstack = nil
	}
	destructionQueue = kept
}

// queueDestructionLocked marks t for kernel-stack teardown once it is no
// longer the running thread and drops it from the live-thread registry.
func queueDestructionLocked(t *Thread) {
	destructionQueue = append(destructionQueue, t)
	unregisterThreadLocked(t)
}

func unregisterThreadLocked(t *Thread) {
	for i, th := range allThreads {
		if th == t {
			allThreads = append(allThreads[:i], allThreads[i+1:]...)
			return
		}
	}
}

// ThreadEntryTrampoline is the well-known entrypoint the arch-specific
// context-switch trampoline built by NewThreadStack calls into for a
// thread that has never run. By the time this runs, SwitchContext has
// already made the new thread's kernel stack current, so calling its
// stored entry point here executes it on that stack exactly as if a prior
// SwitchContext had resumed it.
func ThreadEntryTrampoline(self *Thread) {
	self.entry()
	Exit(0)
}
