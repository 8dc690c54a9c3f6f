package sched

import "gophernel/kernel/fixed"

// mlfqsEnabled gates the multi-level feedback queue mode. While active,
// explicit priority setting and donation are disabled per spec; priorities
// are instead derived purely from recent_cpu and nice.
var mlfqsEnabled bool

// loadAvg is the system-wide load average, updated once per second.
var loadAvg fixed.Fixed

// EnableMLFQS switches the scheduler into MLFQS mode. It must be called
// before any thread is created so every thread's priority is governed by
// the formula from the start.
func EnableMLFQS() {
	lock.Acquire()
	defer lock.Release()
	mlfqsEnabled = true
}

// MLFQSEnabled reports whether MLFQS mode is active.
func MLFQSEnabled() bool {
	lock.Acquire()
	defer lock.Release()
	return mlfqsEnabled
}

// mlfqsTickLocked runs the three MLFQS bookkeeping passes due at tick t. It
// is called with lock held, from TimerTick.
func mlfqsTickLocked(t uint64) {
	if !mlfqsEnabled {
		return
	}

	if current != idle {
		current.RecentCPU = current.RecentCPU.AddInt(1)
	}

	if t%TicksPerSecond == 0 {
		recomputeLoadAvgLocked()
		for _, th := range allThreadsLocked() {
			recomputeRecentCPULocked(th)
		}
	}

	if t%4 == 0 {
		for _, th := range allThreadsLocked() {
			recomputePriorityLocked(th)
		}
		resortReadyQueueLocked()
	}
}

// allThreadsLocked returns every live thread the recompute passes must
// visit: the registry covers running, ready, sleeping and blocked threads
// alike, since a thread parked on a semaphore/lock/condition sits on no
// scheduler queue yet still accrues recent_cpu decay. The idle thread is
// excluded; its priority is pinned and it never counts toward load.
func allThreadsLocked() []*Thread {
	live := make([]*Thread, 0, len(allThreads))
	for _, th := range allThreads {
		if th == idle || th.Status == StatusDying {
			continue
		}
		live = append(live, th)
	}
	return live
}

// recomputeLoadAvgLocked applies
// load_avg = (59/60)*load_avg + (1/60)*ready_threads
// where ready_threads counts Ready threads plus 1 if the current thread is
// not idle.
func recomputeLoadAvgLocked() {
	readyCount := len(readyQueue)
	if current != nil && current != idle {
		readyCount++
	}

	fiftyNineSixtieths := fixed.FromInt(59).Div(fixed.FromInt(60))
	oneSixtieth := fixed.FromInt(1).Div(fixed.FromInt(60))
	loadAvg = fiftyNineSixtieths.Mul(loadAvg).Add(oneSixtieth.MulInt(readyCount))
}

// recomputeRecentCPULocked applies
// recent_cpu = (2*load_avg)/(2*load_avg+1)*recent_cpu + nice
func recomputeRecentCPULocked(t *Thread) {
	twoLoadAvg := loadAvg.MulInt(2)
	coeff := twoLoadAvg.Div(twoLoadAvg.AddInt(1))
	t.RecentCPU = coeff.Mul(t.RecentCPU).AddInt(t.Nice)
}

// recomputePriorityLocked applies
// priority = PRI_MAX - recent_cpu/4 - 2*nice
// clamped to [PRI_MIN, PRI_MAX]. It never touches donations since MLFQS
// disables donation outright.
func recomputePriorityLocked(t *Thread) {
	p := fixed.FromInt(PriMax).Sub(t.RecentCPU.DivInt(4)).SubInt(2 * t.Nice)
	t.basePriority = clampPriority(p.ToIntTruncate())
	t.effPriority = t.basePriority
}

// resortReadyQueueLocked re-sorts the ready queue after a bulk priority
// recompute, preserving FIFO order among threads whose priority did not
// change relative to one another.
func resortReadyQueueLocked() {
	for i := 1; i < len(readyQueue); i++ {
		j := i
		t := readyQueue[i]
		for j > 0 && readyQueue[j-1].Priority() < t.Priority() {
			readyQueue[j] = readyQueue[j-1]
			j--
		}
		readyQueue[j] = t
	}
}

