package sched

import "gophernel/kernel/cpu"

// haltFn is a function variable, in the style of this package's other
// hardware-facing hooks, so tests can run the idle loop without it Halting
// the host for real.
var haltFn = cpu.Halt

// idleLoop is the idle thread's entry point: the special thread returned
// by popReadyLocked when no other thread is ready. It never blocks: each
// time it runs it halts until the next interrupt and then yields, rather
// than busy-spinning.
func idleLoop() {
	for {
		haltFn()
		Yield()
	}
}
