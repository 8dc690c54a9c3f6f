package sched

// Priority range. Matches this kernel's teaching reference: 64 distinct
// priority levels, with 31 as the default a thread is born with.
const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31
)

// Nice range used by the MLFQS mode.
const (
	NiceMin     = -20
	NiceMax     = 20
	NiceDefault = 0
)

// TimeSliceTicks is the number of timer ticks a thread may run before the
// scheduler considers its slice expired (still subject to preemption
// earlier if a higher-priority thread becomes ready).
const TimeSliceTicks = 4

// TicksPerSecond must match the external timer-interrupt collaborator's
// configured frequency; it governs the once-per-second load_avg/recent_cpu
// recompute and the once-per-4-ticks priority recompute under MLFQS.
const TicksPerSecond = 100

// kernelStackSize is the size, in bytes, of the kernel stack allocated for
// every thread created by CreateThread.
const kernelStackSize = 4096 * 4
