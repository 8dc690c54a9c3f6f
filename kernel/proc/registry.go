package proc

import (
	"gophernel/kernel/sched"
	"gophernel/kernel/sync"
)

// registryLock and registry let the frame table's eviction and
// accessed-bit callbacks resolve a pmm.FrameOwner back to the thread that
// owns its address space. pmm is a leaf package that cannot know about
// threads; this registry is this package's side of that function-variable
// wiring, the same role addr_space's pmmFreeFrameFn plays for vmm.
var (
	registryLock sync.Spinlock
	registry     = map[uint64]*sched.Thread{}
)

func registerProcess(t *sched.Thread) {
	registryLock.Acquire()
	registry[t.ID] = t
	registryLock.Release()
}

func unregisterProcess(t *sched.Thread) {
	registryLock.Acquire()
	delete(registry, t.ID)
	registryLock.Release()
}

func lookupProcess(pid uint64) *sched.Thread {
	registryLock.Acquire()
	t := registry[pid]
	registryLock.Release()
	return t
}
