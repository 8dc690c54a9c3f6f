package proc

import (
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
)

// Exit tears down the current thread's process-level state (open file
// descriptors, the executable's deny-write hold, every resident or
// swapped-out page, the address space itself) and then hands off to the
// scheduler's Exit, which hands the exit status to a waiting parent and
// blocks until that parent calls Wait. Kernel-only threads (no SPT) skip
// straight to sched.Exit, since they never acquired any of this state.
func Exit(status int) {
	t := currentThreadFn()

	if t.SPT != nil {
		t.Fds.CloseAll()
		if t.Exe != nil {
			t.Exe.Close()
		}
		t.SPT.DestroyAll(destroyDescriptorFn(t))
		// CR3 may still point into this address space; switch off it
		// before its tables are freed.
		activateKernelPDTFn()
		_ = destroyAddressSpaceFn(t.PDT)
		unregisterProcess(t)
	}

	sched.Exit(status)
}

// Wait blocks until the child identified by tid has exited, returning its
// exit status, or -1 if tid does not name a live child of the caller.
func Wait(tid uint64) int {
	return sched.Wait(tid)
}

func destroyDescriptorFn(t *sched.Thread) spt.DestroyFn {
	return func(p *spt.Page) {
		if !p.Frame.Valid() {
			_ = spt.Destroy(p, false, 0, false)
			return
		}

		dirty, _ := pdtDirtyFn(t.PDT, p.VA)
		kva, err := mapTemporaryFn(p.Frame)
		if err == nil {
			_ = spt.Destroy(p, true, kva.Address(), dirty)
			_ = unmapFn(kva)
		}
		_ = freeFrameFn(p.Frame)
	}
}
