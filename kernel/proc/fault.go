package proc

import (
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
)

// handleUserPageFault is registered with vmm.SetUserPageFaultHandler and
// implements this kernel's only page-fault resolution policy for user-mode
// accesses:
//
//  1. an address in the kernel half is always an access violation.
//  2. a registered (SPT hit) address that is not yet resident is a normal
//     demand-page-in: claim it and resume.
//  3. a registered address faulted on by a write when its descriptor is
//     not writable is a protection violation.
//  4. an address below the current stack descriptor's low boundary, still
//     within the stack's maximum size and close enough to the thread's
//     last known user stack pointer to plausibly be a PUSH, grows the
//     stack by installing a fresh anonymous descriptor.
//  5. anything else is unrecoverable.
//
// An unresolved fault always terminates the faulting process via Exit; it
// never falls through to a kernel-mode panic path, since every caller of
// this function is, by construction, handling a user-mode access.
func handleUserPageFault(faultAddress, userRSP uintptr, writeAccess bool) bool {
	t := currentThreadFn()

	// A user-mode trap carries the user rsp in its frame; a fault taken in
	// kernel mode on behalf of a syscall does not, so the value the
	// process stored when crossing into the kernel stands in for it.
	if userRSP != 0 {
		t.UserRSP = userRSP
	}

	if faultAddress >= kernelHalfBoundary {
		exitFn(-1)
		return false
	}

	page := pageAlignDown(faultAddress)

	if desc, ok := t.SPT.Find(page); ok {
		if writeAccess && !desc.Writable {
			exitFn(-1)
			return false
		}
		if err := claimPage(t, page); err != nil {
			exitFn(-1)
			return false
		}
		return true
	}

	if isStackGrowthCandidate(t, faultAddress) {
		if err := t.SPT.Insert(spt.NewAnon(page, true, true)); err != nil {
			exitFn(-1)
			return false
		}
		if err := claimPage(t, page); err != nil {
			exitFn(-1)
			return false
		}
		return true
	}

	exitFn(-1)
	return false
}

// isStackGrowthCandidate reports whether faultAddress falls within the
// stack's maximum extent and close enough below the thread's last known
// user stack pointer to be a legitimate PUSH-family fault rather than a
// stray wild access.
func isStackGrowthCandidate(t *sched.Thread, faultAddress uintptr) bool {
	if faultAddress >= UserStackTop || faultAddress < UserStackTop-MaxStackSize {
		return false
	}
	return faultAddress+stackGrowthSlack >= t.UserRSP
}
