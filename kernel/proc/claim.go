package proc

import (
	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/mm/vmm"
	"gophernel/kernel/sched"
)

var (
	errNotMapped    = &kernel.Error{Module: "proc", Message: "virtual address is not registered in the supplemental page table"}
	errUnknownOwner = &kernel.Error{Module: "proc", Message: "frame owner does not correspond to a live process or mapping"}
)

// claimPage makes the page backing va resident in t's address space,
// bringing it in from its supplemental page table descriptor if necessary.
// It is the single entry point demand-paging, stack growth and fork's
// immediate-claim all funnel through.
func claimPage(t *sched.Thread, va uintptr) *kernel.Error {
	desc, ok := t.SPT.Find(va)
	if !ok {
		return errNotMapped
	}
	if desc.Frame.Valid() {
		return nil
	}

	frame, err := getFrameFn(pmm.FrameOwner{Pid: t.ID, VA: va})
	if err != nil {
		return err
	}

	kvaPage, err := mapTemporaryFn(frame)
	if err != nil {
		_ = freeFrameFn(frame)
		return err
	}

	if err := spt.SwapIn(desc, kvaPage.Address()); err != nil {
		_ = unmapFn(kvaPage)
		_ = freeFrameFn(frame)
		return err
	}

	if err := unmapFn(kvaPage); err != nil {
		_ = freeFrameFn(frame)
		return err
	}

	desc.Frame = frame

	// t.PDT (the instance), not the package-level vmm.Map, so this works
	// identically whether or not t happens to be scheduled.
	return pdtMapFn(t.PDT, mm.PageFromAddress(va), frame, vmmFlagsFor(desc))
}

func vmmFlagsFor(desc *spt.Page) vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if desc.Writable {
		flags |= vmm.FlagRW
	}
	return flags
}

// evictFrame is pmm's EvictFn: it writes a victim frame's contents out
// through its owning process's supplemental page table entry and removes
// the now-stale mapping, so the next access to that address faults back
// in through claimPage. Registered by Init.
func evictFrame(owner pmm.FrameOwner) *kernel.Error {
	t := lookupProcess(owner.Pid)
	if t == nil {
		return errUnknownOwner
	}
	desc, ok := t.SPT.Find(owner.VA)
	if !ok || !desc.Frame.Valid() {
		return errUnknownOwner
	}

	dirty, err := pdtDirtyFn(t.PDT, owner.VA)
	if err != nil {
		return err
	}

	kvaPage, err := mapTemporaryFn(desc.Frame)
	if err != nil {
		return err
	}

	if err := spt.SwapOut(desc, kvaPage.Address(), dirty); err != nil {
		_ = unmapFn(kvaPage)
		return err
	}
	if err := unmapFn(kvaPage); err != nil {
		return err
	}

	if err := pdtUnmapFn(t.PDT, mm.PageFromAddress(owner.VA)); err != nil {
		return err
	}

	desc.Frame = mm.InvalidFrame
	return nil
}

// checkAccessed is pmm's AccessedFn, consulted by the clock algorithm.
func checkAccessed(owner pmm.FrameOwner, clear bool) bool {
	t := lookupProcess(owner.Pid)
	if t == nil {
		return false
	}
	accessed, err := pdtAccessedFn(t.PDT, owner.VA, clear)
	if err != nil {
		return false
	}
	return accessed
}
