package proc

import (
	"gophernel/kernel"
	"gophernel/kernel/gate"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
	"gophernel/kernel/swap"
)

// Fork duplicates the calling process: a new address space holding a byte
// copy of every live page, a duplicated supplemental page table so lazy
// pages fault in the same way, independent file-descriptor cursors sharing
// the parent's inodes, and a register state identical to regs except that
// RAX carries 0. regs must be the trap frame the parent entered the kernel
// with, so the child resumes at the instruction after the fork. Returns
// the child's tid, or -1 if any part of the duplication failed.
func Fork(regs *gate.Registers) int {
	parent := currentThreadFn()

	childRegs := *regs
	childRegs.RAX = 0

	child := sched.Fork(parent.Name, func() { resumeUserModeFn(&childRegs) })

	err := duplicateInto(parent, child)
	if err != nil {
		releaseForkState(child)
		sched.ReportForkFailure(child)
	} else {
		registerProcess(child)
		sched.ReadyChild(child)
	}

	// Rendezvous: duplication is complete (or abandoned) before the parent
	// observes the result.
	child.ForkSema.Down()

	if err != nil {
		return -1
	}
	return int(child.ID)
}

// duplicateInto copies every piece of process state the child needs from
// parent: address space, supplemental page table, descriptor table, the
// executable's deny-write hold, and the saved user stack pointer.
func duplicateInto(parent, child *sched.Thread) *kernel.Error {
	pdt, err := newAddressSpaceFn()
	if err != nil {
		return err
	}
	child.PDT = pdt

	// Copy returns the partial table on failure so releaseForkState can
	// free whatever frames were already duplicated.
	child.SPT, err = parent.SPT.Copy(duplicatePage(child))
	if err != nil {
		return err
	}

	child.Fds = parent.Fds.Clone()
	if parent.Exe != nil {
		child.Exe = parent.Exe.Reopen()
		child.Exe.DenyWrite()
	}
	child.UserRSP = parent.UserRSP

	return nil
}

// duplicatePage returns the DupFn used for child's SPT copy: it allocates
// a frame owned by the child, fills it with the source page's current
// contents, and installs the child-side mapping. The parent is the running
// thread, so a resident source page can be read straight through its own
// user virtual address; a swapped-out anonymous page is read from its swap
// slot instead, leaving the parent's slot intact.
func duplicatePage(child *sched.Thread) spt.DupFn {
	return func(src *spt.Page) (mm.Frame, *kernel.Error) {
		frame, err := getFrameFn(pmm.FrameOwner{Pid: child.ID, VA: src.VA})
		if err != nil {
			return mm.InvalidFrame, err
		}

		kvaPage, err := mapTemporaryFn(frame)
		if err != nil {
			_ = freeFrameFn(frame)
			return mm.InvalidFrame, err
		}

		if src.Frame.Valid() {
			kernel.Memcopy(src.VA, kvaPage.Address(), mm.PageSize)
		} else {
			err = swap.Active().Read(src.Slot, overlayBytes(kvaPage.Address(), mm.PageSize))
		}

		if uerr := unmapFn(kvaPage); err == nil {
			err = uerr
		}
		if err == nil {
			err = pdtMapFn(child.PDT, mm.PageFromAddress(src.VA), frame, vmmFlagsFor(src))
		}
		if err != nil {
			_ = freeFrameFn(frame)
			return mm.InvalidFrame, err
		}

		return frame, nil
	}
}

// releaseForkState unwinds a partially-duplicated child after a fork
// failure. The child never ran, so everything can be torn down from the
// parent's context; the SPT being non-nil implies the address space was
// successfully created.
func releaseForkState(child *sched.Thread) {
	if child.Fds != nil {
		child.Fds.CloseAll()
	}
	if child.Exe != nil {
		child.Exe.Close()
	}
	if child.SPT != nil {
		child.SPT.DestroyAll(destroyDescriptorFn(child))
		_ = destroyAddressSpaceFn(child.PDT)
	}
}
