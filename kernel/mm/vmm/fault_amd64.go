package vmm

import (
	"gophernel/kernel"
	"gophernel/kernel/gate"
	"gophernel/kernel/kfmt"
	"gophernel/kernel/mm"
)

var (
	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt

	// userPageFaultFn, when set, is given first refusal on any fault whose
	// error code reports a user-mode access (errCodeUser). It classifies
	// and resolves the fault against the faulting process's supplemental
	// page table (demand-load, zero-fill, stack growth) and reports
	// whether it could resolve it; an unresolved fault has already
	// terminated the owning process by the time this returns false, so
	// the kernel-mode CoW/panic path below must not run for it. Registered
	// by the process package during boot, the same function-variable
	// wiring idiom used by pmm's EvictFn and sync's DonateFn, since vmm
	// cannot import the process/supplemental-page-table layer without
	// creating an import cycle.
	userPageFaultFn func(faultAddress, userRSP uintptr, writeAccess bool) bool
)

// errCodeUser and errCodeWrite are bits within gate.Registers.Info for a
// page-fault trap: errCodeUser is set when the access originated in
// user mode, errCodeWrite when it was a write.
const (
	errCodeUser  = 1 << 2
	errCodeWrite = 1 << 1
)

// SetUserPageFaultHandler registers the callback consulted for faults
// whose error code reports a user-mode access.
func SetUserPageFaultHandler(fn func(faultAddress, userRSP uintptr, writeAccess bool) bool) {
	userPageFaultFn = fn
}

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
	handleInterruptFn(gate.InspectVector, 0, inspectHandler)
}

// inspectHandler implements the software-inspection vector's VA->PA
// contract: input RAX holds a user virtual address, output RAX holds the
// physical address it maps to, or zero if the address is unmapped.
func inspectHandler(regs *gate.Registers) {
	physAddr, err := translateFn(uintptr(regs.RAX))
	if err != nil {
		regs.RAX = 0
		return
	}
	regs.RAX = uint64(physAddr)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails.
func pageFaultHandler(regs *gate.Registers) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = mm.PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
	)

	if regs.Info&errCodeUser != 0 && userPageFaultFn != nil {
		// Resolved or not, the user-mode path owns this fault: on
		// failure it has already terminated the faulting process, so
		// falling through to the kernel-mode CoW/panic logic below
		// would be wrong either way.
		// regs.RSP is the user-mode stack pointer at the moment of the
		// trap, which is what stack-growth classification needs.
		userPageFaultFn(faultAddress, uintptr(regs.RSP), regs.Info&errCodeWrite != 0)
		return
	}

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		var (
			copy    mm.Frame
			tmpPage mm.Page
			err     *kernel.Error
		)

		if copy, err = mm.AllocFrame(); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
		} else {
			// Copy page contents, mark as RW and remove CoW flag
			kernel.Memcopy(faultPage.Address(), tmpPage.Address(), mm.PageSize)
			_ = unmapFn(tmpPage)

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(copy)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
			return
		}
	}

	nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	// TODO: Revisit this when user-mode tasks are implemented
	panic(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	// TODO: Revisit this when user-mode tasks are implemented
	panic(err)
}
