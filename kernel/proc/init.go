package proc

import (
	"gophernel/kernel"
	"gophernel/kernel/gate"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/vmm"
	"gophernel/kernel/sched"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	getFrameFn            = pmm.GetFrame
	freeFrameFn           = pmm.FreeFrame
	mapTemporaryFn        = vmm.MapTemporary
	unmapFn               = vmm.Unmap
	newAddressSpaceFn     = vmm.NewAddressSpace
	destroyAddressSpaceFn = vmm.DestroyAddressSpace
	activateKernelPDTFn   = vmm.ActivateKernelPDT
	enterUserModeFn       = gate.EnterUserMode
	resumeUserModeFn      = gate.ResumeUserMode
	createThreadFn        = sched.CreateThread
	currentThreadFn       = sched.CurrentThread
	exitFn                = Exit

	// PageDirectoryTable methods have value receivers; these indirections
	// exist so tests can substitute an in-memory page table without
	// touching the recursive mapping the real one walks.
	pdtActivateFn = func(pdt vmm.PageDirectoryTable) { pdt.Activate() }
	pdtMapFn      = func(pdt vmm.PageDirectoryTable, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		return pdt.Map(page, frame, flags)
	}
	pdtUnmapFn = func(pdt vmm.PageDirectoryTable, page mm.Page) *kernel.Error {
		return pdt.Unmap(page)
	}
	pdtDirtyFn = func(pdt vmm.PageDirectoryTable, va uintptr) (bool, *kernel.Error) {
		return pdt.Dirty(va)
	}
	pdtAccessedFn = func(pdt vmm.PageDirectoryTable, va uintptr, clear bool) (bool, *kernel.Error) {
		return pdt.Accessed(va, clear)
	}
)

// Init wires the C1-C5 collaborators this package sits on top of: the
// frame table's free/evict callbacks, the fault handler's user-mode
// dispatch hook, and the scheduler itself. It must run once, after
// vmm.Init and pmm.Init, before ExecInitd.
func Init() *sched.Thread {
	vmm.SetFrameFreer(pmm.FreeFrame)
	vmm.SetUserPageFaultHandler(handleUserPageFault)
	pmm.SetEvictor(evictFrame)
	pmm.SetAccessedChecker(checkAccessed)

	return sched.Init()
}
