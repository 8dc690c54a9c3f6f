package vmm

import (
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/mm"
)

// kernelHalfStartIndex is the first top-level (PML4) entry that belongs to
// the kernel half of the address space; canonical 48-bit virtual addresses
// split evenly so indices [0, kernelHalfStartIndex) cover the user half and
// [kernelHalfStartIndex, pteEntriesPerTable) cover the kernel half.
const kernelHalfStartIndex = 256

// pteEntriesPerTable is the number of entries in a single page table at any
// level on amd64.
const pteEntriesPerTable = 512

// recursiveSlotIndex is the top-level entry PageDirectoryTable.Init uses for
// the self-referential recursive mapping; it must never be overwritten by
// copyKernelHalf since it always points at the table's own frame.
const recursiveSlotIndex = pteEntriesPerTable - 1

var errNoFrame = &kernel.Error{Module: "vmm", Message: "could not allocate a frame for a new address space"}

// readActiveTopLevelEntryFn reads entry index of the currently active page
// directory's top-level table via the recursive self-mapping. It is a
// function variable, in the style of this package's other raw-memory
// accessors (nextAddrFn, ptePtrFn), so tests can substitute a regular Go
// array instead of dereferencing the real recursive-mapping address.
var readActiveTopLevelEntryFn = func(index int) pageTableEntry {
	return *(*pageTableEntry)(unsafe.Pointer(pdtVirtualAddr + uintptr(index)<<mm.PointerShift))
}

// NewAddressSpace allocates and initializes a fresh page directory table
// for a new process. The kernel half is copied from the currently active
// page directory so kernel addresses remain valid regardless of which
// process is scheduled, matching every other address space's kernel half
// exactly since that half is never mutated after boot.
func NewAddressSpace() (PageDirectoryTable, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return PageDirectoryTable{}, errNoFrame
	}

	var pdt PageDirectoryTable
	if err := pdt.Init(frame); err != nil {
		_ = pmmFreeFrameFn(frame)
		return PageDirectoryTable{}, err
	}

	if err := copyKernelHalf(frame); err != nil {
		_ = pmmFreeFrameFn(frame)
		return PageDirectoryTable{}, err
	}

	return pdt, nil
}

// copyKernelHalf overwrites dstFrame's kernel-half top-level entries with
// the entries from the currently active page directory. It never touches
// the recursive self-mapping slot, which PageDirectoryTable.Init already
// pointed at dstFrame itself.
func copyKernelHalf(dstFrame mm.Frame) *kernel.Error {
	var saved [pteEntriesPerTable - kernelHalfStartIndex]pageTableEntry

	// The active PDT's top-level table is always reachable through the
	// recursive mapping address regardless of which process is running,
	// since every address space's recursive slot points at its own frame.
	for i := kernelHalfStartIndex; i < pteEntriesPerTable; i++ {
		if i == recursiveSlotIndex {
			continue
		}
		saved[i-kernelHalfStartIndex] = readActiveTopLevelEntryFn(i)
	}

	dstPage, err := mapTemporaryFn(dstFrame)
	if err != nil {
		return err
	}
	defer func() { _ = unmapFn(dstPage) }()

	for i := kernelHalfStartIndex; i < pteEntriesPerTable; i++ {
		if i == recursiveSlotIndex {
			continue
		}
		*(*pageTableEntry)(unsafe.Pointer(dstPage.Address() + uintptr(i)<<mm.PointerShift)) = saved[i-kernelHalfStartIndex]
	}

	return nil
}

// DestroyAddressSpace recursively frees every intermediate page-table frame
// reachable from pdt's user half (PML4 indices below kernelHalfStartIndex).
// It never frees anything reachable from the kernel half, which is shared
// with every other process and with the kernel itself. Leaf data frames are
// not touched here: by the time a process calls this, its supplemental page
// table has already released them via its own teardown.
func DestroyAddressSpace(pdt PageDirectoryTable) *kernel.Error {
	topPage, err := mapTemporaryFn(pdt.pdtFrame)
	if err != nil {
		return err
	}

	var entries [kernelHalfStartIndex]pageTableEntry
	for i := 0; i < kernelHalfStartIndex; i++ {
		entries[i] = *(*pageTableEntry)(unsafe.Pointer(topPage.Address() + uintptr(i)<<mm.PointerShift))
	}
	if err := unmapFn(topPage); err != nil {
		return err
	}

	for _, e := range entries {
		if !e.HasFlags(FlagPresent) || e.HasFlags(FlagHugePage) {
			continue
		}
		// e.Frame() is a PDPT (depth 1 below the PML4 we just read).
		if err := destroyTable(e.Frame(), 1); err != nil {
			return err
		}
	}

	return pmmFreeFrameFn(pdt.pdtFrame)
}

// destroyTable recursively frees tableFrame and, unless it is a final
// leaf-pointing page table (depth == pageLevels-1), every present non-huge
// child it references. At the final level the table's entries point to
// data frames the supplemental page table already owns and must not be
// freed here.
func destroyTable(tableFrame mm.Frame, depth int) *kernel.Error {
	page, err := mapTemporaryFn(tableFrame)
	if err != nil {
		return err
	}

	var entries [pteEntriesPerTable]pageTableEntry
	for i := 0; i < pteEntriesPerTable; i++ {
		entries[i] = *(*pageTableEntry)(unsafe.Pointer(page.Address() + uintptr(i)<<mm.PointerShift))
	}
	if err := unmapFn(page); err != nil {
		return err
	}

	if depth == pageLevels-1 {
		return pmmFreeFrameFn(tableFrame)
	}

	for _, e := range entries {
		if !e.HasFlags(FlagPresent) || e.HasFlags(FlagHugePage) {
			continue
		}
		if err := destroyTable(e.Frame(), depth+1); err != nil {
			return err
		}
	}

	return pmmFreeFrameFn(tableFrame)
}

// pmmFreeFrameFn is set during boot via SetFrameFreer (proc.Init registers
// pmm.FreeFrame). vmm does not import pmm, so address-space teardown uses the
// same function-variable wiring idiom the rest of this kernel uses between
// packages.
var pmmFreeFrameFn func(mm.Frame) *kernel.Error = func(mm.Frame) *kernel.Error { return nil }

// SetFrameFreer registers the function used to return an intermediate
// page-table frame to the physical frame pool once it is no longer
// referenced by any address space.
func SetFrameFreer(fn func(mm.Frame) *kernel.Error) { pmmFreeFrameFn = fn }
