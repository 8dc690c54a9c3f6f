package pmm

import (
	"gophernel/kernel"
	"gophernel/kernel/kfmt/early"
	"gophernel/kernel/mm"
	"gophernel/multiboot"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "pmm", Message: "boot allocator: out of memory"}

	visitMemRegionsFn = multiboot.VisitMemRegions
)

// BootMemAllocator is a simple bump allocator that hands out frames from the
// available memory regions reported by the bootloader. It is used to
// bootstrap the kernel's heap (and, transitively, the bitmap allocator)
// before a frame table can be built.
//
// The allocator never reuses a frame; FreeFrame is intentionally not
// implemented on this type since frames it hands out are always claimed by
// longer-lived kernel structures.
type BootMemAllocator struct {
	kernelStart uintptr
	kernelEnd   uintptr

	// lastRegionIndex tracks the region where the last successful
	// allocation was made together with the next free frame inside it.
	lastRegionIndex int
	nextFrame       mm.Frame
	allocCount      uint64
}

func (alloc *BootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStart = kernelStart
	alloc.kernelEnd = kernelEnd
	alloc.lastRegionIndex = -1
}

// wasAllocated reports whether this allocator has already handed out the
// given frame. Used by the bitmap allocator while bootstrapping its own free
// pools so that frames claimed during boot are not offered twice.
//
// AllocFrame always exhausts a region before moving on to the next one, so
// every frame in a region preceding lastRegionIndex is known to be spent;
// within the current region only frames below nextFrame have been handed
// out. No bookkeeping beyond those two fields is required.
func (alloc *BootMemAllocator) wasAllocated(frame mm.Frame) bool {
	var regionIndex = -1
	var wasAllocated bool

	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		regionIndex++
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		regionStart := mm.FrameFromAddress(uintptr(entry.PhysAddress))
		regionEnd := mm.FrameFromAddress(uintptr(entry.PhysAddress+entry.Length) - 1)
		if frame < regionStart || frame > regionEnd {
			return true
		}

		switch {
		case regionIndex < alloc.lastRegionIndex:
			wasAllocated = true
		case regionIndex == alloc.lastRegionIndex:
			wasAllocated = frame < alloc.nextFrame
		}
		return false
	})

	return wasAllocated
}

// printMemoryMap logs the memory regions reported by the bootloader.
func (alloc *BootMemAllocator) printMemoryMap() {
	early.Printf("[pmm] memory map reported by bootloader:\n")
	regionIndex := 0
	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		early.Printf("  [%d] start: 0x%x, length: %d, type: %s\n", regionIndex, uintptr(entry.PhysAddress), uint32(entry.Length), entry.Type.String())
		regionIndex++
		return true
	})
}

// AllocFrame reserves and returns the next available frame from the
// available memory regions, skipping over the region that contains the
// currently loaded kernel image.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		found    mm.Frame
		foundErr = errBootAllocOutOfMemory
		index    = -1
	)

	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		index++
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		regionStart := mm.FrameFromAddress(uintptr(entry.PhysAddress))
		regionEnd := mm.FrameFromAddress(uintptr(entry.PhysAddress+entry.Length) - 1)

		candidate := regionStart
		if index == alloc.lastRegionIndex && alloc.nextFrame > candidate {
			candidate = alloc.nextFrame
		}

		for candidate <= regionEnd {
			if alloc.overlapsKernel(candidate) {
				candidate++
				continue
			}

			found = candidate
			foundErr = nil
			alloc.lastRegionIndex = index
			alloc.nextFrame = candidate + 1
			return false
		}

		return true
	})

	if foundErr != nil {
		return mm.InvalidFrame, foundErr
	}

	alloc.allocCount++
	return found, nil
}

func (alloc *BootMemAllocator) overlapsKernel(frame mm.Frame) bool {
	frameStart := frame.Address()
	frameEnd := frameStart + mm.PageSize - 1
	return frameEnd >= alloc.kernelStart && frameStart <= alloc.kernelEnd
}
