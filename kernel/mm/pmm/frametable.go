package pmm

import (
	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/sync"
)

// FrameOwner identifies the process and virtual address backed by a
// user-pool frame. The frame table only ever stores this lightweight
// reference, never a pointer into a process's own bookkeeping, so that pmm
// stays a leaf package with no dependency on the scheduler or the
// supplemental page table.
type FrameOwner struct {
	Pid uint64
	VA  uintptr
}

// EvictFn is registered by a higher layer (the process/scheduler wiring) and
// knows how to write the contents of an owned frame out to backing storage
// and clear its mapping. GetFrame calls it when the bitmap allocator has no
// free frame left: the clock scan picks a victim whose accessed bit is clear,
// and the victim must be written out before its frame can be repurposed.
type EvictFn func(owner FrameOwner) *kernel.Error

// AccessedFn reports (and optionally clears) the hardware accessed bit for
// the mapping backing owner. It is consulted by the clock algorithm and is
// also registered by the higher-level wiring, since only the page-table
// layer knows how to reach a process's page tables.
type AccessedFn func(owner FrameOwner, clear bool) bool

var (
	tableLock sync.Spinlock

	// allocFrameFn and releaseFrameFn are function variables so tests can
	// substitute an in-memory frame source for the bitmap allocator.
	allocFrameFn   = bitmapAllocFrame
	releaseFrameFn = func(f mm.Frame) *kernel.Error { return bitmapAllocator.FreeFrame(f) }

	evictFn    EvictFn
	accessedFn AccessedFn

	entries    [maxFrameTableEntries]frameTableEntry
	entryCount int
	clockHand  int

	freeList    [maxFrameTableEntries]int
	freeListLen int

	errFrameTableFull = &kernel.Error{Module: "pmm", Message: "frame table is full"}
	errNoEvictor      = &kernel.Error{Module: "pmm", Message: "frame table is full and no evictor is registered"}
	errUnknownFrame   = &kernel.Error{Module: "pmm", Message: "frame is not tracked by the frame table"}
)

// maxFrameTableEntries bounds the number of simultaneously resident user
// frames this kernel tracks for eviction purposes.
const maxFrameTableEntries = 4096

type frameTableEntry struct {
	inUse bool
	frame mm.Frame
	owner FrameOwner
}

// SetEvictor registers the callback used to reclaim a frame when the pool is
// exhausted. Mirrors the mm.SetFrameAllocator wiring idiom used throughout
// this codebase: a leaf package exposes a function variable that a higher
// layer fills in during boot.
func SetEvictor(fn EvictFn) { evictFn = fn }

// SetAccessedChecker registers the callback used by the clock algorithm to
// inspect (and clear) a mapping's accessed bit.
func SetAccessedChecker(fn AccessedFn) { accessedFn = fn }

// GetFrame reserves a frame for the given owner, evicting a resident frame
// via the registered EvictFn if the bitmap allocator has nothing free.
func GetFrame(owner FrameOwner) (mm.Frame, *kernel.Error) {
	tableLock.Acquire()
	defer tableLock.Release()

	frame, err := allocFrameFn()
	if err != nil {
		frame, err = evict()
		if err != nil {
			return mm.InvalidFrame, err
		}
	}

	if err := track(frame, owner); err != nil {
		_ = releaseFrameFn(frame)
		return mm.InvalidFrame, err
	}

	return frame, nil
}

// FreeFrame releases a frame previously returned by GetFrame, removing it
// from the frame table and returning the underlying page to the bitmap
// allocator's free pool.
func FreeFrame(frame mm.Frame) *kernel.Error {
	tableLock.Acquire()
	defer tableLock.Release()

	if !untrack(frame) {
		return errUnknownFrame
	}

	return releaseFrameFn(frame)
}

func track(frame mm.Frame, owner FrameOwner) *kernel.Error {
	if freeListLen > 0 {
		freeListLen--
		idx := freeList[freeListLen]
		entries[idx] = frameTableEntry{inUse: true, frame: frame, owner: owner}
		return nil
	}

	if entryCount >= maxFrameTableEntries {
		return errFrameTableFull
	}

	entries[entryCount] = frameTableEntry{inUse: true, frame: frame, owner: owner}
	entryCount++
	return nil
}

func untrack(frame mm.Frame) bool {
	for i := 0; i < entryCount; i++ {
		if entries[i].inUse && entries[i].frame == frame {
			entries[i].inUse = false
			freeList[freeListLen] = i
			freeListLen++
			return true
		}
	}
	return false
}

// evict implements second-chance (clock) replacement: it walks the frame
// table starting at the persistent clock hand, clearing the accessed bit of
// every frame it passes over, and picks the first frame whose accessed bit
// was already clear as the victim. The victim's owner is asked (via EvictFn)
// to write its contents out before the frame is reused.
func evict() (mm.Frame, *kernel.Error) {
	if evictFn == nil || accessedFn == nil {
		return mm.InvalidFrame, errNoEvictor
	}

	if entryCount == 0 {
		return mm.InvalidFrame, errNoEvictor
	}

	for scanned := 0; scanned < 2*entryCount; scanned++ {
		idx := clockHand
		clockHand = (clockHand + 1) % entryCount

		entry := &entries[idx]
		if !entry.inUse {
			continue
		}

		if accessedFn(entry.owner, true) {
			// Gave this frame a second chance; its accessed bit is
			// now clear so the next pass may pick it.
			continue
		}

		victimFrame := entry.frame
		if err := evictFn(entry.owner); err != nil {
			return mm.InvalidFrame, err
		}

		entry.inUse = false
		freeList[freeListLen] = idx
		freeListLen++

		return victimFrame, nil
	}

	return mm.InvalidFrame, errNoEvictor
}
