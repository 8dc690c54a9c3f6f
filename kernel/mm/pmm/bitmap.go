package pmm

import (
	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/multiboot"
	"reflect"
	"unsafe"
)

const wordBits = 64

var errBitmapOutOfMemory = &kernel.Error{Module: "pmm", Message: "bitmap allocator: out of memory"}

// framePool tracks the free/used state of a contiguous run of frames using a
// bitmap where a set bit indicates a free frame.
type framePool struct {
	startFrame mm.Frame
	endFrame   mm.Frame

	freeCount  uint32
	freeBitmap []uint64

	// scanCursor remembers the word index where the last successful scan
	// left off so repeated allocations do not re-scan already-exhausted
	// prefixes of the pool.
	scanCursor int
}

func (pool *framePool) frameCount() uint32 {
	return uint32(pool.endFrame-pool.startFrame) + 1
}

func (pool *framePool) containsFrame(frame mm.Frame) bool {
	return frame >= pool.startFrame && frame <= pool.endFrame
}

// markFrame updates the bitmap entry for the given frame. If used is true the
// frame is flagged as in-use (bit cleared), otherwise it is returned to the
// free pool (bit set).
func (pool *framePool) markFrame(frame mm.Frame, used bool) {
	bit := uint32(frame - pool.startFrame)
	wordIndex := bit / wordBits
	wordMask := uint64(1) << (bit % wordBits)

	wasFree := pool.freeBitmap[wordIndex]&wordMask != 0
	if used {
		if wasFree {
			pool.freeBitmap[wordIndex] &^= wordMask
			pool.freeCount--
		}
	} else {
		if !wasFree {
			pool.freeBitmap[wordIndex] |= wordMask
			pool.freeCount++
		}
	}
}

// allocFrame finds and reserves a free frame tracked by this pool. The scan
// starts at the word recorded in scanCursor and wraps around, so the frame
// returned is the lowest free frame at or after that word, not necessarily
// the lowest free frame in the pool.
func (pool *framePool) allocFrame() (mm.Frame, bool) {
	if pool.freeCount == 0 {
		return 0, false
	}

	numWords := len(pool.freeBitmap)
	for i := 0; i < numWords; i++ {
		wordIndex := (pool.scanCursor + i) % numWords
		word := pool.freeBitmap[wordIndex]
		if word == 0 {
			continue
		}

		bitInWord := trailingZeros64(word)
		pool.freeBitmap[wordIndex] &^= uint64(1) << uint(bitInWord)
		pool.freeCount--
		pool.scanCursor = wordIndex

		frame := pool.startFrame + mm.Frame(wordIndex*wordBits+bitInWord)
		return frame, true
	}

	return 0, false
}

func trailingZeros64(v uint64) int {
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}

// BitmapAllocator is the steady-state physical frame allocator used once the
// kernel has transitioned off the boot-time bump allocator. It tracks free
// frames per available memory region using one bitmap per region.
//
// init runs before the Go heap is available (it executes while the boot
// allocator is still the registered mm.FrameAllocator), so the pool list is
// backed by a fixed-size array rather than a grown slice.
type BitmapAllocator struct {
	poolStorage [maxFramePools]framePool
	poolCount   int
}

// maxFramePools bounds the number of discrete available-memory regions this
// allocator can track. Real memory maps reported by GRUB rarely exceed a
// handful of entries.
const maxFramePools = 32

func (alloc *BitmapAllocator) pools() []framePool {
	return alloc.poolStorage[:alloc.poolCount]
}

// init constructs a bitmap-backed free pool for each available memory
// region reported by the bootloader, reserving frames already claimed by the
// boot allocator along the way.
func (alloc *BitmapAllocator) init() *kernel.Error {
	var setupErr *kernel.Error

	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable || alloc.poolCount >= maxFramePools {
			return true
		}

		startFrame := mm.FrameFromAddress(uintptr(entry.PhysAddress))
		endFrame := mm.FrameFromAddress(uintptr(entry.PhysAddress+entry.Length) - 1)
		if endFrame < startFrame {
			return true
		}

		alloc.poolStorage[alloc.poolCount] = framePool{
			startFrame: startFrame,
			endFrame:   endFrame,
		}
		alloc.poolCount++

		return true
	})

	for i := 0; i < alloc.poolCount; i++ {
		if err := alloc.setupPoolBitmap(&alloc.poolStorage[i]); err != nil {
			setupErr = err
			break
		}
	}

	return setupErr
}

// setupPoolBitmap allocates (via the boot allocator, which is still active
// while this runs) the frames needed to back the pool's bitmap and marks all
// frames in the pool as free except for those reserved by the boot
// allocator's own allocations so far.
func (alloc *BitmapAllocator) setupPoolBitmap(pool *framePool) *kernel.Error {
	wordCount := (int(pool.frameCount()) + wordBits - 1) / wordBits
	byteSize := uintptr(wordCount) * 8
	frameCount := (byteSize + mm.PageSize - 1) / mm.PageSize
	if frameCount == 0 {
		frameCount = 1
	}

	firstFrame, err := bootMemAllocator.AllocFrame()
	if err != nil {
		return err
	}

	for i := uintptr(1); i < frameCount; i++ {
		if _, err := bootMemAllocator.AllocFrame(); err != nil {
			return err
		}
	}

	pool.freeBitmap = *(*[]uint64)(unsafe.Pointer(&reflect.SliceHeader{
		Data: firstFrame.Address(),
		Len:  wordCount,
		Cap:  wordCount,
	}))

	for i := range pool.freeBitmap {
		pool.freeBitmap[i] = ^uint64(0)
	}

	// Clear the trailing bits in the last word that do not correspond to
	// an actual frame in the pool.
	if rem := int(pool.frameCount()) % wordBits; rem != 0 {
		lastWord := wordCount - 1
		pool.freeBitmap[lastWord] &= (uint64(1) << uint(rem)) - 1
	}
	pool.freeCount = pool.frameCount()

	// Reserve every frame the boot allocator has handed out up to this
	// point (including the ones backing this very bitmap).
	for frame := pool.startFrame; frame <= pool.endFrame; frame++ {
		if bootMemAllocator.wasAllocated(frame) {
			pool.markFrame(frame, true)
		}
	}

	return nil
}

func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) *framePool {
	for i := 0; i < alloc.poolCount; i++ {
		if alloc.poolStorage[i].containsFrame(frame) {
			return &alloc.poolStorage[i]
		}
	}
	return nil
}

// AllocFrame reserves and returns a free physical frame from the first pool
// that has one available.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for i := 0; i < alloc.poolCount; i++ {
		if frame, ok := alloc.poolStorage[i].allocFrame(); ok {
			return frame, nil
		}
	}

	return mm.InvalidFrame, errBitmapOutOfMemory
}

// FreeFrame returns a previously allocated frame back to its owning pool.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return &kernel.Error{Module: "pmm", Message: "bitmap allocator: frame does not belong to any known pool"}
	}

	pool.markFrame(frame, false)
	return nil
}
