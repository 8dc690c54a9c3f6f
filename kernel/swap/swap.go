// Package swap provides the swap-slot backend used by the supplemental page
// table to evict anonymous pages under memory pressure. The backend is a
// narrow collaborator interface so the freestanding kernel build can use a
// trivial in-memory store while host-side tests exercise a real file-backed
// implementation.
package swap

import "gophernel/kernel"

// SlotSize is the size in bytes of a single swap slot. It matches the
// physical frame size the pager evicts in one unit.
const SlotSize = 4096

// Slot identifies a reserved region of the swap backend capable of holding
// exactly one frame's worth of data.
type Slot int64

// InvalidSlot is returned by Backend.Reserve when no space remains.
const InvalidSlot Slot = -1

// Backend is the interface the supplemental page table's Anon descriptor
// kind uses to persist and restore evicted page contents. Implementations
// need not be safe for concurrent use; callers serialize access through the
// owning frame table lock.
type Backend interface {
	// Reserve allocates a fresh slot, returning InvalidSlot if the backend
	// is full.
	Reserve() (Slot, *kernel.Error)

	// Release returns a slot to the free pool. It is a no-op if the slot
	// was already released.
	Release(slot Slot)

	// Write stores data (which must be exactly SlotSize bytes) to slot.
	Write(slot Slot, data []byte) *kernel.Error

	// Read loads SlotSize bytes from slot into data.
	Read(slot Slot, data []byte) *kernel.Error
}

var (
	errBackendFull  = &kernel.Error{Module: "swap", Message: "swap backend has no free slots"}
	errBadSlot      = &kernel.Error{Module: "swap", Message: "swap slot is out of range"}
	errShortBuffer  = &kernel.Error{Module: "swap", Message: "buffer is not exactly one slot in size"}
)

// active is the backend instance the kernel's pager uses. It defaults to an
// in-memory store sized for a small swap area; ExecInitd-style boot code may
// call SetBackend to install a larger or disk-backed implementation.
var active Backend = NewMemBackend(256)

// SetBackend installs the backend used by Reserve/Release/Write/Read.
func SetBackend(b Backend) { active = b }

// Active returns the currently installed backend.
func Active() Backend { return active }
