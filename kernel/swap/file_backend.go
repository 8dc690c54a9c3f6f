package swap

import (
	"sync"

	"golang.org/x/sys/unix"

	"gophernel/kernel"
)

// FileBackend persists swap slots in a regular file via pread/pwrite. It
// exists so kernel/swap's tests can exercise real I/O semantics (partial
// writes, offsets, fsync) without a block-device driver, which is outside
// this kernel's scope; the freestanding build never constructs one.
type FileBackend struct {
	mu    sync.Mutex
	fd    int
	free  []bool
}

// NewFileBackend opens (or creates) path and reserves room for count slots.
func NewFileBackend(path string, count int) (*FileBackend, *kernel.Error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, &kernel.Error{Module: "swap", Message: "open swap file: " + err.Error()}
	}

	size := int64(count) * SlotSize
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, &kernel.Error{Module: "swap", Message: "truncate swap file: " + err.Error()}
	}

	free := make([]bool, count)
	for i := range free {
		free[i] = true
	}
	return &FileBackend{fd: fd, free: free}, nil
}

// Close releases the underlying file descriptor.
func (b *FileBackend) Close() error {
	return unix.Close(b.fd)
}

func (b *FileBackend) Reserve() (Slot, *kernel.Error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, free := range b.free {
		if free {
			b.free[i] = false
			return Slot(i), nil
		}
	}
	return InvalidSlot, errBackendFull
}

func (b *FileBackend) Release(slot Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if slot < 0 || int(slot) >= len(b.free) {
		return
	}
	b.free[slot] = true
}

func (b *FileBackend) Write(slot Slot, data []byte) *kernel.Error {
	if slot < 0 || int(slot) >= len(b.free) {
		return errBadSlot
	}
	if len(data) != SlotSize {
		return errShortBuffer
	}

	n, err := unix.Pwrite(b.fd, data, int64(slot)*SlotSize)
	if err != nil {
		return &kernel.Error{Module: "swap", Message: "pwrite: " + err.Error()}
	}
	if n != SlotSize {
		return &kernel.Error{Module: "swap", Message: "pwrite: short write"}
	}
	return nil
}

func (b *FileBackend) Read(slot Slot, data []byte) *kernel.Error {
	if slot < 0 || int(slot) >= len(b.free) {
		return errBadSlot
	}
	if len(data) != SlotSize {
		return errShortBuffer
	}

	n, err := unix.Pread(b.fd, data, int64(slot)*SlotSize)
	if err != nil {
		return &kernel.Error{Module: "swap", Message: "pread: " + err.Error()}
	}
	if n != SlotSize {
		return &kernel.Error{Module: "swap", Message: "pread: short read"}
	}
	return nil
}
