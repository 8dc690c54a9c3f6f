package fs

import (
	"gophernel/kernel"
	"gophernel/kernel/sync"
)

// FileSystem is the collaborator interface the process loader and syscall
// layer use to resolve named files. It is deliberately minimal: flat
// namespace, no directories, matching what ELF loading and fd-table syscalls
// actually need.
type FileSystem interface {
	Open(name string) (*File, *kernel.Error)
	Create(name string, initial []byte) *kernel.Error
	Remove(name string) *kernel.Error
}

// MemFS is an in-memory FileSystem. The freestanding kernel build installs
// one at boot and preloads it with the initd binary and any bundled
// programs; nothing in this package depends on an on-disk or block-device
// format.
type MemFS struct {
	lock  sync.Lock
	files map[string]*Inode
}

// NewMemFS returns an empty filesystem.
func NewMemFS() *MemFS {
	return &MemFS{lock: *sync.NewLock(), files: make(map[string]*Inode)}
}

// Open returns a fresh handle onto the named file's shared inode.
func (fsys *MemFS) Open(name string) (*File, *kernel.Error) {
	fsys.lock.Acquire()
	defer fsys.lock.Release()

	in, ok := fsys.files[name]
	if !ok {
		return nil, errNotFound
	}
	in.lock.Acquire()
	in.openCount++
	in.lock.Release()

	return &File{inode: in}, nil
}

// Create adds a new file populated with initial's contents. It fails if a
// file with the same name already exists.
func (fsys *MemFS) Create(name string, initial []byte) *kernel.Error {
	fsys.lock.Acquire()
	defer fsys.lock.Release()

	if _, ok := fsys.files[name]; ok {
		return errExists
	}

	data := make([]byte, len(initial))
	copy(data, initial)
	fsys.files[name] = newInode(data)
	return nil
}

// Remove deletes name from the namespace. Handles already open against it
// keep working; the inode is simply dropped from the directory.
func (fsys *MemFS) Remove(name string) *kernel.Error {
	fsys.lock.Acquire()
	defer fsys.lock.Release()

	if _, ok := fsys.files[name]; !ok {
		return errNotFound
	}
	delete(fsys.files, name)
	return nil
}

var active FileSystem

// SetActive installs the filesystem used by process loading and file
// syscalls.
func SetActive(f FileSystem) { active = f }

// Active returns the currently installed filesystem.
func Active() FileSystem { return active }
