// Package fs implements the minimal filesystem collaborator process lifecycle
// management needs: named files backed by a byte store, deny-write
// protection while a file is mapped executable or otherwise in use, and
// independent per-open-handle file positions.
package fs

import (
	"gophernel/kernel"
	"gophernel/kernel/sync"
)

// Inode is the shared, ref-counted state behind every open handle to the
// same file. Multiple Files opened against the same name share one Inode,
// mirroring the original filesystem's separation between a file's identity
// and a process's view of it.
type Inode struct {
	lock sync.Lock

	data []byte

	openCount      int
	denyWriteCount int
}

func newInode(data []byte) *Inode {
	return &Inode{lock: *sync.NewLock(), data: data}
}

// Length returns the number of bytes currently stored in the inode.
func (in *Inode) Length() int64 {
	in.lock.Acquire()
	defer in.lock.Release()
	return int64(len(in.data))
}

// denyWrite increments the inode's deny-write count, blocking all writers
// until every caller that requested denial allows it again. Ref-counted
// across every open handle sharing this inode, not per-handle.
func (in *Inode) denyWrite() {
	in.lock.Acquire()
	defer in.lock.Release()
	in.denyWriteCount++
}

func (in *Inode) allowWrite() {
	in.lock.Acquire()
	defer in.lock.Release()
	if in.denyWriteCount > 0 {
		in.denyWriteCount--
	}
}

func (in *Inode) writeDenied() bool {
	in.lock.Acquire()
	defer in.lock.Release()
	return in.denyWriteCount > 0
}

func (in *Inode) readAt(buf []byte, offset int64) int {
	in.lock.Acquire()
	defer in.lock.Release()

	if offset >= int64(len(in.data)) {
		return 0
	}
	n := copy(buf, in.data[offset:])
	return n
}

func (in *Inode) writeAt(buf []byte, offset int64) (int, *kernel.Error) {
	in.lock.Acquire()
	defer in.lock.Release()

	if in.denyWriteCount > 0 {
		return 0, errWriteDenied
	}

	end := offset + int64(len(buf))
	if end > int64(len(in.data)) {
		grown := make([]byte, end)
		copy(grown, in.data)
		in.data = grown
	}
	return copy(in.data[offset:], buf), nil
}
