package fs

import "gophernel/kernel"

var (
	errNotFound    = &kernel.Error{Module: "fs", Message: "file not found"}
	errExists      = &kernel.Error{Module: "fs", Message: "file already exists"}
	errWriteDenied = &kernel.Error{Module: "fs", Message: "write denied: file is mapped for execution"}
)

// File is a single open handle to a named inode. Two Files opened against
// the same name are independent: each tracks its own read/write cursor, but
// share the same underlying Inode for data and deny-write state.
type File struct {
	inode     *Inode
	pos       int64
	denyWrite bool
}

// Reopen returns a new handle to the same inode with its own cursor reset to
// the start of the file, mirroring file_reopen.
func (f *File) Reopen() *File {
	f.inode.lock.Acquire()
	f.inode.openCount++
	f.inode.lock.Release()
	return &File{inode: f.inode}
}

// Duplicate returns a new handle that also copies the cursor position and
// deny-write attribute of f, mirroring file_duplicate.
func (f *File) Duplicate() *File {
	nf := f.Reopen()
	nf.pos = f.pos
	if f.denyWrite {
		nf.DenyWrite()
	}
	return nf
}

// Close releases this handle. Any deny-write hold taken through this handle
// is released; the underlying inode is only discarded once every handle
// sharing it has been closed.
func (f *File) Close() {
	f.AllowWrite()

	f.inode.lock.Acquire()
	if f.inode.openCount > 0 {
		f.inode.openCount--
	}
	f.inode.lock.Release()
}

// Read copies up to len(buf) bytes starting at the file's current position
// and advances the position by the number read.
func (f *File) Read(buf []byte) int {
	n := f.inode.readAt(buf, f.pos)
	f.pos += int64(n)
	return n
}

// ReadAt reads from the given offset without touching the file's cursor.
func (f *File) ReadAt(buf []byte, offset int64) int {
	return f.inode.readAt(buf, offset)
}

// Write copies buf to the file starting at the current position and
// advances the position by the number written.
func (f *File) Write(buf []byte) (int, *kernel.Error) {
	n, err := f.inode.writeAt(buf, f.pos)
	f.pos += int64(n)
	return n, err
}

// WriteAt writes to the given offset without touching the file's cursor.
func (f *File) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	return f.inode.writeAt(buf, offset)
}

// DenyWrite prevents any writer, on this or any other handle sharing the
// same inode, from modifying the file until AllowWrite is called or the
// handle is closed. Used while a process has the file mapped for execution.
func (f *File) DenyWrite() {
	if !f.denyWrite {
		f.denyWrite = true
		f.inode.denyWrite()
	}
}

// AllowWrite releases a deny-write hold taken by this handle. Writes may
// still be denied by another handle sharing the same inode.
func (f *File) AllowWrite() {
	if f.denyWrite {
		f.denyWrite = false
		f.inode.allowWrite()
	}
}

// Length returns the current size of the underlying file.
func (f *File) Length() int64 {
	return f.inode.Length()
}

// Seek repositions the file's cursor to offset.
func (f *File) Seek(offset int64) {
	f.pos = offset
}

// Tell returns the file's current cursor position.
func (f *File) Tell() int64 {
	return f.pos
}
