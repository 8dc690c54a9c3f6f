// Package spt implements the per-process supplemental page table: the
// source of truth for what, if anything, should be resident at a user
// virtual address. Each descriptor is a small sum type (Uninit, Anon, File):
// a single Page struct whose Kind field the operations in this file
// (SwapIn, SwapOut, Destroy) switch on, rather than an interface with one
// implementation per kind.
//
// This package never touches a page table or the frame allocator directly;
// callers hand it a kva (a kernel-mapped address for the frame currently
// backing a descriptor) and are themselves responsible for allocating the
// frame and installing the final user-space mapping. This keeps spt free of
// any dependency on vmm, so the fault handler (which lives in vmm) can be
// the one importing spt, not the other way around.
package spt

import (
	"reflect"
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/fs"
	"gophernel/kernel/mm"
	"gophernel/kernel/swap"
)

// Kind discriminates the three page descriptor variants.
type Kind int

const (
	// Uninit pages have not been materialized yet; Target names the kind
	// they become after Init runs successfully.
	Uninit Kind = iota
	// Anon pages are zero-fill-on-demand or swap-backed.
	Anon
	// File pages are backed by a read-only or writable mapping of a file.
	File
)

// Initializer materializes the contents of a page that is still Uninit,
// writing PageSize bytes at kva. The kernel ships a single canonical
// initializer (LoadFileBacked, used by the ELF loader) but the field exists
// so another lazy-load scheme could be plugged in without changing Page's
// shape.
type Initializer func(p *Page, kva uintptr) *kernel.Error

// Page is the descriptor the fault handler consults for a single
// page-aligned user virtual address. The fields below double as Uninit's
// "auxiliary descriptor" (spec §3): the File* fields describe where to read
// from regardless of whether Kind is currently Uninit or already File.
type Page struct {
	VA       uintptr
	Writable bool
	IsStack  bool

	Kind Kind
	// Frame is mm.InvalidFrame whenever the page is not currently resident.
	Frame mm.Frame

	// Target and Init apply only while Kind == Uninit.
	Target Kind
	Init   Initializer

	// File binding, used by Kind == File and by Kind == Uninit when
	// Target == File or Target == Anon (lazily loaded from an executable).
	File       *fs.File
	FileOffset int64
	ReadBytes  uintptr
	ZeroBytes  uintptr
	// Writeback is true if a dirty resident page must be written back to
	// File on eviction or unmap (set for real file mappings; false for the
	// read-only executable segments the ELF loader installs).
	Writeback bool

	// Slot applies only while Kind == Anon; swap.InvalidSlot means the
	// page has never been swapped out.
	Slot swap.Slot
}

var (
	errImpossibleSwapOut = &kernel.Error{Module: "spt", Message: "swap_out invoked on a non-resident Uninit descriptor"}
	errUnknownKind       = &kernel.Error{Module: "spt", Message: "page descriptor has an unrecognized kind"}
)

// NewAnon returns a freshly allocated (never-resident) anonymous descriptor.
func NewAnon(va uintptr, writable, isStack bool) *Page {
	return &Page{VA: va, Writable: writable, IsStack: isStack, Kind: Anon, Frame: mm.InvalidFrame, Slot: swap.InvalidSlot}
}

// NewUninitFile returns a lazily-loaded descriptor that, on first fault,
// reads readBytes from f at offset into the page and zero-fills the
// remainder, then becomes a descriptor of kind target (Anon for ordinary
// ELF segments, File for file-backed mmap regions).
func NewUninitFile(va uintptr, writable bool, target Kind, f *fs.File, offset int64, readBytes, zeroBytes uintptr, writeback bool) *Page {
	return &Page{
		VA: va, Writable: writable, Kind: Uninit, Target: target, Init: LoadFileBacked,
		File: f, FileOffset: offset, ReadBytes: readBytes, ZeroBytes: zeroBytes, Writeback: writeback,
		Frame: mm.InvalidFrame, Slot: swap.InvalidSlot,
	}
}

// LoadFileBacked is the canonical Initializer: it seeks to FileOffset and
// reads ReadBytes into kva, then zero-fills the remaining ZeroBytes. It
// doubles as the File kind's swap_in.
func LoadFileBacked(p *Page, kva uintptr) *kernel.Error {
	buf := kvaBytes(kva)

	n := p.File.ReadAt(buf[:p.ReadBytes], p.FileOffset)
	if uintptr(n) != p.ReadBytes {
		return &kernel.Error{Module: "spt", Message: "short read while demand-loading file-backed page"}
	}
	if p.ZeroBytes > 0 {
		kernel.Memset(kva+p.ReadBytes, 0, p.ZeroBytes)
	}
	return nil
}

// SwapIn materializes p's contents at kva, dispatching on p.Kind. On
// success for an Uninit descriptor, p.Kind is updated to p.Target.
func SwapIn(p *Page, kva uintptr) *kernel.Error {
	switch p.Kind {
	case Uninit:
		if err := p.Init(p, kva); err != nil {
			return err
		}
		p.Kind = p.Target
		return nil

	case Anon:
		if p.Slot != swap.InvalidSlot {
			if err := swap.Active().Read(p.Slot, kvaBytes(kva)); err != nil {
				return err
			}
			swap.Active().Release(p.Slot)
			p.Slot = swap.InvalidSlot
			return nil
		}
		// First touch: zero-fill.
		kernel.Memset(kva, 0, mm.PageSize)
		return nil

	case File:
		return LoadFileBacked(p, kva)
	}

	return errUnknownKind
}

// SwapOut writes p's resident contents (at kva) out to backing storage
// ahead of the frame being reclaimed. dirty reports whether the hardware
// dirty bit was set for the mapping; File pages only write back when dirty
// and Writeback.
func SwapOut(p *Page, kva uintptr, dirty bool) *kernel.Error {
	switch p.Kind {
	case Anon:
		slot, err := swap.Active().Reserve()
		if err != nil {
			return err
		}
		if err := swap.Active().Write(slot, kvaBytes(kva)); err != nil {
			swap.Active().Release(slot)
			return err
		}
		p.Slot = slot
		return nil

	case File:
		if dirty && p.Writeback {
			if _, err := p.File.WriteAt(kvaBytes(kva)[:p.ReadBytes], p.FileOffset); err != nil {
				return err
			}
		}
		return nil

	case Uninit:
		return errImpossibleSwapOut
	}

	return errUnknownKind
}

// Destroy releases any resources owned by p ahead of the descriptor being
// discarded at process exit. If the page is still resident, kva must be a
// valid kernel mapping of its frame and dirty must report the hardware
// dirty bit; the caller remains responsible for unmapping and freeing the
// frame itself.
func Destroy(p *Page, resident bool, kva uintptr, dirty bool) *kernel.Error {
	switch p.Kind {
	case Anon:
		if !resident && p.Slot != swap.InvalidSlot {
			swap.Active().Release(p.Slot)
			p.Slot = swap.InvalidSlot
		}
		return nil

	case File:
		if resident && dirty && p.Writeback {
			if _, err := p.File.WriteAt(kvaBytes(kva)[:p.ReadBytes], p.FileOffset); err != nil {
				return err
			}
		}
		return nil

	case Uninit:
		return nil
	}

	return errUnknownKind
}

// kvaBytes overlays a PageSize []byte on top of a kernel virtual address,
// the same reflect.SliceHeader trick kernel.Memset/Memcopy use to avoid a
// bounce buffer.
func kvaBytes(kva uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: kva,
		Len:  int(mm.PageSize),
		Cap:  int(mm.PageSize),
	}))
}
