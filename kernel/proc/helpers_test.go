package proc

import (
	"testing"
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/vmm"
)

// alignedPageBuf returns a page-aligned PageSize byte slice carved out of a
// larger allocation, so its address can double as a fake frame/kva in
// tests that overlay kernel-space accessors on top of regular Go memory.
func alignedPageBuf() []byte {
	raw := make([]byte, 2*mm.PageSize)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := (mm.PageSize - addr%mm.PageSize) % mm.PageSize
	return raw[off : off+mm.PageSize]
}

func frameForBuf(buf []byte) mm.Frame {
	return mm.Frame(uintptr(unsafe.Pointer(&buf[0])) >> mm.PageShift)
}

// installIdentityHooks points the frame/mapping hooks at in-memory fakes:
// frames come from the supplied buffers in order, temporary mappings are
// the identity (the fake frame's address is its kva), and page-table
// installs are recorded instead of touching a real page directory.
type mappingRecord struct {
	page  mm.Page
	frame mm.Frame
	flags vmm.PageTableEntryFlag
}

func installIdentityHooks(t *testing.T, frames ...[]byte) *[]mappingRecord {
	t.Helper()

	origGetFrame := getFrameFn
	origFreeFrame := freeFrameFn
	origMapTemporary := mapTemporaryFn
	origUnmap := unmapFn
	origPdtMap := pdtMapFn
	t.Cleanup(func() {
		getFrameFn = origGetFrame
		freeFrameFn = origFreeFrame
		mapTemporaryFn = origMapTemporary
		unmapFn = origUnmap
		pdtMapFn = origPdtMap
	})

	var installed []mappingRecord
	next := 0

	getFrameFn = func(_ pmm.FrameOwner) (mm.Frame, *kernel.Error) {
		if next >= len(frames) {
			return mm.InvalidFrame, &kernel.Error{Module: "test", Message: "out of fake frames"}
		}
		f := frameForBuf(frames[next])
		next++
		return f, nil
	}
	freeFrameFn = func(_ mm.Frame) *kernel.Error { return nil }
	mapTemporaryFn = func(f mm.Frame) (mm.Page, *kernel.Error) { return mm.Page(f), nil }
	unmapFn = func(_ mm.Page) *kernel.Error { return nil }
	pdtMapFn = func(_ vmm.PageDirectoryTable, page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		installed = append(installed, mappingRecord{page: page, frame: frame, flags: flags})
		return nil
	}

	return &installed
}
