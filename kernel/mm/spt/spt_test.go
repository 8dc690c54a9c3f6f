package spt

import (
	"bytes"
	"testing"
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/fs"
	"gophernel/kernel/mm"
	"gophernel/kernel/swap"
)

func TestAnonSwapOutSwapInRoundtrip(t *testing.T) {
	orig := swap.Active()
	defer swap.SetBackend(orig)
	swap.SetBackend(swap.NewMemBackend(4))

	p := NewAnon(0x1000, true, false)

	kva := make([]byte, mm.PageSize)
	for i := range kva {
		kva[i] = byte(i % 251)
	}

	if err := SwapOut(p, sliceAddr(kva), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Slot == swap.InvalidSlot {
		t.Fatal("expected a swap slot to be recorded")
	}

	restored := make([]byte, mm.PageSize)
	if err := SwapIn(p, sliceAddr(restored)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Slot != swap.InvalidSlot {
		t.Fatal("expected swap slot to be released after swap-in")
	}
	if !bytes.Equal(kva, restored) {
		t.Fatal("swap-out/swap-in did not roundtrip page contents")
	}
}

func TestAnonFirstTouchZeroFills(t *testing.T) {
	p := NewAnon(0x2000, true, false)

	kva := make([]byte, mm.PageSize)
	for i := range kva {
		kva[i] = 0xff
	}

	if err := SwapIn(p, sliceAddr(kva)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range kva {
		if b != 0 {
			t.Fatalf("expected zero-filled page, byte %d = %x", i, b)
		}
	}
}

func TestUninitSwapInTransitionsKind(t *testing.T) {
	calls := 0
	p := &Page{
		VA:     0x3000,
		Kind:   Uninit,
		Target: Anon,
		Frame:  mm.InvalidFrame,
		Slot:   swap.InvalidSlot,
		Init: func(p *Page, kva uintptr) *kernel.Error {
			calls++
			return nil
		},
	}

	if err := SwapIn(p, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected initializer to run once, ran %d times", calls)
	}
	if p.Kind != Anon {
		t.Fatalf("expected descriptor to become Anon, got %v", p.Kind)
	}
}

func TestUninitSwapOutIsImpossible(t *testing.T) {
	p := &Page{Kind: Uninit}
	if err := SwapOut(p, 0, false); err != errImpossibleSwapOut {
		t.Fatalf("expected errImpossibleSwapOut, got %v", err)
	}
}

func TestFileSwapOutWritesBackOnlyWhenDirtyAndWriteback(t *testing.T) {
	fsys := fs.NewMemFS()
	_ = fsys.Create("data.bin", make([]byte, mm.PageSize))
	f, err := fsys.Open("data.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := &Page{Kind: File, File: f, FileOffset: 0, ReadBytes: mm.PageSize, Writeback: true}

	kva := make([]byte, mm.PageSize)
	kva[0] = 0x42

	if serr := SwapOut(p, sliceAddr(kva), false); serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	clean := make([]byte, mm.PageSize)
	if n := f.ReadAt(clean, 0); n != len(clean) || clean[0] != 0 {
		t.Fatal("expected no writeback for a clean page")
	}

	if serr := SwapOut(p, sliceAddr(kva), true); serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	dirty := make([]byte, mm.PageSize)
	if n := f.ReadAt(dirty, 0); n != len(dirty) || dirty[0] != 0x42 {
		t.Fatal("expected writeback for a dirty writeback-enabled page")
	}
}

func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
