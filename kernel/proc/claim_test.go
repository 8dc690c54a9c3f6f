package proc

import (
	"testing"

	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/mm/vmm"
	"gophernel/kernel/sched"
)

func TestClaimPageZeroFillsFirstTouchAnonPage(t *testing.T) {
	frameBuf := alignedPageBuf()
	for i := range frameBuf {
		frameBuf[i] = 0xaa
	}
	installed := installIdentityHooks(t, frameBuf)

	thread := &sched.Thread{ID: 3, SPT: spt.New()}
	const va = uintptr(0x400000)
	if err := thread.SPT.Insert(spt.NewAnon(va, true, false)); err != nil {
		t.Fatal(err)
	}

	if err := claimPage(thread, va); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	desc, _ := thread.SPT.Find(va)
	if !desc.Frame.Valid() {
		t.Fatal("expected the descriptor to be linked to its frame")
	}
	for i, b := range frameBuf {
		if b != 0 {
			t.Fatalf("expected a zero-filled page, found %#x at offset %d", b, i)
		}
	}
	if len(*installed) != 1 {
		t.Fatalf("expected one page-table install, got %d", len(*installed))
	}
	rec := (*installed)[0]
	if rec.page != mm.PageFromAddress(va) || rec.frame != desc.Frame {
		t.Error("expected the mapping to bind the faulting page to the claimed frame")
	}
	if rec.flags&vmm.FlagRW == 0 || rec.flags&vmm.FlagUserAccessible == 0 {
		t.Error("expected a writable user mapping for a writable descriptor")
	}
}

func TestClaimPageIsANoOpWhenResident(t *testing.T) {
	installed := installIdentityHooks(t)

	thread := &sched.Thread{ID: 3, SPT: spt.New()}
	desc := spt.NewAnon(0x400000, true, false)
	desc.Frame = mm.Frame(42)
	if err := thread.SPT.Insert(desc); err != nil {
		t.Fatal(err)
	}

	if err := claimPage(thread, 0x400000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*installed) != 0 {
		t.Error("expected no page-table work for an already-resident page")
	}
}

func TestClaimPageReleasesFrameWhenSwapInFails(t *testing.T) {
	frameBuf := alignedPageBuf()
	installIdentityHooks(t, frameBuf)

	var freed []mm.Frame
	origFree := freeFrameFn
	freeFrameFn = func(f mm.Frame) *kernel.Error {
		freed = append(freed, f)
		return nil
	}
	defer func() { freeFrameFn = origFree }()

	loadErr := &kernel.Error{Module: "test", Message: "load failed"}
	thread := &sched.Thread{ID: 3, SPT: spt.New()}
	desc := spt.NewUninitFile(0x400000, false, spt.Anon, nil, 0, 0, mm.PageSize, false)
	desc.Init = func(_ *spt.Page, _ uintptr) *kernel.Error { return loadErr }
	if err := thread.SPT.Insert(desc); err != nil {
		t.Fatal(err)
	}

	if err := claimPage(thread, 0x400000); err != loadErr {
		t.Fatalf("expected the initializer error to propagate, got %v", err)
	}
	if len(freed) != 1 {
		t.Fatalf("expected the frame to be released after a failed swap-in, got %d frees", len(freed))
	}
	if desc.Frame.Valid() {
		t.Error("expected the descriptor to remain non-resident after a failed claim")
	}
	if desc.Kind != spt.Uninit {
		t.Error("expected a failed initializer to leave the descriptor Uninit")
	}
}

func TestEvictThenClaimRoundTripsAnonPageBytes(t *testing.T) {
	residentBuf := alignedPageBuf()
	reloadBuf := alignedPageBuf()
	installIdentityHooks(t, reloadBuf)

	origDirty := pdtDirtyFn
	origUnmapPDT := pdtUnmapFn
	pdtDirtyFn = func(_ vmm.PageDirectoryTable, _ uintptr) (bool, *kernel.Error) { return true, nil }
	pdtUnmapFn = func(_ vmm.PageDirectoryTable, _ mm.Page) *kernel.Error { return nil }
	defer func() {
		pdtDirtyFn = origDirty
		pdtUnmapFn = origUnmapPDT
	}()

	const va = uintptr(0x400000)
	thread := &sched.Thread{ID: 77, SPT: spt.New()}
	registerProcess(thread)
	defer unregisterProcess(thread)

	desc := spt.NewAnon(va, true, false)
	desc.Frame = frameForBuf(residentBuf)
	if err := thread.SPT.Insert(desc); err != nil {
		t.Fatal(err)
	}
	for i := range residentBuf {
		residentBuf[i] = byte(i % 251)
	}

	if err := evictFrame(pmm.FrameOwner{Pid: 77, VA: va}); err != nil {
		t.Fatalf("unexpected eviction error: %v", err)
	}
	if desc.Frame.Valid() {
		t.Fatal("expected the descriptor to be non-resident after eviction")
	}

	if err := claimPage(thread, va); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	for i := range reloadBuf {
		if reloadBuf[i] != byte(i%251) {
			t.Fatalf("swap round-trip mismatch at offset %d", i)
		}
	}
}

func TestEvictFrameRejectsUnknownOwner(t *testing.T) {
	if err := evictFrame(pmm.FrameOwner{Pid: 999999, VA: 0x1000}); err != errUnknownOwner {
		t.Fatalf("expected errUnknownOwner, got %v", err)
	}
}
