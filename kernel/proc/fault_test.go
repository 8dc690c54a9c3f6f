package proc

import (
	"fmt"
	"testing"

	"gophernel/kernel/mm"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
)

func TestIsStackGrowthCandidate(t *testing.T) {
	rsp := UserStackTop - 2*mm.PageSize

	specs := []struct {
		faultAddr uintptr
		exp       bool
	}{
		// at rsp and just below it (a PUSH faults 8 bytes under rsp)
		{rsp, true},
		{rsp - 8, true},
		// deeper than any PUSH can legitimately reach
		{rsp - 9, false},
		// above rsp but within the stack's maximum extent
		{rsp + mm.PageSize, true},
		// below the maximum stack size
		{UserStackTop - MaxStackSize - 1, false},
		// at or above the stack top
		{UserStackTop, false},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			thread := &sched.Thread{UserRSP: rsp}
			if got := isStackGrowthCandidate(thread, spec.faultAddr); got != spec.exp {
				t.Errorf("fault at %#x with rsp %#x: expected %v, got %v", spec.faultAddr, rsp, spec.exp, got)
			}
		})
	}
}

func TestHandleUserPageFaultDemandLoadsRegisteredPage(t *testing.T) {
	frameBuf := alignedPageBuf()
	installIdentityHooks(t, frameBuf)

	thread := &sched.Thread{ID: 5, SPT: spt.New()}
	origCurrent := currentThreadFn
	currentThreadFn = func() *sched.Thread { return thread }
	defer func() { currentThreadFn = origCurrent }()

	const va = uintptr(0x400000)
	if err := thread.SPT.Insert(spt.NewAnon(va, true, false)); err != nil {
		t.Fatal(err)
	}

	if !handleUserPageFault(va+0x123, 0, false) {
		t.Fatal("expected the fault to be resolved")
	}

	desc, _ := thread.SPT.Find(va)
	if !desc.Frame.Valid() {
		t.Fatal("expected the page to be resident after the fault")
	}
}

func TestHandleUserPageFaultGrowsStack(t *testing.T) {
	frameBuf := alignedPageBuf()
	installIdentityHooks(t, frameBuf)

	thread := &sched.Thread{ID: 5, SPT: spt.New()}
	origCurrent := currentThreadFn
	currentThreadFn = func() *sched.Thread { return thread }
	defer func() { currentThreadFn = origCurrent }()

	faultAddr := UserStackTop - 4*mm.PageSize - 8
	if !handleUserPageFault(faultAddr, faultAddr+8, true) {
		t.Fatal("expected the stack-growth fault to be resolved")
	}

	if thread.UserRSP != faultAddr+8 {
		t.Errorf("expected the trap-time rsp to be recorded, got %#x", thread.UserRSP)
	}

	desc, ok := thread.SPT.Find(pageAlignDown(faultAddr))
	if !ok {
		t.Fatal("expected a fresh stack descriptor at the faulting page")
	}
	if !desc.IsStack || !desc.Writable {
		t.Error("expected a writable stack-marked page")
	}
	if !desc.Frame.Valid() {
		t.Error("expected the grown stack page to be claimed immediately")
	}
}

func TestHandleUserPageFaultTerminatesOnBadAccess(t *testing.T) {
	installIdentityHooks(t)

	thread := &sched.Thread{ID: 5, SPT: spt.New(), UserRSP: UserStackTop - mm.PageSize}
	origCurrent := currentThreadFn
	currentThreadFn = func() *sched.Thread { return thread }
	defer func() { currentThreadFn = origCurrent }()

	var exitStatus int
	exited := false
	origExit := exitFn
	exitFn = func(status int) {
		exitStatus = status
		exited = true
	}
	defer func() { exitFn = origExit }()

	roPage := spt.NewAnon(0x400000, false, false)
	roPage.Frame = mm.Frame(9)
	if err := thread.SPT.Insert(roPage); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		name      string
		faultAddr uintptr
		write     bool
	}{
		{"kernel half from user mode", kernelHalfBoundary + 0x1000, false},
		{"write to read-only page", 0x400000, true},
		{"wild access outside SPT and stack range", 0x123000, false},
		{"beyond maximum stack size", UserStackTop - MaxStackSize - mm.PageSize, true},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			exited = false
			if handleUserPageFault(spec.faultAddr, thread.UserRSP, spec.write) {
				t.Fatal("expected the fault to be unresolved")
			}
			if !exited || exitStatus != -1 {
				t.Fatal("expected the faulting process to be terminated with status -1")
			}
		})
	}
}
