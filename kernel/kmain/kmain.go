package kmain

import (
	"reflect"
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/fs"
	"gophernel/kernel/gate"
	"gophernel/kernel/goruntime"
	"gophernel/kernel/hal"
	"gophernel/kernel/kfmt"
	"gophernel/kernel/mm/pmm"
	"gophernel/kernel/mm/vmm"
	"gophernel/kernel/proc"
	"gophernel/kernel/sched"
	"gophernel/kernel/swap"
	"gophernel/multiboot"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// swapSlotCount is the number of page-sized slots the boot-time in-memory
// swap store is created with.
const swapSlotCount = 1024

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and setting up a minimal g0 struct that allows
// Go code using the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided
// by the bootloader as well as the physical addresses for the kernel
// start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, kernelPageOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(kernelPageOffset); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// The allocator is up; from this point on regular Go code works.
	gate.Init()
	hal.DetectHardware()
	swap.SetBackend(swap.NewMemBackend(swapSlotCount))
	fs.SetActive(loadBootModules())

	boot := proc.Init()
	gate.HandleInterrupt(gate.TimerVector, 0, func(_ *gate.Registers) {
		sched.TimerTick()
	})

	cmdLine := multiboot.GetBootCmdLine()
	if _, on := cmdLine["mlfqs"]; on {
		sched.EnableMLFQS()
	}

	if initd, ok := cmdLine["initd"]; ok {
		// Argument separator in the boot command line is a comma, since
		// spaces delimit the key-value pairs themselves.
		tid := proc.ExecInitd(replaceCommas(initd))
		if tid == 0 {
			kfmt.Panic(&kernel.Error{Module: "kmain", Message: "empty initd command line"})
		}
		status := proc.Wait(tid)
		kfmt.Printf("[kmain] initd (tid %d) exited with status %d\n", tid, status)
	} else {
		kfmt.Printf("[kmain] no initd= boot argument; idling (boot thread %s)\n", boot.Name)
		for {
			sched.Yield()
		}
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// loadBootModules builds the root filesystem from the modules the
// bootloader loaded alongside the kernel: each module becomes a file named
// by the first token of its module command line, so `initd=echo,hi` can
// resolve `echo` to a bundled ELF image.
func loadBootModules() fs.FileSystem {
	rootFS := fs.NewMemFS()

	multiboot.VisitModules(func(cmdLine string, start, end uintptr) bool {
		if end <= start || cmdLine == "" {
			return true
		}

		size := end - start
		contents := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
			Data: start,
			Len:  int(size),
			Cap:  int(size),
		}))

		name := cmdLine
		for i := 0; i < len(cmdLine); i++ {
			if cmdLine[i] == ' ' {
				name = cmdLine[:i]
				break
			}
		}

		if err := rootFS.Create(name, contents); err != nil {
			kfmt.Printf("[kmain] skipping duplicate boot module %s\n", name)
		}
		return true
	})

	return rootFS
}

func replaceCommas(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == ',' {
			b[i] = ' '
		}
	}
	return string(b)
}
