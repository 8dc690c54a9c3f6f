package proc

import (
	"reflect"
	"unsafe"

	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/sched"
)

const pointerSize = uintptr(1) << mm.PointerShift

var errTooManyArgs = &kernel.Error{Module: "proc", Message: "argument count exceeds MaxArgs"}

// marshalArgv writes argv onto the top of t's already-claimed stack page:
// the argument strings themselves (each NUL terminated) pushed in reverse
// order, zero padding down to an 8-byte boundary, a NULL sentinel, the
// argv pointers in reverse order, and a zero fake return address. The
// entry-point registers carry argc and &argv[0] separately, so neither is
// pushed here. It returns the resulting stack pointer and the address of
// argv[0].
func marshalArgv(t *sched.Thread, argv []string) (sp, argvBase uintptr, err *kernel.Error) {
	if len(argv) > MaxArgs {
		return 0, 0, errTooManyArgs
	}

	stackPage := pageAlignDown(UserStackTop - 1)
	desc, ok := t.SPT.Find(stackPage)
	if !ok || !desc.Frame.Valid() {
		return 0, 0, errNotMapped
	}

	kvaPage, err := mapTemporaryFn(desc.Frame)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = unmapFn(kvaPage) }()

	kva := kvaPage.Address()
	toKva := func(va uintptr) uintptr { return kva + (va - stackPage) }

	sp = stackPage + mm.PageSize
	ptrs := make([]uintptr, len(argv))

	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		sp -= uintptr(len(s)) + 1
		writeString(toKva(sp), s)
		ptrs[i] = sp
	}

	aligned := sp &^ (pointerSize - 1)
	if aligned < sp {
		kernel.Memset(toKva(aligned), 0, sp-aligned)
	}
	sp = aligned

	sp -= pointerSize
	writePointer(toKva(sp), 0) // argv[argc] = NULL
	for i := len(ptrs) - 1; i >= 0; i-- {
		sp -= pointerSize
		writePointer(toKva(sp), ptrs[i])
	}
	argvBase = sp

	sp -= pointerSize
	writePointer(toKva(sp), 0) // fake return address

	return sp, argvBase, nil
}

func writeString(dst uintptr, s string) {
	b := overlayBytes(dst, uintptr(len(s))+1)
	copy(b, s)
	b[len(s)] = 0
}

func writePointer(dst uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(dst)) = v
}

func overlayBytes(addr uintptr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(size),
		Cap:  int(size),
	}))
}
