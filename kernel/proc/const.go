package proc

import "gophernel/kernel/mm"

// UserStackTop is the highest user-mode virtual address; the initial stack
// page is installed one page below it so the very top of the address
// space is never itself dereferenced.
const UserStackTop = 0x0000_7fff_ffff_f000

// MaxStackSize bounds how far stack-growth fault handling will extend the
// user stack downward from UserStackTop.
const MaxStackSize = 8 * 1024 * 1024 // 8 MiB

// stackGrowthSlack is how far below the current user stack pointer a
// faulting address may still be treated as a stack-growth request: a
// PUSH-family instruction faults exactly 8 bytes below rsp before rsp is
// updated, and nothing legitimate faults deeper.
const stackGrowthSlack = 8

// MaxArgs bounds the number of argv entries ExecInitd/load will marshal
// onto the new stack.
const MaxArgs = 64

// kernelHalfBoundary is the first virtual address belonging to the kernel
// half; any user-mode fault at or above this address is an access
// violation, never a legitimate demand-paging or stack-growth request.
const kernelHalfBoundary = uintptr(1) << 47

func pageAlignDown(va uintptr) uintptr { return va &^ (mm.PageSize - 1) }
