package proc

import (
	"gophernel/kernel"
	"gophernel/kernel/fs"
	"gophernel/kernel/kfmt"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
)

var errEmptyCmdline = &kernel.Error{Module: "proc", Message: "command line contains no program name"}

// ExecInitd spawns a kernel thread that loads and runs the program named by
// the first whitespace-delimited token of cmdline, passing the remaining
// tokens as its arguments. The command line is copied up front so the
// caller's buffer can be reused or freed the moment this returns, without
// racing the new thread's own parse of it. The returned tid can be handed
// to Wait.
func ExecInitd(cmdline string) uint64 {
	buf := make([]byte, len(cmdline))
	copy(buf, cmdline)
	copied := string(buf)

	args := splitArgs(copied)
	if len(args) == 0 {
		return 0
	}

	t := createThreadFn(args[0], sched.PriDefault, func() { runProcess(args) })
	return t.ID
}

// runProcess is the kernel-side entry point of every user process: it
// builds the address space, loads the executable and drops to ring 3. It
// only returns through Exit.
func runProcess(argv []string) {
	t := currentThreadFn()

	entry, sp, argvBase, err := load(t, argv)
	if err != nil {
		kfmt.Printf("proc: loading %s failed: %s\n", argv[0], err.Message)
		Exit(-1)
		return
	}

	t.UserRSP = sp
	enterUserModeFn(entry, sp, uintptr(len(argv)), argvBase)
}

// load builds t's user address space from the ELF executable named by
// argv[0]: a fresh page directory, an empty supplemental page table
// populated with one lazy descriptor per PT_LOAD page, an eagerly-claimed
// initial stack page, and the marshalled argument vector on it. On any
// failure nothing is left assigned to t beyond what Exit(-1) knows how to
// tear down.
func load(t *sched.Thread, argv []string) (entry, sp, argvBase uintptr, err *kernel.Error) {
	if len(argv) == 0 {
		return 0, 0, 0, errEmptyCmdline
	}

	pdt, err := newAddressSpaceFn()
	if err != nil {
		return 0, 0, 0, err
	}

	// From here on t owns process state; any failure path goes through
	// Exit(-1), which tears down whatever subset was acquired.
	t.PDT = pdt
	t.SPT = spt.New()
	t.Fds = sched.NewFdTable()
	registerProcess(t)
	pdtActivateFn(pdt)

	exe, ferr := fs.Active().Open(argv[0])
	if ferr != nil {
		return 0, 0, 0, ferr
	}
	// No on-disk modification of a running binary: the hold is released
	// when Exit closes the handle.
	exe.DenyWrite()
	t.Exe = exe

	entry, err = loadExecutable(t, exe)
	if err != nil {
		return 0, 0, 0, err
	}

	if err = setupStack(t); err != nil {
		return 0, 0, 0, err
	}

	sp, argvBase, err = marshalArgv(t, argv)
	if err != nil {
		return 0, 0, 0, err
	}

	return entry, sp, argvBase, nil
}

// setupStack registers the initial anonymous stack descriptor one page
// below the top of the user address space and claims it immediately, so
// the first user instruction already has a frame under rsp instead of
// taking a fault before it can even push.
func setupStack(t *sched.Thread) *kernel.Error {
	stackPage := pageAlignDown(UserStackTop - 1)
	if err := t.SPT.Insert(spt.NewAnon(stackPage, true, true)); err != nil {
		return err
	}
	t.UserRSP = UserStackTop
	return claimPage(t, stackPage)
}

// splitArgs tokenizes a command line on spaces and tabs, collapsing runs
// of them, the same way the boot command line is split.
func splitArgs(cmdline string) []string {
	var args []string
	start := -1
	for i := 0; i < len(cmdline); i++ {
		c := cmdline[i]
		if c == ' ' || c == '\t' {
			if start >= 0 {
				args = append(args, cmdline[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		args = append(args, cmdline[start:])
	}
	return args
}
