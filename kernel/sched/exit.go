package sched

// Exit implements the scheduler-level half of process termination: set the
// exit status, signal the parent's wait rendezvous, then block until the
// parent acknowledges via Wait before handing the thread to the
// destruction queue. Resource teardown (closing fds, destroying the SPT
// and address space) is the caller's responsibility and must happen
// before calling Exit, since once WaitSema is signaled a waiting parent
// may observe the exit status at any time.
func Exit(status int) {
	lock.Acquire()
	self := current
	self.ExitStatus = status
	self.Status = StatusDying
	lock.Release()

	self.WaitSema.Up()
	self.ExitSema.Down()

	lock.Acquire()
	queueDestructionLocked(self)
	switchToNextLocked()
}

// Wait blocks until the child with the given tid exits, then returns its
// exit status. It returns -1 if tid does not name a live child of the
// calling thread or has already been waited on, matching "Invalid wait"
// (non-child tid or duplicate wait).
func Wait(tid uint64) int {
	self := CurrentThread()

	lock.Acquire()
	var child *Thread
	idx := -1
	for i, c := range self.Children {
		if c.ID == tid {
			child, idx = c, i
			break
		}
	}
	lock.Release()

	if child == nil || child.Waited {
		return -1
	}

	child.WaitSema.Down()

	lock.Acquire()
	self.Children = append(self.Children[:idx], self.Children[idx+1:]...)
	status := child.ExitStatus
	child.Waited = true
	lock.Release()

	child.ExitSema.Up()
	return status
}

// Fork creates a new thread as a child of the calling thread and returns
// it with Status Blocked; the caller (kernel/proc.Fork, which owns address
// space and SPT duplication) is expected to install the child's PDT/SPT/fd
// table, run entry on a fabricated initial trap frame, then call
// ReadyChild once duplication completes (or ReportForkFailure on error)
// before blocking on child.ForkSema to observe the result.
func Fork(name string, entry func()) *Thread {
	lock.Acquire()
	defer lock.Release()

	self := current
	child := newThreadLocked(name, self.basePriority, entry)
	child.Status = StatusBlocked
	child.Parent = self
	self.Children = append(self.Children, child)
	return child
}

// ReadyChild places a forked child on the ready queue after its address
// space and resources have been duplicated, then signals the child's fork
// semaphore so the parent's Fork call can observe success.
func ReadyChild(child *Thread) {
	lock.Acquire()
	insertReadyLocked(child)
	maybePreemptLocked()
	lock.Release()

	child.ForkSema.Up()
}

// ReportForkFailure marks a failed fork attempt: the child never runs and
// is removed from the parent's child list, per "or after failure,
// producing exit status -1".
func ReportForkFailure(child *Thread) {
	lock.Acquire()
	child.ExitStatus = -1
	child.Status = StatusDying
	unregisterThreadLocked(child)
	if child.Parent != nil {
		for i, c := range child.Parent.Children {
			if c == child {
				child.Parent.Children = append(child.Parent.Children[:i], child.Parent.Children[i+1:]...)
				break
			}
		}
	}
	lock.Release()

	child.ForkSema.Up()
}
