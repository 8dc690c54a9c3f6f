package sched

import "gophernel/kernel/sync"

func init() {
	sync.DonateFn = Donate
	sync.RevokeDonationFn = RevokeDonation
}

// Donate implements priority donation: waiter is about to block on a lock
// held by holder. waiter is inserted into holder's donation list ordered by
// priority and, if waiter outranks holder, holder's effective priority is
// raised to match and the donation is propagated along whatever lock holder
// itself is blocked on (nested donation), per the invariant
// effective(T) = max(base(T), max donor effective priority).
func Donate(w, h sync.Waiter, on *sync.Lock) {
	waiter, holder := w.(*Thread), h.(*Thread)

	lock.Acquire()
	defer lock.Release()

	waiter.WaitingOn = on
	if mlfqsEnabled {
		// MLFQS disables explicit priority setting and donation outright.
		return
	}
	insertDonationLocked(holder, waiter)
	propagateDonationLocked(holder)
}

func insertDonationLocked(holder, waiter *Thread) {
	pri := waiter.Priority()
	i := len(holder.donations)
	holder.donations = append(holder.donations, nil)
	for i > 0 && holder.donations[i-1].Priority() < pri {
		holder.donations[i] = holder.donations[i-1]
		i--
	}
	holder.donations[i] = waiter
}

// propagateDonationLocked recomputes holder's effective priority from its
// donation list and, if holder is itself blocked waiting on another lock,
// recurses to that lock's holder so the elevation reaches every link in the
// chain.
func propagateDonationLocked(holder *Thread) {
	holder.recomputeEffectivePriority()
	if holder.WaitingOn != nil {
		if next := lockHolder(holder.WaitingOn); next != nil {
			insertDonationLocked(next, holder)
			propagateDonationLocked(next)
		}
	}
}

// lockHolder resolves a *sync.Lock to its current holder's Thread, via the
// accessor kernel/sync exports for exactly this purpose. A function
// variable, so tests can substitute a fake wait chain.
var lockHolder = func(l *sync.Lock) *Thread {
	h, _ := sync.LockHolder(l).(*Thread)
	return h
}

// RevokeDonation removes every donation holder received on account of on
// (since that lock is being released) and recomputes holder's effective
// priority from whatever donations remain, per "on release, remove from
// donations every thread waiting on this specific lock".
func RevokeDonation(h sync.Waiter, on *sync.Lock) {
	holder, ok := h.(*Thread)
	if !ok || holder == nil {
		return
	}

	lock.Acquire()
	defer lock.Release()

	if mlfqsEnabled {
		return
	}

	kept := holder.donations[:0]
	for _, d := range holder.donations {
		if d.WaitingOn != on {
			kept = append(kept, d)
		}
	}
	holder.donations = kept
	holder.recomputeEffectivePriority()
	maybePreemptLocked()
}
