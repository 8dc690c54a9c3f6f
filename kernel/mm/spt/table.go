package spt

import (
	"gophernel/kernel"
	"gophernel/kernel/mm"
	"gophernel/kernel/swap"
)

const (
	initialBuckets = 8

	// fnvOffsetBasis and fnvPrime are the 64-bit FNV-1a constants.
	fnvOffsetBasis = 14695981039346656037
	fnvPrime       = 1099511628211
)

var (
	errAlreadyMapped = &kernel.Error{Module: "spt", Message: "virtual address is already present in the supplemental page table"}
	errNotMapped     = &kernel.Error{Module: "spt", Message: "virtual address is not present in the supplemental page table"}
)

type entry struct {
	page *Page
	next *entry
}

// Table is a chained hash map from page-aligned virtual address to page
// descriptor, keyed with a byte-wise FNV-1a hash and resized to keep the
// average chain length near 2, per this kernel's supplemental page table
// design.
type Table struct {
	buckets []*entry
	count   int
}

// New returns an empty supplemental page table.
func New() *Table {
	return &Table{buckets: make([]*entry, initialBuckets)}
}

func hashVA(va uintptr) uint64 {
	h := uint64(fnvOffsetBasis)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(va >> (8 * uint(i))))
		h *= fnvPrime
	}
	return h
}

func (t *Table) bucketFor(va uintptr) int {
	return int(hashVA(va) % uint64(len(t.buckets)))
}

// Find returns the descriptor registered for va, if any.
func (t *Table) Find(va uintptr) (*Page, bool) {
	for e := t.buckets[t.bucketFor(va)]; e != nil; e = e.next {
		if e.page.VA == va {
			return e.page, true
		}
	}
	return nil, false
}

// Insert registers p under p.VA, failing if that address is already
// present. p.VA must already be page-aligned.
func (t *Table) Insert(p *Page) *kernel.Error {
	if _, ok := t.Find(p.VA); ok {
		return errAlreadyMapped
	}

	idx := t.bucketFor(p.VA)
	t.buckets[idx] = &entry{page: p, next: t.buckets[idx]}
	t.count++

	if t.count > 2*len(t.buckets) {
		t.resize(2 * len(t.buckets))
	}
	return nil
}

// Remove detaches and returns the descriptor registered at va, or nil if
// none is present. The caller is responsible for any kind-specific
// teardown via Destroy.
func (t *Table) Remove(va uintptr) *Page {
	idx := t.bucketFor(va)
	var prev *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.page.VA == va {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			return e.page
		}
		prev = e
	}
	return nil
}

func (t *Table) resize(newBucketCount int) {
	old := t.buckets
	t.buckets = make([]*entry, newBucketCount)
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			idx := t.bucketFor(e.page.VA)
			e.next = t.buckets[idx]
			t.buckets[idx] = e
			e = next
		}
	}
}

// all returns every descriptor currently registered, in unspecified order.
func (t *Table) all() []*Page {
	pages := make([]*Page, 0, t.count)
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			pages = append(pages, e.page)
		}
	}
	return pages
}

// Len returns the number of descriptors currently registered.
func (t *Table) Len() int { return t.count }

// DupFn allocates a frame in the destination address space holding a byte
// copy of src's current contents (its resident frame, or its swap slot for
// a swapped-out anonymous page) and installs the mapping there. It is
// supplied by the process layer, which alone has access to the frame
// allocator and the destination page table.
type DupFn func(src *Page) (mm.Frame, *kernel.Error)

// Copy returns a new Table containing a duplicate of every descriptor in t,
// per this kernel's copy-on-fork semantics (no COW optimization): Uninit
// descriptors are duplicated verbatim so a later fault in the child re-runs
// the same initializer, while Anon/File descriptors with live contents
// (resident, or swapped out) have dup invoked to obtain an independent
// backing frame in the child. The child never shares the parent's swap
// slot. On failure the partially-built table is returned alongside the
// error so the caller can release the frames dup already handed out.
func (t *Table) Copy(dup DupFn) (*Table, *kernel.Error) {
	dst := New()

	for _, src := range t.all() {
		clone := *src
		clone.Frame = mm.InvalidFrame
		clone.Slot = swap.InvalidSlot

		if src.Kind != Uninit && (src.Frame.Valid() || src.Slot != swap.InvalidSlot) {
			frame, err := dup(src)
			if err != nil {
				return dst, err
			}
			clone.Frame = frame
		}

		if err := dst.Insert(&clone); err != nil {
			return dst, err
		}
	}

	return dst, nil
}

// DestroyFn is invoked once per descriptor during DestroyAll, letting the
// process layer unmap/free any resident frame and run kind-specific
// teardown (writeback, swap-slot release) before the descriptor is dropped.
type DestroyFn func(p *Page)

// DestroyAll empties the table, invoking fn for every descriptor it held.
// fn is expected to call spt.Destroy itself after resolving residency.
func (t *Table) DestroyAll(fn DestroyFn) {
	for _, p := range t.all() {
		fn(p)
	}
	t.buckets = make([]*entry, initialBuckets)
	t.count = 0
}
