package proc

import (
	"gophernel/kernel"
	"gophernel/kernel/elf"
	"gophernel/kernel/fs"
	"gophernel/kernel/mm"
	"gophernel/kernel/mm/spt"
	"gophernel/kernel/sched"
)

const elfHeaderProbeSize = 64

var errNoLoadSegments = &kernel.Error{Module: "proc", Message: "executable has no loadable segments"}

// loadExecutable parses exe's ELF64 header and program header table and
// installs a lazily-loaded supplemental page table descriptor for every
// PT_LOAD segment, returning the entry point recorded in the header. No
// segment bytes are read here; contents are faulted in through claimPage
// the first time the process touches them.
func loadExecutable(t *sched.Thread, exe *fs.File) (uintptr, *kernel.Error) {
	hdrBuf := make([]byte, elfHeaderProbeSize)
	if n := exe.ReadAt(hdrBuf, 0); n != len(hdrBuf) {
		return 0, elf.ErrTruncated
	}

	hdr, err := elf.ParseHeader(hdrBuf)
	if err != nil {
		return 0, err
	}

	phBuf := make([]byte, hdr.PhEntSize)
	loaded := 0
	for i := uint16(0); i < hdr.PhNum; i++ {
		off := int64(hdr.PhOff) + int64(i)*int64(hdr.PhEntSize)
		if n := exe.ReadAt(phBuf, off); n != len(phBuf) {
			return 0, elf.ErrTruncated
		}
		ph := elf.ParseProgramHeader(phBuf)

		if elf.RequiresUnsupportedFeature(ph.Type) {
			return 0, elf.ErrUnsupportedPT
		}
		if ph.Type != elf.PtLoad || ph.MemSz == 0 {
			continue
		}

		if err := installSegment(t, exe, ph); err != nil {
			return 0, err
		}
		loaded++
	}

	if loaded == 0 {
		return 0, errNoLoadSegments
	}

	return uintptr(hdr.Entry), nil
}

func installSegment(t *sched.Thread, exe *fs.File, ph elf.ProgramHeader) *kernel.Error {
	writable := ph.Flags&elf.PfWrite != 0

	firstPage := pageAlignDown(uintptr(ph.VAddr))
	lastPage := pageAlignDown(uintptr(ph.VAddr) + uintptr(ph.MemSz) - 1)

	for page := firstPage; page <= lastPage; page += mm.PageSize {
		readBytes, zeroBytes, fileOff := segmentPageExtents(ph, page)
		desc := spt.NewUninitFile(page, writable, spt.Anon, exe, fileOff, readBytes, zeroBytes, false)
		if err := t.SPT.Insert(desc); err != nil {
			return err
		}
	}

	return nil
}

// segmentPageExtents computes how many bytes of page should be populated
// from exe and how many zero-filled to reconstruct ph's contents there.
// readBytes and zeroBytes always sum to exactly one page: frames are
// recycled without being scrubbed, so any tail beyond the segment's memory
// extent must be zeroed here or the page would expose stale contents of
// whatever frame backs it. It relies on the standard ELF invariant that
// p_offset and p_vaddr share the same page-alignment skew, so a single
// linear file offset covers the whole page uniformly, including any bytes
// before the segment's declared start on its first page (harmless re-reads
// of whatever precedes it in the file).
func segmentPageExtents(ph elf.ProgramHeader, page uintptr) (readBytes, zeroBytes uintptr, fileOff int64) {
	segStart := uintptr(ph.VAddr)
	segFileEnd := segStart + uintptr(ph.FileSz)
	pageEnd := page + mm.PageSize

	fileOff = int64(ph.Offset) + (int64(page) - int64(segStart))

	readEnd := segFileEnd
	if readEnd > pageEnd {
		readEnd = pageEnd
	}
	if readEnd > page {
		readBytes = readEnd - page
	}

	zeroBytes = pageEnd - (page + readBytes)

	return readBytes, zeroBytes, fileOff
}
