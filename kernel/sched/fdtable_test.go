package sched

import (
	"testing"

	"gophernel/kernel/fs"
)

func openTestFile(t *testing.T, fsys *fs.MemFS, name string) *fs.File {
	t.Helper()
	f, err := fsys.Open(name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	return f
}

func TestFdTableInstallGetClose(t *testing.T) {
	resetScheduler(t)
	Init()

	fsys := fs.NewMemFS()
	if err := fsys.Create("a.txt", []byte("hi")); err != nil {
		t.Fatalf("create: %v", err)
	}
	f := openTestFile(t, fsys, "a.txt")

	tbl := NewFdTable()
	fd := tbl.Install(f)
	if fd < firstUserFd {
		t.Fatalf("expected fd >= %d, got %d", firstUserFd, fd)
	}

	got, ok := tbl.Get(fd)
	if !ok || got != f {
		t.Fatalf("expected Get to return the installed file")
	}

	tbl.Close(fd)
	if _, ok := tbl.Get(fd); ok {
		t.Fatalf("expected fd to be free after Close")
	}
}

func TestFdTableCloneDuplicatesOpenHandles(t *testing.T) {
	resetScheduler(t)
	Init()

	fsys := fs.NewMemFS()
	if err := fsys.Create("a.txt", []byte("hi")); err != nil {
		t.Fatalf("create: %v", err)
	}
	f := openTestFile(t, fsys, "a.txt")

	tbl := NewFdTable()
	fd := tbl.Install(f)

	clone := tbl.Clone()
	cf, ok := clone.Get(fd)
	if !ok {
		t.Fatalf("expected clone to have the same fd installed")
	}
	if cf == f {
		t.Fatalf("expected clone to hold an independently duplicated handle, not the same pointer")
	}
}

func TestFdTableInstallReturnsMinusOneWhenFull(t *testing.T) {
	resetScheduler(t)
	Init()

	fsys := fs.NewMemFS()
	if err := fsys.Create("f", []byte("x")); err != nil {
		t.Fatalf("create: %v", err)
	}

	tbl := NewFdTable()
	for i := firstUserFd; i < maxFds; i++ {
		f := openTestFile(t, fsys, "f")
		if fd := tbl.Install(f); fd == -1 {
			t.Fatalf("unexpected early exhaustion at i=%d", i)
		}
	}

	extra := openTestFile(t, fsys, "f")
	if fd := tbl.Install(extra); fd != -1 {
		t.Fatalf("expected -1 once the table is full, got %d", fd)
	}
}
