package fs

import "testing"

func TestOpenReadWriteRoundTrip(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("data", []byte("hello world")); err != nil {
		t.Fatal(err)
	}

	f, err := fsys.Open("data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buf := make([]byte, 5)
	if n := f.Read(buf); n != 5 || string(buf) != "hello" {
		t.Fatalf("expected to read %q, got %q (%d bytes)", "hello", buf[:n], n)
	}
	if f.Tell() != 5 {
		t.Fatalf("expected cursor at 5, got %d", f.Tell())
	}

	if _, werr := f.WriteAt([]byte("W"), 6); werr != nil {
		t.Fatalf("unexpected error: %v", werr)
	}
	if n := f.ReadAt(buf, 6); n != 5 || string(buf) != "World" {
		t.Fatalf("expected %q after WriteAt, got %q", "World", buf[:n])
	}
	if f.Tell() != 5 {
		t.Fatal("expected ReadAt/WriteAt not to move the cursor")
	}
}

func TestOpenMissingFile(t *testing.T) {
	fsys := NewMemFS()
	if _, err := fsys.Open("nope"); err != errNotFound {
		t.Fatalf("expected errNotFound, got %v", err)
	}
}

func TestDenyWriteIsRefCountedAcrossHandles(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("prog", []byte("binary")); err != nil {
		t.Fatal(err)
	}

	a, _ := fsys.Open("prog")
	b, _ := fsys.Open("prog")

	a.DenyWrite()
	b.DenyWrite()

	if _, err := a.WriteAt([]byte("x"), 0); err != errWriteDenied {
		t.Fatalf("expected writes to be denied, got %v", err)
	}

	// One hold released; the other still blocks writers.
	a.AllowWrite()
	if _, err := b.WriteAt([]byte("x"), 0); err != errWriteDenied {
		t.Fatalf("expected writes to remain denied while one hold is live, got %v", err)
	}

	b.AllowWrite()
	if _, err := b.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("expected writes to be re-permitted, got %v", err)
	}
}

func TestCloseReleasesDenyWriteHold(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("prog", []byte("binary")); err != nil {
		t.Fatal(err)
	}

	exe, _ := fsys.Open("prog")
	writer, _ := fsys.Open("prog")

	exe.DenyWrite()
	exe.Close()

	if _, err := writer.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("expected closing the denying handle to re-permit writes, got %v", err)
	}
}

func TestDuplicateCopiesCursorAndDenyWrite(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("prog", []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	f, _ := fsys.Open("prog")
	f.Seek(4)
	f.DenyWrite()

	dup := f.Duplicate()
	if dup.Tell() != 4 {
		t.Fatalf("expected the duplicate to inherit the cursor, got %d", dup.Tell())
	}

	// The duplicate holds its own deny-write reference: releasing the
	// original's does not re-permit writes.
	f.AllowWrite()
	if _, err := f.WriteAt([]byte("x"), 0); err != errWriteDenied {
		t.Fatalf("expected the duplicate's hold to still deny writes, got %v", err)
	}

	reopened := f.Reopen()
	if reopened.Tell() != 0 {
		t.Fatalf("expected Reopen to reset the cursor, got %d", reopened.Tell())
	}

	buf := make([]byte, 2)
	dup.Read(buf)
	if f.Tell() != 4 {
		t.Fatal("expected handles to keep independent cursors")
	}
}

func TestWriteAtGrowsFile(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("f", []byte("ab")); err != nil {
		t.Fatal(err)
	}

	f, _ := fsys.Open("f")
	if _, err := f.WriteAt([]byte("zz"), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Length() != 6 {
		t.Fatalf("expected length 6 after sparse write, got %d", f.Length())
	}

	buf := make([]byte, 6)
	f.ReadAt(buf, 0)
	if string(buf[0:2]) != "ab" || string(buf[4:6]) != "zz" {
		t.Fatalf("unexpected contents after sparse write: %q", buf)
	}
}

func TestRemove(t *testing.T) {
	fsys := NewMemFS()
	if err := fsys.Create("f", nil); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove("f"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fsys.Open("f"); err != errNotFound {
		t.Fatalf("expected the file to be gone, got %v", err)
	}
	if err := fsys.Remove("f"); err != errNotFound {
		t.Fatalf("expected errNotFound on double remove, got %v", err)
	}
}
