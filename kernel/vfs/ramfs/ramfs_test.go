package ramfs

import (
	"testing"

	"nyx/kernel/vfs"
)

func TestFileWriteExtendsAndReadClips(t *testing.T) {
	fs := vfs.New()
	if _, err := fs.AddMount(Driver{}, "mnt"); err != nil {
		t.Fatalf("AddMount: %v", err)
	}
	if _, err := fs.Create("mnt\x00greeting", newFile()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, ops, err := fs.Open("mnt\x00greeting")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ops.WriteAt([]byte("hi"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 2)
	if n, err := ops.ReadAt(buf, 0); err != nil || n != 2 || string(buf) != "hi" {
		t.Fatalf("ReadAt = (%d, %q, %v), want (2, hi, nil)", n, buf, err)
	}
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	f := newFile()
	data := []byte("hello, ramfs")
	n, err := f.WriteAt(data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("WriteAt = (%d, %v), want (%d, nil)", n, err, len(data))
	}
	if f.Size() != int64(len(data)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(data))
	}

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 0)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("ReadAt = (%d, %q, %v), want (5, %q, nil)", n, buf[:n], err, "hello")
	}
}

func TestFileWriteExtendsBackingSlice(t *testing.T) {
	f := newFile()
	if _, err := f.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.WriteAt([]byte("xyz"), 10); err != nil {
		t.Fatalf("WriteAt extend: %v", err)
	}
	if f.Size() != 13 {
		t.Fatalf("Size() = %d, want 13", f.Size())
	}
	buf := make([]byte, 13)
	n, _ := f.ReadAt(buf, 0)
	if n != 13 {
		t.Fatalf("ReadAt n = %d, want 13", n)
	}
	if string(buf[10:13]) != "xyz" {
		t.Fatalf("tail = %q, want xyz", buf[10:13])
	}
	for i := 3; i < 10; i++ {
		if buf[i] != 0 {
			t.Fatalf("gap byte %d = %d, want 0", i, buf[i])
		}
	}
}

func TestFileReadPastEndOfFileReturnsZero(t *testing.T) {
	f := newFile()
	if _, err := f.WriteAt([]byte("123456789"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 256)
	n, err := f.ReadAt(buf, 0)
	if err != nil || n != 9 {
		t.Fatalf("first ReadAt = (%d, %v), want (9, nil)", n, err)
	}
	n, err = f.ReadAt(buf, int64(f.Size()))
	if err != nil || n != 0 {
		t.Fatalf("ReadAt at EOF = (%d, %v), want (0, nil)", n, err)
	}
}

func TestDriverMountProducesEmptyFolder(t *testing.T) {
	root, err := (Driver{}).Mount()
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	folderOps, ok := root.Query(vfs.GuidFolder).(vfs.FolderOps)
	if !ok {
		t.Fatal("mount root should support GuidFolder")
	}
	if len(folderOps.Entries()) != 0 {
		t.Fatal("fresh mount should have no entries")
	}
}
