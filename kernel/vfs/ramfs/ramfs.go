// Package ramfs implements an in-memory VFS driver: every file is a
// growable byte slice guarded by a shared lock, and folders are the
// ordinary vfs.Node folder mixin. Kmain mounts it under mnt in the root
// filesystem during early boot, before any block device is available.
package ramfs

import (
	"sync"

	"nyx/kernel"
	"nyx/kernel/vfs"
)

var errOutOfBounds = &kernel.Error{Module: "ramfs", Message: "offset beyond the file's current size", Status: kernel.StatusOutOfBounds}

// file is a growable byte-slice-backed vfs.FileOps implementation. Reads
// and writes clip to [offset, offset+len(buf)) ∩ [0, size); a write whose
// range extends past the current size grows the backing slice.
type file struct {
	lock sync.RWMutex
	data []byte
}

func newFile() *file { return &file{} }

func (f *file) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if offset < 0 {
		return 0, errOutOfBounds
	}
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *file) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if offset < 0 {
		return 0, errOutOfBounds
	}
	end := offset + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[offset:end], buf)
	return n, nil
}

func (f *file) Size() int64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return int64(len(f.data))
}

// Driver is a vfs.MountDriver that produces a fresh, empty ramfs tree on
// every Mount call.
type Driver struct{}

func (Driver) Name() string { return "ramfs" }

func (Driver) Mount() (*vfs.Node, *kernel.Error) {
	return vfs.NewFolderNode("", nil), nil
}

// NewFile is exported so callers (the trap package's file-create handler,
// and tests) can populate a
// ramfs-style file node directly without going through a mounted Driver.
func NewFile(name string, parent *vfs.Node) *vfs.Node {
	return vfs.NewFileNode(name, parent, newFile())
}
