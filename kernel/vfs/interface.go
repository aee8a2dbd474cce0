package vfs

import "nyx/kernel"

// InterfaceEntry associates a queryable Guid with a factory that produces
// the concrete operations object for it. A Node carries the set of
// interfaces its kind supports instead of a single do-everything
// interface, so a device node can expose DeviceOps without a plain file
// node having to stub out IoControl.
type InterfaceEntry struct {
	UUID    Guid
	Factory func(n *Node) interface{}
}

// Query resolves uuid against n's registered interfaces and returns the
// concrete operations object, or nil if n does not support it.
func (n *Node) Query(uuid Guid) interface{} {
	for _, entry := range n.interfaces {
		if entry.UUID == uuid {
			return entry.Factory(n)
		}
	}
	return nil
}

// FileOps is the interface a file-kind Node exposes under GuidFile.
type FileOps interface {
	ReadAt(buf []byte, offset int64) (int, *kernel.Error)
	WriteAt(buf []byte, offset int64) (int, *kernel.Error)
	Size() int64
}

// FolderOps is the interface a folder-kind Node exposes under GuidFolder.
type FolderOps interface {
	Lookup(name string) (*Node, bool)
	Entries() []*Node
}

// DeviceOps is the interface a device-kind Node exposes under GuidDevice.
type DeviceOps interface {
	IoControl(function uint32, in []byte, out []byte) (int, *kernel.Error)
}
