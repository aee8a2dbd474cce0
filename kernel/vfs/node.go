package vfs

import (
	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/rcu"
)

// NodeType distinguishes the three kinds of entry the VFS tree can hold.
type NodeType uint8

const (
	NodeFile NodeType = iota
	NodeFolder
	NodeLink
)

// Node is a single entry in the VFS tree: a file, a folder, or a symbolic
// link. Folder-kind nodes embed the folder mixin; file-kind nodes carry
// their FileOps under the GuidFile interface entry. A Node never knows its
// own full path — callers resolve paths by walking parent links or by
// asking the owning FS to do it — matching the original tree's decision to
// keep nodes reusable across mount points.
type Node struct {
	Name   string
	Parent *Node
	Mount  *FS
	Type   NodeType

	*folder // nil unless Type == NodeFolder
	target  Path // link target, if Type == NodeLink

	interfaces []InterfaceEntry
	retireOn   rcu.Object
}

// NewFileNode constructs a file-kind Node exposing ops under GuidFile.
func NewFileNode(name string, parent *Node, ops FileOps) *Node {
	n := &Node{Name: name, Parent: parent, Type: NodeFile}
	n.interfaces = []InterfaceEntry{
		{UUID: GuidFile, Factory: func(*Node) interface{} { return ops }},
	}
	return n
}

// NewFolderNode constructs an empty folder-kind Node.
func NewFolderNode(name string, parent *Node) *Node {
	f := newFolder()
	n := &Node{Name: name, Parent: parent, Type: NodeFolder, folder: f}
	n.interfaces = []InterfaceEntry{
		{UUID: GuidFolder, Factory: func(*Node) interface{} { return f }},
	}
	return n
}

// NewLinkNode constructs a symbolic-link-kind Node pointing at target.
func NewLinkNode(name string, parent *Node, target Path) *Node {
	return &Node{Name: name, Parent: parent, Type: NodeLink, target: target}
}

// Target returns a link node's destination path. Only meaningful when
// Type == NodeLink.
func (n *Node) Target() Path { return n.target }

// InsertChild adds child under name to n's folder, reporting false if the
// name is already taken. Exported so mount drivers (ramfs, tarfs) can
// build a node tree without reaching into the unexported folder mixin
// directly.
func (n *Node) InsertChild(name string, child *Node) bool {
	return n.folder.insert(name, child)
}

// RemoveChild deletes name from n's folder.
func (n *Node) RemoveChild(name string) (*Node, bool) {
	return n.folder.remove(name)
}

// AddDeviceInterface registers ops under GuidDevice, turning n into a node
// that also answers IoControl in addition to its file semantics.
func (n *Node) AddDeviceInterface(ops DeviceOps) {
	n.interfaces = append(n.interfaces, InterfaceEntry{
		UUID:    GuidDevice,
		Factory: func(*Node) interface{} { return ops },
	})
}

// NodeHandle adapts a Node to handle.Object so it can be minted into a
// process's handle table. Stat/wait access on a vnode handle always
// succeeds immediately: a vnode has no pending/blocked state of its own,
// unlike a thread or a mutex.
type NodeHandle struct {
	Node *Node
}

func (h *NodeHandle) Kind() abi.HandleType { return abi.HandleNode }

func (h *NodeHandle) Signaled() (done bool, status kernel.Status) {
	return true, kernel.StatusSuccess
}

func (h *NodeHandle) Release() {}
