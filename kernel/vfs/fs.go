package vfs

import "nyx/kernel"

var (
	errNotFound          = &kernel.Error{Module: "vfs", Message: "path does not resolve to a node", Status: kernel.StatusNotFound}
	errAlreadyExists     = &kernel.Error{Module: "vfs", Message: "a node already exists at that name", Status: kernel.StatusAlreadyExists}
	errTraverseNonFolder = &kernel.Error{Module: "vfs", Message: "an intermediate path segment is not a folder", Status: kernel.StatusTraverseNonFolder}
	errInvalidPath       = &kernel.Error{Module: "vfs", Message: "path text failed validation", Status: kernel.StatusInvalidPath}
	errInvalidType       = &kernel.Error{Module: "vfs", Message: "operation does not apply to this node type", Status: kernel.StatusInvalidType}
	errInterfaceNotSupported = &kernel.Error{Module: "vfs", Message: "node does not support the requested interface", Status: kernel.StatusInterfaceNotSupported}
)

// MountDriver produces the root Node of a freshly attached mount. Drivers
// with no mount-time configuration (ramfs) only need Mount; drivers that
// need caller-supplied backing state (tarfs's block device image) also
// implement ParamMountDriver.
type MountDriver interface {
	Name() string
	Mount() (*Node, *kernel.Error)
}

// ParamMountDriver is implemented by drivers whose mount needs parameters
// supplied by the caller of AddMountWithParams, such as tarfs's backing
// image bytes.
type ParamMountDriver interface {
	MountDriver
	CreateMount(params interface{}) (*Node, *kernel.Error)
}

// FS is a single VFS tree rooted at Root. The kernel normally owns exactly
// one FS; tests construct additional independent trees freely.
type FS struct {
	Root *Node
}

// New returns an FS with an empty root folder.
func New() *FS {
	fs := &FS{}
	fs.Root = NewFolderNode("", nil)
	fs.Root.Mount = fs
	return fs
}

// resolveFolder walks segs, taking the folder's shared lock at each step,
// and returns the folder Node at the end of the walk.
func (fs *FS) resolveFolder(segs []string) (*Node, *kernel.Error) {
	cur := fs.Root
	for _, seg := range segs {
		if cur.Type != NodeFolder {
			return nil, errTraverseNonFolder
		}
		child, ok := cur.Lookup(seg)
		if !ok {
			return nil, errNotFound
		}
		cur = child
	}
	return cur, nil
}

// Lookup resolves path to its Node.
func (fs *FS) Lookup(path Path) (*Node, *kernel.Error) {
	if !VerifyPathText(string(path)) {
		return nil, errInvalidPath
	}
	return fs.resolveFolder(path.Segments())
}

// Mkdir creates an empty folder at path, failing if the parent does not
// exist, is not a folder, or a node already exists at path.
func (fs *FS) Mkdir(path Path) (*Node, *kernel.Error) {
	return fs.createChild(path, func(name string, parent *Node) *Node {
		return NewFolderNode(name, parent)
	})
}

// Create creates an empty file at path backed by ops, under the same
// parent-resolution rules as Mkdir.
func (fs *FS) Create(path Path, ops FileOps) (*Node, *kernel.Error) {
	return fs.createChild(path, func(name string, parent *Node) *Node {
		return NewFileNode(name, parent, ops)
	})
}

// Mkdevice creates a device-kind node at path exposing ops under
// GuidDevice in addition to the file operations supplied.
func (fs *FS) Mkdevice(path Path, ops FileOps, dev DeviceOps) (*Node, *kernel.Error) {
	return fs.createChild(path, func(name string, parent *Node) *Node {
		n := NewFileNode(name, parent, ops)
		n.AddDeviceInterface(dev)
		return n
	})
}

func (fs *FS) createChild(path Path, build func(name string, parent *Node) *Node) (*Node, *kernel.Error) {
	if !VerifyPathText(string(path)) || path == "" {
		return nil, errInvalidPath
	}
	segs := path.Segments()
	parent, err := fs.resolveFolder(segs[:len(segs)-1])
	if err != nil {
		return nil, err
	}
	if parent.Type != NodeFolder {
		return nil, errTraverseNonFolder
	}
	name := segs[len(segs)-1]
	child := build(name, parent)
	if !parent.folder.insert(name, child) {
		return nil, errAlreadyExists
	}
	return child, nil
}

// Mkpath recursively creates any missing folders along path, succeeding
// without error if every segment already exists as a folder.
func (fs *FS) Mkpath(path Path) (*Node, *kernel.Error) {
	if !VerifyPathText(string(path)) {
		return nil, errInvalidPath
	}
	cur := fs.Root
	for _, seg := range path.Segments() {
		if cur.Type != NodeFolder {
			return nil, errTraverseNonFolder
		}
		child, ok := cur.Lookup(seg)
		if !ok {
			child = NewFolderNode(seg, cur)
			if !cur.folder.insert(seg, child) {
				// lost a race with a concurrent Mkpath/Mkdir; re-read.
				child, ok = cur.Lookup(seg)
				if !ok {
					return nil, errAlreadyExists
				}
			}
		}
		cur = child
	}
	return cur, nil
}

// Open resolves path to a file-kind node and returns its FileOps.
func (fs *FS) Open(path Path) (*Node, FileOps, *kernel.Error) {
	n, err := fs.Lookup(path)
	if err != nil {
		return nil, nil, err
	}
	if n.Type != NodeFile {
		return nil, nil, errInvalidType
	}
	ops, _ := n.Query(GuidFile).(FileOps)
	if ops == nil {
		return nil, nil, errInterfaceNotSupported
	}
	return n, ops, nil
}

// Opendir resolves path to a folder-kind node and returns its FolderOps.
func (fs *FS) Opendir(path Path) (*Node, FolderOps, *kernel.Error) {
	n, err := fs.Lookup(path)
	if err != nil {
		return nil, nil, err
	}
	if n.Type != NodeFolder {
		return nil, nil, errInvalidType
	}
	return n, n.folder, nil
}

// Device resolves path to a device-kind node and returns its DeviceOps.
func (fs *FS) Device(path Path) (*Node, DeviceOps, *kernel.Error) {
	n, err := fs.Lookup(path)
	if err != nil {
		return nil, nil, err
	}
	ops, _ := n.Query(GuidDevice).(DeviceOps)
	if ops == nil {
		return nil, nil, errInterfaceNotSupported
	}
	return n, ops, nil
}

// Remove deletes the file or link at path.
func (fs *FS) Remove(path Path) *kernel.Error {
	n, err := fs.Lookup(path)
	if err != nil {
		return err
	}
	if n.Type == NodeFolder {
		return errInvalidType
	}
	return fs.unlink(n)
}

// Rmdir deletes the empty folder at path.
func (fs *FS) Rmdir(path Path) *kernel.Error {
	n, err := fs.Lookup(path)
	if err != nil {
		return err
	}
	if n.Type != NodeFolder {
		return errInvalidType
	}
	if len(n.folder.Entries()) > 0 {
		return errAlreadyExists
	}
	return fs.unlink(n)
}

func (fs *FS) unlink(n *Node) *kernel.Error {
	if n.Parent == nil {
		return errInvalidType
	}
	if _, ok := n.Parent.folder.remove(n.Name); !ok {
		return errNotFound
	}
	return nil
}

// AddMount attaches driver's mount root at path, which must name an entry
// that does not yet exist under an existing parent folder.
func (fs *FS) AddMount(driver MountDriver, path Path) (*Node, *kernel.Error) {
	root, err := driver.Mount()
	if err != nil {
		return nil, err
	}
	return fs.attachMount(root, path)
}

// AddMountWithParams calls driver.CreateMount(params) to obtain the mount
// root before attaching it at path, for drivers that need caller-supplied
// mount-time state (tarfs's backing image bytes).
func (fs *FS) AddMountWithParams(driver ParamMountDriver, path Path, params interface{}) (*Node, *kernel.Error) {
	root, err := driver.CreateMount(params)
	if err != nil {
		return nil, err
	}
	return fs.attachMount(root, path)
}

func (fs *FS) attachMount(root *Node, path Path) (*Node, *kernel.Error) {
	if !VerifyPathText(string(path)) || path == "" {
		return nil, errInvalidPath
	}
	segs := path.Segments()
	parent, err := fs.resolveFolder(segs[:len(segs)-1])
	if err != nil {
		return nil, err
	}
	if parent.Type != NodeFolder {
		return nil, errTraverseNonFolder
	}
	name := segs[len(segs)-1]
	root.Name = name
	root.Parent = parent
	root.Mount = fs
	if !parent.folder.insert(name, root) {
		return nil, errAlreadyExists
	}
	return root, nil
}
