// Package tarfs implements a read-only VFS driver over a POSIX ustar
// archive image held entirely in memory. The archive's path → node tree
// is built once at mount time from the flat sequence of 512-byte header
// blocks; there is no streaming, and the archive is never modified.
//
// archive/tar is not used here: its API is built around sequential
// io.Reader extraction, while a mount needs the whole path → (header,
// offset) map resolved up front against an in-memory block device image
// that is never read again as a stream.
package tarfs

import (
	"strings"

	"nyx/kernel"
	"nyx/kernel/vfs"
)

const (
	blockSize   = 512
	nameOffset  = 0
	nameSize    = 100
	sizeOffset  = 124
	sizeSize    = 12
	chksumOffset = 148
	chksumSize  = 8
	typeOffset  = 156
)

const (
	typeRegular = '0'
	typeAuxNull = 0
	typeFolder  = '5'
)

var (
	errInvalidData     = &kernel.Error{Module: "tarfs", Message: "archive image is not a multiple of the header block size", Status: kernel.StatusInvalidData}
	errChecksumMismatch = &kernel.Error{Module: "tarfs", Message: "header checksum does not match its recorded value", Status: kernel.StatusChecksumError}
)

// ActualChecksum computes the ustar header checksum: the unsigned sum of
// all 512 header bytes, with the 8-byte checksum field itself treated as
// if it held ASCII spaces.
func ActualChecksum(header []byte) uint32 {
	var sum uint32
	for i := 0; i < blockSize; i++ {
		if i >= chksumOffset && i < chksumOffset+chksumSize {
			sum += uint32(' ')
			continue
		}
		sum += uint32(header[i])
	}
	return sum
}

// recordedChecksum parses the octal checksum field, which is stored as a
// NUL/space-terminated ASCII octal string.
func recordedChecksum(header []byte) uint32 {
	field := header[chksumOffset : chksumOffset+chksumSize]
	return parseOctal(field)
}

func parseOctal(field []byte) uint32 {
	var v uint32
	for _, b := range field {
		if b < '0' || b > '7' {
			break
		}
		v = v*8 + uint32(b-'0')
	}
	return v
}

func headerName(header []byte) string {
	raw := header[nameOffset : nameOffset+nameSize]
	if i := indexZero(raw); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func headerSize(header []byte) int64 {
	return int64(parseOctal(header[sizeOffset : sizeOffset+sizeSize]))
}

// file is a read-only view into a fixed window of the archive image.
type file struct {
	image []byte
	start int64
	size  int64
}

func (f *file) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset < 0 {
		return 0, nil
	}
	if offset >= f.size {
		return 0, nil
	}
	end := offset + int64(len(buf))
	if end > f.size {
		end = f.size
	}
	n := copy(buf, f.image[f.start+offset:f.start+end])
	return n, nil
}

func (f *file) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	return 0, &kernel.Error{Module: "tarfs", Message: "archive is read-only", Status: kernel.StatusNotSupported}
}

func (f *file) Size() int64 { return f.size }

// toVFSPath translates a tar '/'-separated path into the VFS's '\0'
// separator, dropping any trailing '/' that ustar uses to mark folders.
func toVFSPath(tarPath string) vfs.Path {
	tarPath = strings.TrimSuffix(tarPath, "/")
	tarPath = strings.Trim(tarPath, "/")
	if tarPath == "" {
		return ""
	}
	return vfs.Path(strings.ReplaceAll(tarPath, "/", "\x00"))
}

// Params configures a tarfs mount.
type Params struct {
	Image          []byte
	IgnoreChecksum bool
}

// Driver is a vfs.ParamMountDriver: its mount root is built from the
// archive image supplied via Params.
type Driver struct{}

func (Driver) Name() string { return "tarfs" }

// Mount is not supported directly: tarfs always needs a backing image,
// supplied via CreateMount/AddMountWithParams.
func (Driver) Mount() (*vfs.Node, *kernel.Error) {
	return nil, &kernel.Error{Module: "tarfs", Message: "tarfs requires mount parameters (the archive image)", Status: kernel.StatusNotSupported}
}

func (Driver) CreateMount(params interface{}) (*vfs.Node, *kernel.Error) {
	p, ok := params.(Params)
	if !ok {
		return nil, &kernel.Error{Module: "tarfs", Message: "CreateMount requires tarfs.Params", Status: kernel.StatusInvalidInput}
	}
	return Parse(p.Image, p.IgnoreChecksum)
}

// Parse builds the full node tree for image, an in-memory ustar archive.
// A zero-filled header block (or the end of the image) marks the
// archive's end.
func Parse(image []byte, ignoreChecksum bool) (*vfs.Node, *kernel.Error) {
	if len(image)%blockSize != 0 {
		return nil, errInvalidData
	}
	root := vfs.NewFolderNode("", nil)

	off := 0
	for off+blockSize <= len(image) {
		header := image[off : off+blockSize]
		if isZeroBlock(header) {
			break
		}
		if !ignoreChecksum {
			if ActualChecksum(header) != recordedChecksum(header) {
				return nil, errChecksumMismatch
			}
		}

		name := headerName(header)
		typeflag := header[typeOffset]
		size := headerSize(header)
		dataStart := int64(off + blockSize)
		dataBlocks := int((size + blockSize - 1) / blockSize)

		switch typeflag {
		case typeRegular, typeAuxNull:
			if path := toVFSPath(name); path != "" {
				parent := mkpathFolders(root, path.Parent())
				f := &file{image: image, start: dataStart, size: size}
				parent.InsertChild(path.Name(), vfs.NewFileNode(path.Name(), parent, f))
			}
		case typeFolder:
			if path := toVFSPath(name); path != "" {
				mkpathFolders(root, path)
			}
		default:
			// unsupported typeflag (symlink, device, etc.): ignored per
			// the mapping rule, '0'/'5' are the only recognized kinds.
		}

		off += blockSize + dataBlocks*blockSize
	}

	return root, nil
}

func isZeroBlock(header []byte) bool {
	for _, b := range header {
		if b != 0 {
			return false
		}
	}
	return true
}

// mkpathFolders ensures every folder segment of path exists under root,
// creating any that are missing, and returns the deepest folder.
func mkpathFolders(root *vfs.Node, path vfs.Path) *vfs.Node {
	cur := root
	for _, seg := range path.Segments() {
		child, ok := cur.Lookup(seg)
		if !ok {
			child = vfs.NewFolderNode(seg, cur)
			cur.InsertChild(seg, child)
		}
		cur = child
	}
	return cur
}
