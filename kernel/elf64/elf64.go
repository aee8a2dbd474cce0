// Package elf64 loads the PT_LOAD segments of a class-2 little-endian ELF
// image into a process's address space. It is invoked from ProcessCreate,
// above the syscall trap boundary, so unlike the packages below it it
// returns a plain error rather than a *kernel.Error.
package elf64

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"nyx/kernel/mem"
	"nyx/kernel/mm/pmm"
	"nyx/kernel/mm/vaa"
	"nyx/kernel/mm/vmm"
)

const (
	identSize = 16

	classELF64  = 2
	dataLSB     = 1
	machineX8664 = 62

	ehdrSize = 64
	phdrSize = 56

	ptLoad = 1

	pfExecute = 1 << 0
	pfWrite   = 1 << 1
)

var magic = [4]byte{0x7f, 'E', 'L', 'F'}

var (
	errNotELF        = errors.New("elf64: image does not start with the ELF magic")
	errWrongClass    = errors.New("elf64: only 64-bit (ELFCLASS64) images are supported")
	errWrongEndian   = errors.New("elf64: only little-endian (ELFDATA2LSB) images are supported")
	errWrongMachine  = errors.New("elf64: only x86-64 images are supported")
	errTruncated     = errors.New("elf64: image is too short for its own header")
)

// Mapping records one page-table mapping LoadSegments installed, so the
// caller (ProcessCreate) can track the process's address-space footprint
// without re-deriving it from the ELF image later.
type Mapping struct {
	Virt uintptr
	Phys pmm.PhysAddr
	Size uintptr
}

// header is the subset of Elf64_Ehdr LoadSegments needs.
type header struct {
	entry  uint64
	phoff  uint64
	phnum  uint16
	phsize uint16
}

func parseHeader(image []byte) (header, error) {
	if len(image) < ehdrSize {
		return header{}, errTruncated
	}
	if [4]byte(image[:4]) != magic {
		return header{}, errNotELF
	}
	if image[4] != classELF64 {
		return header{}, errWrongClass
	}
	if image[5] != dataLSB {
		return header{}, errWrongEndian
	}
	machine := binary.LittleEndian.Uint16(image[18:20])
	if machine != machineX8664 {
		return header{}, errWrongMachine
	}
	h := header{
		entry:  binary.LittleEndian.Uint64(image[24:32]),
		phoff:  binary.LittleEndian.Uint64(image[32:40]),
		phsize: binary.LittleEndian.Uint16(image[54:56]),
		phnum:  binary.LittleEndian.Uint16(image[56:58]),
	}
	if h.phsize != 0 && h.phsize < phdrSize {
		return header{}, fmt.Errorf("elf64: program header entry size %d is smaller than %d", h.phsize, phdrSize)
	}
	return h, nil
}

// programHeader is the subset of Elf64_Phdr LoadSegments needs.
type programHeader struct {
	kind   uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

func parseProgramHeader(raw []byte) programHeader {
	return programHeader{
		kind:   binary.LittleEndian.Uint32(raw[0:4]),
		flags:  binary.LittleEndian.Uint32(raw[4:8]),
		offset: binary.LittleEndian.Uint64(raw[8:16]),
		vaddr:  binary.LittleEndian.Uint64(raw[16:24]),
		filesz: binary.LittleEndian.Uint64(raw[32:40]),
		memsz:  binary.LittleEndian.Uint64(raw[40:48]),
	}
}

// LoadSegments parses image's ELF64 header and program header table, maps
// a fresh set of physical frames for every PT_LOAD segment into as at its
// requested virtual address, copies the segment's file-backed bytes in
// (zero-filling the rest, covering the bss tail when memsz > filesz), and
// reserves the mapped range in space so it is never handed out again by a
// later first-fit allocation.
//
// Each mapping's Write/NoExecute bits are derived from the segment's own
// p_flags (PF_W, PF_X), so a read-only .text or .rodata segment stays
// unwritable in the mapped address space. The file-backed bytes are
// still copied in regardless: copyPageContents reaches the frame through
// the HHDM, not through this user-visible mapping, so a read-only
// segment's initial contents are unaffected by its own permission bits.
func LoadSegments(as *vmm.AddressSpace, image []byte, frames *pmm.Allocator, space *vaa.Allocator) ([]Mapping, error) {
	hdr, err := parseHeader(image)
	if err != nil {
		return nil, err
	}

	var mappings []Mapping
	for i := uint16(0); i < hdr.phnum; i++ {
		phOff := hdr.phoff + uint64(i)*uint64(hdr.phsize)
		if phOff+phdrSize > uint64(len(image)) {
			return nil, errTruncated
		}
		ph := parseProgramHeader(image[phOff : phOff+phdrSize])
		if ph.kind != ptLoad {
			continue
		}
		segMappings, err := loadSegment(as, image, ph, frames, space)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, segMappings...)
	}
	return mappings, nil
}

// Entry returns image's requested initial instruction pointer.
func Entry(image []byte) (uintptr, error) {
	hdr, err := parseHeader(image)
	if err != nil {
		return 0, err
	}
	return uintptr(hdr.entry), nil
}

func loadSegment(as *vmm.AddressSpace, image []byte, ph programHeader, frames *pmm.Allocator, space *vaa.Allocator) ([]Mapping, error) {
	if ph.memsz == 0 {
		return nil, nil
	}
	segStart := mem.AlignDown(uintptr(ph.vaddr), mem.PageSize)
	segEnd := mem.AlignUp(uintptr(ph.vaddr)+uintptr(ph.memsz), mem.PageSize)
	pageCount := (segEnd - segStart) / mem.PageSize

	space.MarkUsed(vaa.Range{Front: vaa.VirtAddr(segStart), Back: vaa.VirtAddr(segEnd)})

	flags := vmm.MapFlags{Write: ph.flags&pfWrite != 0, User: true, NoExecute: ph.flags&pfExecute == 0}

	mappings := make([]Mapping, 0, pageCount)
	for page := uintptr(0); page < pageCount; page++ {
		virt := segStart + page*mem.PageSize
		phys, ferr := frames.Alloc4k(1)
		if ferr != nil {
			return nil, ferr
		}
		if merr := as.Map(virt, phys, flags); merr != nil {
			return nil, merr
		}
		copyPageContents(as, virt, phys, image, ph)
		mappings = append(mappings, Mapping{Virt: virt, Phys: phys, Size: mem.PageSize})
	}
	return mappings, nil
}

// hhdmBytes views the size bytes of physical memory starting at phys
// through the direct physical map, the same access path kernel/trap/
// usercopy uses to reach a user page without a temporary mapping.
func hhdmBytes(hhdmOffset uintptr, phys pmm.PhysAddr, size uintptr) []byte {
	addr := hhdmOffset + uintptr(phys)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// copyPageContents fills the page at virt with the portion of the
// segment's file image it covers, zero-filling any byte beyond p_filesz
// (the bss tail, or padding before/after an unaligned segment start).
func copyPageContents(as *vmm.AddressSpace, virt uintptr, phys pmm.PhysAddr, image []byte, ph programHeader) {
	dst := hhdmBytes(as.HHDMOffset(), phys, mem.PageSize)
	for i := range dst {
		dst[i] = 0
	}

	pageVAddrStart := uint64(virt)
	segVAddr := ph.vaddr
	fileStart := ph.offset
	fileEnd := ph.offset + ph.filesz
	segMemVAddrEnd := segVAddr + ph.filesz // end of the file-backed region in vaddr space

	for off := uint64(0); off < uint64(mem.PageSize); off++ {
		vaddr := pageVAddrStart + off
		if vaddr < segVAddr || vaddr >= segMemVAddrEnd {
			continue
		}
		fileOff := fileStart + (vaddr - segVAddr)
		if fileOff >= fileEnd || fileOff >= uint64(len(image)) {
			continue
		}
		dst[off] = image[fileOff]
	}
}
