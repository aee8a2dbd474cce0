package abi

import "encoding/binary"

// ThreadControlOp selects the operation ThreadControl performs on its
// target handle.
type ThreadControlOp uint8

const (
	ThreadControlSuspend ThreadControlOp = iota
	ThreadControlResume
)

// ProcessCreateInfoSize is the encoded size of ProcessCreateInfo, the
// record ProcessCreate's createInfo argument points at.
const ProcessCreateInfoSize = 16

// ProcessCreateInfo names the ELF image ProcessCreate should load: a
// user-memory span, not the bytes themselves, so the kernel pulls them
// in through the usual usercopy path rather than trusting a raw pointer
// baked into the syscall registers.
type ProcessCreateInfo struct {
	ImageFront uint64
	ImageBack  uint64
}

// Encode renders info in the fixed little-endian layout DecodeProcessCreateInfo reads back.
func (info ProcessCreateInfo) Encode() []byte {
	buf := make([]byte, ProcessCreateInfoSize)
	binary.LittleEndian.PutUint64(buf[0:8], info.ImageFront)
	binary.LittleEndian.PutUint64(buf[8:16], info.ImageBack)
	return buf
}

// DecodeProcessCreateInfo parses a ProcessCreateInfoSize-byte record.
func DecodeProcessCreateInfo(buf []byte) ProcessCreateInfo {
	return ProcessCreateInfo{
		ImageFront: binary.LittleEndian.Uint64(buf[0:8]),
		ImageBack:  binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// ThreadCreateInfoSize is the encoded size of ThreadCreateInfo.
const ThreadCreateInfoSize = 16

// ThreadCreateInfo is the createInfo record ThreadCreate reads: the new
// thread's initial instruction pointer and stack pointer.
type ThreadCreateInfo struct {
	EntryPoint   uint64
	StackPointer uint64
}

// Encode renders info in the fixed little-endian layout DecodeThreadCreateInfo reads back.
func (info ThreadCreateInfo) Encode() []byte {
	buf := make([]byte, ThreadCreateInfoSize)
	binary.LittleEndian.PutUint64(buf[0:8], info.EntryPoint)
	binary.LittleEndian.PutUint64(buf[8:16], info.StackPointer)
	return buf
}

// DecodeThreadCreateInfo parses a ThreadCreateInfoSize-byte record.
func DecodeThreadCreateInfo(buf []byte) ThreadCreateInfo {
	return ThreadCreateInfo{
		EntryPoint:   binary.LittleEndian.Uint64(buf[0:8]),
		StackPointer: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// FileStatSize is the encoded size of FileStatInfo.
const FileStatSize = 8

// FileStatInfo is the record FileStat's outStat argument points at.
type FileStatInfo struct {
	Size int64
}

// Encode renders s in the fixed little-endian layout DecodeFileStat reads back.
func (s FileStatInfo) Encode() []byte {
	buf := make([]byte, FileStatSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.Size))
	return buf
}

// DecodeFileStat parses a FileStatSize-byte record.
func DecodeFileStat(buf []byte) FileStatInfo {
	return FileStatInfo{Size: int64(binary.LittleEndian.Uint64(buf[0:8]))}
}

// dirEntryNameCap bounds how much of an entry's name DirNext will copy
// out; VFS names longer than this are truncated in the returned record
// (the node itself is unaffected).
const dirEntryNameCap = 220

// DirEntrySize is the encoded size of DirEntry.
const DirEntrySize = 4 + 1 + dirEntryNameCap

// DirEntry is the record DirNext's outEntry argument points at.
type DirEntry struct {
	Name     string
	IsFolder bool
}

// Encode renders e in the fixed little-endian layout DecodeDirEntry reads
// back, truncating Name to dirEntryNameCap bytes.
func (e DirEntry) Encode() []byte {
	name := e.Name
	if len(name) > dirEntryNameCap {
		name = name[:dirEntryNameCap]
	}
	buf := make([]byte, DirEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(name)))
	if e.IsFolder {
		buf[4] = 1
	}
	copy(buf[5:], name)
	return buf
}

// DecodeDirEntry parses a DirEntrySize-byte record.
func DecodeDirEntry(buf []byte) DirEntry {
	n := binary.LittleEndian.Uint32(buf[0:4])
	if n > dirEntryNameCap {
		n = dirEntryNameCap
	}
	return DirEntry{
		Name:     string(buf[5 : 5+n]),
		IsFolder: buf[4] != 0,
	}
}
