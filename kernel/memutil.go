package kernel

import "unsafe"

// Memset sets size bytes starting at addr to value. It operates on raw
// addresses rather than a []byte because callers in the page-frame and
// virtual-memory allocators only have a physical or virtual address, not a
// Go slice header, to work with.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}
	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The two ranges must not
// overlap; callers that need overlap-safe semantics should use the copy
// builtin on a properly overlaid slice instead.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}
	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), size)
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstSlice, srcSlice)
}
