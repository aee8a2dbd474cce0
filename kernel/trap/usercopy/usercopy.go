// Package usercopy is the user-memory bridge: every syscall handler that
// touches a userspace pointer goes through here first, never dereferences
// a user address directly. Range overflow is checked before the mapping
// is walked, and the mapping is walked before any byte is copied,
// matching spec.md §4.7 and the testable property in §8 ("overflow ⇒
// InvalidSpan; any unmapped page ⇒ InvalidAddress").
package usercopy

import (
	"unsafe"

	"nyx/kernel"
	"nyx/kernel/mem"
	"nyx/kernel/mm/vmm"
)

var (
	errInvalidSpan    = &kernel.Error{Module: "usercopy", Message: "range overflows or is reversed", Status: kernel.StatusInvalidSpan}
	errInvalidAddress = &kernel.Error{Module: "usercopy", Message: "address is not mapped with the required rights", Status: kernel.StatusInvalidAddress}
)

// canonicalUserLimit is the first non-canonical address above the user
// half of a 4-level (48-bit virtual) address space: every legal user
// address satisfies 0 <= addr < canonicalUserLimit.
const canonicalUserLimit = uintptr(1) << 47

// isCanonicalUser reports whether addr falls in the canonical user half
// of the address space (the lower half of a 48-bit virtual address
// space; the kernel lives in the sign-extended upper half).
func isCanonicalUser(addr uintptr) bool {
	return addr < canonicalUserLimit
}

// RequiredFlags describes the minimum rights a range must carry for an
// access to be legal: every page must be present and user-accessible,
// plus writable when the caller sets Write.
type RequiredFlags struct {
	Write bool
}

// IsRangeMapped reports whether every page in [begin, end) is mapped
// with at least flagsRequired, and that begin and end are themselves
// canonical user addresses. It does not itself check for overflow in
// begin/end — CopyUserMemory and friends do that first, since an
// already-overflowed range is an InvalidSpan, not an InvalidAddress.
func IsRangeMapped(as *vmm.AddressSpace, begin, end uintptr, flagsRequired RequiredFlags) bool {
	if !isCanonicalUser(begin) || !isCanonicalUser(end) {
		return false
	}
	if begin >= end {
		return false
	}
	for page := mem.AlignDown(begin, mem.PageSize); page < end; page += mem.PageSize {
		flags, err := as.GetMemoryFlags(page)
		if err != nil {
			return false
		}
		if !flags.User {
			return false
		}
		if flagsRequired.Write && !flags.Write {
			return false
		}
	}
	return true
}

// span validates that [front, front+size) does not overflow uintptr and
// is not reversed, returning the computed end on success.
func span(front, size uintptr) (end uintptr, err *kernel.Error) {
	end = front + size
	if end < front {
		return 0, errInvalidSpan
	}
	return end, nil
}

// kernelPointer translates a validated, mapped user virtual address into
// a kernel-accessible pointer through the HHDM, exactly as vmm's own
// tableAt reaches page table pages.
func kernelPointer(as *vmm.AddressSpace, userAddr uintptr) (unsafe.Pointer, *kernel.Error) {
	page := mem.AlignDown(userAddr, mem.PageSize)
	phys, err := as.GetBackingAddress(page)
	if err != nil {
		return nil, errInvalidAddress
	}
	offset := userAddr - page
	return unsafe.Pointer(as.HHDMOffset() + uintptr(phys) + offset), nil
}

// ReadUserMemory copies len(dst) bytes starting at userAddr into dst.
func ReadUserMemory(as *vmm.AddressSpace, dst []byte, userAddr uintptr) *kernel.Error {
	end, err := span(userAddr, uintptr(len(dst)))
	if err != nil {
		return err
	}
	if !IsRangeMapped(as, userAddr, end, RequiredFlags{}) {
		return errInvalidAddress
	}
	return copyAcrossPages(as, dst, userAddr, false)
}

// WriteUserMemory copies src into the range starting at userAddr.
func WriteUserMemory(as *vmm.AddressSpace, userAddr uintptr, src []byte) *kernel.Error {
	end, err := span(userAddr, uintptr(len(src)))
	if err != nil {
		return err
	}
	if !IsRangeMapped(as, userAddr, end, RequiredFlags{Write: true}) {
		return errInvalidAddress
	}
	return copyAcrossPages(as, src, userAddr, true)
}

// CopyUserMemory copies size bytes from srcUser to dstUser, both user
// addresses, via a kernel-side staging buffer — a direct user-to-user
// copy would have to hold two page table walks live at once for no
// benefit, since neither address is trusted.
func CopyUserMemory(as *vmm.AddressSpace, dstUser, srcUser, size uintptr) *kernel.Error {
	buf := make([]byte, size)
	if err := ReadUserMemory(as, buf, srcUser); err != nil {
		return err
	}
	return WriteUserMemory(as, dstUser, buf)
}

// copyAcrossPages moves buf to or from the user range starting at
// userAddr, one page at a time since consecutive user pages are not
// necessarily physically contiguous. toUser selects the direction: false
// reads user memory into buf, true writes buf into user memory.
func copyAcrossPages(as *vmm.AddressSpace, buf []byte, userAddr uintptr, toUser bool) *kernel.Error {
	remaining := buf
	addr := userAddr
	for len(remaining) > 0 {
		page := mem.AlignDown(addr, mem.PageSize)
		chunk := uintptr(mem.PageSize) - (addr - page)
		if chunk > uintptr(len(remaining)) {
			chunk = uintptr(len(remaining))
		}

		ptr, err := kernelPointer(as, addr)
		if err != nil {
			return err
		}
		userSide := unsafe.Slice((*byte)(ptr), chunk)
		if toUser {
			copy(userSide, remaining[:chunk])
		} else {
			copy(remaining[:chunk], userSide)
		}

		remaining = remaining[chunk:]
		addr += chunk
	}
	return nil
}
