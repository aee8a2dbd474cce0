// Package kernel provides the types shared by every kernel subsystem: the
// OsStatus result code, the allocation-free panic path, and a handful of
// memory primitives that are needed before the Go allocator (the TLSF heap)
// is available.
package kernel

// Status is the closed set of result codes returned by every fallible kernel
// function. There is no exception propagation across the kernel boundary;
// a Status is always returned by value, never wrapped or annotated, so that
// callers can compare it directly against the sentinels below.
type Status uint32

// The closed set of OsStatus values from the syscall ABI. Ordering is
// arbitrary; callers must compare by value, never by ordinal range.
const (
	StatusSuccess Status = iota
	StatusOutOfMemory
	StatusNotFound
	StatusInvalidInput
	StatusNotSupported
	StatusAlreadyExists
	StatusTraverseNonFolder
	StatusInvalidType
	StatusHandleLocked
	StatusInvalidPath
	StatusInvalidFunction
	StatusEndOfFile
	StatusInvalidData
	StatusInvalidVersion
	StatusTimeout
	StatusOutOfBounds
	StatusMoreData
	StatusChecksumError
	StatusInvalidHandle
	StatusInvalidAddress
	StatusInvalidSpan
	StatusDeviceFault
	StatusDeviceBusy
	StatusDeviceNotReady
	StatusInterfaceNotSupported
	StatusFunctionNotSupported
	StatusCompleted
	StatusAccessDenied
	StatusProcessOrphaned
	StatusNotAvailable
)

var statusNames = map[Status]string{
	StatusSuccess:               "Success",
	StatusOutOfMemory:           "OutOfMemory",
	StatusNotFound:              "NotFound",
	StatusInvalidInput:          "InvalidInput",
	StatusNotSupported:          "NotSupported",
	StatusAlreadyExists:         "AlreadyExists",
	StatusTraverseNonFolder:     "TraverseNonFolder",
	StatusInvalidType:           "InvalidType",
	StatusHandleLocked:          "HandleLocked",
	StatusInvalidPath:           "InvalidPath",
	StatusInvalidFunction:       "InvalidFunction",
	StatusEndOfFile:             "EndOfFile",
	StatusInvalidData:           "InvalidData",
	StatusInvalidVersion:        "InvalidVersion",
	StatusTimeout:               "Timeout",
	StatusOutOfBounds:           "OutOfBounds",
	StatusMoreData:              "MoreData",
	StatusChecksumError:         "ChecksumError",
	StatusInvalidHandle:         "InvalidHandle",
	StatusInvalidAddress:        "InvalidAddress",
	StatusInvalidSpan:           "InvalidSpan",
	StatusDeviceFault:           "DeviceFault",
	StatusDeviceBusy:            "DeviceBusy",
	StatusDeviceNotReady:        "DeviceNotReady",
	StatusInterfaceNotSupported: "InterfaceNotSupported",
	StatusFunctionNotSupported:  "FunctionNotSupported",
	StatusCompleted:             "Completed",
	StatusAccessDenied:          "AccessDenied",
	StatusProcessOrphaned:       "ProcessOrphaned",
	StatusNotAvailable:          "NotAvailable",
}

// String implements fmt.Stringer. It never allocates beyond the map lookup,
// which only occurs when formatting for diagnostics.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

// Error describes a kernel-internal error. All kernel errors are defined as
// package-level variables that are pointers to Error so that returning one
// never allocates: the Go allocator is not available during early boot, and
// after boot it is the TLSF heap this very package helps bootstrap.
type Error struct {
	// Module names the subsystem that raised the error.
	Module string
	// Message is a short, human-readable description.
	Message string
	// Status is the OsStatus this error corresponds to at the syscall
	// boundary.
	Status Status
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
