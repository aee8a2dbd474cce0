package trap

import (
	"sync/atomic"
	"unsafe"

	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/elf64"
	"nyx/kernel/mem"
	"nyx/kernel/mm/pmm"
	"nyx/kernel/mm/vaa"
	"nyx/kernel/mm/vmm"
	"nyx/kernel/sched"
	"nyx/kernel/trap/usercopy"
	"nyx/kernel/vfs"
	"nyx/kernel/vfs/ramfs"
)

// Dependencies bundles the subsystems RegisterDefaultHandlers' syscall
// handlers close over: the root filesystem, the physical frame
// allocator a freshly created process's address space draws from, and
// the slice of virtual address space handed to every new process's VAA.
type Dependencies struct {
	RootFS     *vfs.FS
	Frames     *pmm.Allocator
	HHDMOffset uintptr
	PAT        vmm.PageAttributeTable
	UserBase   uintptr
	UserLimit  uintptr
}

var deps Dependencies

var (
	errSpanReversed       = &kernel.Error{Module: "trap", Message: "span is reversed", Status: kernel.StatusInvalidSpan}
	errNotAnOpenFile      = &kernel.Error{Module: "trap", Message: "handle is not an open file", Status: kernel.StatusInvalidType}
	errNotATransaction    = &kernel.Error{Module: "trap", Message: "handle is not a transaction", Status: kernel.StatusInvalidType}
	errTransactionSettled = &kernel.Error{Module: "trap", Message: "transaction has already been settled", Status: kernel.StatusNotAvailable}
)

// nextProcessID, nextThreadID mint globally unique ids across every
// process/thread this kernel instance creates, independent of a Table's
// own per-type handle id counters.
var (
	nextProcessID atomic.Uint64
	nextThreadID  atomic.Uint64
)

// RegisterDefaultHandlers installs the syscall surface from spec.md §6
// against d, overwriting any previous registration. Kmain calls this
// once, after InitScheduler, with the subsystems it just built.
func RegisterDefaultHandlers(d Dependencies) {
	deps = d

	RegisterSyscall(abi.FileOpen, handleFileOpen)
	RegisterSyscall(abi.FileClose, handleFileClose)
	RegisterSyscall(abi.FileRead, handleFileRead)
	RegisterSyscall(abi.FileWrite, handleFileWrite)
	RegisterSyscall(abi.FileSeek, handleFileSeek)
	RegisterSyscall(abi.FileStat, handleFileStat)

	RegisterSyscall(abi.DirIter, handleDirIter)
	RegisterSyscall(abi.DirNext, handleDirNext)

	RegisterSyscall(abi.ProcessGetCurrent, handleProcessGetCurrent)
	RegisterSyscall(abi.ProcessCreate, handleProcessCreate)
	RegisterSyscall(abi.ProcessExit, handleProcessExit)

	RegisterSyscall(abi.ThreadGetCurrent, handleThreadGetCurrent)
	RegisterSyscall(abi.ThreadCreate, handleThreadCreate)
	RegisterSyscall(abi.ThreadControl, handleThreadControl)
	RegisterSyscall(abi.ThreadDestroy, handleThreadDestroy)

	RegisterSyscall(abi.TransactionBegin, handleTransactionBegin)
	RegisterSyscall(abi.TransactionCommit, handleTransactionCommit)
	RegisterSyscall(abi.TransactionRollback, handleTransactionRollback)
}

func fail(status kernel.Status) abi.CallResult { return abi.CallResult{Status: status} }

func ok(value uint64) abi.CallResult { return abi.CallResult{Status: kernel.StatusSuccess, Value: value} }

// currentThread returns the calling CPU's current thread, or nil if
// nothing is scheduled yet (the boot path, before Kmain seeds the boot
// thread with SetCurrentThread).
func currentThread() *sched.Thread {
	return sched.CurrentScheduler().CurrentThread()
}

// currentProcess resolves currentThread to its owning process, or nil
// under the same conditions currentThread returns nil.
func currentProcess() *sched.Process {
	th := currentThread()
	if th == nil {
		return nil
	}
	return th.Process()
}

func toKernelStatus(err error) kernel.Status {
	if kerr, ok := err.(*kernel.Error); ok {
		return kerr.Status
	}
	return kernel.StatusInvalidData
}

// readUserBytes reads a caller-supplied user-memory span into a fresh
// kernel-owned buffer.
func readUserBytes(proc *sched.Process, front, back uint64) ([]byte, *kernel.Error) {
	if back < front {
		return nil, errSpanReversed
	}
	buf := make([]byte, back-front)
	if err := usercopy.ReadUserMemory(proc.AddressSpace, buf, uintptr(front)); err != nil {
		return nil, err
	}
	return buf, nil
}

// openFile adapts a resolved VFS node to handle.Object, tracking the
// current stream position FileRead/FileWrite/FileSeek operate relative
// to — the Node itself is offset-free; every FileOps call takes an
// explicit offset, so something above it has to remember where the
// last operation left off.
type openFile struct {
	node *vfs.Node
	ops  vfs.FileOps
	pos  int64
}

func (f *openFile) Kind() abi.HandleType            { return abi.HandleNode }
func (f *openFile) Signaled() (bool, kernel.Status) { return true, kernel.StatusSuccess }
func (f *openFile) Release()                        {}

const openFileAccess = abi.AccessStat | abi.AccessWait | abi.AccessClone

func handleFileOpen(pathPtr, pathLen, modeArg, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	raw, err := readUserBytes(proc, pathPtr, pathPtr+pathLen)
	if err != nil {
		return fail(err.Status)
	}
	path := vfs.Path(raw)
	mode := abi.FileOpenMode(modeArg)

	node, ops, ferr := resolveOrCreate(deps.RootFS, path, mode.CreationDisposition())
	if ferr != nil {
		return fail(ferr.Status)
	}

	h := proc.Handles.Insert(&openFile{node: node, ops: ops}, openFileAccess)
	return ok(uint64(h))
}

// resolveOrCreate implements FileOpenMode's creation disposition: open
// existing, always create (replacing anything already there), or create
// only if nothing exists yet.
func resolveOrCreate(fs *vfs.FS, path vfs.Path, disposition abi.FileOpenMode) (*vfs.Node, vfs.FileOps, *kernel.Error) {
	switch disposition {
	case abi.CreateAlways:
		_ = fs.Remove(path) // best-effort; nothing to remove is not an error here
		return fs.Create(path, ramfsFileOps())
	case abi.OpenAlways:
		if n, ops, err := fs.Open(path); err == nil {
			return n, ops, nil
		}
		return fs.Create(path, ramfsFileOps())
	default: // OpenExisting, or an access-only mode with no disposition bits set
		return fs.Open(path)
	}
}

// ramfsFileOps backs a freshly created file: ramfs.NewFile builds a full
// Node, but Create wants bare FileOps, so this mirrors its file type
// through the same exported constructor and re-extracts the ops.
func ramfsFileOps() vfs.FileOps {
	n := ramfs.NewFile("", nil)
	ops, _ := n.Query(vfs.GuidFile).(vfs.FileOps)
	return ops
}

func handleFileClose(h, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	if err := proc.Handles.Close(abi.Handle(h)); err != nil {
		return fail(err.Status)
	}
	return ok(0)
}

func resolveOpenFile(proc *sched.Process, h uint64) (*openFile, *kernel.Error) {
	obj, _, err := proc.Handles.Resolve(abi.Handle(h))
	if err != nil {
		return nil, err
	}
	f, isFile := obj.(*openFile)
	if !isFile {
		return nil, errNotAnOpenFile
	}
	return f, nil
}

func handleFileRead(h, bufFront, bufBack, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	f, err := resolveOpenFile(proc, h)
	if err != nil {
		return fail(err.Status)
	}
	if bufBack < bufFront {
		return fail(kernel.StatusInvalidSpan)
	}

	buf := make([]byte, bufBack-bufFront)
	n, ferr := f.ops.ReadAt(buf, f.pos)
	if ferr != nil {
		return fail(ferr.Status)
	}
	if werr := usercopy.WriteUserMemory(proc.AddressSpace, uintptr(bufFront), buf[:n]); werr != nil {
		return fail(werr.Status)
	}
	f.pos += int64(n)
	return ok(uint64(n))
}

func handleFileWrite(h, bufFront, bufBack, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	f, err := resolveOpenFile(proc, h)
	if err != nil {
		return fail(err.Status)
	}
	buf, rerr := readUserBytes(proc, bufFront, bufBack)
	if rerr != nil {
		return fail(rerr.Status)
	}

	n, ferr := f.ops.WriteAt(buf, f.pos)
	if ferr != nil {
		return fail(ferr.Status)
	}
	f.pos += int64(n)
	return ok(uint64(n))
}

func handleFileSeek(h, modeArg, offsetArg, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	f, err := resolveOpenFile(proc, h)
	if err != nil {
		return fail(err.Status)
	}

	offset := int64(offsetArg)
	var pos int64
	switch abi.SeekMode(modeArg) {
	case abi.SeekAbsolute:
		pos = offset
	case abi.SeekRelative:
		pos = f.pos + offset
	case abi.SeekEnd:
		pos = f.ops.Size() + offset
	default:
		return fail(kernel.StatusInvalidInput)
	}
	if pos < 0 {
		return fail(kernel.StatusInvalidInput)
	}

	f.pos = pos
	return ok(uint64(pos))
}

func handleFileStat(h, outStatPtr, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	f, err := resolveOpenFile(proc, h)
	if err != nil {
		return fail(err.Status)
	}

	stat := abi.FileStatInfo{Size: f.ops.Size()}
	if werr := usercopy.WriteUserMemory(proc.AddressSpace, uintptr(outStatPtr), stat.Encode()); werr != nil {
		return fail(werr.Status)
	}
	return ok(0)
}

// dirIterator is DirIter's returned handle: a snapshot of a folder's
// entries at the moment of the call, walked one DirNext at a time.
// Structural changes to the folder after DirIter do not retroactively
// change what this iterator yields, matching the folder generation-
// counter invalidation spec.md §5 describes for in-place iterators
// without this package needing to implement that counter itself.
type dirIterator struct {
	entries []*vfs.Node
	pos     int
}

func (d *dirIterator) Kind() abi.HandleType            { return abi.HandleNode }
func (d *dirIterator) Signaled() (bool, kernel.Status) { return true, kernel.StatusSuccess }
func (d *dirIterator) Release()                        {}

func handleDirIter(pathPtr, pathLen, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	raw, err := readUserBytes(proc, pathPtr, pathPtr+pathLen)
	if err != nil {
		return fail(err.Status)
	}

	_, folderOps, ferr := deps.RootFS.Opendir(vfs.Path(raw))
	if ferr != nil {
		return fail(ferr.Status)
	}

	h := proc.Handles.Insert(&dirIterator{entries: folderOps.Entries()}, openFileAccess)
	return ok(uint64(h))
}

func handleDirNext(h, outEntryPtr, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	obj, _, err := proc.Handles.Resolve(abi.Handle(h))
	if err != nil {
		return fail(err.Status)
	}
	iter, isIter := obj.(*dirIterator)
	if !isIter {
		return fail(kernel.StatusInvalidType)
	}
	if iter.pos >= len(iter.entries) {
		return fail(kernel.StatusCompleted)
	}

	n := iter.entries[iter.pos]
	iter.pos++
	entry := abi.DirEntry{Name: n.Name, IsFolder: n.Type == vfs.NodeFolder}
	if werr := usercopy.WriteUserMemory(proc.AddressSpace, uintptr(outEntryPtr), entry.Encode()); werr != nil {
		return fail(werr.Status)
	}
	return ok(0)
}

func handleProcessGetCurrent(_, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	h := proc.Handles.Insert(proc, abi.AccessStat|abi.AccessWait|abi.ProcessAccessIoControl)
	return ok(uint64(h))
}

func handleProcessCreate(createInfoPtr, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	raw, err := readUserBytes(proc, createInfoPtr, createInfoPtr+abi.ProcessCreateInfoSize)
	if err != nil {
		return fail(err.Status)
	}
	info := abi.DecodeProcessCreateInfo(raw)

	image, ierr := readUserBytes(proc, info.ImageFront, info.ImageBack)
	if ierr != nil {
		return fail(ierr.Status)
	}

	root, ferr := deps.Frames.Alloc4k(1)
	if ferr != nil {
		return fail(ferr.Status)
	}
	zeroFrame(deps.HHDMOffset, root)

	childSpace := vaa.New(vaa.Range{Front: vaa.VirtAddr(deps.UserBase), Back: vaa.VirtAddr(deps.UserLimit)})
	childAS := vmm.New(root, deps.HHDMOffset, func() (pmm.PhysAddr, *kernel.Error) {
		return deps.Frames.Alloc4k(1)
	}, deps.PAT)

	if _, lerr := elf64.LoadSegments(childAS, image, deps.Frames, childSpace); lerr != nil {
		return fail(toKernelStatus(lerr))
	}
	entry, eerr := elf64.Entry(image)
	if eerr != nil {
		return fail(toKernelStatus(eerr))
	}

	stack, serr := allocUserStack(childAS, childSpace)
	if serr != nil {
		return fail(serr.Status)
	}

	childProc := sched.NewProcess(nextProcessID.Add(1), "user", sched.PrivilegeUser)
	childProc.AddressSpace = childAS
	childThread := sched.NewThread(nextThreadID.Add(1), "main", childProc)
	childThread.Context().Rip = uint64(entry)
	childThread.Context().Rsp = uint64(stack)
	childProc.AddThread(childThread)
	sched.CurrentScheduler().AddWorkItem(childThread)

	h := proc.Handles.Insert(childProc, abi.AccessStat|abi.AccessWait|abi.ProcessAccessIoControl)
	return ok(uint64(h))
}

// userStackPages is the number of 4 KiB pages ProcessCreate reserves for
// a newly loaded image's initial stack.
const userStackPages = 16

// allocUserStack reserves and maps a userStackPages-sized, writable,
// non-executable range in space/as, returning the initial stack pointer
// (the top of the range, per the x86-64 convention of a downward-growing
// stack).
func allocUserStack(as *vmm.AddressSpace, space *vaa.Allocator) (uintptr, *kernel.Error) {
	rng, err := space.Alloc4k(userStackPages, 0)
	if err != nil {
		return 0, err
	}
	for page := uintptr(0); page < userStackPages; page++ {
		virt := uintptr(rng.Front) + page*mem.PageSize
		phys, ferr := deps.Frames.Alloc4k(1)
		if ferr != nil {
			return 0, ferr
		}
		if merr := as.Map(virt, phys, vmm.MapFlags{Write: true, User: true, NoExecute: true}); merr != nil {
			return 0, merr
		}
	}
	return uintptr(rng.Back), nil
}

func handleProcessExit(statusArg, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	for _, th := range proc.Threads() {
		th.Finish()
		proc.RemoveThread(th.ID)
	}
	return abi.CallResult{Status: kernel.StatusSuccess, Value: statusArg}
}

func handleThreadGetCurrent(_, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	h := proc.Handles.Insert(currentThread(), abi.AccessStat|abi.AccessWait)
	return ok(uint64(h))
}

func handleThreadCreate(createInfoPtr, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	raw, err := readUserBytes(proc, createInfoPtr, createInfoPtr+abi.ThreadCreateInfoSize)
	if err != nil {
		return fail(err.Status)
	}
	info := abi.DecodeThreadCreateInfo(raw)

	th := sched.NewThread(nextThreadID.Add(1), "thread", proc)
	th.Context().Rip = info.EntryPoint
	th.Context().Rsp = info.StackPointer
	proc.AddThread(th)
	sched.CurrentScheduler().AddWorkItem(th)

	h := proc.Handles.Insert(th, abi.AccessStat|abi.AccessWait)
	return ok(uint64(h))
}

func handleThreadControl(h, opArg, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	obj, _, err := proc.Handles.Resolve(abi.Handle(h))
	if err != nil {
		return fail(err.Status)
	}
	th, isThread := obj.(*sched.Thread)
	if !isThread {
		return fail(kernel.StatusInvalidType)
	}

	switch abi.ThreadControlOp(opArg) {
	case abi.ThreadControlSuspend:
		th.Suspend()
	case abi.ThreadControlResume:
		th.Resume()
		sched.CurrentScheduler().AddWorkItem(th)
	default:
		return fail(kernel.StatusInvalidInput)
	}
	return ok(0)
}

func handleThreadDestroy(h, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	obj, _, err := proc.Handles.Resolve(abi.Handle(h))
	if err != nil {
		return fail(err.Status)
	}
	th, isThread := obj.(*sched.Thread)
	if !isThread {
		return fail(kernel.StatusInvalidType)
	}

	proc.RemoveThread(th.ID)
	if cerr := proc.Handles.Close(abi.Handle(h)); cerr != nil {
		return fail(cerr.Status)
	}
	return ok(0)
}

// transactionState is the lifecycle of a transaction object: spec.md §6
// scopes a transaction's backing store out ("an API surface; their
// backing store is a collaborator"), so this is the handle's lifecycle
// bookkeeping alone, not a real write-ahead log.
type transactionState uint8

const (
	transactionActive transactionState = iota
	transactionCommitted
	transactionRolledBack
)

type transaction struct {
	name  string
	mode  abi.TransactionMode
	state transactionState
}

func (tx *transaction) Kind() abi.HandleType { return abi.HandleTransaction }

func (tx *transaction) Signaled() (bool, kernel.Status) {
	return tx.state != transactionActive, kernel.StatusSuccess
}

func (tx *transaction) Release() {}

func handleTransactionBegin(nameFront, nameBack, modeArg, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	name, err := readUserBytes(proc, nameFront, nameBack)
	if err != nil {
		return fail(err.Status)
	}

	tx := &transaction{name: string(name), mode: abi.TransactionMode(modeArg)}
	h := proc.Handles.Insert(tx, abi.AccessStat|abi.AccessWait)
	return ok(uint64(h))
}

func resolveTransaction(proc *sched.Process, h uint64) (*transaction, *kernel.Error) {
	obj, _, err := proc.Handles.Resolve(abi.Handle(h))
	if err != nil {
		return nil, err
	}
	tx, isTx := obj.(*transaction)
	if !isTx {
		return nil, errNotATransaction
	}
	if tx.state != transactionActive {
		return nil, errTransactionSettled
	}
	return tx, nil
}

func handleTransactionCommit(h, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	tx, err := resolveTransaction(proc, h)
	if err != nil {
		return fail(err.Status)
	}
	tx.state = transactionCommitted
	return ok(0)
}

func handleTransactionRollback(h, _, _, _ uint64) abi.CallResult {
	proc := currentProcess()
	if proc == nil {
		return fail(kernel.StatusInvalidHandle)
	}
	tx, err := resolveTransaction(proc, h)
	if err != nil {
		return fail(err.Status)
	}
	tx.state = transactionRolledBack
	return ok(0)
}

// zeroFrame clears a freshly allocated page-table frame through the HHDM
// before it is linked into any address space, so a new process's root
// table never starts out holding stale physical memory as mappings.
func zeroFrame(hhdmOffset uintptr, frame pmm.PhysAddr) {
	table := (*vmm.Table)(unsafe.Pointer(hhdmOffset + uintptr(frame)))
	*table = vmm.Table{}
}
