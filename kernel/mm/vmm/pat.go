package vmm

// MemoryType is a PAT/MTRR caching mode, matching km::MemoryType in the
// BezOS source this is ported from.
type MemoryType uint8

const (
	MemoryTypeUncached         MemoryType = 0
	MemoryTypeWriteCombine     MemoryType = 1
	MemoryTypeWriteThrough     MemoryType = 4
	MemoryTypeWriteProtect     MemoryType = 5
	MemoryTypeWriteBack        MemoryType = 6
	MemoryTypeUncachedOverride MemoryType = 7
)

// patMsr is the model-specific register PAT entries live in (IA32_PAT,
// 0x277 in the original source's x64::ModelRegister<0x277, ...>).
const patMsr = 0x277

// msrReadFn and msrWriteFn are the hardware seams for reading and writing a
// model-specific register. Tests substitute an in-memory fake; on real
// hardware these call RDMSR/WRMSR.
var (
	msrReadFn  = func(msr uint32) uint64 { return 0 }
	msrWriteFn = func(msr uint32, value uint64) {}
)

// PageAttributeTable mirrors IA32_PAT: 8 entries, each selecting one of
// the six MemoryType values, indexed by a page table entry's PAT:PCD:PWT
// bit triple (patIndex). Index assignment matches SPEC_FULL.md §3's PAT
// slot table: slots 0 and 6 both hold write-back and slots 3 and 7 both
// hold uncached, so that both the "PAT bit clear" and "PAT bit set" halves
// of the index space reach a sane default if a caller never sets the PAT
// bit explicitly; write-combining lives in slot 4 only.
type PageAttributeTable struct {
	value uint64
}

// defaultPatEntries is the PAT layout installed by LoadDefault, matching
// the slot assignment documented in SPEC_FULL.md §3.
var defaultPatEntries = [8]MemoryType{
	MemoryTypeWriteBack,
	MemoryTypeWriteThrough,
	MemoryTypeUncachedOverride,
	MemoryTypeUncached,
	MemoryTypeWriteCombine,
	MemoryTypeWriteProtect,
	MemoryTypeWriteBack,
	MemoryTypeUncached,
}

// LoadPageAttributeTable reads the current IA32_PAT MSR value.
func LoadPageAttributeTable() PageAttributeTable {
	return PageAttributeTable{value: msrReadFn(patMsr)}
}

// LoadDefault installs and returns the kernel's standard PAT layout.
func LoadDefault() PageAttributeTable {
	var pat PageAttributeTable
	for i, t := range defaultPatEntries {
		pat.setEntry(uint8(i), t)
	}
	pat.store()
	return pat
}

func (p *PageAttributeTable) setEntry(index uint8, t MemoryType) {
	shift := uint(index) * 8
	p.value &^= uint64(0xFF) << shift
	p.value |= uint64(t) << shift
}

// Entry returns the MemoryType installed at index (0-7).
func (p PageAttributeTable) Entry(index uint8) MemoryType {
	return MemoryType((p.value >> (uint(index) * 8)) & 0xFF)
}

func (p PageAttributeTable) store() { msrWriteFn(patMsr, p.value) }

// IndexForType returns the first PAT slot index (0-7) whose entry matches
// t in the currently loaded layout, or false if t is not installed
// anywhere in the table.
func (p PageAttributeTable) IndexForType(t MemoryType) (uint8, bool) {
	for i := uint8(0); i < 8; i++ {
		if p.Entry(i) == t {
			return i, true
		}
	}
	return 0, false
}
