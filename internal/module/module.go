// Package module holds the parsed, immutable in-memory representation of an
// ESPB binary (spec §3 "Module"). Values in this package never outlive the
// byte buffer they were parsed from — every slice here borrows from that
// buffer rather than copying it, matching the teacher's "Arena + index"
// discipline (spec §9).
package module

import "github.com/espb-vm/espb/api"

// Magic is the four ESPB magic bytes (ASCII "ESPB"), little-endian as
// 0x42505345 on the wire.
const Magic uint32 = 0x42505345

// Supported header versions.
const (
	Version0x106 uint32 = 0x00000106
	Version0x107 uint32 = 0x00000107
)

// Feature bits carried in the module header's flags word (spec §6).
const (
	FeatureMultiReturn     uint32 = 0x01
	FeatureAtomics         uint32 = 0x02
	FeatureEH              uint32 = 0x04
	FeatureSIMDPlatform    uint32 = 0x08
	FeatureBulk            uint32 = 0x10
	FeatureSIMDV128        uint32 = 0x20
	FeatureSharedMem       uint32 = 0x40
	FeatureDataSymbols     uint32 = 0x80
	FeatureCallbackAuto    uint32 = 0x100
	FeatureMarshallingMeta uint32 = 0x200
)

// Section IDs (spec §4.1).
const (
	SectionTypes        uint8 = 1
	SectionImports      uint8 = 2
	SectionFunctions    uint8 = 3
	SectionGlobals      uint8 = 4
	SectionExports      uint8 = 5
	SectionCode         uint8 = 6
	SectionData         uint8 = 8
	SectionRelocations  uint8 = 9
	SectionCbMeta       uint8 = 10
	SectionTables       uint8 = 11
	SectionElements     uint8 = 12
	SectionMemory       uint8 = 14
	SectionStart        uint8 = 15
	SectionImMeta       uint8 = 17
	SectionFuncPtrMap   uint8 = 18
)

// Signature is a function type: a vector of parameter types and a vector of
// return types. VOID is not a legal element of either vector.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// ImportKind classifies an Import entry.
type ImportKind uint8

const (
	ImportKindFunc ImportKind = iota
	ImportKindTable
	ImportKindMemory
	ImportKindGlobal
)

// Import resolution flags (spec §4.7), carried in a function import's flags
// byte.
const (
	ImportFlagNamed      uint8 = 0x01
	ImportFlagFastCustom uint8 = 0x20
	ImportFlagFastIDF    uint8 = 0x40
	ImportFlagIndexed    uint8 = 0x10
)

// Import describes one imported entity.
type Import struct {
	ModuleName string
	EntityName string
	Kind       ImportKind

	// Function import fields.
	SignatureIndex uint16
	Flags          uint8
	SymbolIndex    uint32 // meaningful when Flags&ImportFlagIndexed != 0

	// Global import fields.
	GlobalType    api.ValueType
	GlobalMutable bool

	// Memory/Table import fields (limits).
	Limits Limits
}

// IsNamed reports whether the import resolves through the named host
// symbol table rather than a fast indexed table (spec §4.7).
func (im *Import) IsNamed() bool { return im.Flags&ImportFlagNamed != 0 }

// IsFastCustom reports whether the import resolves through `custom_fast`.
func (im *Import) IsFastCustom() bool { return im.Flags&ImportFlagFastCustom != 0 }

// IsFastIDF reports whether the import resolves through `idf_fast`.
func (im *Import) IsFastIDF() bool { return im.Flags&ImportFlagFastIDF != 0 }

// Limits is the standard resizable-entity limits header used by Memory and
// Table sections.
type Limits struct {
	Initial uint32
	Max     uint32
	HasMax  bool
	Shared  bool
}

// ExportKind mirrors ImportKind for the Exports section.
type ExportKind = ImportKind

// Export names an entity already declared elsewhere in the module.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// GlobalInitKind classifies how a Global's initial value is produced.
type GlobalInitKind uint8

const (
	GlobalInitZero GlobalInitKind = iota
	GlobalInitConst
	GlobalInitDataOffset
)

// Global is one module-defined global variable descriptor.
type Global struct {
	Type      api.ValueType
	Mutable   bool
	Shared    bool
	InitKind  GlobalInitKind
	InitConst api.Value // meaningful when InitKind == GlobalInitConst
	InitData  uint32    // meaningful when InitKind == GlobalInitDataOffset
}

// DataSegment is a Data section entry (spec §4.1 "Data segments").
type DataSegment struct {
	Passive    bool
	MemoryIdx  uint32
	OffsetExpr []byte // raw initializer-expression bytes, evaluated at instantiation
	Bytes      []byte // borrowed from the module buffer
}

// ElementSegment is an Elements section entry.
type ElementSegment struct {
	Passive    bool
	TableIdx   uint32
	OffsetExpr []byte
	FuncIdxs   []uint32
}

// RelocationType distinguishes how a relocation entry's value is combined
// with the addend and written.
type RelocationType uint8

// Relocation is one entry from the Relocations section. TargetSection is
// shared by every entry produced by a given section header (spec §4.1).
type Relocation struct {
	TargetSection uint8
	Type          RelocationType
	Offset        uint32
	SymbolIndex   uint32
	Addend        int32
}

// CallbackEntry is one 3-byte cbmeta record (spec §4.6 "Callback metadata").
type CallbackEntry struct {
	CallbackParamIdx uint8  // low nibble of byte 0
	UserDataParamIdx uint8  // high nibble of byte 0; 0xF means "none"
	ModuleFuncIdx    uint16 // 14 bits of bytes 1-2
}

// HasUserData reports whether this entry carries a user-data argument.
func (c CallbackEntry) HasUserData() bool { return c.UserDataParamIdx != 0xF }

// ImportCallbacks collects every CallbackEntry declared for one import.
type ImportCallbacks struct {
	ImportIndex uint16
	Callbacks   []CallbackEntry
}

// MarshalDirection is the IN/OUT/INOUT direction of one immeta argument.
type MarshalDirection uint8

const (
	MarshalIn MarshalDirection = iota
	MarshalOut
	MarshalInOut
)

// MarshalSizeKind says whether an immeta argument's buffer size is a
// compile-time constant or taken from another argument at call time.
type MarshalSizeKind uint8

const (
	SizeConst MarshalSizeKind = iota
	SizeFromArg
)

// MarshalHandler selects the standard synchronous wrapper or the async
// wrapper (spec §4.6 "Async wrappers").
type MarshalHandler uint8

const (
	HandlerStandard MarshalHandler = iota
	HandlerAsync
)

// MarshalArg is one five-byte immeta argument descriptor.
type MarshalArg struct {
	ArgIndex     uint8
	Direction    MarshalDirection
	SizeKind     MarshalSizeKind
	SizeValue    uint8
	HandlerIndex MarshalHandler
}

// ImportMarshal collects every MarshalArg declared for one import.
type ImportMarshal struct {
	ImportIndex uint16
	Args        []MarshalArg
}

// FuncPtrMapEntry maps a data-segment offset to the function index it
// represents (spec §4.1 "Function-Pointer Map").
type FuncPtrMapEntry struct {
	DataOffset uint32
	FuncIndex  uint16
}

// FunctionBody is one parsed Code section entry.
type FunctionBody struct {
	NumVirtualRegs uint16
	Code           []byte // borrowed from the module buffer
	Hot            bool
}

// Module is the immutable, fully-parsed view of an ESPB binary. It never
// owns the bytes it was parsed from; every []byte field here is a subslice
// of the buffer passed to Parse.
type Module struct {
	Version uint32
	Flags   uint32
	Feature uint32

	Signatures []Signature

	Imports               []Import
	ImportedFuncCount     uint32
	ImportedGlobalCount   uint32

	// FuncSignatures[i] is the Signatures index of locally defined function
	// i (i.e. not counting imported functions).
	FuncSignatures []uint16
	FuncBodies     []FunctionBody

	Globals []Global

	Memory Limits
	HasMemory bool

	Table     Limits
	HasTable  bool

	Exports []Export

	DataSegments    []DataSegment
	ElementSegments []ElementSegment

	Relocations []Relocation

	ImportCallbacks []ImportCallbacks
	ImportMarshals  []ImportMarshal

	// FuncPtrMap is sorted ascending by DataOffset after parsing, enabling
	// binary search (spec §4.5 step 2).
	FuncPtrMap []FuncPtrMapEntry

	HasStart  bool
	StartFunc uint32

	// Buf is the raw input buffer every borrowed slice above points into.
	Buf []byte
}

// FuncCount returns the total number of functions (imported + local) in the
// module, used to range-check CALL/CALL_INDIRECT targets.
func (m *Module) FuncCount() uint32 {
	return m.ImportedFuncCount + uint32(len(m.FuncBodies))
}

// IsImportedFunc reports whether idx addresses an imported function.
func (m *Module) IsImportedFunc(idx uint32) bool {
	return idx < m.ImportedFuncCount
}

// LocalFuncBody returns the FunctionBody for global function index idx,
// which must already be known not to be an import.
func (m *Module) LocalFuncBody(idx uint32) *FunctionBody {
	return &m.FuncBodies[idx-m.ImportedFuncCount]
}

// LocalFuncSignatureIndex returns the Signatures index declared for global
// function index idx, which must already be known not to be an import.
func (m *Module) LocalFuncSignatureIndex(idx uint32) uint16 {
	return m.FuncSignatures[idx-m.ImportedFuncCount]
}

// FindExport looks up an export by name, returning ok=false if absent.
func (m *Module) FindExport(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}
