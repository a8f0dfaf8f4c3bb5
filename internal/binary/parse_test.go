package binary

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/module"
)

// moduleBuilder assembles a minimal valid ESPB binary by hand, mirroring the
// section layout internal/binary/parse.go decodes, for use as test fixtures.
type moduleBuilder struct {
	sections []sectionData
}

type sectionData struct {
	id   uint8
	body []byte
}

func (b *moduleBuilder) addSection(id uint8, body []byte) {
	b.sections = append(b.sections, sectionData{id: id, body: body})
}

func (b *moduleBuilder) build() []byte {
	var out []byte
	putU32 := func(v uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		out = append(out, tmp[:]...)
	}
	putU16 := func(v uint16) {
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], v)
		out = append(out, tmp[:]...)
	}

	out = append(out, 0x45, 0x53, 0x50, 0x42) // "ESPB" little-endian == magicValue
	putU32(0x00000107)                        // version
	putU32(0)                                  // flags
	putU32(0)                                  // feature
	putU16(uint16(len(b.sections)))

	headerAndDirLen := headerSize + len(b.sections)*sectionDirEntrySize
	offset := headerAndDirLen
	for _, s := range b.sections {
		out = append(out, s.id, 0, 0, 0) // id + 3 reserved bytes (1+1+2)
		putU32(uint32(offset))
		putU32(uint32(len(s.body)))
		offset += len(s.body)
	}
	for _, s := range b.sections {
		out = append(out, s.body...)
	}
	return out
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u16le(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func lenPrefixed(s string) []byte {
	out := u16le(uint16(len(s)))
	return append(out, s...)
}

func minimalModuleBuilder() *moduleBuilder {
	b := &moduleBuilder{}

	// Types: one nullary i32-returning signature.
	types := append([]byte{}, u32le(1)...)
	types = append(types, 0, 1, api.ValueTypeI32) // 0 params, 1 result: i32
	b.addSection(module.SectionTypes, types)

	// Functions: one local function using signature 0.
	functions := append([]byte{}, u32le(1)...)
	functions = append(functions, u16le(0)...)
	b.addSection(module.SectionFunctions, functions)

	// Code: one body, 3 code bytes, 1 virtual register, not HOT.
	code := append([]byte{}, u32le(1)...)
	codeBytes := []byte{0x00, 0x01, 0x02}
	code = append(code, u32le(uint32(len(codeBytes)+2))...)
	code = append(code, u16le(1)...)
	code = append(code, codeBytes...)
	b.addSection(module.SectionCode, code)

	// Exports: export function 0 as "main".
	exports := append([]byte{}, u32le(1)...)
	exports = append(exports, lenPrefixed("main")...)
	exports = append(exports, byte(module.ImportKindFunc))
	exports = append(exports, u32le(0)...)
	b.addSection(module.SectionExports, exports)

	return b
}

func TestParseMinimalModule(t *testing.T) {
	buf := minimalModuleBuilder().build()
	m, warnings, err := Parse(buf)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, m.Signatures, 1)
	require.Len(t, m.FuncBodies, 1)
	require.Equal(t, uint16(1), m.FuncBodies[0].NumVirtualRegs)
	require.False(t, m.FuncBodies[0].Hot)

	exp, ok := m.FindExport("main")
	require.True(t, ok)
	require.Equal(t, module.ImportKindFunc, exp.Kind)
	require.Equal(t, uint32(0), exp.Index)
}

func TestParseHotFlagEncodedInCodeSize(t *testing.T) {
	b := &moduleBuilder{}
	types := append([]byte{}, u32le(1)...)
	types = append(types, 0, 0)
	b.addSection(module.SectionTypes, types)

	functions := append([]byte{}, u32le(1)...)
	functions = append(functions, u16le(0)...)
	b.addSection(module.SectionFunctions, functions)

	code := append([]byte{}, u32le(1)...)
	codeBytes := []byte{0x0F} // 1 byte of code
	totalSize := uint32(len(codeBytes)+2) | 0x8000_0000
	code = append(code, u32le(totalSize)...)
	code = append(code, u16le(0)...)
	code = append(code, codeBytes...)
	b.addSection(module.SectionCode, code)

	buf := b.build()
	m, _, err := Parse(buf)
	require.NoError(t, err)
	require.True(t, m.FuncBodies[0].Hot)
	require.Equal(t, codeBytesLen(codeBytes), len(m.FuncBodies[0].Code))
}

func codeBytesLen(b []byte) int { return len(b) }

func TestParseRejectsBadMagic(t *testing.T) {
	buf := minimalModuleBuilder().build()
	buf[0] = 0x00
	_, _, err := Parse(buf)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	buf := minimalModuleBuilder().build()
	binary.LittleEndian.PutUint32(buf[4:], 0x99)
	_, _, err := Parse(buf)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseMissingCodeSectionForDeclaredFunctionsFails(t *testing.T) {
	b := &moduleBuilder{}
	types := append([]byte{}, u32le(1)...)
	types = append(types, 0, 0)
	b.addSection(module.SectionTypes, types)

	functions := append([]byte{}, u32le(1)...)
	functions = append(functions, u16le(0)...)
	b.addSection(module.SectionFunctions, functions)

	buf := b.build()
	_, _, err := Parse(buf)
	require.Error(t, err)
}

func TestParseOutOfRangeExportFails(t *testing.T) {
	b := minimalModuleBuilder()
	// replace the Exports section (last one added) with one naming an
	// out-of-range function index.
	exports := append([]byte{}, u32le(1)...)
	exports = append(exports, lenPrefixed("bogus")...)
	exports = append(exports, byte(module.ImportKindFunc))
	exports = append(exports, u32le(99)...)
	b.sections[len(b.sections)-1] = sectionData{id: module.SectionExports, body: exports}

	buf := b.build()
	_, _, err := Parse(buf)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestParseOverlappingSectionsRejected(t *testing.T) {
	buf := minimalModuleBuilder().build()
	// corrupt the first section directory entry's size so it overlaps the
	// second entry.
	dirStart := headerSize
	binary.LittleEndian.PutUint32(buf[dirStart+8:], 1_000_000)
	_, _, err := Parse(buf)
	require.Error(t, err)
}
