package binary

import (
	"fmt"

	"github.com/espb-vm/espb/internal/module"
)

// Parse implements the Binary Parser contract of spec §4.1:
// parse(bytes) -> Module | Error. It is a pure decode-and-validate pass:
// every []byte field of the returned Module borrows from buf, and no
// allocation escapes beyond the returned Module and warning slice. On any
// failure the caller discards the partial Module; nothing here retains
// ownership of anything that would need explicit release.
func Parse(buf []byte) (*module.Module, []string, error) {
	c := newCursor(buf)
	hdr, err := parseHeader(c)
	if err != nil {
		return nil, nil, err
	}
	dirEntries, warnings, err := parseSectionDirectory(c, hdr.SectionCount, len(buf))
	if err != nil {
		return nil, nil, err
	}
	if overlaps(dirEntries) {
		return nil, nil, &FormatError{Err: fmt.Errorf("%w: section directory entries overlap", ErrInvalidSectionBody), Offset: headerSize}
	}

	sections := make(map[uint8][]byte, len(dirEntries))
	for _, e := range dirEntries {
		sections[e.ID] = buf[e.Offset : e.Offset+e.Size]
	}

	m := &module.Module{Version: hdr.Version, Flags: hdr.Flags, Feature: hdr.Feature, Buf: buf}

	if body, ok := sections[module.SectionTypes]; ok {
		sigs, err := decodeTypes(body)
		if err != nil {
			return nil, nil, err
		}
		m.Signatures = sigs
	}

	if body, ok := sections[module.SectionImports]; ok {
		imports, err := decodeImports(body, len(m.Signatures))
		if err != nil {
			return nil, nil, err
		}
		m.Imports = imports
		m.ImportedFuncCount = countImportsOfKind(imports, module.ImportKindFunc)
		m.ImportedGlobalCount = countImportsOfKind(imports, module.ImportKindGlobal)
	}

	if body, ok := sections[module.SectionFunctions]; ok {
		sigIdxs, err := decodeFunctions(body, len(m.Signatures))
		if err != nil {
			return nil, nil, err
		}
		m.FuncSignatures = sigIdxs
	}

	if body, ok := sections[module.SectionCode]; ok {
		bodies, err := decodeCode(body, len(m.FuncSignatures))
		if err != nil {
			return nil, nil, err
		}
		m.FuncBodies = bodies
	} else if len(m.FuncSignatures) != 0 {
		return nil, nil, &FormatError{Err: fmt.Errorf("%w: missing Code section for %d functions", ErrInvalidSectionBody, len(m.FuncSignatures))}
	}

	if body, ok := sections[module.SectionGlobals]; ok {
		globals, err := decodeGlobals(body)
		if err != nil {
			return nil, nil, err
		}
		m.Globals = globals
	}

	if body, ok := sections[module.SectionMemory]; ok {
		lim, err := decodeMemory(body)
		if err != nil {
			return nil, nil, err
		}
		m.Memory = lim
		m.HasMemory = true
	}

	if body, ok := sections[module.SectionTables]; ok {
		lim, err := decodeTables(body)
		if err != nil {
			return nil, nil, err
		}
		m.Table = lim
		m.HasTable = true
	}

	if body, ok := sections[module.SectionExports]; ok {
		exports, err := decodeExports(body)
		if err != nil {
			return nil, nil, err
		}
		m.Exports = exports
	}

	if body, ok := sections[module.SectionData]; ok {
		segs, err := decodeData(body)
		if err != nil {
			return nil, nil, err
		}
		m.DataSegments = segs
	}

	if body, ok := sections[module.SectionElements]; ok {
		segs, err := decodeElements(body)
		if err != nil {
			return nil, nil, err
		}
		m.ElementSegments = segs
	}

	if body, ok := sections[module.SectionRelocations]; ok {
		relocs, err := decodeRelocations(body)
		if err != nil {
			return nil, nil, err
		}
		m.Relocations = relocs
	}

	if body, ok := sections[module.SectionCbMeta]; ok {
		cbs, err := decodeCbMeta(body)
		if err != nil {
			return nil, nil, err
		}
		m.ImportCallbacks = cbs
	}

	if body, ok := sections[module.SectionImMeta]; ok {
		ims, err := decodeImMeta(body)
		if err != nil {
			return nil, nil, err
		}
		m.ImportMarshals = ims
	}

	if body, ok := sections[module.SectionFuncPtrMap]; ok {
		entries, err := decodeFuncPtrMap(body)
		if err != nil {
			return nil, nil, err
		}
		m.FuncPtrMap = entries
	}

	if body, ok := sections[module.SectionStart]; ok {
		idx, err := decodeStart(body)
		if err != nil {
			return nil, nil, err
		}
		m.StartFunc = idx
		m.HasStart = true
	}

	if err := validateCrossReferences(m); err != nil {
		return nil, nil, err
	}

	return m, warnings, nil
}

// validateCrossReferences checks every index named by spec §3's invariants:
// function/global/table/data/element targets must be in range after
// parsing, or instantiation fails.
func validateCrossReferences(m *module.Module) error {
	funcCount := m.FuncCount()
	for i, exp := range m.Exports {
		switch exp.Kind {
		case module.ImportKindFunc:
			if exp.Index >= funcCount {
				return &FormatError{Err: fmt.Errorf("%w: export %d func index %d", ErrIndexOutOfRange, i, exp.Index)}
			}
		case module.ImportKindGlobal:
			if exp.Index >= uint32(len(m.Globals))+m.ImportedGlobalCount {
				return &FormatError{Err: fmt.Errorf("%w: export %d global index %d", ErrIndexOutOfRange, i, exp.Index)}
			}
		}
	}
	for i, seg := range m.ElementSegments {
		for _, fi := range seg.FuncIdxs {
			if fi >= funcCount {
				return &FormatError{Err: fmt.Errorf("%w: element segment %d func index %d", ErrIndexOutOfRange, i, fi)}
			}
		}
	}
	if m.HasStart && m.StartFunc >= funcCount {
		return &FormatError{Err: fmt.Errorf("%w: start function index %d", ErrIndexOutOfRange, m.StartFunc)}
	}
	for i, fpe := range m.FuncPtrMap {
		if uint32(fpe.FuncIndex) >= funcCount {
			return &FormatError{Err: fmt.Errorf("%w: func-ptr-map entry %d func index %d", ErrIndexOutOfRange, i, fpe.FuncIndex)}
		}
	}
	for i, ic := range m.ImportCallbacks {
		if uint32(ic.ImportIndex) >= uint32(len(m.Imports)) {
			return &FormatError{Err: fmt.Errorf("%w: cbmeta entry %d import index %d", ErrIndexOutOfRange, i, ic.ImportIndex)}
		}
		for _, cb := range ic.Callbacks {
			if uint32(cb.ModuleFuncIdx) >= funcCount {
				return &FormatError{Err: fmt.Errorf("%w: cbmeta entry %d target func index %d", ErrIndexOutOfRange, i, cb.ModuleFuncIdx)}
			}
		}
	}
	for i, im := range m.ImportMarshals {
		if uint32(im.ImportIndex) >= uint32(len(m.Imports)) {
			return &FormatError{Err: fmt.Errorf("%w: immeta entry %d import index %d", ErrIndexOutOfRange, i, im.ImportIndex)}
		}
	}
	return nil
}
