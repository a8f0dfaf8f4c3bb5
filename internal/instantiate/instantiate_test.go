package instantiate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/module"
	"github.com/espb-vm/espb/internal/symtab"
)

func TestInstantiateMemorySizingDefaultsToOnePage(t *testing.T) {
	m := &module.Module{}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, uint32(PageSize), res.Instance.MemorySize())
}

func TestInstantiateMemoryRoundsUpToPage(t *testing.T) {
	m := &module.Module{HasMemory: true, Memory: module.Limits{Initial: 1}}
	res, err := Instantiate(m, Options{MinMemoryBytes: PageSize + 1})
	require.NoError(t, err)
	require.Equal(t, uint32(PageSize*2), res.Instance.MemorySize())
}

func TestInstantiateMemoryLimitExceeded(t *testing.T) {
	m := &module.Module{HasMemory: true, Memory: module.Limits{Initial: 10}}
	_, err := Instantiate(m, Options{MemoryLimitBytes: PageSize})
	require.Error(t, err)
}

func TestInstantiateHostMemoryBinding(t *testing.T) {
	m := &module.Module{
		Imports: []module.Import{
			{Kind: module.ImportKindMemory, ModuleName: "env", EntityName: "memory"},
		},
	}
	host := make([]byte, PageSize)
	res, err := Instantiate(m, Options{HostMemory: host})
	require.NoError(t, err)
	require.False(t, res.Instance.MemoryOwned)
	require.Equal(t, PageSize, len(res.Instance.Memory))
}

func TestInstantiateHostMemoryMissingFails(t *testing.T) {
	m := &module.Module{
		Imports: []module.Import{
			{Kind: module.ImportKindMemory, ModuleName: "env", EntityName: "memory"},
		},
	}
	_, err := Instantiate(m, Options{})
	require.Error(t, err)
}

func TestInstantiateGlobalsInitialized(t *testing.T) {
	m := &module.Module{
		Globals: []module.Global{
			{Type: api.ValueTypeI32, InitKind: module.GlobalInitConst, InitConst: api.I32(77)},
			{Type: api.ValueTypeI32, InitKind: module.GlobalInitDataOffset, InitData: 1024},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, int32(77), res.Instance.ReadGlobal(0).AsI32())
	require.Equal(t, uint32(1024), res.Instance.ReadGlobal(1).AsU32())
}

func TestInstantiateTableAllocated(t *testing.T) {
	m := &module.Module{HasTable: true, Table: module.Limits{Initial: 8}}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Len(t, res.Instance.Table, 8)
}

func TestInstantiateUnresolvedFuncImportFails(t *testing.T) {
	m := &module.Module{
		Signatures:        []module.Signature{{}},
		ImportedFuncCount: 1,
		Imports: []module.Import{
			{Kind: module.ImportKindFunc, ModuleName: "env", EntityName: "missing", SignatureIndex: 0},
		},
	}
	_, err := Instantiate(m, Options{Registry: symtab.NewRegistry()})
	require.Error(t, err)
}

func TestInstantiateResolvedFuncImport(t *testing.T) {
	reg := symtab.NewRegistry()
	reg.BindModuleName("env", 1)
	called := false
	reg.RegisterTable(1, symtab.NamedTable{
		"puts": {Func: func(args []api.Value) ([]api.Value, error) { called = true; return nil, nil }},
	})
	m := &module.Module{
		Signatures:        []module.Signature{{}},
		ImportedFuncCount: 1,
		Imports: []module.Import{
			{Kind: module.ImportKindFunc, ModuleName: "env", EntityName: "puts", SignatureIndex: 0},
		},
	}
	res, err := Instantiate(m, Options{Registry: reg})
	require.NoError(t, err)
	_, err = res.Instance.ResolvedImportFuncs[0](nil)
	require.NoError(t, err)
	require.True(t, called)
}

func TestInstantiateActiveDataSegmentCopied(t *testing.T) {
	m := &module.Module{
		DataSegments: []module.DataSegment{
			{Passive: false, OffsetExpr: []byte{0x01, 100, 0, 0, 0, 0x0F}, Bytes: []byte("hello")},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), res.Instance.Memory[100:105])
	require.Equal(t, uint32(105), res.Instance.StaticDataEnd)
}

func TestInstantiatePassiveDataSegmentCopiedAtZero(t *testing.T) {
	m := &module.Module{
		DataSegments: []module.DataSegment{
			{Passive: true, Bytes: []byte("abc")},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), res.Instance.Memory[0:3])
}

func TestInstantiateOnlyFirstPassiveSegmentCopied(t *testing.T) {
	m := &module.Module{
		DataSegments: []module.DataSegment{
			{Passive: true, Bytes: []byte("first")},
			{Passive: true, Bytes: []byte("second")},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("first"), res.Instance.Memory[0:5])
}

func TestInstantiateHeapInitializedAboveStaticDataEnd(t *testing.T) {
	m := &module.Module{
		DataSegments: []module.DataSegment{
			{Passive: false, OffsetExpr: []byte{0x01, 0, 0, 0, 0, 0x0F}, Bytes: []byte("xyz")},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Instance.Heap)
	p, err := res.Instance.Heap.Alloc(16)
	require.NoError(t, err)
	require.GreaterOrEqual(t, p, res.Instance.StaticDataEnd)
}

func TestInstantiateElementSegmentPopulatesTable(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 0,
		FuncBodies:        []module.FunctionBody{{}, {}, {}},
		HasTable:          true,
		Table:             module.Limits{Initial: 4},
		ElementSegments: []module.ElementSegment{
			{Passive: false, OffsetExpr: []byte{0x01, 1, 0, 0, 0, 0x0F}, FuncIdxs: []uint32{2}},
		},
	}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), res.Instance.Table[1])
}

func TestRunStartNoStartFunctionIsNoop(t *testing.T) {
	m := &module.Module{}
	res, err := Instantiate(m, Options{})
	require.NoError(t, err)
	require.NoError(t, RunStart(res.Instance, 0, 0))
}
