package indirect

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

func newTestModuleAndInstance() (*module.Module, *instance.Instance) {
	m := &module.Module{
		Signatures: []module.Signature{
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
			{Params: nil, Results: nil},
		},
		ImportedFuncCount: 1,
		Imports: []module.Import{
			{Kind: module.ImportKindFunc, SignatureIndex: 1},
		},
		FuncSignatures: []uint16{0, 0},
		FuncBodies:     []module.FunctionBody{{}, {}},
		FuncPtrMap: []module.FuncPtrMapEntry{
			{DataOffset: 100, FuncIndex: 1},
			{DataOffset: 200, FuncIndex: 2},
		},
	}
	inst := instance.New(m)
	inst.Memory = make([]byte, 65536)
	return m, inst
}

func TestClassifyLocalFunction(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 1, 0)
	require.NoError(t, err)
	require.Equal(t, KindLocalFunc, target.Kind)
	require.Equal(t, uint32(1), target.LocalFuncIdx)
}

func TestClassifyLocalFunctionSignatureMismatchTraps(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	_, err := Classify(inst, 1, 99)
	require.Error(t, err)
}

func TestClassifyImportedFunctionSignature(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 0, 1)
	require.NoError(t, err)
	require.Equal(t, KindLocalFunc, target.Kind)
	require.Equal(t, uint32(0), target.LocalFuncIdx)
}

func TestClassifyFuncPtrMapExactMatch(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 100, 0)
	require.NoError(t, err)
	require.Equal(t, KindFuncPtrMap, target.Kind)
	require.Equal(t, uint32(1), target.LocalFuncIdx)
}

func TestClassifyFuncPtrMapTaggedPointer(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 200|TaggedPointerBit, 0)
	require.NoError(t, err)
	require.Equal(t, KindFuncPtrMap, target.Kind)
}

func TestClassifyNativePointerFallback(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 0xDEAD0000, 0)
	require.NoError(t, err)
	require.Equal(t, KindNativePtr, target.Kind)
	require.Equal(t, uint32(0xDEAD0000), target.NativePtr)
}

func TestLookupFuncPtrMapNoExactMatch(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	target, err := Classify(inst, 150, 0)
	require.NoError(t, err)
	require.Equal(t, KindNativePtr, target.Kind, "150 falls inside linear memory but has no exact func-ptr-map entry")
}

func TestClassifyTableResolvesFuncIndex(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	inst.Table = []uint32{1, 0}
	funcIdx, err := ClassifyTable(inst, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), funcIdx)
}

func TestClassifyTableOutOfRangeErrors(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	inst.Table = []uint32{1}
	_, err := ClassifyTable(inst, 5, 0)
	require.Error(t, err)
}

func TestClassifyTableSignatureMismatchTraps(t *testing.T) {
	_, inst := newTestModuleAndInstance()
	inst.Table = []uint32{1, 0}
	_, err := ClassifyTable(inst, 0, 99)
	require.Error(t, err)
}
