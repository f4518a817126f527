package builder

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkevm-bus-mapping/statedb"
)

func TestCodeBytesMask(t *testing.T) {
	code := []byte{byte(vm.PUSH2), 0x01, 0x02, byte(vm.ADD), byte(vm.PUSH0), byte(vm.PUSH32), 0x01}
	assert.Equal(t, []bool{true, false, false, true, true, true, false}, codeBytesMask(code))
}

func TestBlockCachesCodeMask(t *testing.T) {
	code := []byte{byte(vm.PUSH1), 0x01, byte(vm.STOP)}
	hash := crypto.Keccak256Hash(code)
	block := NewBlock(BlockContext{}, statedb.NewCodeDB(), DefaultConfig())

	mask := block.codeMask(hash, code)
	assert.Equal(t, []bool{true, false, true}, mask)
	require.True(t, block.codeMasks.Contains(hash))

	// a cached mask is served without looking at the code again
	assert.Equal(t, mask, block.codeMask(hash, nil))
}

func TestCopyEventsSortedByKey(t *testing.T) {
	h := common.HexToHash("0x01")
	events := []*CopyEvent{
		{SrcID: Hash(h), SrcType: CopyDataTypeBytecode, DstID: Number(2), DstType: CopyDataTypeMemory},
		{SrcID: Number(3), SrcType: CopyDataTypeMemory, DstID: Number(0), DstType: CopyDataTypeRlcAcc},
		{SrcID: Number(1), SrcType: CopyDataTypeTxCalldata, DstID: Number(2), DstType: CopyDataTypeMemory},
		{SrcID: Number(1), SrcType: CopyDataTypeMemory, DstID: Number(1), DstType: CopyDataTypeTxLog},
	}
	sorted := CopyEventsSortedByKey(events)
	require.Len(t, sorted, 4)
	assert.Same(t, events[3], sorted[0])
	assert.Same(t, events[2], sorted[1])
	assert.Same(t, events[1], sorted[2])
	assert.Same(t, events[0], sorted[3])

	// the input keeps its order
	assert.Equal(t, Hash(h), events[0].SrcID)
}

func TestRwCounterIncreaseSkipsPadding(t *testing.T) {
	event := &CopyEvent{Steps: []CopyStep{
		{Tag: CopyDataTypeBytecode, RW: false},
		{Tag: CopyDataTypeMemory, RW: true},
		{Tag: CopyDataTypeMemory, IsPad: true},
		{Tag: CopyDataTypeMemory, RW: true},
		{Tag: CopyDataTypeTxCalldata},
		{Tag: CopyDataTypeRlcAcc, RW: true},
	}}
	assert.Equal(t, uint64(2), event.RwCounterIncrease())
}
