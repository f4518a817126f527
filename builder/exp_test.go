package builder

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkevm-bus-mapping/mock"
	"zkevm-bus-mapping/operation"
)

func TestNewExpEvent(t *testing.T) {
	event := NewExpEvent(7, uint256.NewInt(3), uint256.NewInt(5))
	assert.Equal(t, uint64(7), event.Identifier)
	assert.Equal(t, *uint256.NewInt(243), event.Exponentiation)
	assert.Equal(t, []ExpStep{
		{A: *uint256.NewInt(81), B: *uint256.NewInt(3), D: *uint256.NewInt(243)},
		{A: *uint256.NewInt(9), B: *uint256.NewInt(9), D: *uint256.NewInt(81)},
		{A: *uint256.NewInt(3), B: *uint256.NewInt(3), D: *uint256.NewInt(9)},
	}, event.Steps)
}

func TestNewExpEventTrivialExponents(t *testing.T) {
	zero := NewExpEvent(1, uint256.NewInt(9), uint256.NewInt(0))
	assert.Equal(t, *uint256.NewInt(1), zero.Exponentiation)
	assert.Empty(t, zero.Steps)

	one := NewExpEvent(1, uint256.NewInt(9), uint256.NewInt(1))
	assert.Equal(t, *uint256.NewInt(9), one.Exponentiation)
	assert.Empty(t, one.Steps)
}

func TestNewExpEventWraps(t *testing.T) {
	event := NewExpEvent(1, uint256.NewInt(2), uint256.NewInt(256))
	assert.True(t, event.Exponentiation.IsZero())
	// 256 = 2^8: eight squarings, no multiplication by the base
	require.Len(t, event.Steps, 8)
	for _, step := range event.Steps {
		assert.Equal(t, step.A, step.B)
	}
	last := event.Steps[len(event.Steps)-1]
	assert.Equal(t, *uint256.NewInt(2), last.A)
}

func TestExpOp(t *testing.T) {
	code := []byte{byte(vm.PUSH1), 0x05, byte(vm.PUSH1), 0x03, byte(vm.EXP), byte(vm.STOP)}
	block := buildBlock(t, mock.NewTestContext(code))
	tx := block.Txs[0]
	callID := tx.Calls[0].CallID

	step := findStep(t, tx, vm.EXP)
	ops := stepOps(block, step)
	require.Len(t, ops, 3)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1022, Value: *u64Word(3)}, ops[0].Op)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *u64Word(5)}, ops[1].Op)
	assert.Equal(t, operation.WRITE, ops[2].RW)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *u64Word(243)}, ops[2].Op)

	require.Len(t, block.ExpEvents, 1)
	event := block.ExpEvents[0]
	assert.Equal(t, uint64(step.Rwc)+3, event.Identifier)
	assert.Equal(t, *u64Word(3), event.Base)
	assert.Equal(t, *u64Word(5), event.Exponent)
	assert.Equal(t, *u64Word(243), event.Exponentiation)
	assert.Len(t, event.Steps, 3)
}
