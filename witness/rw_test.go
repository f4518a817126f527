package witness

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkevm-bus-mapping/operation"
)

var testAddress = common.HexToAddress("0x000000000000000000000000000000000cafe222")

func buildContainer(ops ...operation.Op) *operation.OperationContainer {
	c := operation.NewOperationContainer()
	rwc := operation.RWCounter(1)
	for _, op := range ops {
		rw := operation.READ
		switch op.(type) {
		case operation.StorageOp, operation.AccountOp, operation.TxLogOp:
			rw = operation.WRITE
		}
		c.Insert(rwc.IncPre(), rw, false, op)
	}
	return c
}

func TestNewRwMapKeepsEmissionOrder(t *testing.T) {
	c := operation.NewOperationContainer()
	c.Insert(1, operation.WRITE, false, operation.StackOp{CallID: 1, Address: 1023, Value: *uint256.NewInt(7)})
	c.Insert(2, operation.READ, false, operation.StackOp{CallID: 1, Address: 1023, Value: *uint256.NewInt(7)})
	c.Insert(3, operation.WRITE, false, operation.MemoryOp{CallID: 1, Address: 0x40, Value: 0xff})

	m := NewRwMap(c)
	require.Len(t, m[operation.Stack], 2)
	require.Len(t, m[operation.Memory], 1)
	assert.Equal(t, 3, m.Len())

	row := m.Get(operation.OperationRef{Target: operation.Memory, Index: 0})
	assert.Equal(t, uint64(3), row.RwCounter)
	assert.True(t, row.IsWrite)
	assert.Equal(t, uint64(0x40), row.Address.Uint64())
	assert.Equal(t, uint64(0xff), row.Value.Uint64())
}

func TestTableAssignmentsOrder(t *testing.T) {
	c := operation.NewOperationContainer()
	c.Insert(1, operation.WRITE, false, operation.StackOp{CallID: 2, Address: 1023})
	c.Insert(2, operation.WRITE, false, operation.MemoryOp{CallID: 2, Address: 5})
	c.Insert(3, operation.WRITE, false, operation.StackOp{CallID: 1, Address: 1022})
	c.Insert(4, operation.READ, false, operation.StackOp{CallID: 1, Address: 1022})
	m := NewRwMap(c)

	chrono := m.TableAssignments(true)
	require.Len(t, chrono, 4)
	for i, row := range chrono {
		assert.Equal(t, uint64(i+1), row.RwCounter)
	}

	state := m.TableAssignments(false)
	require.Len(t, state, 4)
	// Memory sorts before Stack, then call id 1 before call id 2
	assert.Equal(t, operation.Memory, state[0].Tag)
	assert.Equal(t, []uint64{3, 4, 1}, []uint64{state[1].RwCounter, state[2].RwCounter, state[3].RwCounter})
}

func TestTableAssignmentsPadding(t *testing.T) {
	c := buildContainer(
		operation.StackOp{CallID: 1, Address: 1023},
		operation.StackOp{CallID: 1, Address: 1022},
		operation.StackOp{CallID: 1, Address: 1021},
	)
	rows := NewRwMap(c).TableAssignments(true)

	tests := []struct {
		name    string
		target  int
		padding int
		err     error
	}{
		{name: "no padding", target: 0, padding: 0},
		{name: "exact fit", target: 4, padding: 0},
		{name: "padded", target: 10, padding: 6},
		{name: "too small", target: 3, err: ErrPaddingTargetTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, padding, err := TableAssignmentsPadding(rows, tt.target)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.padding, padding)
			assert.Len(t, out, len(rows)+1+tt.padding)

			assert.Equal(t, operation.Start, out[0].Tag)
			assert.Equal(t, uint64(1), out[0].RwCounter)
			for i := 0; i < tt.padding; i++ {
				row := out[len(rows)+1+i]
				assert.Equal(t, operation.Padding, row.Tag)
				assert.Equal(t, uint64(len(rows)+1+i), row.RwCounter)
			}
		})
	}
}

func TestTableAssignmentsPaddingDropsExistingPadding(t *testing.T) {
	rows := []Rw{
		{Tag: operation.Start, RwCounter: 1},
		{Tag: operation.Stack, RwCounter: 1, IsWrite: true},
		{Tag: operation.Padding, RwCounter: 2},
	}
	out, padding, err := TableAssignmentsPadding(rows, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, padding)
	require.Len(t, out, 5)
	assert.Equal(t, operation.Stack, out[1].Tag)
}

func TestCheckRwCounterSanity(t *testing.T) {
	c := buildContainer(
		operation.StackOp{CallID: 1, Address: 1023},
		operation.MemoryOp{CallID: 1, Address: 0},
		operation.CallContextOp{CallID: 1, Field: operation.TxId},
	)
	assert.NoError(t, NewRwMap(c).CheckRwCounterSanity())

	c.Insert(5, operation.READ, false, operation.StackOp{CallID: 1, Address: 1023})
	assert.ErrorIs(t, NewRwMap(c).CheckRwCounterSanity(), ErrRwCounterGap)

	dup := buildContainer(operation.StackOp{CallID: 1, Address: 1023})
	dup.Insert(1, operation.READ, false, operation.StackOp{CallID: 1, Address: 1022})
	assert.ErrorIs(t, NewRwMap(dup).CheckRwCounterSanity(), ErrRwCounterGap)
}

func TestCheckValue(t *testing.T) {
	seven := *uint256.NewInt(7)
	eight := *uint256.NewInt(8)

	t.Run("reads follow writes", func(t *testing.T) {
		c := operation.NewOperationContainer()
		c.Insert(1, operation.WRITE, false, operation.StackOp{CallID: 1, Address: 1023, Value: seven})
		c.Insert(2, operation.READ, false, operation.StackOp{CallID: 1, Address: 1023, Value: seven})
		c.Insert(3, operation.READ, false, operation.MemoryOp{CallID: 1, Address: 9})
		assert.NoError(t, NewRwMap(c).CheckValue())
	})

	t.Run("stale read", func(t *testing.T) {
		c := operation.NewOperationContainer()
		c.Insert(1, operation.WRITE, false, operation.StackOp{CallID: 1, Address: 1023, Value: seven})
		c.Insert(2, operation.READ, false, operation.StackOp{CallID: 1, Address: 1023, Value: eight})
		assert.ErrorIs(t, NewRwMap(c).CheckValue(), ErrReadValueMismatch)
	})

	t.Run("uninitialized memory is zero", func(t *testing.T) {
		c := operation.NewOperationContainer()
		c.Insert(1, operation.READ, false, operation.MemoryOp{CallID: 1, Address: 9, Value: 1})
		assert.ErrorIs(t, NewRwMap(c).CheckValue(), ErrReadValueMismatch)
	})

	t.Run("write replaces previous value", func(t *testing.T) {
		c := operation.NewOperationContainer()
		c.Insert(1, operation.WRITE, false, operation.AccountOp{Address: testAddress, Field: operation.AccountBalance, Value: seven})
		c.Insert(2, operation.WRITE, true, operation.AccountOp{Address: testAddress, Field: operation.AccountBalance, Value: eight, ValuePrev: seven})
		assert.NoError(t, NewRwMap(c).CheckValue())

		c.Insert(3, operation.WRITE, true, operation.AccountOp{Address: testAddress, Field: operation.AccountBalance, Value: seven, ValuePrev: seven})
		assert.ErrorIs(t, NewRwMap(c).CheckValue(), ErrReadValueMismatch)
	})
}
