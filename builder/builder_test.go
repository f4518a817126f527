package builder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkevm-bus-mapping/mock"
	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
	"zkevm-bus-mapping/witness"
)

// buildBlock traces ctx, builds the block and runs the witness audits on it.
func buildBlock(t *testing.T, ctx *mock.TestContext) *Block {
	t.Helper()
	block, err := TraceAndBuild(ctx.Config(), DefaultConfig())
	require.NoError(t, err)

	rws := witness.NewRwMap(block.Container)
	require.NoError(t, rws.CheckRwCounterSanity())
	require.NoError(t, rws.CheckValue())
	return block
}

func findStep(t *testing.T, tx *Transaction, op vm.OpCode) *ExecStep {
	t.Helper()
	for i := range tx.Steps {
		if tx.Steps[i].ExecState == ExecStateOp && tx.Steps[i].Op == op {
			return &tx.Steps[i]
		}
	}
	require.FailNow(t, "step not found", "no %s step in tx %d", op, tx.ID)
	return nil
}

func stepOps(block *Block, step *ExecStep) []operation.Operation {
	ops := make([]operation.Operation, len(step.BusMappingInstance))
	for i, ref := range step.BusMappingInstance {
		ops[i] = block.Container.Get(ref)
	}
	return ops
}

func opAt(t *testing.T, block *Block, rwc uint64) operation.Operation {
	t.Helper()
	for _, o := range block.Container.SortedAll() {
		if uint64(o.RWC) == rwc {
			return o
		}
	}
	require.FailNow(t, "operation not found", "no operation at rwc %d", rwc)
	return operation.Operation{}
}

// callCode calls to with gas 0xffff. The arguments are read from memory [0, argsLength) and
// the output lands at [retOffset, retOffset+retLength).
func callCode(op vm.OpCode, to common.Address, value, argsLength, retOffset, retLength byte) []byte {
	code := []byte{
		byte(vm.PUSH1), retLength,
		byte(vm.PUSH1), retOffset,
		byte(vm.PUSH1), argsLength,
		byte(vm.PUSH1), 0x00,
	}
	if hasValueArg(op) {
		code = append(code, byte(vm.PUSH1), value)
	}
	code = append(code, byte(vm.PUSH20))
	code = append(code, to.Bytes()...)
	return append(code, byte(vm.PUSH2), 0xff, 0xff, byte(op))
}

func TestCallerOp(t *testing.T) {
	code := []byte{byte(vm.CALLER), byte(vm.STOP)}
	block := buildBlock(t, mock.NewTestContext(code))

	require.Len(t, block.Txs, 1)
	tx := block.Txs[0]
	require.Len(t, tx.Steps, 4)
	assert.True(t, tx.Steps[0].IsBeginTx())
	assert.True(t, tx.Steps[3].IsEndTx())

	step := findStep(t, tx, vm.CALLER)
	ops := stepOps(block, step)
	require.Len(t, ops, 2)
	callID := tx.Calls[0].CallID

	assert.Equal(t, step.Rwc, ops[0].RWC)
	assert.Equal(t, operation.READ, ops[0].RW)
	assert.Equal(t, operation.CallContextOp{
		CallID: callID,
		Field:  operation.CallerAddress,
		Value:  *addressWord(mock.Sender),
	}, ops[0].Op)

	assert.Equal(t, ops[0].RWC+1, ops[1].RWC)
	assert.Equal(t, operation.WRITE, ops[1].RW)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *addressWord(mock.Sender)}, ops[1].Op)
}

func TestMloadOp(t *testing.T) {
	code := []byte{byte(vm.PUSH1), 0x40, byte(vm.MLOAD), byte(vm.STOP)}
	block := buildBlock(t, mock.NewTestContext(code))
	tx := block.Txs[0]
	callID := tx.Calls[0].CallID

	ops := stepOps(block, findStep(t, tx, vm.MLOAD))
	require.Len(t, ops, 34)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *uint256.NewInt(0x40)}, ops[0].Op)
	for i := 0; i < 32; i++ {
		assert.Equal(t, operation.READ, ops[1+i].RW)
		assert.Equal(t, operation.MemoryOp{CallID: callID, Address: 0x40 + uint64(i)}, ops[1+i].Op)
	}
	assert.Equal(t, operation.WRITE, ops[33].RW)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023}, ops[33].Op)
}

func rootReturnCode() []byte {
	return []byte{
		byte(vm.PUSH1), 0x0a, // length
		byte(vm.PUSH1), 0x00, // offset
		byte(vm.RETURN),
	}
}

func TestRootReturn(t *testing.T) {
	ctx := mock.NewTestContext(rootReturnCode())
	block := buildBlock(t, ctx)
	tx := block.Txs[0]
	callID := tx.Calls[0].CallID

	ops := stepOps(block, findStep(t, tx, vm.RETURN))
	require.Len(t, ops, 8)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1022}, ops[0].Op)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *uint256.NewInt(10)}, ops[1].Op)
	assert.Equal(t, operation.CallContextOp{CallID: callID, Field: operation.IsRoot, Value: *boolWord(true)}, ops[2].Op)
	assert.Equal(t, operation.CallContextOp{CallID: callID, Field: operation.IsSuccess, Value: *boolWord(true)}, ops[4].Op)

	require.Len(t, tx.Steps, 5)
	assert.True(t, tx.Steps[4].IsEndTx())
	assert.Equal(t, make([]byte, 10), tx.ReturnValue)
}

func TestRootReturnFollowedByStep(t *testing.T) {
	ctx := mock.NewTestContext(rootReturnCode())
	traces, err := ctx.Trace()
	require.NoError(t, err)
	require.Len(t, traces, 1)

	logs := traces[0].StructLogs
	extra := logs[len(logs)-1]
	extra.Op = vm.STOP
	extra.Pc++
	traces[0].StructLogs = append(logs, extra)

	_, err = BuildBlock(ctx.Config(), traces, DefaultConfig())
	assert.ErrorIs(t, err, ErrUnexpectedNextState)
}

func TestRevertedCallUndoesStorage(t *testing.T) {
	callee := []byte{
		byte(vm.PUSH1), 0x01,
		byte(vm.PUSH1), 0x00,
		byte(vm.SSTORE),
		byte(vm.PUSH1), 0x00,
		byte(vm.PUSH1), 0x00,
		byte(vm.REVERT),
	}
	caller := append(callCode(vm.CALL, mock.Contract2, 0, 0, 0, 0), byte(vm.STOP))
	ctx := mock.NewTestContext(caller).
		DeployContract(mock.Contract2, callee).
		SetStorage(mock.Contract2, common.Hash{}, common.BigToHash(big.NewInt(5)))
	block := buildBlock(t, ctx)
	tx := block.Txs[0]

	require.Len(t, tx.Calls, 2)
	root, sub := tx.Calls[0], tx.Calls[1]
	assert.True(t, root.IsSuccess)
	assert.False(t, sub.IsSuccess)
	assert.False(t, sub.IsPersistent)
	assert.Equal(t, 2, sub.Depth)
	require.NotZero(t, sub.RwCounterEndOfReversion)

	write := stepOps(block, findStep(t, tx, vm.SSTORE))
	var stored operation.Operation
	for _, o := range write {
		if o.Target() == operation.Storage {
			stored = o
		}
	}
	require.NotNil(t, stored.Op)
	assert.True(t, stored.Reversible)
	assert.Equal(t, *u64Word(1), stored.Op.(operation.StorageOp).Value)
	assert.Less(t, uint64(stored.RWC), sub.RwCounterEndOfReversion)

	mirror := opAt(t, block, sub.RwCounterEndOfReversion-1)
	require.Equal(t, operation.Storage, mirror.Target())
	assert.Equal(t, operation.WRITE, mirror.RW)
	mirrorOp := mirror.Op.(operation.StorageOp)
	assert.Equal(t, uint64(5), mirrorOp.Value.Uint64())
	assert.Equal(t, uint64(1), mirrorOp.ValuePrev.Uint64())

	// the CALL pushed 0
	callStep := findStep(t, tx, vm.CALL)
	for _, o := range stepOps(block, callStep) {
		if o.Target() == operation.Stack && o.RW == operation.WRITE {
			assert.Equal(t, uint256.Int{}, o.Op.(operation.StackOp).Value)
		}
		if op, ok := o.Op.(operation.CallContextOp); ok && op.CallID == sub.CallID && op.Field == operation.RwCounterEndOfReversion {
			assert.Equal(t, sub.RwCounterEndOfReversion, op.Value.Uint64())
		}
	}
}

func TestCalldataCopy(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x05, // length
		byte(vm.PUSH1), 0x02, // data offset
		byte(vm.PUSH1), 0x00, // memory offset
		byte(vm.CALLDATACOPY),
		byte(vm.STOP),
	}
	calldata := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	block := buildBlock(t, mock.NewTestContext(code).WithCallData(calldata))
	tx := block.Txs[0]

	require.Len(t, block.CopyEvents, 1)
	event := block.CopyEvents[0]
	assert.Equal(t, CopyDataTypeTxCalldata, event.SrcType)
	assert.Equal(t, Number(tx.ID), event.SrcID)
	assert.Equal(t, CopyDataTypeMemory, event.DstType)
	assert.Equal(t, Number(tx.Calls[0].CallID), event.DstID)
	assert.Equal(t, uint64(5), event.Length)
	require.Len(t, event.Steps, 10)
	assert.Equal(t, uint64(5), event.RwCounterIncrease())

	for i := 0; i < 5; i++ {
		read, write := event.Steps[2*i], event.Steps[2*i+1]
		assert.Equal(t, operation.READ, read.RW)
		assert.Zero(t, read.Rwc)
		assert.Equal(t, calldata[2+i], read.Value)
		assert.Equal(t, operation.WRITE, write.RW)
		assert.NotZero(t, write.Rwc)
		assert.Equal(t, read.Value, write.Value)
	}
}

func TestTxContextOps(t *testing.T) {
	code := []byte{byte(vm.ORIGIN), byte(vm.GASPRICE), byte(vm.STOP)}
	block := buildBlock(t, mock.NewTestContext(code))
	tx := block.Txs[0]
	callID := tx.Calls[0].CallID

	ops := stepOps(block, findStep(t, tx, vm.ORIGIN))
	require.Len(t, ops, 2)
	assert.Equal(t, operation.CallContextOp{CallID: callID, Field: operation.TxId, Value: *intWord(tx.ID)}, ops[0].Op)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1023, Value: *addressWord(mock.Sender)}, ops[1].Op)

	ops = stepOps(block, findStep(t, tx, vm.GASPRICE))
	require.Len(t, ops, 2)
	assert.Equal(t, operation.READ, ops[0].RW)
	assert.Equal(t, operation.StackOp{CallID: callID, Address: 1022, Value: *u64Word(mock.GasPrice)}, ops[1].Op)
}

func TestStepCountersIncrease(t *testing.T) {
	code := append(callCode(vm.CALL, mock.Contract2, 0, 0, 0, 0x20),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00, byte(vm.KECCAK256),
		byte(vm.STOP))
	callee := []byte{
		byte(vm.PUSH1), 0x2a, byte(vm.PUSH1), 0x00, byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00, byte(vm.RETURN),
	}
	block := buildBlock(t, mock.NewTestContext(code).DeployContract(mock.Contract2, callee))

	next := operation.RWCounter(1)
	for _, tx := range block.Txs {
		for i := range tx.Steps {
			step := &tx.Steps[i]
			assert.Equal(t, next, step.Rwc, "step %s", step)
			for _, o := range stepOps(block, step) {
				assert.Equal(t, next, o.RWC, "step %s", step)
				next++
			}
		}
	}
	assert.Equal(t, block.Rwc, next)
}

func TestBuildIsDeterministic(t *testing.T) {
	code := append(callCode(vm.CALL, mock.Contract2, 0, 0, 0, 0), byte(vm.STOP))
	callee := []byte{byte(vm.PUSH1), 0x07, byte(vm.PUSH1), 0x00, byte(vm.SSTORE), byte(vm.STOP)}
	ctx := mock.NewTestContext(code).DeployContract(mock.Contract2, callee)

	traces, err := ctx.Trace()
	require.NoError(t, err)
	first, err := BuildBlock(ctx.Config(), traces, DefaultConfig())
	require.NoError(t, err)
	second, err := BuildBlock(ctx.Config(), traces, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, first.Container.SortedAll(), second.Container.SortedAll())
	assert.Equal(t, first.CopyEvents, second.CopyEvents)
	assert.Equal(t, first.Rwc, second.Rwc)
}

func TestBuildBlockTraceCountMismatch(t *testing.T) {
	ctx := mock.NewTestContext([]byte{byte(vm.STOP)})
	_, err := BuildBlock(ctx.Config(), []*tracer.GethExecTrace{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestMaxCopyRows(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x05, byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00,
		byte(vm.CALLDATACOPY), byte(vm.STOP),
	}
	ctx := mock.NewTestContext(code)
	_, err := TraceAndBuild(ctx.Config(), Config{MaxCopyRows: 4})
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestMaxRws(t *testing.T) {
	ctx := mock.NewTestContext([]byte{byte(vm.CALLER), byte(vm.STOP)})
	block, err := TraceAndBuild(ctx.Config(), DefaultConfig())
	require.NoError(t, err)
	rows := int(block.Rwc) - 1

	_, err = TraceAndBuild(ctx.Config(), Config{MaxRws: rows + 1})
	assert.NoError(t, err)
	_, err = TraceAndBuild(ctx.Config(), Config{MaxRws: rows})
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestMultipleTransactions(t *testing.T) {
	code := []byte{
		byte(vm.PUSH1), 0x00, byte(vm.SLOAD),
		byte(vm.PUSH1), 0x01, byte(vm.ADD),
		byte(vm.PUSH1), 0x00, byte(vm.SSTORE),
		byte(vm.STOP),
	}
	ctx := mock.NewTestContext(code).
		SetStorage(mock.Contract, common.Hash{}, common.BigToHash(big.NewInt(5))).
		AddCall(mock.Contract, nil)
	block := buildBlock(t, ctx)
	require.Len(t, block.Txs, 2)

	for i, tx := range block.Txs {
		assert.Equal(t, i+1, tx.ID)
		want := uint64(6 + i)
		var found bool
		for _, o := range stepOps(block, findStep(t, tx, vm.SSTORE)) {
			if op, ok := o.Op.(operation.StorageOp); ok {
				found = true
				assert.Equal(t, want, op.Value.Uint64())
				assert.Equal(t, want-1, op.ValuePrev.Uint64())
				assert.Equal(t, want-1, op.CommittedValue.Uint64())
				assert.Equal(t, tx.ID, op.TxID)
			}
		}
		assert.True(t, found)
	}

	var cumulative []uint64
	for _, o := range block.Container.SortedTxReceipt() {
		if op := o.Op.(operation.TxReceiptOp); op.Field == operation.ReceiptCumulativeGasUsed {
			cumulative = append(cumulative, op.Value)
		}
	}
	require.Len(t, cumulative, 2)
	assert.Less(t, cumulative[0], cumulative[1])
	assert.Equal(t, block.CumulativeGasUsed, cumulative[1])
}
