package builder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// opcodeFn generates the operations of steps[0]. The rest of the window is lookahead: the
// trace reports state before each step, so results are read from the steps that follow.
type opcodeFn func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error)

var opcodeTable [256]opcodeFn

func init() {
	for _, op := range []vm.OpCode{
		vm.ADD, vm.MUL, vm.SUB, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD, vm.SIGNEXTEND,
		vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ, vm.AND, vm.OR, vm.XOR, vm.BYTE, vm.SHL, vm.SHR, vm.SAR,
	} {
		opcodeTable[op] = stackOnlyOps(2, 1)
	}
	opcodeTable[vm.EXP] = expOps
	opcodeTable[vm.ADDMOD] = stackOnlyOps(3, 1)
	opcodeTable[vm.MULMOD] = stackOnlyOps(3, 1)
	for _, op := range []vm.OpCode{vm.ISZERO, vm.NOT, vm.BLOCKHASH, vm.BLOBHASH} {
		opcodeTable[op] = stackOnlyOps(1, 1)
	}
	for _, op := range []vm.OpCode{
		vm.PC, vm.MSIZE, vm.GAS, vm.CODESIZE, vm.COINBASE, vm.TIMESTAMP, vm.NUMBER,
		vm.DIFFICULTY, vm.GASLIMIT, vm.CHAINID, vm.BASEFEE, vm.BLOBBASEFEE,
	} {
		opcodeTable[op] = stackOnlyOps(0, 1)
	}
	opcodeTable[vm.POP] = stackOnlyOps(1, 0)
	opcodeTable[vm.JUMP] = stackOnlyOps(1, 0)
	opcodeTable[vm.JUMPI] = stackOnlyOps(2, 0)
	opcodeTable[vm.JUMPDEST] = stackOnlyOps(0, 0)
	for op := vm.PUSH0; op <= vm.PUSH32; op++ {
		opcodeTable[op] = stackOnlyOps(0, 1)
	}
	for n := 1; n <= 16; n++ {
		opcodeTable[vm.DUP1+vm.OpCode(n-1)] = dupOps(n)
		opcodeTable[vm.SWAP1+vm.OpCode(n-1)] = swapOps(n)
	}

	opcodeTable[vm.CALLER] = callContextOps(operation.CallerAddress)
	opcodeTable[vm.CALLVALUE] = callContextOps(operation.Value)
	opcodeTable[vm.CALLDATASIZE] = callContextOps(operation.CallDataLength)
	opcodeTable[vm.ADDRESS] = callContextOps(operation.CalleeAddress)
	opcodeTable[vm.RETURNDATASIZE] = callContextOps(operation.LastCalleeReturnDataLength)
	opcodeTable[vm.ORIGIN] = txContextOps
	opcodeTable[vm.GASPRICE] = txContextOps
	opcodeTable[vm.SELFBALANCE] = selfBalanceOps
	opcodeTable[vm.BALANCE] = accountReadOps(operation.AccountBalance)
	opcodeTable[vm.EXTCODEHASH] = accountReadOps(operation.AccountCodeHash)
	opcodeTable[vm.EXTCODESIZE] = accountReadOps(operation.AccountCodeHash)

	opcodeTable[vm.MLOAD] = mloadOps
	opcodeTable[vm.MSTORE] = mstoreOps(32)
	opcodeTable[vm.MSTORE8] = mstoreOps(1)
	opcodeTable[vm.CALLDATALOAD] = calldataLoadOps
	opcodeTable[vm.SLOAD] = sloadOps
	opcodeTable[vm.SSTORE] = sstoreOps

	opcodeTable[vm.STOP] = stopOps
	opcodeTable[vm.RETURN] = returnRevertOps
	opcodeTable[vm.REVERT] = returnRevertOps
	for _, op := range []vm.OpCode{vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL} {
		opcodeTable[op] = callOps
	}

	opcodeTable[vm.CALLDATACOPY] = calldataCopyOps
	opcodeTable[vm.CODECOPY] = codeCopyOps
	opcodeTable[vm.RETURNDATACOPY] = returnDataCopyOps
	opcodeTable[vm.KECCAK256] = sha3Ops
	for n := 0; n <= 4; n++ {
		opcodeTable[vm.LOG0+vm.OpCode(n)] = logOps(n)
	}

	for _, op := range []vm.OpCode{
		vm.CREATE, vm.CREATE2, vm.SELFDESTRUCT, vm.EXTCODECOPY, vm.TLOAD, vm.TSTORE, vm.MCOPY, vm.INVALID,
	} {
		opcodeTable[op] = unimplementedOps
	}

	// Every opcode go-ethereum knows must resolve to a handler.
	for i := 0; i < len(opcodeTable); i++ {
		if opcodeTable[i] == nil && isDefinedOpcode(vm.OpCode(i)) {
			opcodeTable[i] = unimplementedOps
		}
	}
}

func isDefinedOpcode(op vm.OpCode) bool {
	return !strings.HasPrefix(op.String(), "opcode ")
}

// fnGenAssociatedOps returns the handler of op, or nil for bytes that are not opcodes.
func fnGenAssociatedOps(op vm.OpCode) opcodeFn {
	return opcodeTable[op]
}

// genAssociatedOps builds the steps of steps[0]. Failed steps go through the error path
// regardless of their opcode.
func (s *CircuitInputStateRef) genAssociatedOps(steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	if step.Depth != s.txCtx.Depth() {
		return nil, malformed("step depth %d but %d calls are open", step.Depth, s.txCtx.Depth())
	}
	if execErr := classifyExecError(step.Op, step.Error); execErr != nil {
		return genErrorOps(s, steps, execErr)
	}
	fn := fnGenAssociatedOps(step.Op)
	if fn == nil {
		return nil, NewBusMappingError(fmt.Sprintf("undefined opcode %#x", byte(step.Op)), ErrUnimplementedOpcode)
	}
	return fn(s, steps)
}

func unimplementedOps(_ *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	return nil, NewBusMappingError(steps[0].Op.String(), ErrUnimplementedOpcode)
}

// =============================================================================
// STACK ONLY
// =============================================================================

// stackOnlyOps reads pops words from the top of the stack and writes pushes results.
func stackOnlyOps(pops, pushes int) opcodeFn {
	return func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
		step := &steps[0]
		exec, err := s.newStep(step)
		if err != nil {
			return nil, err
		}
		sp := step.StackPointer()
		for i := 0; i < pops; i++ {
			v, err := stackTop(step, i)
			if err != nil {
				return nil, err
			}
			if err := s.StackRead(&exec, sp+i, v); err != nil {
				return nil, err
			}
		}
		if pushes > 0 {
			next, err := nextStep(steps)
			if err != nil {
				return nil, err
			}
			nextSp := sp + pops - pushes
			if next.StackPointer() != nextSp {
				return nil, malformed("%s left stack pointer %d, expected %d", step.Op, next.StackPointer(), nextSp)
			}
			for j := 0; j < pushes; j++ {
				v, err := stackTop(next, j)
				if err != nil {
					return nil, err
				}
				if err := s.StackWrite(&exec, nextSp+j, v); err != nil {
					return nil, err
				}
			}
		}
		return []ExecStep{exec}, nil
	}
}

func dupOps(n int) opcodeFn {
	return func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
		step := &steps[0]
		exec, err := s.newStep(step)
		if err != nil {
			return nil, err
		}
		sp := step.StackPointer()
		v, err := stackTop(step, n-1)
		if err != nil {
			return nil, err
		}
		if err := s.StackRead(&exec, sp+n-1, v); err != nil {
			return nil, err
		}
		if err := s.StackWrite(&exec, sp-1, v); err != nil {
			return nil, err
		}
		return []ExecStep{exec}, nil
	}
}

func swapOps(n int) opcodeFn {
	return func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
		step := &steps[0]
		exec, err := s.newStep(step)
		if err != nil {
			return nil, err
		}
		sp := step.StackPointer()
		a, err := stackTop(step, 0)
		if err != nil {
			return nil, err
		}
		b, err := stackTop(step, n)
		if err != nil {
			return nil, err
		}
		for _, op := range []struct {
			write   bool
			address int
			value   *uint256.Int
		}{
			{false, sp + n, &b},
			{false, sp, &a},
			{true, sp + n, &a},
			{true, sp, &b},
		} {
			var err error
			if op.write {
				err = s.StackWrite(&exec, op.address, *op.value)
			} else {
				err = s.StackRead(&exec, op.address, *op.value)
			}
			if err != nil {
				return nil, err
			}
		}
		return []ExecStep{exec}, nil
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// genErrorOps ends the current call after a failed step: the step reads the failure from the
// call context, hands control back to the caller and the call's writes are reverted.
func genErrorOps(s *CircuitInputStateRef, steps []tracer.GethExecStep, execErr *StepError) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	exec.Error = execErr
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	if call.IsSuccess {
		return nil, malformed("%s failed with %s in call %d that succeeds", step.Op, execErr, call.CallID)
	}

	if execErr.Kind == ExecErrorWriteProtection {
		if step.Op == vm.CALL {
			sp := step.StackPointer()
			for i := 0; i < 3; i++ {
				v, err := stackTop(step, i)
				if err != nil {
					return nil, err
				}
				if err := s.StackRead(&exec, sp+i, v); err != nil {
					return nil, err
				}
			}
		}
		s.CallContextRead(&exec, call.CallID, operation.IsStatic, boolWord(call.IsStatic))
	}
	s.CallContextRead(&exec, call.CallID, operation.IsSuccess, boolWord(false))
	s.CallContextRead(&exec, call.CallID, operation.RwCounterEndOfReversion, u64Word(call.RwCounterEndOfReversion))

	if call.IsRoot {
		if len(steps) > 1 {
			return nil, NewBusMappingError(fmt.Sprintf("%s ended the root call but the trace continues", step.Op), ErrUnexpectedNextState)
		}
	} else {
		if len(steps) < 2 {
			return nil, NewBusMappingError(fmt.Sprintf("%s ended call %d without returning to its caller", step.Op, call.CallID), ErrUnexpectedNextState)
		}
		if err := s.handleRestoreContext(&exec, steps, false); err != nil {
			return nil, err
		}
	}
	if err := s.handleReturn(&exec); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}
