package builder

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// callArgs are the stack operands of a CALL family opcode.
type callArgs struct {
	gas        uint256.Int
	address    common.Address
	value      uint256.Int
	argsOffset uint64
	argsLength uint64
	retOffset  uint64
	retLength  uint64
}

func hasValueArg(op vm.OpCode) bool {
	return op == vm.CALL || op == vm.CALLCODE
}

// callResult finds the word the call pushed: the stack top of the first later step back at
// the depth of steps[0].
func callResult(steps []tracer.GethExecStep) (uint256.Int, error) {
	depth := steps[0].Depth
	for i := 1; i < len(steps); i++ {
		if steps[i].Depth == depth {
			return stackTop(&steps[i], 0)
		}
		if steps[i].Depth < depth {
			break
		}
	}
	return uint256.Int{}, malformed("%s at pc %d never returns to depth %d", steps[0].Op, steps[0].Pc, depth)
}

func isPrecompile(addr common.Address) bool {
	return slices.Contains(vm.PrecompiledAddressesCancun, addr)
}

func callOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	caller, err := s.Call()
	if err != nil {
		return nil, err
	}
	callerCtx, err := s.CallCtx()
	if err != nil {
		return nil, err
	}
	kind, err := callKindFromOp(step.Op)
	if err != nil {
		return nil, err
	}

	n := 6
	if hasValueArg(step.Op) {
		n = 7
	}
	sp := step.StackPointer()
	words := make([]uint256.Int, n)
	for i := range words {
		if words[i], err = stackTop(step, i); err != nil {
			return nil, err
		}
		if err := s.StackRead(&exec, sp+i, words[i]); err != nil {
			return nil, err
		}
	}
	args := callArgs{gas: words[0], address: wordToAddress(&words[1])}
	rest := words[2:]
	if hasValueArg(step.Op) {
		args.value = words[2]
		rest = words[3:]
	}
	args.argsLength = wordToUint64(&rest[1])
	if args.argsLength > 0 {
		args.argsOffset = wordToUint64(&rest[0])
	}
	args.retLength = wordToUint64(&rest[3])
	if args.retLength > 0 {
		args.retOffset = wordToUint64(&rest[2])
	}

	result, err := callResult(steps)
	if err != nil {
		return nil, err
	}
	if err := s.StackWrite(&exec, sp+n-1, result); err != nil {
		return nil, err
	}
	success := !result.IsZero()

	s.CallContextRead(&exec, caller.CallID, operation.TxId, intWord(s.tx.ID))
	s.CallContextRead(&exec, caller.CallID, operation.RwCounterEndOfReversion, u64Word(caller.RwCounterEndOfReversion))
	s.CallContextRead(&exec, caller.CallID, operation.IsPersistent, boolWord(caller.IsPersistent))
	s.CallContextRead(&exec, caller.CallID, operation.CalleeAddress, addressWord(caller.Address))
	s.CallContextRead(&exec, caller.CallID, operation.IsStatic, boolWord(caller.IsStatic))
	s.CallContextRead(&exec, caller.CallID, operation.Depth, intWord(caller.Depth))
	if _, err := s.PushOpReversible(&exec, operation.TxAccessListAccountOp{
		TxID:       s.tx.ID,
		Address:    args.address,
		IsWarm:     true,
		IsWarmPrev: s.sdb.CheckAccountInAccessList(args.address),
	}); err != nil {
		return nil, err
	}

	// Depth and balance failures push 0 without opening a frame.
	balance := s.sdb.GetBalance(caller.Address)
	insufficient := hasValueArg(step.Op) && balance.Lt(&args.value)
	if caller.Depth > int(params.CallCreateDepth) || insufficient {
		if success {
			return nil, malformed("%s at pc %d succeeded without a callee", step.Op, step.Pc)
		}
		for _, field := range []operation.CallContextField{
			operation.LastCalleeId, operation.LastCalleeReturnDataOffset, operation.LastCalleeReturnDataLength,
		} {
			s.CallContextWrite(&exec, caller.CallID, field, u64Word(0))
		}
		caller.LastCalleeID = 0
		caller.LastCalleeReturnDataOffset = 0
		caller.LastCalleeReturnDataLength = 0
		callerCtx.ReturnData = nil
		log.Trace("Call failed before entering callee", "op", step.Op, "depth", caller.Depth, "insufficient", insufficient)
		return []ExecStep{exec}, nil
	}

	codeHash := s.sdb.GetCodeHash(args.address)
	callee := &Call{
		CallID:           int(*s.rwc),
		Index:            len(s.tx.Calls),
		Kind:             kind,
		IsStatic:         caller.IsStatic || kind == CallKindStaticCall,
		IsSuccess:        success,
		IsPersistent:     caller.IsPersistent && success,
		CallerID:         caller.CallID,
		CallerAddress:    caller.Address,
		Address:          args.address,
		CodeAddress:      args.address,
		CodeHash:         codeHash,
		Depth:            caller.Depth + 1,
		Value:            args.value,
		CallDataOffset:   args.argsOffset,
		CallDataLength:   args.argsLength,
		ReturnDataOffset: args.retOffset,
		ReturnDataLength: args.retLength,
	}
	if callee.CodeHash == (common.Hash{}) {
		callee.CodeHash = types.EmptyCodeHash
	}
	switch kind {
	case CallKindCallCode:
		callee.Address = caller.Address
	case CallKindDelegateCall:
		callee.Address = caller.Address
		callee.CallerAddress = caller.CallerAddress
		callee.Value = caller.Value
	}
	if err := s.pushCall(callee, readPadded(step.Memory, args.argsOffset, args.argsLength)); err != nil {
		return nil, err
	}

	s.CallContextRead(&exec, callee.CallID, operation.RwCounterEndOfReversion, u64Word(callee.RwCounterEndOfReversion))
	s.CallContextRead(&exec, callee.CallID, operation.IsPersistent, boolWord(callee.IsPersistent))
	if hasValueArg(step.Op) && !args.value.IsZero() {
		if err := s.transfer(&exec, caller.Address, callee.Address, &args.value); err != nil {
			return nil, err
		}
	}
	s.AccountRead(&exec, callee.CodeAddress, operation.AccountCodeHash, hashWord(codeHash))

	entered := len(steps) > 1 && steps[1].Depth == step.Depth+1
	if !entered {
		return s.callWithoutFrame(&exec, steps, callee, args)
	}
	if isPrecompile(args.address) {
		return nil, malformed("precompile %s opened a frame", args.address)
	}

	memory := expandedMemory(uint64(len(step.Memory)), args.argsOffset, args.argsLength)
	memory = expandedMemory(memory, args.retOffset, args.retLength)
	callerCtx.saved = savedState{
		pc:           step.Pc + 1,
		stackPointer: sp + n - 1,
		gasLeft:      step.Gas - step.GasCost,
		memoryWords:  memory / 32,
	}
	for _, f := range []struct {
		field operation.CallContextField
		value uint64
	}{
		{operation.ProgramCounter, callerCtx.saved.pc},
		{operation.StackPointer, uint64(callerCtx.saved.stackPointer)},
		{operation.GasLeft, callerCtx.saved.gasLeft},
		{operation.MemorySize, callerCtx.saved.memoryWords},
		{operation.ReversibleWriteCounter, uint64(callerCtx.ReversibleWriteCounter)},
	} {
		s.CallContextWrite(&exec, caller.CallID, f.field, u64Word(f.value))
	}

	for _, f := range []struct {
		field operation.CallContextField
		value *uint256.Int
	}{
		{operation.CallerId, intWord(caller.CallID)},
		{operation.TxId, intWord(s.tx.ID)},
		{operation.Depth, intWord(callee.Depth)},
		{operation.CallerAddress, addressWord(callee.CallerAddress)},
		{operation.CalleeAddress, addressWord(callee.Address)},
		{operation.CallDataOffset, u64Word(callee.CallDataOffset)},
		{operation.CallDataLength, u64Word(callee.CallDataLength)},
		{operation.ReturnDataOffset, u64Word(callee.ReturnDataOffset)},
		{operation.ReturnDataLength, u64Word(callee.ReturnDataLength)},
		{operation.Value, &callee.Value},
		{operation.IsSuccess, boolWord(callee.IsSuccess)},
		{operation.IsStatic, boolWord(callee.IsStatic)},
		{operation.LastCalleeId, u64Word(0)},
		{operation.LastCalleeReturnDataOffset, u64Word(0)},
		{operation.LastCalleeReturnDataLength, u64Word(0)},
		{operation.IsRoot, boolWord(false)},
		{operation.IsCreate, boolWord(false)},
		{operation.CodeHash, hashWord(callee.CodeHash)},
	} {
		s.CallContextRead(&exec, callee.CallID, f.field, f.value)
	}
	return []ExecStep{exec}, nil
}

// callWithoutFrame completes a call to a precompile or to an account without code inside the
// calling step.
func (s *CircuitInputStateRef) callWithoutFrame(exec *ExecStep, steps []tracer.GethExecStep, callee *Call, args callArgs) ([]ExecStep, error) {
	step := &steps[0]
	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	if next.Depth != step.Depth {
		return nil, NewBusMappingError("call without frame is followed by another depth", ErrUnexpectedNextState)
	}
	caller, err := s.Caller()
	if err != nil {
		return nil, err
	}
	callerCtx, err := s.CallerCtx()
	if err != nil {
		return nil, err
	}

	var retData []byte
	if isPrecompile(args.address) {
		retData = next.ReturnData
	} else if len(next.ReturnData) > 0 {
		return nil, malformed("call to %s without code returned %d bytes", args.address, len(next.ReturnData))
	}

	s.CallContextWrite(exec, caller.CallID, operation.LastCalleeId, intWord(callee.CallID))
	s.CallContextWrite(exec, caller.CallID, operation.LastCalleeReturnDataOffset, u64Word(0))
	s.CallContextWrite(exec, caller.CallID, operation.LastCalleeReturnDataLength, u64Word(uint64(len(retData))))
	if callee.IsSuccess {
		// the output lives in the precompile's memory so RETURNDATACOPY can read it later
		for i, b := range retData {
			s.MemoryWrite(exec, callee.CallID, uint64(i), b)
		}
		n := min(args.retLength, uint64(len(retData)))
		for i := uint64(0); i < n; i++ {
			s.MemoryWrite(exec, caller.CallID, args.retOffset+i, retData[i])
		}
	}

	caller.LastCalleeID = callee.CallID
	caller.LastCalleeReturnDataOffset = 0
	caller.LastCalleeReturnDataLength = uint64(len(retData))
	callerCtx.ReturnData = retData

	if err := s.handleReturn(exec); err != nil {
		return nil, err
	}
	return []ExecStep{*exec}, nil
}
