package builder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/statedb"
	"zkevm-bus-mapping/tracer"
)

// CircuitInputStateRef is the view handlers get while one transaction is built. Every
// operation goes through PushOp, the only place that hands out counters.
type CircuitInputStateRef struct {
	sdb       *statedb.StateDB
	code      statedb.CodeDB
	block     *Block
	container *operation.OperationContainer
	rwc       *operation.RWCounter
	tx        *Transaction
	txCtx     *TxContext
}

// =============================================================================
// EMISSION
// =============================================================================

// PushOp stamps op with the next counter, stores it and appends the reference to the step.
func (s *CircuitInputStateRef) PushOp(step *ExecStep, rw operation.RW, op operation.Op) operation.OperationRef {
	ref := s.container.Insert(s.rwc.IncPre(), rw, false, op)
	step.BusMappingInstance = append(step.BusMappingInstance, ref)
	return ref
}

// PushOpReversible applies a write to the state model and emits it. Writes of a non
// persistent call are recorded so they can be undone when the failing call returns.
func (s *CircuitInputStateRef) PushOpReversible(step *ExecStep, op operation.ReversibleOp) (operation.OperationRef, error) {
	call, err := s.Call()
	if err != nil {
		return operation.OperationRef{}, err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return operation.OperationRef{}, err
	}
	if err := s.applyOp(op); err != nil {
		return operation.OperationRef{}, err
	}
	ref := s.container.Insert(s.rwc.IncPre(), operation.WRITE, true, op)
	step.BusMappingInstance = append(step.BusMappingInstance, ref)

	callCtx.ReversibleWriteCounter++
	if !call.IsPersistent {
		if err := s.txCtx.recordReversible(op); err != nil {
			return operation.OperationRef{}, err
		}
	}
	return ref, nil
}

func (s *CircuitInputStateRef) applyOp(op operation.Op) error {
	switch o := op.(type) {
	case operation.StorageOp:
		s.sdb.SetStorage(o.Address, wordToHash(&o.Key), &o.Value)
	case operation.TxAccessListAccountOp:
		s.sdb.SetAccountWarm(o.Address, o.IsWarm)
	case operation.TxAccessListAccountStorageOp:
		s.sdb.SetStorageWarm(o.Address, wordToHash(&o.Key), o.IsWarm)
	case operation.TxRefundOp:
		s.sdb.SetRefund(o.Value)
	case operation.AccountOp:
		switch o.Field {
		case operation.AccountNonce:
			s.sdb.SetNonce(o.Address, o.Value.Uint64())
		case operation.AccountBalance:
			s.sdb.SetBalance(o.Address, &o.Value)
		case operation.AccountCodeHash:
			s.sdb.SetCodeHash(o.Address, wordToHash(&o.Value))
		}
	default:
		return NewBusMappingError(fmt.Sprintf("%s operations can not be applied to state", op.Target()), ErrMalformedTrace)
	}
	return nil
}

func (s *CircuitInputStateRef) StackRead(step *ExecStep, address int, value uint256.Int) error {
	return s.stackOp(step, operation.READ, address, value)
}

func (s *CircuitInputStateRef) StackWrite(step *ExecStep, address int, value uint256.Int) error {
	return s.stackOp(step, operation.WRITE, address, value)
}

func (s *CircuitInputStateRef) stackOp(step *ExecStep, rw operation.RW, address int, value uint256.Int) error {
	if address < 0 || address >= tracer.StackCapacity {
		return NewBusMappingError(fmt.Sprintf("stack address %d out of range", address), ErrStackUnderflowInTrace)
	}
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, rw, operation.StackOp{CallID: call.CallID, Address: address, Value: value})
	return nil
}

func (s *CircuitInputStateRef) MemoryRead(step *ExecStep, callID int, address uint64, value byte) {
	s.PushOp(step, operation.READ, operation.MemoryOp{CallID: callID, Address: address, Value: value})
}

func (s *CircuitInputStateRef) MemoryWrite(step *ExecStep, callID int, address uint64, value byte) {
	s.PushOp(step, operation.WRITE, operation.MemoryOp{CallID: callID, Address: address, Value: value})
}

// CallContextRead emits a read of one field of call callID. Reads of RwCounterEndOfReversion
// are remembered and patched once the transaction is complete.
func (s *CircuitInputStateRef) CallContextRead(step *ExecStep, callID int, field operation.CallContextField, value *uint256.Int) {
	ref := s.PushOp(step, operation.READ, operation.CallContextOp{CallID: callID, Field: field, Value: *value})
	if field == operation.RwCounterEndOfReversion {
		if call := s.tx.CallByID(callID); call != nil {
			call.endOfReversionRefs = append(call.endOfReversionRefs, ref)
		}
	}
}

func (s *CircuitInputStateRef) CallContextWrite(step *ExecStep, callID int, field operation.CallContextField, value *uint256.Int) {
	s.PushOp(step, operation.WRITE, operation.CallContextOp{CallID: callID, Field: field, Value: *value})
}

func (s *CircuitInputStateRef) AccountRead(step *ExecStep, addr common.Address, field operation.AccountField, value *uint256.Int) {
	s.PushOp(step, operation.READ, operation.AccountOp{Address: addr, Field: field, Value: *value, ValuePrev: *value})
}

// AccountWrite is a write that is never reverted, such as the gas fee debit.
func (s *CircuitInputStateRef) AccountWrite(step *ExecStep, addr common.Address, field operation.AccountField, value, valuePrev *uint256.Int) error {
	op := operation.AccountOp{Address: addr, Field: field, Value: *value, ValuePrev: *valuePrev}
	if err := s.applyOp(op); err != nil {
		return err
	}
	s.PushOp(step, operation.WRITE, op)
	return nil
}

func (s *CircuitInputStateRef) TxAccessListWrite(step *ExecStep, addr common.Address) {
	prev := s.sdb.SetAccountWarm(addr, true)
	s.PushOp(step, operation.WRITE, operation.TxAccessListAccountOp{
		TxID:       s.tx.ID,
		Address:    addr,
		IsWarm:     true,
		IsWarmPrev: prev,
	})
}

func (s *CircuitInputStateRef) TxAccessListStorageWrite(step *ExecStep, addr common.Address, key common.Hash) {
	prev := s.sdb.SetStorageWarm(addr, key, true)
	s.PushOp(step, operation.WRITE, operation.TxAccessListAccountStorageOp{
		TxID:       s.tx.ID,
		Address:    addr,
		Key:        *hashWord(key),
		IsWarm:     true,
		IsWarmPrev: prev,
	})
}

func (s *CircuitInputStateRef) TxLogWrite(step *ExecStep, logID int, field operation.TxLogField, index int, value *uint256.Int) {
	s.PushOp(step, operation.WRITE, operation.TxLogOp{
		TxID:  s.tx.ID,
		LogID: logID,
		Field: field,
		Index: index,
		Value: *value,
	})
}

func (s *CircuitInputStateRef) TxReceiptWrite(step *ExecStep, field operation.TxReceiptField, value uint64) {
	s.PushOp(step, operation.WRITE, operation.TxReceiptOp{TxID: s.tx.ID, Field: field, Value: value})
}

// transfer moves value between two accounts with reversible balance writes in the current call.
func (s *CircuitInputStateRef) transfer(step *ExecStep, from, to common.Address, value *uint256.Int) error {
	fromPrev := s.sdb.GetBalance(from)
	if fromPrev.Lt(value) {
		return NewBusMappingError(fmt.Sprintf("insufficient balance of %s for transfer", from), ErrMalformedTrace)
	}
	fromNew := new(uint256.Int).Sub(&fromPrev, value)
	if _, err := s.PushOpReversible(step, operation.AccountOp{
		Address:   from,
		Field:     operation.AccountBalance,
		Value:     *fromNew,
		ValuePrev: fromPrev,
	}); err != nil {
		return err
	}

	toPrev := s.sdb.GetBalance(to)
	toNew := new(uint256.Int).Add(&toPrev, value)
	_, err := s.PushOpReversible(step, operation.AccountOp{
		Address:   to,
		Field:     operation.AccountBalance,
		Value:     *toNew,
		ValuePrev: toPrev,
	})
	return err
}

// =============================================================================
// CALL STACK
// =============================================================================

func (s *CircuitInputStateRef) CallCtx() (*CallContext, error) {
	return s.txCtx.CallCtx()
}

func (s *CircuitInputStateRef) CallerCtx() (*CallContext, error) {
	return s.txCtx.CallerCtx()
}

// Call returns the record of the frame currently executing.
func (s *CircuitInputStateRef) Call() (*Call, error) {
	callCtx, err := s.CallCtx()
	if err != nil {
		return nil, err
	}
	return s.tx.Calls[callCtx.Index], nil
}

func (s *CircuitInputStateRef) Caller() (*Call, error) {
	callerCtx, err := s.CallerCtx()
	if err != nil {
		return nil, err
	}
	return s.tx.Calls[callerCtx.Index], nil
}

func (s *CircuitInputStateRef) pushCall(call *Call, callData []byte) error {
	s.tx.Calls = append(s.tx.Calls, call)
	return s.txCtx.pushCall(call, callData)
}

// newStep snapshots a trace step for the current frame.
func (s *CircuitInputStateRef) newStep(step *tracer.GethExecStep) (ExecStep, error) {
	callCtx, err := s.CallCtx()
	if err != nil {
		return ExecStep{}, err
	}
	callCtx.Memory = step.Memory
	return NewExecStep(step, callCtx, *s.rwc, s.txCtx.LogID), nil
}

// =============================================================================
// RETURN & REVERSION
// =============================================================================

// handleRestoreContext emits the reads and writes that hand control back to the caller:
// the caller's saved state and the return data window of the callee.
func (s *CircuitInputStateRef) handleRestoreContext(step *ExecStep, steps []tracer.GethExecStep, callerIDRead bool) error {
	call, err := s.Call()
	if err != nil {
		return err
	}
	caller, err := s.Caller()
	if err != nil {
		return err
	}
	callerCtx, err := s.CallerCtx()
	if err != nil {
		return err
	}

	var retOffset, retLength uint64
	if op := steps[0].Op; steps[0].Error == nil && (op == vm.RETURN || op == vm.REVERT) {
		offset, err := stackTop(&steps[0], 0)
		if err != nil {
			return err
		}
		length, err := stackTop(&steps[0], 1)
		if err != nil {
			return err
		}
		retLength = wordToUint64(&length)
		if retLength > 0 {
			retOffset = wordToUint64(&offset)
		}
	}

	if !callerIDRead {
		s.CallContextRead(step, call.CallID, operation.CallerId, intWord(caller.CallID))
	}
	saved := callerCtx.saved
	for _, f := range []struct {
		field operation.CallContextField
		value uint64
	}{
		{operation.ProgramCounter, saved.pc},
		{operation.StackPointer, uint64(saved.stackPointer)},
		{operation.GasLeft, saved.gasLeft},
		{operation.MemorySize, saved.memoryWords},
		{operation.ReversibleWriteCounter, uint64(callerCtx.ReversibleWriteCounter)},
	} {
		s.CallContextRead(step, caller.CallID, f.field, u64Word(f.value))
	}
	for _, f := range []struct {
		field operation.CallContextField
		value uint64
	}{
		{operation.LastCalleeId, uint64(call.CallID)},
		{operation.LastCalleeReturnDataOffset, retOffset},
		{operation.LastCalleeReturnDataLength, retLength},
	} {
		s.CallContextWrite(step, caller.CallID, f.field, u64Word(f.value))
	}

	caller.LastCalleeID = call.CallID
	caller.LastCalleeReturnDataOffset = retOffset
	caller.LastCalleeReturnDataLength = retLength
	callerCtx.ReturnData = readPadded(steps[0].Memory, retOffset, retLength)
	return nil
}

// handleReturn pops the current frame. A failed frame undoes its reversion group first.
func (s *CircuitInputStateRef) handleReturn(step *ExecStep) error {
	call, err := s.Call()
	if err != nil {
		return err
	}
	if !call.IsSuccess {
		if err := s.handleReversion(step); err != nil {
			return err
		}
	}
	s.txCtx.popCall(call.IsSuccess)
	return nil
}

// handleReversion emits the undo writes of the innermost reversion group in reverse order.
// Write k of a call in the group lands at RwCounterEndOfReversion - k.
func (s *CircuitInputStateRef) handleReversion(step *ExecStep) error {
	group, err := s.txCtx.popReversionGroup()
	if err != nil {
		return err
	}
	for i := len(group.ops) - 1; i >= 0; i-- {
		rev := group.ops[i].Reverse()
		if err := s.applyOp(rev); err != nil {
			return err
		}
		s.PushOp(step, operation.WRITE, rev)
	}
	end := uint64(*s.rwc)
	for _, rc := range group.calls {
		s.tx.Calls[rc.index].RwCounterEndOfReversion = end - uint64(rc.offset)
	}
	log.Trace("Reverted call group", "ops", len(group.ops), "calls", len(group.calls), "end", end)
	return nil
}

// fixupEndOfReversion patches every RwCounterEndOfReversion read with the final value of its call.
func (s *CircuitInputStateRef) fixupEndOfReversion() error {
	for _, call := range s.tx.Calls {
		value := u64Word(call.RwCounterEndOfReversion)
		for _, ref := range call.endOfReversionRefs {
			if err := s.container.SetCallContextValue(ref, value); err != nil {
				return err
			}
		}
	}
	return nil
}
