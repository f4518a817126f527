package builder

import (
	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

func sloadOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
	s.CallContextRead(&exec, call.CallID, operation.RwCounterEndOfReversion, u64Word(call.RwCounterEndOfReversion))
	s.CallContextRead(&exec, call.CallID, operation.IsPersistent, boolWord(call.IsPersistent))
	s.CallContextRead(&exec, call.CallID, operation.CalleeAddress, addressWord(call.Address))

	sp := step.StackPointer()
	key, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, key); err != nil {
		return nil, err
	}

	slot := wordToHash(&key)
	value := s.sdb.GetStorage(call.Address, slot)
	committed := s.sdb.GetCommittedStorage(call.Address, slot)
	s.PushOp(&exec, operation.READ, operation.StorageOp{
		Address:        call.Address,
		Key:            key,
		Value:          value,
		ValuePrev:      value,
		TxID:           s.tx.ID,
		CommittedValue: committed,
	})

	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	loaded, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	if !loaded.Eq(&value) {
		return nil, malformed("SLOAD of %s at %s: state has %s, trace has %s", slot, call.Address, value.Hex(), loaded.Hex())
	}
	if err := s.StackWrite(&exec, sp, loaded); err != nil {
		return nil, err
	}

	if _, err := s.PushOpReversible(&exec, operation.TxAccessListAccountStorageOp{
		TxID:       s.tx.ID,
		Address:    call.Address,
		Key:        key,
		IsWarm:     true,
		IsWarmPrev: s.sdb.CheckStorageInAccessList(call.Address, slot),
	}); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

func sstoreOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
	s.CallContextRead(&exec, call.CallID, operation.IsStatic, boolWord(call.IsStatic))
	s.CallContextRead(&exec, call.CallID, operation.RwCounterEndOfReversion, u64Word(call.RwCounterEndOfReversion))
	s.CallContextRead(&exec, call.CallID, operation.IsPersistent, boolWord(call.IsPersistent))
	s.CallContextRead(&exec, call.CallID, operation.CalleeAddress, addressWord(call.Address))

	sp := step.StackPointer()
	key, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	value, err := stackTop(step, 1)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, key); err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp+1, value); err != nil {
		return nil, err
	}

	slot := wordToHash(&key)
	if _, err := s.PushOpReversible(&exec, operation.StorageOp{
		Address:        call.Address,
		Key:            key,
		Value:          value,
		ValuePrev:      s.sdb.GetStorage(call.Address, slot),
		TxID:           s.tx.ID,
		CommittedValue: s.sdb.GetCommittedStorage(call.Address, slot),
	}); err != nil {
		return nil, err
	}
	if _, err := s.PushOpReversible(&exec, operation.TxAccessListAccountStorageOp{
		TxID:       s.tx.ID,
		Address:    call.Address,
		Key:        key,
		IsWarm:     true,
		IsWarmPrev: s.sdb.CheckStorageInAccessList(call.Address, slot),
	}); err != nil {
		return nil, err
	}

	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	if _, err := s.PushOpReversible(&exec, operation.TxRefundOp{
		TxID:      s.tx.ID,
		Value:     next.Refund,
		ValuePrev: s.sdb.Refund(),
	}); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}
