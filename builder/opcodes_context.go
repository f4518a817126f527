package builder

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// callContextValue is the value field holds for call in the call context table.
func callContextValue(call *Call, field operation.CallContextField) *uint256.Int {
	switch field {
	case operation.CallerAddress:
		return addressWord(call.CallerAddress)
	case operation.CalleeAddress:
		return addressWord(call.Address)
	case operation.Value:
		return new(uint256.Int).Set(&call.Value)
	case operation.CallDataOffset:
		return u64Word(call.CallDataOffset)
	case operation.CallDataLength:
		return u64Word(call.CallDataLength)
	case operation.ReturnDataOffset:
		return u64Word(call.ReturnDataOffset)
	case operation.ReturnDataLength:
		return u64Word(call.ReturnDataLength)
	case operation.LastCalleeReturnDataLength:
		return u64Word(call.LastCalleeReturnDataLength)
	case operation.Depth:
		return intWord(call.Depth)
	case operation.IsStatic:
		return boolWord(call.IsStatic)
	}
	return new(uint256.Int)
}

// callContextOps pushes one field of the current call: CALLER, CALLVALUE, CALLDATASIZE,
// ADDRESS and RETURNDATASIZE.
func callContextOps(field operation.CallContextField) opcodeFn {
	return func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
		step := &steps[0]
		exec, err := s.newStep(step)
		if err != nil {
			return nil, err
		}
		call, err := s.Call()
		if err != nil {
			return nil, err
		}
		next, err := nextStep(steps)
		if err != nil {
			return nil, err
		}
		value, err := stackTop(next, 0)
		if err != nil {
			return nil, err
		}
		if expected := callContextValue(call, field); !expected.Eq(&value) {
			log.Warn("Call context differs from trace", "op", step.Op, "field", field, "call", call.CallID, "expected", expected.Hex(), "trace", value.Hex())
		}
		s.CallContextRead(&exec, call.CallID, field, &value)
		if err := s.StackWrite(&exec, step.StackPointer()-1, value); err != nil {
			return nil, err
		}
		return []ExecStep{exec}, nil
	}
}

// txContextOps pushes a transaction constant (ORIGIN, GASPRICE) after looking up the tx id.
func txContextOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	value, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
	if err := s.StackWrite(&exec, step.StackPointer()-1, value); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

func selfBalanceOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	value, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	balance := s.sdb.GetBalance(call.Address)
	if !balance.Eq(&value) {
		log.Warn("Balance differs from trace", "address", call.Address, "state", balance.Hex(), "trace", value.Hex())
	}
	s.CallContextRead(&exec, call.CallID, operation.CalleeAddress, addressWord(call.Address))
	s.AccountRead(&exec, call.Address, operation.AccountBalance, &balance)
	if err := s.StackWrite(&exec, step.StackPointer()-1, value); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

// accountReadOps handles BALANCE, EXTCODEHASH and EXTCODESIZE: the address operand is warmed
// in the access list and one account field is read.
func accountReadOps(field operation.AccountField) opcodeFn {
	return func(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
		step := &steps[0]
		exec, err := s.newStep(step)
		if err != nil {
			return nil, err
		}
		call, err := s.Call()
		if err != nil {
			return nil, err
		}
		sp := step.StackPointer()
		addrWord, err := stackTop(step, 0)
		if err != nil {
			return nil, err
		}
		if err := s.StackRead(&exec, sp, addrWord); err != nil {
			return nil, err
		}
		addr := wordToAddress(&addrWord)

		s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
		s.CallContextRead(&exec, call.CallID, operation.RwCounterEndOfReversion, u64Word(call.RwCounterEndOfReversion))
		s.CallContextRead(&exec, call.CallID, operation.IsPersistent, boolWord(call.IsPersistent))
		if _, err := s.PushOpReversible(&exec, operation.TxAccessListAccountOp{
			TxID:       s.tx.ID,
			Address:    addr,
			IsWarm:     true,
			IsWarmPrev: s.sdb.CheckAccountInAccessList(addr),
		}); err != nil {
			return nil, err
		}

		var value uint256.Int
		if field == operation.AccountBalance {
			value = s.sdb.GetBalance(addr)
		} else {
			value = *hashWord(s.sdb.GetCodeHash(addr))
		}
		s.AccountRead(&exec, addr, field, &value)

		next, err := nextStep(steps)
		if err != nil {
			return nil, err
		}
		result, err := stackTop(next, 0)
		if err != nil {
			return nil, err
		}
		if err := s.StackWrite(&exec, sp, result); err != nil {
			return nil, err
		}
		return []ExecStep{exec}, nil
	}
}
