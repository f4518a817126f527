package builder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// checkHaltNext verifies that a halting step is followed by a step of the caller, or by
// nothing at all when the root call halts.
func checkHaltNext(call *Call, steps []tracer.GethExecStep) error {
	step := &steps[0]
	if call.IsRoot && len(steps) > 1 {
		return NewBusMappingError(fmt.Sprintf("%s ended the root call but the trace continues", step.Op), ErrUnexpectedNextState)
	}
	if !call.IsRoot {
		if len(steps) < 2 {
			return NewBusMappingError(fmt.Sprintf("%s ended call %d without returning to its caller", step.Op, call.CallID), ErrUnexpectedNextState)
		}
		if steps[1].Depth != step.Depth-1 {
			return NewBusMappingError(fmt.Sprintf("%s at depth %d is followed by depth %d", step.Op, step.Depth, steps[1].Depth), ErrUnexpectedNextState)
		}
	}
	return nil
}

func stopOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	if err := checkHaltNext(call, steps); err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.IsSuccess, boolWord(call.IsSuccess))
	if !call.IsRoot {
		if err := s.handleRestoreContext(&exec, steps, false); err != nil {
			return nil, err
		}
	}
	if err := s.handleReturn(&exec); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

// returnRevertOps handles RETURN and REVERT. An internal call copies its return data into
// the caller's return window; a successful root creation stores the returned bytes as code.
func returnRevertOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	if err := checkHaltNext(call, steps); err != nil {
		return nil, err
	}

	sp := step.StackPointer()
	offsetWord, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	lengthWord, err := stackTop(step, 1)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, offsetWord); err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp+1, lengthWord); err != nil {
		return nil, err
	}
	length := wordToUint64(&lengthWord)
	var offset uint64
	if length > 0 {
		offset = wordToUint64(&offsetWord)
	}

	s.CallContextRead(&exec, call.CallID, operation.IsRoot, boolWord(call.IsRoot))
	s.CallContextRead(&exec, call.CallID, operation.IsCreate, boolWord(call.IsCreate))
	s.CallContextRead(&exec, call.CallID, operation.IsSuccess, boolWord(call.IsSuccess))
	s.CallContextRead(&exec, call.CallID, operation.CallerId, intWord(call.CallerID))
	s.CallContextRead(&exec, call.CallID, operation.ReturnDataOffset, u64Word(call.ReturnDataOffset))
	s.CallContextRead(&exec, call.CallID, operation.ReturnDataLength, u64Word(call.ReturnDataLength))

	if !call.IsRoot {
		if n := min(call.ReturnDataLength, length); n > 0 {
			if _, err := s.genCopyEvent(&exec, copyRequest{
				src: copyEndpoint{
					typ:  CopyDataTypeMemory,
					id:   Number(call.CallID),
					addr: offset,
					end:  offset + length,
				},
				dst: copyEndpoint{
					typ:  CopyDataTypeMemory,
					id:   Number(call.CallerID),
					addr: call.ReturnDataOffset,
				},
				length: n,
				data:   readPadded(step.Memory, offset, n),
			}); err != nil {
				return nil, err
			}
		}
	}

	if call.IsRoot && call.IsCreate && call.IsSuccess && step.Op == vm.RETURN {
		code := readPadded(step.Memory, offset, length)
		hash := s.code.Insert(code)
		if length > 0 {
			if _, err := s.genCopyEvent(&exec, copyRequest{
				src: copyEndpoint{
					typ:  CopyDataTypeMemory,
					id:   Number(call.CallID),
					addr: offset,
					end:  offset + length,
				},
				dst: copyEndpoint{
					typ: CopyDataTypeBytecode,
					id:  Hash(hash),
				},
				length: length,
				data:   code,
			}); err != nil {
				return nil, err
			}
		}
		prev := s.sdb.GetCodeHash(call.Address)
		if _, err := s.PushOpReversible(&exec, operation.AccountOp{
			Address:   call.Address,
			Field:     operation.AccountCodeHash,
			Value:     *hashWord(hash),
			ValuePrev: *hashWord(prev),
		}); err != nil {
			return nil, err
		}
	}

	if !call.IsRoot {
		if err := s.handleRestoreContext(&exec, steps, true); err != nil {
			return nil, err
		}
	}
	if err := s.handleReturn(&exec); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}
