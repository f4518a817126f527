package builder

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

func mloadOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
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
	offsetWord, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, offsetWord); err != nil {
		return nil, err
	}
	offset := wordToUint64(&offsetWord)

	word := readPadded(step.Memory, offset, 32)
	for i, b := range word {
		s.MemoryRead(&exec, call.CallID, offset+uint64(i), b)
	}

	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	value, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	if loaded := new(uint256.Int).SetBytes32(word); !loaded.Eq(&value) {
		return nil, malformed("MLOAD at %d loaded %s, trace has %s", offset, loaded.Hex(), value.Hex())
	}
	if err := s.StackWrite(&exec, sp, value); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

// mstoreOps writes size bytes: 32 for MSTORE, 1 for MSTORE8.
func mstoreOps(size int) opcodeFn {
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
		offsetWord, err := stackTop(step, 0)
		if err != nil {
			return nil, err
		}
		value, err := stackTop(step, 1)
		if err != nil {
			return nil, err
		}
		if err := s.StackRead(&exec, sp, offsetWord); err != nil {
			return nil, err
		}
		if err := s.StackRead(&exec, sp+1, value); err != nil {
			return nil, err
		}

		offset := wordToUint64(&offsetWord)
		if size == 1 {
			s.MemoryWrite(&exec, call.CallID, offset, byte(value.Uint64()))
			return []ExecStep{exec}, nil
		}
		bytes := value.Bytes32()
		for i, b := range bytes {
			s.MemoryWrite(&exec, call.CallID, offset+uint64(i), b)
		}
		return []ExecStep{exec}, nil
	}
}

// calldataLoadOps reads 32 bytes of calldata. Calldata of an internal call lives in the
// caller's memory, so its bytes are read from there.
func calldataLoadOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return nil, err
	}
	sp := step.StackPointer()
	offsetWord, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, offsetWord); err != nil {
		return nil, err
	}
	offset := wordToUint64(&offsetWord)
	data := callCtx.ReadCallData(offset, 32)

	if call.IsRoot {
		s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
		s.CallContextRead(&exec, call.CallID, operation.CallDataLength, u64Word(call.CallDataLength))
	} else {
		s.CallContextRead(&exec, call.CallID, operation.CallerId, intWord(call.CallerID))
		s.CallContextRead(&exec, call.CallID, operation.CallDataLength, u64Word(call.CallDataLength))
		s.CallContextRead(&exec, call.CallID, operation.CallDataOffset, u64Word(call.CallDataOffset))
		for i := uint64(0); i < 32 && offset < call.CallDataLength && offset+i < call.CallDataLength; i++ {
			s.MemoryRead(&exec, call.CallerID, call.CallDataOffset+offset+i, data[i])
		}
	}

	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	value, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	if loaded := new(uint256.Int).SetBytes32(data); !loaded.Eq(&value) {
		log.Warn("Calldata differs from trace", "call", call.CallID, "offset", offset, "calldata", loaded.Hex(), "trace", value.Hex())
	}
	if err := s.StackWrite(&exec, sp, value); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}
