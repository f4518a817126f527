package builder

import (
	"bytes"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// memoryCopyArgs reads and emits the (memory offset, source offset, length) operands shared by
// CALLDATACOPY, CODECOPY and RETURNDATACOPY.
func (s *CircuitInputStateRef) memoryCopyArgs(exec *ExecStep, step *tracer.GethExecStep) (dstOffset, srcOffset, length uint64, err error) {
	sp := step.StackPointer()
	var words [3]uint256.Int
	for i := range words {
		if words[i], err = stackTop(step, i); err != nil {
			return 0, 0, 0, err
		}
		if err = s.StackRead(exec, sp+i, words[i]); err != nil {
			return 0, 0, 0, err
		}
	}
	length = wordToUint64(&words[2])
	if length == 0 {
		return 0, 0, 0, nil
	}
	return wordToUint64(&words[0]), wordToUint64(&words[1]), length, nil
}

// clampedSource is the first source address of a copy that starts offset bytes into a
// region [base, base+size). Offsets past the region start at its end so every byte pads.
func clampedSource(base, size, offset uint64) uint64 {
	if offset > size {
		offset = size
	}
	return base + offset
}

func calldataCopyOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
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
	dstOffset, dataOffset, length, err := s.memoryCopyArgs(&exec, step)
	if err != nil {
		return nil, err
	}

	var src copyEndpoint
	if call.IsRoot {
		s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
		s.CallContextRead(&exec, call.CallID, operation.CallDataLength, u64Word(call.CallDataLength))
		src = copyEndpoint{
			typ:  CopyDataTypeTxCalldata,
			id:   Number(s.tx.ID),
			addr: clampedSource(0, call.CallDataLength, dataOffset),
			end:  call.CallDataLength,
		}
	} else {
		s.CallContextRead(&exec, call.CallID, operation.CallerId, intWord(call.CallerID))
		s.CallContextRead(&exec, call.CallID, operation.CallDataLength, u64Word(call.CallDataLength))
		s.CallContextRead(&exec, call.CallID, operation.CallDataOffset, u64Word(call.CallDataOffset))
		src = copyEndpoint{
			typ:  CopyDataTypeMemory,
			id:   Number(call.CallerID),
			addr: clampedSource(call.CallDataOffset, call.CallDataLength, dataOffset),
			end:  call.CallDataOffset + call.CallDataLength,
		}
	}

	if length > 0 {
		if _, err := s.genCopyEvent(&exec, copyRequest{
			src:    src,
			dst:    copyEndpoint{typ: CopyDataTypeMemory, id: Number(call.CallID), addr: dstOffset},
			length: length,
			data:   callCtx.ReadCallData(dataOffset, length),
		}); err != nil {
			return nil, err
		}
	}
	return []ExecStep{exec}, nil
}

func codeCopyOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	step := &steps[0]
	exec, err := s.newStep(step)
	if err != nil {
		return nil, err
	}
	call, err := s.Call()
	if err != nil {
		return nil, err
	}
	dstOffset, codeOffset, length, err := s.memoryCopyArgs(&exec, step)
	if err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.CodeHash, hashWord(call.CodeHash))
	if length == 0 {
		return []ExecStep{exec}, nil
	}

	code, ok := s.code.Get(call.CodeHash)
	if !ok {
		return nil, NewBusMappingError(call.CodeHash.Hex(), ErrCodeNotFound)
	}
	size := uint64(len(code))
	srcAddr := clampedSource(0, size, codeOffset)
	if _, err := s.genCopyEvent(&exec, copyRequest{
		src: copyEndpoint{
			typ:  CopyDataTypeBytecode,
			id:   Hash(call.CodeHash),
			addr: srcAddr,
			end:  size,
		},
		dst:    copyEndpoint{typ: CopyDataTypeMemory, id: Number(call.CallID), addr: dstOffset},
		length: length,
		data:   readPadded(code, codeOffset, length),
		code:   s.block.codeMask(call.CodeHash, code)[srcAddr:],
	}); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

func returnDataCopyOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
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
	dstOffset, dataOffset, length, err := s.memoryCopyArgs(&exec, step)
	if err != nil {
		return nil, err
	}
	s.CallContextRead(&exec, call.CallID, operation.LastCalleeId, intWord(call.LastCalleeID))
	s.CallContextRead(&exec, call.CallID, operation.LastCalleeReturnDataOffset, u64Word(call.LastCalleeReturnDataOffset))
	s.CallContextRead(&exec, call.CallID, operation.LastCalleeReturnDataLength, u64Word(call.LastCalleeReturnDataLength))
	if length == 0 {
		return []ExecStep{exec}, nil
	}
	if dataOffset+length > call.LastCalleeReturnDataLength || dataOffset+length < dataOffset {
		return nil, malformed("RETURNDATACOPY of [%d, +%d) past return data of %d bytes", dataOffset, length, call.LastCalleeReturnDataLength)
	}

	if _, err := s.genCopyEvent(&exec, copyRequest{
		src: copyEndpoint{
			typ:  CopyDataTypeMemory,
			id:   Number(call.LastCalleeID),
			addr: call.LastCalleeReturnDataOffset + dataOffset,
			end:  call.LastCalleeReturnDataOffset + call.LastCalleeReturnDataLength,
		},
		dst:    copyEndpoint{typ: CopyDataTypeMemory, id: Number(call.CallID), addr: dstOffset},
		length: length,
		data:   readPadded(callCtx.ReturnData, dataOffset, length),
	}); err != nil {
		return nil, err
	}
	return []ExecStep{exec}, nil
}

// sha3Ops feeds the hashed memory into the RLC accumulator and checks the digest against
// the trace.
func sha3Ops(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
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
	sizeWord, err := stackTop(step, 1)
	if err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp, offsetWord); err != nil {
		return nil, err
	}
	if err := s.StackRead(&exec, sp+1, sizeWord); err != nil {
		return nil, err
	}
	size := wordToUint64(&sizeWord)
	var offset uint64
	if size > 0 {
		offset = wordToUint64(&offsetWord)
	}
	input := readPadded(step.Memory, offset, size)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(input)
	digest := hasher.Sum(nil)

	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	result, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}
	if want := result.Bytes32(); !bytes.Equal(digest, want[:]) {
		return nil, malformed("KECCAK256 of %d bytes at %d: computed %x, trace has %s", size, offset, digest, result.Hex())
	}
	if err := s.StackWrite(&exec, sp+1, result); err != nil {
		return nil, err
	}

	if size > 0 {
		if _, err := s.genCopyEvent(&exec, copyRequest{
			src: copyEndpoint{
				typ:  CopyDataTypeMemory,
				id:   Number(call.CallID),
				addr: offset,
				end:  offset + size,
			},
			dst:    copyEndpoint{typ: CopyDataTypeRlcAcc, id: Number(0)},
			length: size,
			data:   input,
		}); err != nil {
			return nil, err
		}
	}
	s.block.Sha3Inputs = append(s.block.Sha3Inputs, input)
	return []ExecStep{exec}, nil
}

// logOps handles LOGn. Logs of a call that is later reverted emit no log rows.
func logOps(topics int) opcodeFn {
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
		words := make([]uint256.Int, 2+topics)
		for i := range words {
			if words[i], err = stackTop(step, i); err != nil {
				return nil, err
			}
			if err := s.StackRead(&exec, sp+i, words[i]); err != nil {
				return nil, err
			}
		}
		length := wordToUint64(&words[1])
		var offset uint64
		if length > 0 {
			offset = wordToUint64(&words[0])
		}

		s.CallContextRead(&exec, call.CallID, operation.TxId, intWord(s.tx.ID))
		s.CallContextRead(&exec, call.CallID, operation.IsStatic, boolWord(call.IsStatic))
		s.CallContextRead(&exec, call.CallID, operation.CalleeAddress, addressWord(call.Address))
		s.CallContextRead(&exec, call.CallID, operation.IsPersistent, boolWord(call.IsPersistent))
		if !call.IsPersistent {
			return []ExecStep{exec}, nil
		}

		logID := s.txCtx.LogID + 1
		s.TxLogWrite(&exec, logID, operation.TxLogAddress, 0, addressWord(call.Address))
		for i := 0; i < topics; i++ {
			s.TxLogWrite(&exec, logID, operation.TxLogTopic, i, &words[2+i])
		}
		if length > 0 {
			if _, err := s.genCopyEvent(&exec, copyRequest{
				src: copyEndpoint{
					typ:  CopyDataTypeMemory,
					id:   Number(call.CallID),
					addr: offset,
					end:  offset + length,
				},
				dst:    copyEndpoint{typ: CopyDataTypeTxLog, id: Number(s.tx.ID)},
				logID:  logID,
				length: length,
				data:   readPadded(step.Memory, offset, length),
			}); err != nil {
				return nil, err
			}
		}
		s.txCtx.LogID = logID
		return []ExecStep{exec}, nil
	}
}
