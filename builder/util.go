package builder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/tracer"
)

func u64Word(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func intWord(v int) *uint256.Int {
	return uint256.NewInt(uint64(v))
}

func boolWord(v bool) *uint256.Int {
	if v {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func addressWord(addr common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(addr.Bytes())
}

func hashWord(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h.Bytes())
}

func wordFromByte(b byte) *uint256.Int {
	return uint256.NewInt(uint64(b))
}

func wordToAddress(w *uint256.Int) common.Address {
	return common.Address(w.Bytes20())
}

func wordToHash(w *uint256.Int) common.Hash {
	return common.Hash(w.Bytes32())
}

// wordToUint64 saturates words that do not fit; such offsets only occur with zero lengths
// or in steps that fail before touching memory.
func wordToUint64(w *uint256.Int) uint64 {
	if !w.IsUint64() {
		return ^uint64(0)
	}
	return w.Uint64()
}

// readPadded returns length bytes of data from offset, reading zero past the end.
func readPadded(data []byte, offset, length uint64) []byte {
	out := make([]byte, length)
	if offset >= uint64(len(data)) {
		return out
	}
	copy(out, data[offset:])
	return out
}

// memoryWordSize is the memory size in 32 byte words.
func memoryWordSize(bytes uint64) uint64 {
	return (bytes + 31) / 32
}

// expandedMemory is the memory size in bytes after accessing [offset, offset+length).
func expandedMemory(current, offset, length uint64) uint64 {
	if length == 0 {
		return current
	}
	end := memoryWordSize(offset+length) * 32
	if end > current {
		return end
	}
	return current
}

// stackTop reads the n-th element from the top of a trace step's stack.
func stackTop(step *tracer.GethExecStep, n int) (uint256.Int, error) {
	v, ok := step.StackTop(n)
	if !ok {
		return uint256.Int{}, NewBusMappingError(
			"failed to read stack of "+step.Op.String(), ErrStackUnderflowInTrace)
	}
	return v, nil
}

// nextStep returns the step after steps[0] or a malformed trace error.
func nextStep(steps []tracer.GethExecStep) (*tracer.GethExecStep, error) {
	if len(steps) < 2 {
		return nil, malformed("%s at pc %d has no next step", steps[0].Op, steps[0].Pc)
	}
	return &steps[1], nil
}
