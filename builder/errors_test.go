package builder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dynamicGasErr mirrors how the interpreter reports a failing dynamic gas function.
func dynamicGasErr(err error) error {
	return fmt.Errorf("%w: %v", vm.ErrOutOfGas, err)
}

func TestClassifyExecError(t *testing.T) {
	for _, tt := range []struct {
		name string
		op   vm.OpCode
		err  error
		kind ExecError
		oog  OogError
	}{
		{"plain out of gas", vm.MLOAD, vm.ErrOutOfGas, ExecErrorOutOfGas, OogStaticMemoryExpansion},
		{"write protection", vm.SSTORE, vm.ErrWriteProtection, ExecErrorWriteProtection, OogNone},
		{"write protection from gas function", vm.SSTORE, dynamicGasErr(vm.ErrWriteProtection), ExecErrorWriteProtection, OogNone},
		{"value call in static context", vm.CALL, dynamicGasErr(vm.ErrWriteProtection), ExecErrorWriteProtection, OogNone},
		{"overflow", vm.MLOAD, vm.ErrGasUintOverflow, ExecErrorOutOfGas, OogGasUintOverflow},
		{"overflow from gas function", vm.MLOAD, dynamicGasErr(vm.ErrGasUintOverflow), ExecErrorOutOfGas, OogGasUintOverflow},
		{"reentrancy sentry", vm.SSTORE, dynamicGasErr(errors.New("not enough gas for reentrancy sentry")), ExecErrorOutOfGas, OogSloadSstore},
		{"stack underflow", vm.ADD, &vm.ErrStackUnderflow{}, ExecErrorStackUnderflow, OogNone},
		{"invalid jump", vm.JUMP, vm.ErrInvalidJump, ExecErrorInvalidJump, OogNone},
		{"unknown", vm.ADD, errors.New("something new"), ExecErrorOutOfGas, OogConstant},
	} {
		t.Run(tt.name, func(t *testing.T) {
			step := classifyExecError(tt.op, tt.err)
			require.NotNil(t, step)
			assert.Equal(t, tt.kind, step.Kind)
			assert.Equal(t, tt.oog, step.Oog)
			assert.Equal(t, tt.err, step.Err)
		})
	}
}

func TestClassifyExecErrorIgnoresRevert(t *testing.T) {
	assert.Nil(t, classifyExecError(vm.REVERT, vm.ErrExecutionReverted))
	assert.Nil(t, classifyExecError(vm.STOP, nil))
}

func TestDynamicGasCause(t *testing.T) {
	assert.Equal(t, vm.ErrWriteProtection, dynamicGasCause(dynamicGasErr(vm.ErrWriteProtection)))
	assert.Nil(t, dynamicGasCause(vm.ErrOutOfGas))
	assert.Nil(t, dynamicGasCause(vm.ErrWriteProtection))
}
