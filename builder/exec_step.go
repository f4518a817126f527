package builder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/tracer"
)

// ExecState is the execution state of a step: an opcode or one of the virtual transaction
// boundary states.
type ExecState int

const (
	ExecStateOp ExecState = iota
	ExecStateBeginTx
	ExecStateEndTx
)

func (s ExecState) String() string {
	switch s {
	case ExecStateOp:
		return "Op"
	case ExecStateBeginTx:
		return "BeginTx"
	case ExecStateEndTx:
		return "EndTx"
	}
	return fmt.Sprintf("ExecState(%d)", int(s))
}

// ExecStep is one row group of the EVM circuit: an executed opcode or a virtual step together
// with the operations it emitted.
type ExecStep struct {
	ExecState              ExecState
	Op                     vm.OpCode
	Pc                     uint64
	StackSize              int
	MemorySize             uint64
	GasLeft                uint64
	GasCost                uint64
	GasRefund              uint64
	CallIndex              int
	Rwc                    operation.RWCounter
	ReversibleWriteCounter int
	LogID                  int
	BusMappingInstance     []operation.OperationRef
	Error                  *StepError
}

// NewExecStep snapshots the trace step and the counters at step entry.
func NewExecStep(step *tracer.GethExecStep, callCtx *CallContext, rwc operation.RWCounter, logID int) ExecStep {
	return ExecStep{
		ExecState:              ExecStateOp,
		Op:                     step.Op,
		Pc:                     step.Pc,
		StackSize:              len(step.Stack),
		MemorySize:             uint64(len(callCtx.Memory)),
		GasLeft:                step.Gas,
		GasCost:                step.GasCost,
		GasRefund:              step.Refund,
		CallIndex:              callCtx.Index,
		Rwc:                    rwc,
		ReversibleWriteCounter: callCtx.ReversibleWriteCounter,
		LogID:                  logID,
	}
}

func (s *ExecStep) IsBeginTx() bool { return s.ExecState == ExecStateBeginTx }
func (s *ExecStep) IsEndTx() bool   { return s.ExecState == ExecStateEndTx }

// RwIndices returns how many operations the step emitted.
func (s *ExecStep) RwIndices() int {
	return len(s.BusMappingInstance)
}

// OogOrStackError reports whether the step failed with an out of gas or stack error.
func (s *ExecStep) OogOrStackError() bool {
	if s.Error == nil {
		return false
	}
	switch s.Error.Kind {
	case ExecErrorOutOfGas, ExecErrorCodeStoreOutOfGas, ExecErrorStackOverflow, ExecErrorStackUnderflow:
		return true
	}
	return false
}

// GasCostReliable is false when GasCost is the placeholder go-ethereum reports for a gas
// computation that overflowed uint64.
func (s *ExecStep) GasCostReliable() bool {
	return s.Error == nil || s.Error.Oog != OogGasUintOverflow
}

func (s *ExecStep) String() string {
	name := s.ExecState.String()
	if s.ExecState == ExecStateOp {
		name = s.Op.String()
	}
	if s.Error != nil {
		name += "!" + s.Error.String()
	}
	return fmt.Sprintf("%s pc=%d rwc=%d rws=%d", name, s.Pc, s.Rwc, len(s.BusMappingInstance))
}
