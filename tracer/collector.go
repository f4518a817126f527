package tracer

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// RefundSource reports the refund counter of the state the EVM runs against.
type RefundSource interface {
	GetRefund() uint64
}

// =============================================================================
// STATE TRACER
// =============================================================================

// StateTracer collects struct logs for a single transaction through go-ethereum's tracing hooks.
type StateTracer struct {
	cfg    LoggerConfig
	refund RefundSource
	steps  []GethExecStep
}

func NewStateTracer(cfg LoggerConfig, refund RefundSource) *StateTracer {
	return &StateTracer{
		cfg:    cfg,
		refund: refund,
	}
}

func (t *StateTracer) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.onEnter,
		OnExit:   t.onExit,
		OnOpcode: t.onOpcode,
		OnFault:  t.onFault,
	}
}

// Reset drops the collected steps so the tracer can be reused for the next transaction.
func (t *StateTracer) Reset() {
	t.steps = nil
}

func (t *StateTracer) Steps() []GethExecStep {
	return t.steps
}

func (t *StateTracer) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	log.Trace("Enter frame", "depth", depth, "type", vm.OpCode(typ), "from", from, "to", to, "gas", gas, "value", value)
}

func (t *StateTracer) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	log.Trace("Exit frame", "depth", depth, "gasUsed", gasUsed, "reverted", reverted, "err", err)
}

func (t *StateTracer) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	log.Trace("Opcode", "pc", pc, "op", vm.OpCode(op), "gas", gas, "depth", depth)

	step := GethExecStep{
		Pc:      pc,
		Op:      vm.OpCode(op),
		Gas:     gas,
		GasCost: cost,
		Depth:   depth,
	}
	if t.refund != nil {
		step.Refund = t.refund.GetRefund()
	}
	if !t.cfg.DisableStack {
		data := scope.StackData()
		step.Stack = make([]uint256.Int, len(data))
		copy(step.Stack, data)
	}
	if !t.cfg.DisableMemory {
		step.Memory = append([]byte(nil), scope.MemoryData()...)
	}
	if t.cfg.EnableReturnData && len(rData) > 0 {
		step.ReturnData = append([]byte(nil), rData...)
	}
	if err != nil {
		step.Error = unwrapVMError(err)
	}
	t.steps = append(t.steps, step)
}

// onFault attaches the execution error to the step that raised it. REVERT is a regular
// halt for the bus mapping and is not recorded.
func (t *StateTracer) onFault(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
	if err == nil || errors.Is(err, vm.ErrExecutionReverted) || len(t.steps) == 0 {
		return
	}
	last := &t.steps[len(t.steps)-1]
	if last.Pc == pc && last.Depth == depth {
		last.Error = unwrapVMError(err)
		return
	}
	log.Warn("Fault does not match the last step", "pc", pc, "op", vm.OpCode(op), "depth", depth, "err", err)
}

func unwrapVMError(err error) error {
	var vmErr *vm.VMError
	if errors.As(err, &vmErr) {
		if inner := errors.Unwrap(vmErr); inner != nil {
			return inner
		}
	}
	return err
}
