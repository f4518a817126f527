package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
)

type BusMappingError struct {
	Message    string
	Underlying error
}

func NewBusMappingError(message string, underlying error) *BusMappingError {
	return &BusMappingError{
		Message:    message,
		Underlying: underlying,
	}
}

func (e *BusMappingError) Error() string {
	return fmt.Sprintf("bus mapping error: %s: %v", e.Message, e.Underlying)
}

func (e *BusMappingError) Unwrap() error {
	return e.Underlying
}

var (
	ErrUnimplementedOpcode   = errors.New("opcode is not implemented")
	ErrMalformedTrace        = errors.New("malformed trace")
	ErrStackUnderflowInTrace = errors.New("trace stack is shallower than the opcode requires")
	ErrUnexpectedNextState   = errors.New("unexpected next execution state")
	ErrCallStackEmpty        = errors.New("call stack is empty")
	ErrCodeNotFound          = errors.New("code not found")
)

func malformed(format string, args ...any) error {
	return NewBusMappingError(fmt.Sprintf(format, args...), ErrMalformedTrace)
}

// =============================================================================
// EXECUTION ERRORS
// =============================================================================

// ExecError is an EVM execution error observed in the trace. It is part of the witness,
// never a failure of the builder.
type ExecError int

const (
	ExecErrorNone ExecError = iota
	ExecErrorInvalidOpcode
	ExecErrorStackOverflow
	ExecErrorStackUnderflow
	ExecErrorWriteProtection
	ExecErrorDepth
	ExecErrorInsufficientBalance
	ExecErrorContractAddressCollision
	ExecErrorInvalidCreationCode
	ExecErrorMaxCodeSizeExceeded
	ExecErrorInvalidJump
	ExecErrorReturnDataOutOfBounds
	ExecErrorOutOfGas
	ExecErrorCodeStoreOutOfGas
)

var execErrorNames = map[ExecError]string{
	ExecErrorNone:                     "None",
	ExecErrorInvalidOpcode:            "InvalidOpcode",
	ExecErrorStackOverflow:            "StackOverflow",
	ExecErrorStackUnderflow:           "StackUnderflow",
	ExecErrorWriteProtection:          "WriteProtection",
	ExecErrorDepth:                    "Depth",
	ExecErrorInsufficientBalance:      "InsufficientBalance",
	ExecErrorContractAddressCollision: "ContractAddressCollision",
	ExecErrorInvalidCreationCode:      "InvalidCreationCode",
	ExecErrorMaxCodeSizeExceeded:      "MaxCodeSizeExceeded",
	ExecErrorInvalidJump:              "InvalidJump",
	ExecErrorReturnDataOutOfBounds:    "ReturnDataOutOfBounds",
	ExecErrorOutOfGas:                 "OutOfGas",
	ExecErrorCodeStoreOutOfGas:        "CodeStoreOutOfGas",
}

func (e ExecError) String() string {
	if name, ok := execErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ExecError(%d)", int(e))
}

// OogError narrows an out of gas error to the kind of gas that ran out.
type OogError int

const (
	OogNone OogError = iota
	OogConstant
	OogPureMemory
	OogMemoryCopy
	OogSha3
	OogSloadSstore
	OogCall
	OogLog
	OogExp
	OogStaticMemoryExpansion
	OogCreate
	OogSelfDestruct
	// OogGasUintOverflow is raised when a dynamic gas computation overflows uint64. The trace
	// reports a gas cost for it that was never charged.
	OogGasUintOverflow
)

// StepError is the classified error of one ExecStep.
type StepError struct {
	Kind ExecError
	Oog  OogError
	Err  error
}

func (e *StepError) String() string {
	if e.Kind == ExecErrorOutOfGas {
		return fmt.Sprintf("%s(%d)", e.Kind, e.Oog)
	}
	return e.Kind.String()
}

// classifyExecError maps a go-ethereum execution error to a StepError. A nil result means the
// error is not an execution error of the step (REVERT for example).
func classifyExecError(op vm.OpCode, err error) *StepError {
	if err == nil || errors.Is(err, vm.ErrExecutionReverted) {
		return nil
	}
	step := &StepError{Err: err}
	cause := err
	if inner := dynamicGasCause(err); inner != nil {
		cause = inner
	}

	var (
		underflow *vm.ErrStackUnderflow
		overflow  *vm.ErrStackOverflow
		invalid   *vm.ErrInvalidOpCode
	)
	switch {
	case errors.As(cause, &underflow):
		step.Kind = ExecErrorStackUnderflow
	case errors.As(cause, &overflow):
		step.Kind = ExecErrorStackOverflow
	case errors.As(cause, &invalid):
		step.Kind = ExecErrorInvalidOpcode
	case errors.Is(cause, vm.ErrWriteProtection):
		step.Kind = ExecErrorWriteProtection
	case errors.Is(cause, vm.ErrDepth):
		step.Kind = ExecErrorDepth
	case errors.Is(cause, vm.ErrInsufficientBalance):
		step.Kind = ExecErrorInsufficientBalance
	case errors.Is(cause, vm.ErrContractAddressCollision):
		step.Kind = ExecErrorContractAddressCollision
	case errors.Is(cause, vm.ErrInvalidCode):
		step.Kind = ExecErrorInvalidCreationCode
	case errors.Is(cause, vm.ErrMaxCodeSizeExceeded):
		step.Kind = ExecErrorMaxCodeSizeExceeded
	case errors.Is(cause, vm.ErrInvalidJump):
		step.Kind = ExecErrorInvalidJump
	case errors.Is(cause, vm.ErrReturnDataOutOfBounds):
		step.Kind = ExecErrorReturnDataOutOfBounds
	case errors.Is(cause, vm.ErrCodeStoreOutOfGas):
		step.Kind = ExecErrorCodeStoreOutOfGas
	case errors.Is(cause, vm.ErrGasUintOverflow):
		step.Kind = ExecErrorOutOfGas
		step.Oog = OogGasUintOverflow
	case errors.Is(cause, vm.ErrOutOfGas):
		step.Kind = ExecErrorOutOfGas
		step.Oog = oogKind(op)
	case strings.Contains(cause.Error(), "invalid opcode"):
		step.Kind = ExecErrorInvalidOpcode
	case strings.Contains(cause.Error(), "stack underflow"):
		step.Kind = ExecErrorStackUnderflow
	case strings.Contains(cause.Error(), "stack limit reached"):
		step.Kind = ExecErrorStackOverflow
	default:
		log.Warn("Unknown execution error treated as out of gas", "op", op, "err", err)
		step.Kind = ExecErrorOutOfGas
		step.Oog = oogKind(op)
	}
	return step
}

// dynamicGasCauses are the errors a dynamic gas function can return. go-ethereum folds them
// into ErrOutOfGas as "%w: %v", so only their message survives.
var dynamicGasCauses = []error{
	vm.ErrWriteProtection,
	vm.ErrGasUintOverflow,
}

// dynamicGasCause recovers the error wrapped as text behind ErrOutOfGas, or nil.
func dynamicGasCause(err error) error {
	if !errors.Is(err, vm.ErrOutOfGas) {
		return nil
	}
	msg := err.Error()
	for _, cause := range dynamicGasCauses {
		if strings.HasSuffix(msg, ": "+cause.Error()) {
			return cause
		}
	}
	return nil
}

func oogKind(op vm.OpCode) OogError {
	switch {
	case op == vm.MLOAD || op == vm.MSTORE || op == vm.MSTORE8:
		return OogStaticMemoryExpansion
	case op == vm.RETURN || op == vm.REVERT:
		return OogPureMemory
	case op == vm.CALLDATACOPY || op == vm.CODECOPY || op == vm.RETURNDATACOPY || op == vm.EXTCODECOPY || op == vm.MCOPY:
		return OogMemoryCopy
	case op == vm.KECCAK256:
		return OogSha3
	case op == vm.SLOAD || op == vm.SSTORE:
		return OogSloadSstore
	case op == vm.CALL || op == vm.CALLCODE || op == vm.DELEGATECALL || op == vm.STATICCALL:
		return OogCall
	case op >= vm.LOG0 && op <= vm.LOG4:
		return OogLog
	case op == vm.EXP:
		return OogExp
	case op == vm.CREATE || op == vm.CREATE2:
		return OogCreate
	case op == vm.SELFDESTRUCT:
		return OogSelfDestruct
	}
	return OogConstant
}
