package tracer

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// GethExecStep is one opcode as reported by the EVM before it executes. Stack is bottom
// first, so the top of the stack is the last element.
type GethExecStep struct {
	Pc         uint64        `json:"pc"`
	Op         vm.OpCode     `json:"-"`
	Gas        uint64        `json:"gas"`
	GasCost    uint64        `json:"gasCost"`
	Refund     uint64        `json:"refund"`
	Depth      int           `json:"depth"`
	Error      error         `json:"-"`
	Stack      []uint256.Int `json:"-"`
	Memory     []byte        `json:"-"`
	ReturnData []byte        `json:"-"`
}

type gethExecStepJSON struct {
	Pc         uint64          `json:"pc"`
	Op         string          `json:"op"`
	Gas        uint64          `json:"gas"`
	GasCost    uint64          `json:"gasCost"`
	Refund     uint64          `json:"refund"`
	Depth      int             `json:"depth"`
	Error      string          `json:"error,omitempty"`
	Stack      []*hexutil.U256 `json:"stack"`
	Memory     hexutil.Bytes   `json:"memory,omitempty"`
	ReturnData hexutil.Bytes   `json:"returnData,omitempty"`
}

func (s GethExecStep) MarshalJSON() ([]byte, error) {
	enc := gethExecStepJSON{
		Pc:         s.Pc,
		Op:         s.Op.String(),
		Gas:        s.Gas,
		GasCost:    s.GasCost,
		Refund:     s.Refund,
		Depth:      s.Depth,
		Memory:     s.Memory,
		ReturnData: s.ReturnData,
		Stack:      make([]*hexutil.U256, len(s.Stack)),
	}
	if s.Error != nil {
		enc.Error = s.Error.Error()
	}
	for i := range s.Stack {
		v := s.Stack[i]
		enc.Stack[i] = (*hexutil.U256)(&v)
	}
	return json.Marshal(enc)
}

// StackTop returns the n-th element from the top of the stack (0 is the top).
func (s *GethExecStep) StackTop(n int) (uint256.Int, bool) {
	if n < 0 || n >= len(s.Stack) {
		return uint256.Int{}, false
	}
	return s.Stack[len(s.Stack)-1-n], true
}

// StackPointer is the stack address of the top element: 1024 minus the stack size.
func (s *GethExecStep) StackPointer() int {
	return StackCapacity - len(s.Stack)
}

// GethExecTrace is the trace of one transaction.
type GethExecTrace struct {
	Gas         uint64         `json:"gas"`
	Failed      bool           `json:"failed"`
	ReturnValue hexutil.Bytes  `json:"returnValue"`
	StructLogs  []GethExecStep `json:"structLogs"`
}

const StackCapacity = 1024
