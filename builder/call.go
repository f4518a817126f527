package builder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
)

type CallKind int

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
	CallKindCreate
	CallKindCreate2
)

func callKindFromOp(op vm.OpCode) (CallKind, error) {
	switch op {
	case vm.CALL:
		return CallKindCall, nil
	case vm.CALLCODE:
		return CallKindCallCode, nil
	case vm.DELEGATECALL:
		return CallKindDelegateCall, nil
	case vm.STATICCALL:
		return CallKindStaticCall, nil
	case vm.CREATE:
		return CallKindCreate, nil
	case vm.CREATE2:
		return CallKindCreate2, nil
	}
	return 0, malformed("%s does not open a call", op)
}

func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "CALL"
	case CallKindCallCode:
		return "CALLCODE"
	case CallKindDelegateCall:
		return "DELEGATECALL"
	case CallKindStaticCall:
		return "STATICCALL"
	case CallKindCreate:
		return "CREATE"
	case CallKindCreate2:
		return "CREATE2"
	}
	return fmt.Sprintf("CallKind(%d)", int(k))
}

// Call is the record of one call frame of a transaction. It outlives the frame.
type Call struct {
	CallID                  int
	Index                   int
	Kind                    CallKind
	IsRoot                  bool
	IsCreate                bool
	IsStatic                bool
	IsSuccess               bool
	IsPersistent            bool
	RwCounterEndOfReversion uint64
	CallerID                int
	CallerAddress           common.Address
	Address                 common.Address
	CodeAddress             common.Address
	CodeHash                common.Hash
	Depth                   int
	Value                   uint256.Int
	CallDataOffset          uint64
	CallDataLength          uint64
	ReturnDataOffset        uint64
	ReturnDataLength        uint64

	LastCalleeID               int
	LastCalleeReturnDataOffset uint64
	LastCalleeReturnDataLength uint64

	// RwCounterEndOfReversion reads of this call, patched when the transaction ends
	endOfReversionRefs []operation.OperationRef
}

// IsCall reports whether the frame was opened by a message call rather than a creation.
func (c *Call) IsCall() bool {
	return !c.IsCreate
}

// CallContext is the live state of a frame that is still on the call stack.
type CallContext struct {
	Index                  int
	ReversibleWriteCounter int
	Memory                 []byte
	CallData               []byte
	ReturnData             []byte

	// state of this frame saved when it called into a child
	saved savedState
}

type savedState struct {
	pc           uint64
	stackPointer int
	gasLeft      uint64
	memoryWords  uint64
}

// ReadCallData returns length bytes of calldata starting at offset, zero padded.
func (c *CallContext) ReadCallData(offset, length uint64) []byte {
	return readPadded(c.CallData, offset, length)
}

// =============================================================================
// REVERSION GROUPS
// =============================================================================

type reversionCall struct {
	index  int
	offset int
}

// ReversionGroup collects the reversible writes that are undone together when the call that
// opened it fails: the failing call and every successful call below it.
type ReversionGroup struct {
	calls []reversionCall
	ops   []operation.ReversibleOp
}

// =============================================================================
// TRANSACTION CONTEXT
// =============================================================================

// TxContext owns the call stack and the reversion groups of the transaction being built.
type TxContext struct {
	ID              int
	IsLastTx        bool
	LogID           int
	calls           []*CallContext
	reversionGroups []ReversionGroup
}

func NewTxContext(id int, isLastTx bool) *TxContext {
	return &TxContext{
		ID:       id,
		IsLastTx: isLastTx,
	}
}

func (t *TxContext) Depth() int {
	return len(t.calls)
}

func (t *TxContext) CallCtx() (*CallContext, error) {
	if len(t.calls) == 0 {
		return nil, ErrCallStackEmpty
	}
	return t.calls[len(t.calls)-1], nil
}

func (t *TxContext) CallerCtx() (*CallContext, error) {
	if len(t.calls) < 2 {
		return nil, ErrCallStackEmpty
	}
	return t.calls[len(t.calls)-2], nil
}

// pushCall makes call the current frame. A failing call opens a reversion group; a successful
// call below a non persistent caller joins the innermost group at the caller's write offset.
func (t *TxContext) pushCall(call *Call, callData []byte) error {
	if !call.IsSuccess {
		t.reversionGroups = append(t.reversionGroups, ReversionGroup{
			calls: []reversionCall{{index: call.Index}},
		})
	} else if len(t.reversionGroups) > 0 && !call.IsPersistent {
		caller, err := t.CallCtx()
		if err != nil {
			return err
		}
		group := &t.reversionGroups[len(t.reversionGroups)-1]
		offset := -1
		for _, rc := range group.calls {
			if rc.index == caller.Index {
				offset = rc.offset
				break
			}
		}
		if offset < 0 {
			return NewBusMappingError(fmt.Sprintf("caller of call %d is not in the reversion group", call.Index), ErrMalformedTrace)
		}
		group.calls = append(group.calls, reversionCall{
			index:  call.Index,
			offset: offset + caller.ReversibleWriteCounter,
		})
	}

	t.calls = append(t.calls, &CallContext{
		Index:    call.Index,
		CallData: callData,
	})
	return nil
}

// popCall drops the current frame. The writes of a successful callee become writes of its
// caller for reversion purposes.
func (t *TxContext) popCall(isSuccess bool) {
	callee := t.calls[len(t.calls)-1]
	t.calls = t.calls[:len(t.calls)-1]
	if isSuccess && len(t.calls) > 0 {
		t.calls[len(t.calls)-1].ReversibleWriteCounter += callee.ReversibleWriteCounter
	}
}

func (t *TxContext) recordReversible(op operation.ReversibleOp) error {
	if len(t.reversionGroups) == 0 {
		return NewBusMappingError("reversible write in a non persistent call without a reversion group", ErrMalformedTrace)
	}
	group := &t.reversionGroups[len(t.reversionGroups)-1]
	group.ops = append(group.ops, op)
	return nil
}

func (t *TxContext) popReversionGroup() (ReversionGroup, error) {
	if len(t.reversionGroups) == 0 {
		return ReversionGroup{}, NewBusMappingError("no reversion group for failed call", ErrMalformedTrace)
	}
	group := t.reversionGroups[len(t.reversionGroups)-1]
	t.reversionGroups = t.reversionGroups[:len(t.reversionGroups)-1]
	return group, nil
}
