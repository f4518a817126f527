package operation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Op is the target specific payload of an Operation.
type Op interface {
	Target() Target
}

// ReversibleOp is implemented by writes that must be undone when their call frame fails.
// Reverse returns the write that restores the previous value.
type ReversibleOp interface {
	Op
	Reverse() Op
}

// Operation is an Op stamped with the counter it was emitted at.
type Operation struct {
	RWC        RWCounter
	RW         RW
	Reversible bool
	Op         Op
}

func (o Operation) Target() Target {
	return o.Op.Target()
}

func (o Operation) String() string {
	return fmt.Sprintf("rwc=%d %s %s %+v", o.RWC, o.RW, o.Op.Target(), o.Op)
}

type StackOp struct {
	CallID  int
	Address int
	Value   uint256.Int
}

func (StackOp) Target() Target { return Stack }

type MemoryOp struct {
	CallID  int
	Address uint64
	Value   byte
}

func (MemoryOp) Target() Target { return Memory }

type StorageOp struct {
	Address        common.Address
	Key            uint256.Int
	Value          uint256.Int
	ValuePrev      uint256.Int
	TxID           int
	CommittedValue uint256.Int
}

func (StorageOp) Target() Target { return Storage }

func (op StorageOp) Reverse() Op {
	rev := op
	rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
	return rev
}

type TxAccessListAccountOp struct {
	TxID       int
	Address    common.Address
	IsWarm     bool
	IsWarmPrev bool
}

func (TxAccessListAccountOp) Target() Target { return TxAccessListAccount }

func (op TxAccessListAccountOp) Reverse() Op {
	rev := op
	rev.IsWarm, rev.IsWarmPrev = op.IsWarmPrev, op.IsWarm
	return rev
}

type TxAccessListAccountStorageOp struct {
	TxID       int
	Address    common.Address
	Key        uint256.Int
	IsWarm     bool
	IsWarmPrev bool
}

func (TxAccessListAccountStorageOp) Target() Target { return TxAccessListAccountStorage }

func (op TxAccessListAccountStorageOp) Reverse() Op {
	rev := op
	rev.IsWarm, rev.IsWarmPrev = op.IsWarmPrev, op.IsWarm
	return rev
}

type TxRefundOp struct {
	TxID      int
	Value     uint64
	ValuePrev uint64
}

func (TxRefundOp) Target() Target { return TxRefund }

func (op TxRefundOp) Reverse() Op {
	return TxRefundOp{TxID: op.TxID, Value: op.ValuePrev, ValuePrev: op.Value}
}

type AccountOp struct {
	Address   common.Address
	Field     AccountField
	Value     uint256.Int
	ValuePrev uint256.Int
}

func (AccountOp) Target() Target { return Account }

func (op AccountOp) Reverse() Op {
	rev := op
	rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
	return rev
}

type CallContextOp struct {
	CallID int
	Field  CallContextField
	Value  uint256.Int
}

func (CallContextOp) Target() Target { return CallContext }

// TxLogOp is one field of a log. Index is the topic index for topics, the byte index for
// data and 0 for the address.
type TxLogOp struct {
	TxID  int
	LogID int
	Field TxLogField
	Index int
	Value uint256.Int
}

func (TxLogOp) Target() Target { return TxLog }

type TxReceiptOp struct {
	TxID  int
	Field TxReceiptField
	Value uint64
}

func (TxReceiptOp) Target() Target { return TxReceipt }

type StartOp struct{}

func (StartOp) Target() Target { return Start }

type PaddingOp struct{}

func (PaddingOp) Target() Target { return Padding }
