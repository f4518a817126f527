package operation

import "fmt"

// RWCounter is the global read/write counter stamped on every state access of a block.
// The first access of a block gets 1.
type RWCounter uint64

// IncPre returns the current value and advances the counter.
func (c *RWCounter) IncPre() RWCounter {
	v := *c
	*c++
	return v
}

type RW bool

const (
	READ  RW = false
	WRITE RW = true
)

func (rw RW) IsWrite() bool {
	return bool(rw)
}

func (rw RW) String() string {
	if rw {
		return "WRITE"
	}
	return "READ"
}

// Target identifies the kind of state an Operation touches. Padding must stay last.
type Target int

const (
	Start Target = iota + 1
	Memory
	Stack
	Storage
	TxAccessListAccount
	TxAccessListAccountStorage
	TxRefund
	Account
	CallContext
	TxLog
	TxReceipt
	Padding
)

// Targets lists every target in tag order.
var Targets = []Target{
	Start, Memory, Stack, Storage, TxAccessListAccount, TxAccessListAccountStorage,
	TxRefund, Account, CallContext, TxLog, TxReceipt, Padding,
}

var targetNames = map[Target]string{
	Start:                      "Start",
	Memory:                     "Memory",
	Stack:                      "Stack",
	Storage:                    "Storage",
	TxAccessListAccount:        "TxAccessListAccount",
	TxAccessListAccountStorage: "TxAccessListAccountStorage",
	TxRefund:                   "TxRefund",
	Account:                    "Account",
	CallContext:                "CallContext",
	TxLog:                      "TxLog",
	TxReceipt:                  "TxReceipt",
	Padding:                    "Padding",
}

func (t Target) String() string {
	if name, ok := targetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type AccountField int

const (
	AccountNonce AccountField = iota + 1
	AccountBalance
	AccountCodeHash
)

func (f AccountField) String() string {
	switch f {
	case AccountNonce:
		return "Nonce"
	case AccountBalance:
		return "Balance"
	case AccountCodeHash:
		return "CodeHash"
	}
	return fmt.Sprintf("AccountField(%d)", int(f))
}

// CallContextField follows the call context table tag order.
type CallContextField int

const (
	RwCounterEndOfReversion CallContextField = iota + 1
	CallerId
	TxId
	Depth
	CallerAddress
	CalleeAddress
	CallDataOffset
	CallDataLength
	ReturnDataOffset
	ReturnDataLength
	Value
	IsSuccess
	IsPersistent
	IsStatic

	LastCalleeId
	LastCalleeReturnDataOffset
	LastCalleeReturnDataLength

	IsRoot
	IsCreate
	CodeHash
	ProgramCounter
	StackPointer
	GasLeft
	MemorySize
	ReversibleWriteCounter
)

var callContextFieldNames = [...]string{
	"", "RwCounterEndOfReversion", "CallerId", "TxId", "Depth", "CallerAddress", "CalleeAddress",
	"CallDataOffset", "CallDataLength", "ReturnDataOffset", "ReturnDataLength", "Value",
	"IsSuccess", "IsPersistent", "IsStatic", "LastCalleeId", "LastCalleeReturnDataOffset",
	"LastCalleeReturnDataLength", "IsRoot", "IsCreate", "CodeHash", "ProgramCounter",
	"StackPointer", "GasLeft", "MemorySize", "ReversibleWriteCounter",
}

func (f CallContextField) String() string {
	if f > 0 && int(f) < len(callContextFieldNames) {
		return callContextFieldNames[f]
	}
	return fmt.Sprintf("CallContextField(%d)", int(f))
}

type TxLogField int

const (
	TxLogAddress TxLogField = iota + 1
	TxLogTopic
	TxLogData
)

func (f TxLogField) String() string {
	switch f {
	case TxLogAddress:
		return "Address"
	case TxLogTopic:
		return "Topic"
	case TxLogData:
		return "Data"
	}
	return fmt.Sprintf("TxLogField(%d)", int(f))
}

type TxReceiptField int

const (
	ReceiptPostStateOrStatus TxReceiptField = iota + 1
	ReceiptCumulativeGasUsed
	ReceiptLogLength
)

func (f TxReceiptField) String() string {
	switch f {
	case ReceiptPostStateOrStatus:
		return "PostStateOrStatus"
	case ReceiptCumulativeGasUsed:
		return "CumulativeGasUsed"
	case ReceiptLogLength:
		return "LogLength"
	}
	return fmt.Sprintf("TxReceiptField(%d)", int(f))
}

// BuildTxLogAddress packs a log byte/topic index, field tag and log id into the single address
// used by copy steps whose destination is the tx log table.
func BuildTxLogAddress(index uint64, field TxLogField, logID uint64) uint64 {
	return index + uint64(field)<<32 + logID<<48
}
