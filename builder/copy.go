package builder

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"zkevm-bus-mapping/operation"
)

// CopyDataType is the kind of a copy endpoint.
type CopyDataType int

const (
	CopyDataTypeBytecode CopyDataType = iota + 1
	CopyDataTypeMemory
	CopyDataTypeTxCalldata
	CopyDataTypeTxLog
	CopyDataTypeRlcAcc
)

func (t CopyDataType) String() string {
	switch t {
	case CopyDataTypeBytecode:
		return "Bytecode"
	case CopyDataTypeMemory:
		return "Memory"
	case CopyDataTypeTxCalldata:
		return "TxCalldata"
	case CopyDataTypeTxLog:
		return "TxLog"
	case CopyDataTypeRlcAcc:
		return "RlcAcc"
	}
	return fmt.Sprintf("CopyDataType(%d)", int(t))
}

func (t CopyDataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// rwDelta is the number of counters one byte of this endpoint consumes.
func (t CopyDataType) rwDelta() int {
	if t == CopyDataTypeMemory || t == CopyDataTypeTxLog {
		return 1
	}
	return 0
}

// NumberOrHash identifies a copy endpoint: a call or tx id, or a code hash.
type NumberOrHash struct {
	Number int
	Hash   common.Hash
	IsHash bool
}

func Number(n int) NumberOrHash {
	return NumberOrHash{Number: n}
}

func Hash(h common.Hash) NumberOrHash {
	return NumberOrHash{Hash: h, IsHash: true}
}

func (n NumberOrHash) String() string {
	if n.IsHash {
		return n.Hash.Hex()
	}
	return fmt.Sprintf("%d", n.Number)
}

func (n NumberOrHash) less(o NumberOrHash) bool {
	if n.IsHash != o.IsHash {
		return !n.IsHash
	}
	if n.IsHash {
		return n.Hash.Cmp(o.Hash) < 0
	}
	return n.Number < o.Number
}

// CopyStep is one byte read or written by a copy event.
type CopyStep struct {
	Addr       uint64
	Tag        CopyDataType
	RW         operation.RW
	Value      byte
	IsCode     bool
	IsPad      bool
	Rwc        operation.RWCounter
	RwcIncLeft uint64
}

// CopyEvent is a contiguous byte copy between two endpoints. Steps alternate read and write,
// two per byte.
type CopyEvent struct {
	SrcAddr    uint64
	SrcAddrEnd uint64
	SrcType    CopyDataType
	SrcID      NumberOrHash
	DstAddr    uint64
	DstType    CopyDataType
	DstID      NumberOrHash
	LogID      int
	Length     uint64
	RwCounter  operation.RWCounter
	Steps      []CopyStep
}

// RwCounterIncrease is the number of counters consumed by the whole event.
func (e *CopyEvent) RwCounterIncrease() uint64 {
	var n uint64
	for i := range e.Steps {
		if !e.Steps[i].IsPad {
			n += uint64(e.Steps[i].Tag.rwDelta())
		}
	}
	return n
}

// CopyEventsSortedByKey orders events by (src id, src type, dst id, dst type) keeping
// insertion order for equal keys.
func CopyEventsSortedByKey(events []*CopyEvent) []*CopyEvent {
	sorted := append([]*CopyEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SrcID != b.SrcID {
			return a.SrcID.less(b.SrcID)
		}
		if a.SrcType != b.SrcType {
			return a.SrcType < b.SrcType
		}
		if a.DstID != b.DstID {
			return a.DstID.less(b.DstID)
		}
		return a.DstType < b.DstType
	})
	return sorted
}

// =============================================================================
// COPY EXTRACTION
// =============================================================================

// copyEndpoint is one side of a copy: where bytes come from or go to.
type copyEndpoint struct {
	typ CopyDataType
	id  NumberOrHash
	// addr is the first byte address. For TxLog it is the byte index inside the log data.
	addr uint64
	// end bounds reads; bytes at or past it are padding.
	end uint64
}

type copyRequest struct {
	src    copyEndpoint
	dst    copyEndpoint
	logID  int
	length uint64
	// bytes of the source starting at src.addr; shorter than length means zero padding
	data []byte
	// code marks opcode bytes of the source when it is bytecode
	code []bool
}

// genCopyEvent emits the byte operations of req on the shared counter and records the
// event. Memory and TxLog sides consume one counter per non padding byte.
func (s *CircuitInputStateRef) genCopyEvent(step *ExecStep, req copyRequest) (*CopyEvent, error) {
	event := &CopyEvent{
		SrcAddr:    req.src.addr,
		SrcAddrEnd: req.src.end,
		SrcType:    req.src.typ,
		SrcID:      req.src.id,
		DstAddr:    req.dst.addr,
		DstType:    req.dst.typ,
		DstID:      req.dst.id,
		LogID:      req.logID,
		Length:     req.length,
		RwCounter:  *s.rwc,
		Steps:      make([]CopyStep, 0, 2*req.length),
	}

	var total uint64
	for i := uint64(0); i < req.length; i++ {
		if req.src.addr+i < req.src.end {
			total += uint64(req.src.typ.rwDelta())
		}
		total += uint64(req.dst.typ.rwDelta())
	}
	left := total

	for i := uint64(0); i < req.length; i++ {
		srcAddr := req.src.addr + i
		isPad := srcAddr >= req.src.end
		var value byte
		if !isPad && i < uint64(len(req.data)) {
			value = req.data[i]
		}
		isCode := false
		if req.src.typ == CopyDataTypeBytecode && !isPad && i < uint64(len(req.code)) {
			isCode = req.code[i]
		}

		read := CopyStep{
			Addr:       srcAddr,
			Tag:        req.src.typ,
			RW:         operation.READ,
			Value:      value,
			IsCode:     isCode,
			IsPad:      isPad,
			RwcIncLeft: left,
		}
		if !isPad && req.src.typ.rwDelta() > 0 {
			ref, err := s.copyOp(step, operation.READ, req.src, i, value, req.logID)
			if err != nil {
				return nil, err
			}
			read.Rwc = s.container.Get(ref).RWC
			left--
		}
		event.Steps = append(event.Steps, read)

		write := CopyStep{
			Addr:       req.dst.addr + i,
			Tag:        req.dst.typ,
			RW:         operation.WRITE,
			Value:      value,
			RwcIncLeft: left,
		}
		if req.dst.typ == CopyDataTypeTxLog {
			write.Addr = operation.BuildTxLogAddress(req.dst.addr+i, operation.TxLogData, uint64(req.logID))
		}
		if req.dst.typ.rwDelta() > 0 {
			ref, err := s.copyOp(step, operation.WRITE, req.dst, i, value, req.logID)
			if err != nil {
				return nil, err
			}
			write.Rwc = s.container.Get(ref).RWC
			left--
		}
		event.Steps = append(event.Steps, write)
	}

	s.block.CopyEvents = append(s.block.CopyEvents, event)
	return event, nil
}

func (s *CircuitInputStateRef) copyOp(step *ExecStep, rw operation.RW, ep copyEndpoint, i uint64, value byte, logID int) (operation.OperationRef, error) {
	switch ep.typ {
	case CopyDataTypeMemory:
		return s.PushOp(step, rw, operation.MemoryOp{CallID: ep.id.Number, Address: ep.addr + i, Value: value}), nil
	case CopyDataTypeTxLog:
		return s.PushOp(step, rw, operation.TxLogOp{
			TxID:  s.tx.ID,
			LogID: logID,
			Field: operation.TxLogData,
			Index: int(ep.addr + i),
			Value: *wordFromByte(value),
		}), nil
	}
	return operation.OperationRef{}, malformed("copy endpoint %s does not touch state", ep.typ)
}

// codeBytesMask marks which bytes of code are opcodes and which are push data.
func codeBytesMask(code []byte) []bool {
	mask := make([]bool, len(code))
	for pc := 0; pc < len(code); {
		mask[pc] = true
		op := vm.OpCode(code[pc])
		if op.IsPush() {
			pc += int(op-vm.PUSH0) + 1
		} else {
			pc++
		}
	}
	return mask
}
