package witness

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
)

var (
	ErrPaddingTargetTooSmall = errors.New("witness: padding target is smaller than the table")
	ErrRwCounterGap          = errors.New("witness: rw counters are not contiguous")
	ErrReadValueMismatch     = errors.New("witness: read does not preserve value")
)

// Rw is one row of the read write table.
type Rw struct {
	RwCounter  uint64           `json:"rw_counter"`
	IsWrite    bool             `json:"is_write"`
	Tag        operation.Target `json:"tag"`
	ID         uint64           `json:"id"`
	Address    uint256.Int      `json:"address"`
	FieldTag   uint64           `json:"field_tag"`
	StorageKey uint256.Int      `json:"storage_key"`
	Value      uint256.Int      `json:"value"`
	ValuePrev  uint256.Int      `json:"value_prev"`
	// committed value of a storage slot
	Aux uint256.Int `json:"aux"`
}

// hasValuePrev reports whether writes of the row's target carry the value they replace.
func (r *Rw) hasValuePrev() bool {
	switch r.Tag {
	case operation.Storage, operation.TxAccessListAccount, operation.TxAccessListAccountStorage,
		operation.TxRefund, operation.Account:
		return true
	}
	return false
}

type rwKey struct {
	tag        operation.Target
	id         uint64
	address    uint256.Int
	fieldTag   uint64
	storageKey uint256.Int
}

func (r *Rw) key() rwKey {
	return rwKey{r.Tag, r.ID, r.Address, r.FieldTag, r.StorageKey}
}

func (k rwKey) less(o rwKey) bool {
	if k.tag != o.tag {
		return k.tag < o.tag
	}
	if k.id != o.id {
		return k.id < o.id
	}
	if c := k.address.Cmp(&o.address); c != 0 {
		return c < 0
	}
	if k.fieldTag != o.fieldTag {
		return k.fieldTag < o.fieldTag
	}
	return k.storageKey.Lt(&o.storageKey)
}

func boolValue(v bool) uint256.Int {
	if v {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}

func addressValue(addr [20]byte) uint256.Int {
	var w uint256.Int
	w.SetBytes20(addr[:])
	return w
}

// NewRw converts an operation of the container into its table row.
func NewRw(o operation.Operation) Rw {
	row := Rw{
		RwCounter: uint64(o.RWC),
		IsWrite:   o.RW.IsWrite(),
		Tag:       o.Target(),
	}
	switch op := o.Op.(type) {
	case operation.StackOp:
		row.ID = uint64(op.CallID)
		row.Address = *uint256.NewInt(uint64(op.Address))
		row.Value = op.Value
	case operation.MemoryOp:
		row.ID = uint64(op.CallID)
		row.Address = *uint256.NewInt(op.Address)
		row.Value = *uint256.NewInt(uint64(op.Value))
	case operation.StorageOp:
		row.ID = uint64(op.TxID)
		row.Address = addressValue(op.Address)
		row.StorageKey = op.Key
		row.Value = op.Value
		row.ValuePrev = op.ValuePrev
		row.Aux = op.CommittedValue
	case operation.TxAccessListAccountOp:
		row.ID = uint64(op.TxID)
		row.Address = addressValue(op.Address)
		row.Value = boolValue(op.IsWarm)
		row.ValuePrev = boolValue(op.IsWarmPrev)
	case operation.TxAccessListAccountStorageOp:
		row.ID = uint64(op.TxID)
		row.Address = addressValue(op.Address)
		row.StorageKey = op.Key
		row.Value = boolValue(op.IsWarm)
		row.ValuePrev = boolValue(op.IsWarmPrev)
	case operation.TxRefundOp:
		row.ID = uint64(op.TxID)
		row.Value = *uint256.NewInt(op.Value)
		row.ValuePrev = *uint256.NewInt(op.ValuePrev)
	case operation.AccountOp:
		row.Address = addressValue(op.Address)
		row.FieldTag = uint64(op.Field)
		row.Value = op.Value
		row.ValuePrev = op.ValuePrev
	case operation.CallContextOp:
		row.ID = uint64(op.CallID)
		row.FieldTag = uint64(op.Field)
		row.Value = op.Value
	case operation.TxLogOp:
		row.ID = uint64(op.TxID)
		row.Address = *uint256.NewInt(operation.BuildTxLogAddress(uint64(op.Index), op.Field, uint64(op.LogID)))
		row.FieldTag = uint64(op.Field)
		row.Value = op.Value
	case operation.TxReceiptOp:
		row.ID = uint64(op.TxID)
		row.FieldTag = uint64(op.Field)
		row.Value = *uint256.NewInt(op.Value)
	}
	return row
}

// =============================================================================
// RW MAP
// =============================================================================

// RwMap holds the rows of a block per target, in emission order.
type RwMap map[operation.Target][]Rw

// NewRwMap converts every operation of the container.
func NewRwMap(c *operation.OperationContainer) RwMap {
	m := make(RwMap, len(operation.Targets))
	for _, target := range operation.Targets {
		ops := c.Ops(target)
		if len(ops) == 0 {
			continue
		}
		rows := make([]Rw, len(ops))
		for i, o := range ops {
			rows[i] = NewRw(o)
		}
		m[target] = rows
	}
	return m
}

// Get returns the row an OperationRef points to.
func (m RwMap) Get(ref operation.OperationRef) Rw {
	return m[ref.Target][ref.Index]
}

// Len counts the rows of every target except Start and Padding.
func (m RwMap) Len() int {
	n := 0
	for target, rows := range m {
		if target != operation.Start && target != operation.Padding {
			n += len(rows)
		}
	}
	return n
}

// TableAssignments flattens the map. Chronological order sorts by counter; otherwise rows are
// grouped by key the way the state circuit consumes them.
func (m RwMap) TableAssignments(keepChronological bool) []Rw {
	rows := make([]Rw, 0, m.Len())
	for _, target := range operation.Targets {
		rows = append(rows, m[target]...)
	}
	if keepChronological {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].RwCounter != rows[j].RwCounter {
				return rows[i].RwCounter < rows[j].RwCounter
			}
			return rows[i].Tag < rows[j].Tag
		})
		return rows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := rows[i].key(), rows[j].key()
		if ki != kj {
			return ki.less(kj)
		}
		return rows[i].RwCounter < rows[j].RwCounter
	})
	return rows
}

// TableAssignmentsPadding lays out exactly targetLen rows: a Start row, the real rows, then
// Padding rows numbered after the real ones. A target of 0 adds no padding. It returns the
// table and the number of Padding rows.
func TableAssignmentsPadding(rows []Rw, targetLen int) ([]Rw, int, error) {
	trimmed := make([]Rw, 0, len(rows))
	for _, row := range rows {
		if row.Tag != operation.Start && row.Tag != operation.Padding {
			trimmed = append(trimmed, row)
		}
	}
	if targetLen == 0 {
		targetLen = len(trimmed) + 1
	}
	if targetLen < len(trimmed)+1 {
		return nil, 0, fmt.Errorf("%w: %d rows plus start, target %d", ErrPaddingTargetTooSmall, len(trimmed), targetLen)
	}

	padding := targetLen - len(trimmed) - 1
	out := make([]Rw, 0, targetLen)
	out = append(out, Rw{Tag: operation.Start, RwCounter: 1})
	out = append(out, trimmed...)
	next := uint64(len(trimmed)) + 1
	for i := 0; i < padding; i++ {
		out = append(out, Rw{Tag: operation.Padding, RwCounter: next + uint64(i)})
	}
	return out, padding, nil
}

// =============================================================================
// AUDITS
// =============================================================================

// CheckRwCounterSanity verifies that the real rows use the counters 1..N exactly once.
func (m RwMap) CheckRwCounterSanity() error {
	counters := make([]uint64, 0, m.Len())
	for target, rows := range m {
		if target == operation.Start || target == operation.Padding {
			continue
		}
		for _, row := range rows {
			counters = append(counters, row.RwCounter)
		}
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i] < counters[j] })
	for i, rwc := range counters {
		if rwc != uint64(i)+1 {
			return fmt.Errorf("%w: position %d holds counter %d", ErrRwCounterGap, i+1, rwc)
		}
	}
	return nil
}

// CheckValue replays the rows key by key. A read must see the value of the previous access
// to its key, a first memory read must see zero and a write carrying a previous value must
// replace what the key held.
func (m RwMap) CheckValue() error {
	rows := m.TableAssignments(false)
	var errs []error
	for i := range rows {
		row := &rows[i]
		if row.Tag == operation.Start || row.Tag == operation.Padding {
			continue
		}
		first := i == 0 || rows[i-1].key() != row.key()
		var prev *Rw
		if !first {
			prev = &rows[i-1]
		}

		switch {
		case !row.IsWrite && first:
			if row.Tag == operation.Memory && !row.Value.IsZero() {
				errs = append(errs, fmt.Errorf("%w: first memory read at rwc %d is %s", ErrReadValueMismatch, row.RwCounter, row.Value.Hex()))
			}
		case !row.IsWrite:
			if !row.Value.Eq(&prev.Value) {
				errs = append(errs, fmt.Errorf("%w: %s read at rwc %d is %s, previous access at rwc %d left %s",
					ErrReadValueMismatch, row.Tag, row.RwCounter, row.Value.Hex(), prev.RwCounter, prev.Value.Hex()))
			}
		case row.hasValuePrev() && !first:
			if !row.ValuePrev.Eq(&prev.Value) {
				errs = append(errs, fmt.Errorf("%w: %s write at rwc %d replaces %s, previous access at rwc %d left %s",
					ErrReadValueMismatch, row.Tag, row.RwCounter, row.ValuePrev.Hex(), prev.RwCounter, prev.Value.Hex()))
			}
		}
	}
	for _, err := range errs {
		log.Error("Rw value check failed", "err", err)
	}
	return errors.Join(errs...)
}
