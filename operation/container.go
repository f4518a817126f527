package operation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

var ErrNotCallContext = errors.New("operation: reference is not a call context operation")

// OperationRef addresses one Operation inside the container: (target, index in its arena).
type OperationRef struct {
	Target Target
	Index  int
}

func (r OperationRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Target, r.Index)
}

// OperationContainer stores every operation of a block, one append-only arena per target.
type OperationContainer struct {
	arenas map[Target][]Operation
}

func NewOperationContainer() *OperationContainer {
	return &OperationContainer{
		arenas: make(map[Target][]Operation, len(Targets)),
	}
}

// Insert appends op to its target arena stamped with rwc. The counter is owned by the
// caller; the container never picks one.
func (c *OperationContainer) Insert(rwc RWCounter, rw RW, reversible bool, op Op) OperationRef {
	target := op.Target()
	c.arenas[target] = append(c.arenas[target], Operation{
		RWC:        rwc,
		RW:         rw,
		Reversible: reversible,
		Op:         op,
	})
	return OperationRef{Target: target, Index: len(c.arenas[target]) - 1}
}

func (c *OperationContainer) Get(ref OperationRef) Operation {
	return c.arenas[ref.Target][ref.Index]
}

func (c *OperationContainer) Len(target Target) int {
	return len(c.arenas[target])
}

// Ops returns the arena of target in insertion order. The slice must not be modified.
func (c *OperationContainer) Ops(target Target) []Operation {
	return c.arenas[target]
}

// Total counts every operation except Start and Padding rows.
func (c *OperationContainer) Total() int {
	n := 0
	for target, ops := range c.arenas {
		if target == Start || target == Padding {
			continue
		}
		n += len(ops)
	}
	return n
}

// SetCallContextValue replaces the value of an already emitted call context operation.
// Only values whose final content is known after the frame ends are patched this way; the
// counter stays untouched.
func (c *OperationContainer) SetCallContextValue(ref OperationRef, value *uint256.Int) error {
	if ref.Target != CallContext {
		return ErrNotCallContext
	}
	op := c.arenas[CallContext][ref.Index].Op.(CallContextOp)
	op.Value = *value
	c.arenas[CallContext][ref.Index].Op = op
	return nil
}

// Sorted returns a copy of the target's operations ordered by RWC.
func (c *OperationContainer) Sorted(target Target) []Operation {
	ops := append([]Operation(nil), c.arenas[target]...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].RWC < ops[j].RWC })
	return ops
}

func (c *OperationContainer) SortedStack() []Operation       { return c.Sorted(Stack) }
func (c *OperationContainer) SortedMemory() []Operation      { return c.Sorted(Memory) }
func (c *OperationContainer) SortedStorage() []Operation     { return c.Sorted(Storage) }
func (c *OperationContainer) SortedAccount() []Operation     { return c.Sorted(Account) }
func (c *OperationContainer) SortedCallContext() []Operation { return c.Sorted(CallContext) }
func (c *OperationContainer) SortedTxRefund() []Operation    { return c.Sorted(TxRefund) }
func (c *OperationContainer) SortedTxLog() []Operation       { return c.Sorted(TxLog) }
func (c *OperationContainer) SortedTxReceipt() []Operation   { return c.Sorted(TxReceipt) }

func (c *OperationContainer) SortedTxAccessListAccount() []Operation {
	return c.Sorted(TxAccessListAccount)
}

func (c *OperationContainer) SortedTxAccessListAccountStorage() []Operation {
	return c.Sorted(TxAccessListAccountStorage)
}

// SortedAll merges every target into a single RWC ascending sequence.
func (c *OperationContainer) SortedAll() []Operation {
	var all []Operation
	for _, target := range Targets {
		all = append(all, c.arenas[target]...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].RWC != all[j].RWC {
			return all[i].RWC < all[j].RWC
		}
		return all[i].Target() < all[j].Target()
	})
	return all
}
