package builder

import (
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/tracer"
)

// ExpStep is one multiplication of the square and multiply evaluation: A * B = D mod 2^256.
type ExpStep struct {
	A uint256.Int `json:"a"`
	B uint256.Int `json:"b"`
	D uint256.Int `json:"d"`
}

// ExpEvent records an EXP evaluation for the exponentiation table. Identifier is the counter
// that follows the stack operations of the EXP step.
type ExpEvent struct {
	Identifier     uint64      `json:"identifier"`
	Base           uint256.Int `json:"base"`
	Exponent       uint256.Int `json:"exponent"`
	Exponentiation uint256.Int `json:"exponentiation"`
	Steps          []ExpStep   `json:"steps"`
}

// expBySquaring computes base^exponent and appends the multiplications it performs, deepest
// first.
func expBySquaring(base, exponent *uint256.Int, steps *[]ExpStep) uint256.Int {
	if exponent.IsZero() {
		return *uint256.NewInt(1)
	}
	if exponent.IsUint64() && exponent.Uint64() == 1 {
		return *base
	}
	half := new(uint256.Int).Rsh(exponent, 1)
	odd := exponent.Uint64()&1 == 1

	exp1 := expBySquaring(base, half, steps)
	var exp2 uint256.Int
	exp2.Mul(&exp1, &exp1)
	*steps = append(*steps, ExpStep{A: exp1, B: exp1, D: exp2})
	if !odd {
		return exp2
	}
	var exp uint256.Int
	exp.Mul(&exp2, base)
	*steps = append(*steps, ExpStep{A: exp2, B: *base, D: exp})
	return exp
}

// NewExpEvent evaluates base^exponent. The steps are stored outermost first, so the first
// step produces the result.
func NewExpEvent(identifier uint64, base, exponent *uint256.Int) *ExpEvent {
	var steps []ExpStep
	result := expBySquaring(base, exponent, &steps)
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return &ExpEvent{
		Identifier:     identifier,
		Base:           *base,
		Exponent:       *exponent,
		Exponentiation: result,
		Steps:          steps,
	}
}

func expOps(s *CircuitInputStateRef, steps []tracer.GethExecStep) ([]ExecStep, error) {
	execs, err := stackOnlyOps(2, 1)(s, steps)
	if err != nil {
		return nil, err
	}
	step := &steps[0]
	base, err := stackTop(step, 0)
	if err != nil {
		return nil, err
	}
	exponent, err := stackTop(step, 1)
	if err != nil {
		return nil, err
	}
	next, err := nextStep(steps)
	if err != nil {
		return nil, err
	}
	result, err := stackTop(next, 0)
	if err != nil {
		return nil, err
	}

	event := NewExpEvent(uint64(*s.rwc), &base, &exponent)
	if !event.Exponentiation.Eq(&result) {
		return nil, malformed("EXP %s^%s: computed %s, trace has %s", base.Hex(), exponent.Hex(), event.Exponentiation.Hex(), result.Hex())
	}
	s.block.ExpEvents = append(s.block.ExpEvents, event)
	return execs, nil
}
