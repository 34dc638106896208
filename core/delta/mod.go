// Package delta implements commutative partial updates to integer values.
//
// An aggregator is a 128-bit unsigned counter stored as a regular value. A
// transaction that only increments or decrements it does not need to know the
// current value, it can instead emit an operation that records the net update
// together with the range of intermediate values it went through. The
// operation is applied to a concrete base at commit time, or lazily when a
// reader needs the value, and it fails with the exact same error a sequential
// execution would have produced: an overflow above the limit of the
// aggregator, or an underflow below zero.
//
// Operations of the same aggregator compose associatively, so the engine can
// fold a chain of them without knowing the base value.
package delta

import (
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/xerrors"
)

// ErrOverflow is returned when an intermediate value exceeds the limit of the
// aggregator.
var ErrOverflow = xerrors.New("aggregator overflow")

// ErrUnderflow is returned when an intermediate value goes below zero.
var ErrUnderflow = xerrors.New("aggregator underflow")

// MaxLimit is the largest supported aggregator limit (2^128 - 1).
var MaxLimit = maxLimit()

func maxLimit() *uint256.Int {
	one := uint256.NewInt(1)

	limit := new(uint256.Int).Lsh(one, 128)

	return limit.Sub(limit, one)
}

// Op is a partial update to an aggregator. It records the net update and the
// widest excursions seen while it was built, so that applying it to a base
// reproduces the overflow and underflow failures of a sequential execution,
// even when the net update alone would fit.
type Op struct {
	// maxPositive is the highest value of the running update over any prefix
	// of the operations folded into this one. It is always >= 0.
	maxPositive uint256.Int

	// minNegative is the lowest value of the running update over any prefix,
	// negated. It is always >= 0.
	minNegative uint256.Int

	limit uint256.Int

	// net update: value and its direction.
	value uint256.Int
	minus bool
}

// Add creates the operation incrementing an aggregator bounded by the limit.
func Add(value, limit *uint256.Int) Op {
	op := Op{}
	op.value.Set(value)
	op.maxPositive.Set(value)
	op.limit.Set(limit)

	return op
}

// Sub creates the operation decrementing an aggregator bounded by the limit.
func Sub(value, limit *uint256.Int) Op {
	op := Op{minus: true}
	op.value.Set(value)
	op.minNegative.Set(value)
	op.limit.Set(limit)

	return op
}

// AddUint64 is a convenience shorthand for Add with the maximum limit.
func AddUint64(value uint64, limit *uint256.Int) Op {
	return Add(uint256.NewInt(value), limit)
}

// SubUint64 is a convenience shorthand for Sub with the maximum limit.
func SubUint64(value uint64, limit *uint256.Int) Op {
	return Sub(uint256.NewInt(value), limit)
}

// GetLimit returns the limit of the aggregator the operation applies to.
func (op Op) GetLimit() *uint256.Int {
	return new(uint256.Int).Set(&op.limit)
}

// Merge composes the operation with a subsequent one of the same aggregator
// and returns the result. The composition is associative: folding a chain of
// operations and applying the result to a base fails for exactly the bases a
// one-by-one application fails for, and produces the same value otherwise.
// Only the kind of the error can differ, see ApplyTo.
func (op Op) Merge(next Op) (Op, error) {
	if !op.limit.Eq(&next.limit) {
		return Op{}, xerrors.Errorf("limit mismatch: %v != %v", &op.limit, &next.limit)
	}

	res := Op{}
	res.limit.Set(&op.limit)

	// Excursions of the next operation happen after the net update of this
	// one, so they are shifted by it before being compared.
	shiftedMax, maxNeg := shift(&next.maxPositive, false, &op.value, op.minus)
	if !maxNeg && shiftedMax.Gt(&op.maxPositive) {
		res.maxPositive.Set(shiftedMax)
	} else {
		res.maxPositive.Set(&op.maxPositive)
	}

	shiftedMin, minNeg := shift(&next.minNegative, false, &op.value, !op.minus)
	if !minNeg && shiftedMin.Gt(&op.minNegative) {
		res.minNegative.Set(shiftedMin)
	} else {
		res.minNegative.Set(&op.minNegative)
	}

	net, netMinus := shift(&op.value, op.minus, &next.value, next.minus)
	res.value.Set(net)
	res.minus = netMinus

	return res, nil
}

// ApplyTo applies the operation to a concrete base value. It first validates
// the excursions against the bounds of the aggregator, then applies the net
// update. Failures are pure data and deterministic for a given base.
//
// The operation keeps the widest excursion on each side but not their order,
// so when both bounds are broken from the same base it reports the underflow,
// where a one-at-a-time application may have hit the overflow first. The
// failing bases themselves are identical either way.
func (op Op) ApplyTo(base *uint256.Int) (*uint256.Int, error) {
	if base.Lt(&op.minNegative) {
		return nil, ErrUnderflow
	}

	peak := new(uint256.Int).Add(base, &op.maxPositive)
	if peak.Gt(&op.limit) {
		return nil, ErrOverflow
	}

	res := new(uint256.Int)
	if op.minus {
		res.Sub(base, &op.value)
	} else {
		res.Add(base, &op.value)
	}

	return res, nil
}

// String implements fmt.Stringer. It returns a short description of the net
// update.
func (op Op) String() string {
	sign := "+"
	if op.minus {
		sign = "-"
	}

	return fmt.Sprintf("delta{%s%v}", sign, &op.value)
}

// shift returns the signed sum of the two magnitudes, as a magnitude and its
// direction.
func shift(a *uint256.Int, aMinus bool, b *uint256.Int, bMinus bool) (*uint256.Int, bool) {
	if aMinus == bMinus {
		return new(uint256.Int).Add(a, b), aMinus
	}

	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a), bMinus
	}

	return new(uint256.Int).Sub(a, b), aMinus
}

// Bytes serializes an aggregator value as a 16-byte big-endian integer.
func Bytes(value *uint256.Int) []byte {
	buf := value.Bytes32()

	return buf[16:]
}

// FromBytes deserializes an aggregator value. A nil or empty buffer is the
// zero value.
func FromBytes(buf []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(buf)
}
