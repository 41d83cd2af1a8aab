// Copyright Consensys Software Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0
package valueset

import (
	"math/bits"

	"github.com/mansallc/valueset/pkg/pcode"
)

// PushForwardUnary replaces this range with the image of the given input
// range under the unary operation, returning false when no useful image can
// be computed and the output must be treated as unconstrained.
func (p *CircleRange) PushForwardUnary(opc pcode.OpCode, in *CircleRange, outSize int) bool {
	switch opc {
	case pcode.OpCopy:
		*p = *in
		return true
	case pcode.OpInt2Comp:
		*p = *in
		p.negate()
		//
		return true
	case pcode.OpIntNegate:
		*p = *in
		p.bitNot()
		//
		return true
	case pcode.OpIntZext:
		p.pushForwardZext(in, outSize)
		return true
	case pcode.OpIntSext:
		p.pushForwardSext(in, outSize)
		return true
	}
	//
	return false
}

func (p *CircleRange) pushForwardZext(in *CircleRange, outSize int) {
	outMask := pcode.SizeMask(outSize)
	//
	if in.empty {
		*p = NewEmptyRange()
		p.mask = outMask
		//
		return
	}
	//
	if nonWrap(in) {
		// The arc never passes zero, so the extension is exact.
		sp := in.span()
		*p = CircleRange{left: in.left, right: in.left + sp, mask: outMask, step: in.step}
		p.normalize()
		//
		return
	}
	// A wrapping arc spreads over the whole small circle once extended; keep
	// only the stride.
	*p = arcRange(outMask, 0, in.mask+1, in.step, in.left)
}

func (p *CircleRange) pushForwardSext(in *CircleRange, outSize int) {
	var (
		outMask = pcode.SizeMask(outSize)
		inMask  = in.mask
		half    = (inMask >> 1) + 1
		diff    = outMask - inMask
	)
	//
	if in.empty {
		*p = NewEmptyRange()
		p.mask = outMask
		//
		return
	}
	// The arc breaks apart only if it crosses the sign boundary; crossing
	// zero is harmless because the extended circle wraps the same way.
	sp := in.span()
	hOff := (half - in.left) & inMask
	//
	if sp == 0 || (hOff > 0 && hOff < sp) {
		*p = arcRange(outMask, (0-half)&outMask, inMask+1, in.step, in.left)
		return
	}
	// Map both boundaries; negative values shift up by the mask difference.
	mapB := func(v uint64) uint64 {
		if v < half {
			return v
		}
		//
		return v + diff
	}
	//
	last := in.Max()
	*p = CircleRange{
		left:  mapB(in.left),
		right: (mapB(last) + in.step) & outMask,
		mask:  outMask,
		step:  in.step,
	}
	p.normalize()
}

// PushForwardBinary replaces this range with the image of the two input
// ranges under the binary operation, returning false when no useful image
// can be computed and the output must be treated as unconstrained.  The
// stride of the result never exceeds maxStep.
func (p *CircleRange) PushForwardBinary(opc pcode.OpCode, in1 *CircleRange, in2 *CircleRange,
	outSize int, maxStep uint64) bool {
	if in1.empty || in2.empty {
		*p = NewEmptyRange()
		p.mask = pcode.SizeMask(outSize)
		//
		return true
	}
	//
	if opc.IsComparison() {
		if in1.IsSingle() && in2.IsSingle() {
			*p = NewBoolRange(evalComparison(opc, in1.left, in2.left, in1.mask))
		} else {
			*p = NewRange(0, 2, 1, 1)
		}
		//
		return true
	}
	//
	switch opc {
	case pcode.OpIntAdd:
		p.pushForwardAdd(in1, in2, outSize)
		return true
	case pcode.OpIntSub:
		neg := *in2
		neg.negate()
		p.pushForwardAdd(in1, &neg, outSize)
		//
		return true
	case pcode.OpIntMult:
		return p.pushForwardMult(in1, in2, outSize, maxStep)
	case pcode.OpIntLeft:
		if !in2.IsSingle() {
			return false
		}
		//
		return p.pushForwardLeft(in1, in2.left, outSize, maxStep)
	case pcode.OpIntRight:
		if !in2.IsSingle() {
			return false
		}
		//
		p.pushForwardRight(in1, in2.left, outSize)
		//
		return true
	case pcode.OpIntSRight:
		if !in2.IsSingle() {
			return false
		}
		//
		p.pushForwardSRight(in1, in2.left, outSize)
		//
		return true
	case pcode.OpIntAnd:
		if in1.IsSingle() && in2.IsSingle() {
			*p = NewSingleRange(in1.left&in2.left, outSize)
			return true
		}
		//
		p.boundByBits(minInt(rangeBits(in1), rangeBits(in2)), outSize)
		//
		return true
	case pcode.OpIntOr:
		if in1.IsSingle() && in2.IsSingle() {
			*p = NewSingleRange(in1.left|in2.left, outSize)
			return true
		}
		//
		p.boundByBits(maxInt(rangeBits(in1), rangeBits(in2)), outSize)
		//
		return true
	case pcode.OpIntXor:
		if in1.IsSingle() && in2.IsSingle() {
			*p = NewSingleRange(in1.left^in2.left, outSize)
			return true
		}
		//
		p.boundByBits(maxInt(rangeBits(in1), rangeBits(in2)), outSize)
		//
		return true
	case pcode.OpSubPiece:
		if !in2.IsSingle() {
			return false
		}
		//
		return p.pushForwardSubPiece(in1, in2.left, outSize)
	}
	//
	return false
}

// pushForwardAdd computes the image of pointwise addition.  A singleton
// operand adopts the other operand's stride; otherwise the result stride is
// the smaller of the two.  The result arc covers every pairwise sum.
func (p *CircleRange) pushForwardAdd(a *CircleRange, b *CircleRange, outSize int) {
	var (
		mask    = pcode.SizeMask(outSize)
		newStep = a.step
		left    = (a.left + b.left) & mask
	)
	//
	switch {
	case a.IsSingle():
		newStep = b.step
	case b.IsSingle():
		// keep a's stride
	case b.step < newStep:
		newStep = b.step
	}
	//
	spA, spB := a.span(), b.span()
	if spA == 0 || spB == 0 {
		*p = arcRange(mask, 0, 0, newStep, left)
		return
	}
	// Sum of the two largest offsets, plus one stride for the half-open
	// boundary.  Overflow means the sums lap the circle.
	sum, carry := bits.Add64(spA-a.step, spB-b.step, 0)
	span, carry2 := bits.Add64(sum, newStep, 0)
	//
	if carry+carry2 != 0 || (mask != ^uint64(0) && span > mask) {
		*p = arcRange(mask, 0, 0, newStep, left)
		return
	}
	//
	*p = CircleRange{left: left, right: (left + span) & mask, mask: mask, step: newStep}
	p.normalize()
}

func (p *CircleRange) pushForwardMult(in1 *CircleRange, in2 *CircleRange, outSize int, maxStep uint64) bool {
	if in2.IsSingle() {
		p.pushForwardMultConst(in1, in2.left, outSize, maxStep)
		return true
	} else if in1.IsSingle() {
		p.pushForwardMultConst(in2, in1.left, outSize, maxStep)
		return true
	}
	// Neither operand is known exactly; bound the product by bit length.
	p.boundByBits(rangeBits(in1)+rangeBits(in2), outSize)
	//
	return true
}

// pushForwardMultConst computes the image of multiplication by a known
// constant.  Trailing zero bits of the constant widen the stride.
func (p *CircleRange) pushForwardMultConst(r *CircleRange, c uint64, outSize int, maxStep uint64) {
	mask := pcode.SizeMask(outSize)
	c &= mask
	//
	if c == 0 {
		*p = NewSingleRange(0, outSize)
		return
	}
	//
	if maxStep == 0 || maxStep&(maxStep-1) != 0 {
		maxStep = 1
	}
	//
	tz := uint(bits.TrailingZeros64(c))
	newStep := r.step << tz
	//
	if newStep == 0 || (newStep>>tz) != r.step || newStep > maxStep {
		newStep = maxStep
	}
	//
	left := (c * r.left) & mask
	//
	sp := r.span()
	if sp == 0 {
		*p = arcRange(mask, 0, 0, newStep, left)
		return
	}
	// Offset of the last element is (count-1) scaled copies of the stride.
	hi1, spacing := bits.Mul64(c, r.step)
	if hi1 != 0 {
		*p = arcRange(mask, 0, 0, newStep, left)
		return
	}
	//
	hi2, off := bits.Mul64(spacing, sp/r.step-1)
	span, carry := bits.Add64(off, newStep, 0)
	//
	if hi2 != 0 || carry != 0 || (mask != ^uint64(0) && span > mask) {
		*p = arcRange(mask, 0, 0, newStep, left)
		return
	}
	//
	*p = CircleRange{left: left, right: (left + span) & mask, mask: mask, step: newStep}
	p.normalize()
}

func (p *CircleRange) pushForwardLeft(r *CircleRange, c uint64, outSize int, maxStep uint64) bool {
	nbits := uint64(8 * outSize)
	//
	if c >= nbits {
		*p = NewSingleRange(0, outSize)
		return true
	} else if c == 0 {
		*p = *r
		return true
	}
	// Shifting left by c is multiplication by 2^c.
	p.pushForwardMultConst(r, uint64(1)<<c, outSize, maxStep)
	//
	return true
}

func (p *CircleRange) pushForwardRight(r *CircleRange, c uint64, outSize int) {
	var (
		mask  = pcode.SizeMask(outSize)
		nbits = uint64(8 * outSize)
	)
	//
	if c >= nbits {
		*p = NewSingleRange(0, outSize)
		return
	} else if c == 0 {
		*p = *r
		return
	}
	//
	if nonWrap(r) {
		*p = CircleRange{left: r.left >> c, right: (r.Max() >> c) + 1, mask: mask, step: 1}
		p.normalize()
		//
		return
	}
	//
	*p = CircleRange{left: 0, right: (mask >> c) + 1, mask: mask, step: 1}
}

func (p *CircleRange) pushForwardSRight(r *CircleRange, c uint64, outSize int) {
	var (
		mask  = pcode.SizeMask(outSize)
		nbits = uint64(8 * outSize)
		half  = (mask >> 1) + 1
	)
	//
	if c == 0 {
		*p = *r
		return
	}
	//
	var (
		posDomain = CircleRange{left: 0, right: half, mask: mask, step: 1}
		negDomain = CircleRange{left: half, right: 0, mask: mask, step: 1}
	)
	//
	if c >= nbits {
		// Every value collapses onto its sign bit.
		switch {
		case posDomain.ContainsRange(r):
			*p = NewSingleRange(0, outSize)
		case negDomain.ContainsRange(r):
			*p = NewSingleRange(mask, outSize)
		default:
			*p = CircleRange{left: mask, right: 1, mask: mask, step: 1}
		}
		//
		return
	}
	//
	switch {
	case posDomain.ContainsRange(r):
		*p = CircleRange{left: r.left >> c, right: (r.Max() >> c) + 1, mask: mask, step: 1}
		p.normalize()
	case negDomain.ContainsRange(r):
		// The shifted sign bits fill in from the top.
		signFill := mask &^ (mask >> c)
		*p = CircleRange{
			left:  (r.left >> c) | signFill,
			right: (((r.Max() >> c) | signFill) + 1) & mask,
			mask:  mask,
			step:  1,
		}
		p.normalize()
	default:
		// Mixed signs; the result still fits the shrunken signed domain.
		q := uint64(1) << (nbits - 1 - c)
		*p = CircleRange{left: (0 - q) & mask, right: q, mask: mask, step: 1}
	}
}

func (p *CircleRange) pushForwardSubPiece(r *CircleRange, c uint64, outSize int) bool {
	var (
		outMask = pcode.SizeMask(outSize)
		inBits  = uint64(bits.Len64(r.mask))
		sh      = 8 * c
	)
	//
	if sh >= inBits {
		*p = NewSingleRange(0, outSize)
		return true
	}
	//
	if c == 0 {
		if r.mask == outMask {
			*p = *r
			return true
		}
		//
		if r.step > outMask {
			// The stride laps the smaller circle, pinning a single residue.
			*p = NewSingleRange(r.left&outMask, outSize)
			return true
		}
		//
		sp := r.span()
		if sp != 0 && sp <= outMask+1 {
			*p = CircleRange{
				left:  r.left & outMask,
				right: (r.left + sp) & outMask,
				mask:  outMask,
				step:  r.step,
			}
			p.normalize()
			//
			return true
		}
		//
		*p = arcRange(outMask, 0, 0, r.step, r.left&outMask)
		//
		return true
	}
	// Truncation after a byte shift; bound the shifted value first.
	var lo, hi uint64
	//
	if nonWrap(r) {
		lo, hi = r.left>>sh, (r.Max()>>sh)+1
	} else {
		lo, hi = 0, (r.mask>>sh)+1
	}
	//
	if hi-lo > outMask {
		*p = NewFullRange(outSize)
		return true
	}
	//
	*p = CircleRange{left: lo & outMask, right: hi & outMask, mask: outMask, step: 1}
	p.normalize()
	//
	return true
}

// boundByBits replaces this range with [0, 2^n), the set of values fitting
// in the given number of bits.
func (p *CircleRange) boundByBits(n int, outSize int) {
	nbits := 8 * outSize
	//
	if n >= nbits {
		*p = NewFullRange(outSize)
		return
	}
	//
	*p = NewRange(0, uint64(1)<<n, outSize, 1)
}

// rangeBits returns the number of bits needed to hold every value of the
// given range, falling back to the full width for wrapping arcs.
func rangeBits(r *CircleRange) int {
	if !nonWrap(r) {
		return bits.Len64(r.mask)
	}
	//
	return bits.Len64(r.Max())
}

// nonWrap determines whether the arc of the given range stays below the
// modulus, so its values are ordinary (non-modular) integers.
func nonWrap(r *CircleRange) bool {
	sp := r.span()
	return sp != 0 && sp-1 <= r.mask-r.left
}

// arcRange constructs the range of values on the arc [base, base+span)
// (span zero meaning the whole circle) congruent to phase modulo step.
func arcRange(mask uint64, base uint64, span uint64, step uint64, phase uint64) CircleRange {
	r := CircleRange{mask: mask, step: 1}
	r.applyArc(base, span, step, phase)
	//
	return r
}

func evalComparison(opc pcode.OpCode, a uint64, b uint64, mask uint64) bool {
	half := (mask >> 1) + 1
	//
	switch opc {
	case pcode.OpIntEqual:
		return a == b
	case pcode.OpIntNotEqual:
		return a != b
	case pcode.OpIntLess:
		return a < b
	case pcode.OpIntLessEqual:
		return a <= b
	case pcode.OpIntSLess:
		return a^half < b^half
	case pcode.OpIntSLessEqual:
		return a^half <= b^half
	}
	//
	return false
}

func minInt(a int, b int) int {
	if a < b {
		return a
	}
	//
	return b
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	//
	return b
}
