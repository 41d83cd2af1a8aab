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
	"github.com/mansallc/valueset/pkg/pcode"
)

// PullBack replaces this output range of the given operation with the set of
// values its unique non-constant input may take, returning that input.  The
// second result is the constant operand which participated, or nil.  A nil
// first result means the pre-image could not be represented and the input
// must be treated as unconstrained.  When useNZMask is set the input's
// non-zero mask is intersected into the result.
func (p *CircleRange) PullBack(op *pcode.PcodeOp, useNZMask bool) (*pcode.Varnode, *pcode.Varnode) {
	var (
		vn          *pcode.Varnode
		constMarkup *pcode.Varnode
	)
	//
	switch op.NumInputs() {
	case 1:
		vn = op.Input(0)
		if vn.IsConstant() {
			return nil, nil
		}
		//
		if !p.PullBackUnary(op.Code(), vn.Size(), op.Output().Size()) {
			return nil, nil
		}
	case 2:
		vn0, vn1 := op.Input(0), op.Input(1)
		if vn0.IsConstant() == vn1.IsConstant() {
			return nil, nil
		}
		//
		slot := 1
		vn, constMarkup = vn0, vn1
		//
		if vn0.IsConstant() {
			slot = 0
			vn, constMarkup = vn1, vn0
		}
		//
		if !p.PullBackBinary(op.Code(), constMarkup.Val(), slot, vn.Size(), op.Output().Size()) {
			return nil, nil
		}
	default:
		return nil, nil
	}
	//
	if useNZMask {
		var nz CircleRange
		//
		nz.SetNZMask(vn.NZMask(), vn.Size())
		p.Intersect(&nz)
	}
	//
	return vn, constMarkup
}

// PullBackUnary replaces this output range with the pre-image under the
// given unary operation, returning false when the pre-image is not
// representable.
func (p *CircleRange) PullBackUnary(opc pcode.OpCode, inSize int, outSize int) bool {
	switch opc {
	case pcode.OpCopy:
		return true
	case pcode.OpInt2Comp:
		p.negate()
		return true
	case pcode.OpIntNegate:
		p.bitNot()
		return true
	case pcode.OpIntZext:
		return p.pullBackZext(inSize)
	case pcode.OpIntSext:
		return p.pullBackSext(inSize)
	}
	//
	return false
}

func (p *CircleRange) pullBackZext(inSize int) bool {
	inMask := pcode.SizeMask(inSize)
	//
	if p.empty {
		p.mask = inMask
		return true
	}
	// A wrapping arc with both ends below the smaller modulus meets the
	// domain at its top and at its bottom; on the smaller circle the two
	// pieces join into one arc.
	if p.left > p.right && p.right != 0 && p.left <= inMask && p.step <= inMask {
		p.mask = inMask
		return true
	}
	// Valid outputs lie below the smaller modulus.
	domain := CircleRange{left: 0, right: (inMask + 1) & p.mask, mask: p.mask, step: 1}
	domain.normalize()
	p.intersectInto(&domain)
	//
	if p.empty {
		p.mask = inMask
		return true
	} else if !domain.ContainsRange(p) || p.step > inMask {
		return false
	}
	//
	p.left &= inMask
	p.right &= inMask
	p.mask = inMask
	p.normalize()
	//
	return true
}

func (p *CircleRange) pullBackSext(inSize int) bool {
	var (
		inMask = pcode.SizeMask(inSize)
		half   = (inMask >> 1) + 1
	)
	//
	if p.empty {
		p.mask = inMask
		return true
	}
	// Valid outputs are sign extensions, a wrap range around zero.
	domain := CircleRange{left: (0 - half) & p.mask, right: half, mask: p.mask, step: 1}
	p.intersectInto(&domain)
	//
	if p.empty {
		p.mask = inMask
		return true
	} else if !domain.ContainsRange(p) || p.step > inMask {
		return false
	}
	// Truncation maps the wrap range onto the smaller circle preserving
	// circular order.
	p.left &= inMask
	p.right &= inMask
	p.mask = inMask
	p.normalize()
	//
	return true
}

// PullBackBinary replaces this output range with the pre-image of the
// non-constant input, where the input in the given slot holds the constant
// val.  Returns false when the pre-image is not representable.
func (p *CircleRange) PullBackBinary(opc pcode.OpCode, val uint64, slot int, inSize int, outSize int) bool {
	if opc.IsComparison() {
		return p.pullBackComparison(opc, val, slot, inSize)
	}
	//
	if p.empty {
		return true
	}
	//
	switch opc {
	case pcode.OpIntAdd:
		p.shift(0 - val)
		return true
	case pcode.OpIntSub:
		if slot == 1 {
			p.shift(val)
		} else {
			p.negate()
			p.shift(val)
		}
		//
		return true
	case pcode.OpIntMult:
		return p.pullBackMult(val)
	case pcode.OpIntLeft:
		if slot != 1 {
			return false
		}
		//
		return p.pullBackLeft(val, inSize)
	case pcode.OpIntRight:
		if slot != 1 {
			return false
		}
		//
		return p.pullBackRight(val, inSize)
	case pcode.OpIntSRight:
		if slot != 1 {
			return false
		}
		//
		return p.pullBackSRight(val, inSize)
	case pcode.OpIntAnd:
		return p.pullBackAnd(val)
	case pcode.OpIntOr:
		return p.pullBackOr(val)
	case pcode.OpIntXor:
		return p.pullBackXor(val)
	case pcode.OpSubPiece:
		if slot != 1 || val != 0 {
			return false
		}
		//
		return p.pullBackSubPiece(inSize)
	}
	//
	return false
}

func (p *CircleRange) shift(delta uint64) {
	p.left = (p.left + delta) & p.mask
	p.right = (p.right + delta) & p.mask
	p.normalize()
}

// negate replaces the range with its image under twos-complement negation.
func (p *CircleRange) negate() {
	if p.empty {
		return
	}
	//
	left := (p.step - p.right) & p.mask
	right := (p.step - p.left) & p.mask
	p.left, p.right = left, right
	p.normalize()
}

// bitNot replaces the range with its image under bitwise complement.
func (p *CircleRange) bitNot() {
	if p.empty {
		return
	}
	//
	left := (p.mask + p.step - p.right) & p.mask
	right := (p.mask + p.step - p.left) & p.mask
	p.left, p.right = left, right
	p.normalize()
}

func (p *CircleRange) pullBackMult(val uint64) bool {
	if val == 0 {
		// Output is always zero, so the input is unconstrained or impossible.
		contained := p.Contains(0)
		size := byteSize(p.mask)
		//
		if contained {
			p.SetFull(size)
		} else {
			p.setEmpty()
		}
		//
		return true
	} else if val&1 == 0 {
		return p.IsFull()
	} else if p.IsFull() {
		return true
	}
	//
	inv := modInverse(val)
	//
	if p.IsSingle() {
		*p = NewSingleRange(p.left*inv, byteSize(p.mask))
		return true
	} else if p.left == p.right {
		// Every residue class member maps through the odd inverse.
		p.left = (p.left * inv) % p.step
		p.right = p.left
		//
		return true
	}
	//
	return false
}

func (p *CircleRange) pullBackLeft(c uint64, inSize int) bool {
	nbits := uint64(8 * inSize)
	//
	if c == 0 {
		return true
	} else if c >= nbits {
		contained := p.Contains(0)
		//
		if contained {
			p.SetFull(inSize)
		} else {
			p.setEmpty()
		}
		//
		return true
	}
	// Only outputs on the 2^c grid are reachable.
	p.SetStride(uint64(1)<<c, 0)
	//
	if p.empty {
		return true
	}
	//
	freeStep := (p.mask >> c) + 1
	//
	if p.IsSingle() {
		phase := (p.left >> c) % freeStep
		p.left, p.right, p.step = phase, phase, freeStep
		p.normalize()
		//
		return true
	} else if p.left == p.right {
		if p.step == uint64(1)<<c {
			p.SetFull(inSize)
			return true
		}
		//
		newStep := p.step >> c
		p.left = (p.left >> c) % newStep
		p.right = p.left
		p.step = newStep
		//
		return true
	}
	//
	return false
}

func (p *CircleRange) pullBackRight(c uint64, inSize int) bool {
	nbits := uint64(8 * inSize)
	//
	if c == 0 {
		return true
	} else if c >= nbits {
		contained := p.Contains(0)
		//
		if contained {
			p.SetFull(inSize)
		} else {
			p.setEmpty()
		}
		//
		return true
	}
	// Outputs cannot exceed the shifted-down modulus.
	domain := CircleRange{left: 0, right: (p.mask >> c) + 1, mask: p.mask, step: 1}
	p.intersectInto(&domain)
	//
	if p.empty {
		return true
	} else if !domain.ContainsRange(p) {
		return false
	}
	// The pre-image of [l, r) is [l<<c, r<<c); for a strided output this is
	// a sound over-approximation.
	p.left = (p.left << c) & p.mask
	p.right = (p.right << c) & p.mask
	p.step = 1
	p.normalize()
	//
	return true
}

func (p *CircleRange) pullBackSRight(c uint64, inSize int) bool {
	nbits := uint64(8 * inSize)
	half := (p.mask >> 1) + 1
	//
	if c == 0 {
		return true
	} else if c >= nbits {
		hasPos := p.Contains(0)
		hasNeg := p.Contains(p.mask)
		//
		switch {
		case hasPos && hasNeg:
			p.SetFull(inSize)
		case hasPos:
			*p = CircleRange{left: 0, right: half, mask: p.mask, step: 1}
		case hasNeg:
			*p = CircleRange{left: half, right: 0, mask: p.mask, step: 1}
		default:
			p.setEmpty()
		}
		//
		return true
	}
	// Outputs lie in the shrunken signed domain around zero.
	q := uint64(1) << (nbits - 1 - c)
	domain := CircleRange{left: (0 - q) & p.mask, right: q, mask: p.mask, step: 1}
	p.intersectInto(&domain)
	//
	if p.empty {
		return true
	} else if !domain.ContainsRange(p) {
		return false
	}
	//
	p.left = (p.left << c) & p.mask
	p.right = (p.right << c) & p.mask
	p.step = 1
	p.normalize()
	//
	return true
}

func (p *CircleRange) pullBackAnd(val uint64) bool {
	val &= p.mask
	size := byteSize(p.mask)
	//
	if p.IsFull() || val == p.mask {
		return true
	} else if p.IsSingle() {
		s := p.left
		//
		if s&^val != 0 {
			p.setEmpty()
			return true
		}
		//
		free := ^val & p.mask
		//
		switch {
		case free == 0:
			return true
		case isLowMask(val):
			// Free bits above; the input repeats every val+1.
			p.left, p.right, p.step = s, s, val+1
			p.normalize()
			//
			return true
		case isHighMask(val, p.mask):
			// Free bits below; the input is a contiguous block.
			*p = CircleRange{left: s, right: (s + free + 1) & p.mask, mask: p.mask, step: 1}
			p.normalize()
			//
			return true
		}
		//
		return false
	} else if isHighMask(val, p.mask) {
		grain := val & -val
		// Outputs are multiples of the grain; each pulls back to a block.
		p.SetStride(grain, 0)
		//
		if p.empty {
			return true
		} else if p.left == p.right {
			p.SetFull(size)
			return true
		}
		//
		blockEnd := (p.right - p.step + grain) & p.mask
		*p = CircleRange{left: p.left, right: blockEnd, mask: p.mask, step: 1}
		p.normalize()
		//
		return true
	}
	//
	return false
}

func (p *CircleRange) pullBackOr(val uint64) bool {
	val &= p.mask
	//
	if p.IsFull() || val == 0 {
		return true
	} else if p.IsSingle() {
		s := p.left
		//
		if s&val != val {
			p.setEmpty()
			return true
		}
		//
		base := s &^ val
		//
		switch {
		case isLowMask(val):
			*p = CircleRange{left: base, right: (base + val + 1) & p.mask, mask: p.mask, step: 1}
			p.normalize()
			//
			return true
		case isHighMask(val, p.mask):
			grain := val & -val
			p.left, p.right, p.step = base, base, grain
			p.normalize()
			//
			return true
		}
		//
		return false
	}
	//
	return false
}

func (p *CircleRange) pullBackXor(val uint64) bool {
	val &= p.mask
	//
	if val == 0 || p.IsFull() {
		return true
	} else if p.IsSingle() {
		*p = NewSingleRange(p.left^val, byteSize(p.mask))
		return true
	} else if val&^(p.step-1) == 0 {
		// The constant only touches bits below the stride, so exclusive-or
		// acts as a uniform shift across the range.
		p.shift(((p.left ^ val) - p.left) & p.mask)
		return true
	}
	//
	return false
}

func (p *CircleRange) pullBackSubPiece(inSize int) bool {
	var (
		inMask  = pcode.SizeMask(inSize)
		outMod  = p.mask + 1
		outFull = p.IsFull()
	)
	//
	if p.empty {
		p.mask = inMask
		return true
	} else if outFull {
		p.SetFull(inSize)
		return true
	} else if p.IsSingle() {
		// The high bytes are free; the input repeats every output modulus.
		s := p.left
		p.mask = inMask
		p.left, p.right, p.step = s, s, outMod
		p.normalize()
		//
		return true
	} else if p.left == p.right {
		// The stride constraint carries over unchanged to the wider value.
		p.mask = inMask
		return true
	}
	//
	return false
}

func (p *CircleRange) pullBackComparison(opc pcode.OpCode, val uint64, slot int, inSize int) bool {
	if p.empty {
		*p = NewEmptyRange()
		p.mask = pcode.SizeMask(inSize)
		//
		return true
	}
	//
	p.ConvertToBoolean()
	//
	hasTrue := p.Contains(1)
	hasFalse := p.Contains(0)
	//
	switch {
	case hasTrue && hasFalse:
		p.SetFull(inSize)
		return true
	case !hasTrue && !hasFalse:
		*p = NewEmptyRange()
		p.mask = pcode.SizeMask(inSize)
		//
		return true
	}
	//
	sat, ok := rangeFromComparison(opc, val, slot, inSize)
	if !ok {
		return false
	}
	//
	if !hasTrue {
		sat.Invert()
	}
	//
	*p = sat
	//
	return true
}

// rangeFromComparison returns the set of values x for which the comparison
// holds, where the constant c occupies the given slot.
func rangeFromComparison(opc pcode.OpCode, c uint64, cslot int, size int) (CircleRange, bool) {
	var (
		mask = pcode.SizeMask(size)
		half = (mask >> 1) + 1
	)
	//
	c &= mask
	//
	switch opc {
	case pcode.OpIntEqual:
		return NewSingleRange(c, size), true
	case pcode.OpIntNotEqual:
		r := NewSingleRange(c, size)
		r.Invert()
		//
		return r, true
	case pcode.OpIntLess:
		if cslot == 1 {
			// x < c
			if c == 0 {
				return NewEmptyRange(), true
			}
			//
			return NewRange(0, c, size, 1), true
		}
		// c < x
		if c == mask {
			return NewEmptyRange(), true
		}
		//
		return NewRange(c+1, 0, size, 1), true
	case pcode.OpIntLessEqual:
		if cslot == 1 {
			// x <= c
			return NewRange(0, c+1, size, 1), true
		}
		// c <= x
		return NewRange(c, 0, size, 1), true
	case pcode.OpIntSLess:
		if cslot == 1 {
			// x <s c
			if c == half {
				return NewEmptyRange(), true
			}
			//
			return NewRange(half, c, size, 1), true
		}
		// c <s x
		if c == half-1 {
			return NewEmptyRange(), true
		}
		//
		return NewRange(c+1, half, size, 1), true
	case pcode.OpIntSLessEqual:
		if cslot == 1 {
			// x <=s c
			return NewRange(half, c+1, size, 1), true
		}
		// c <=s x
		return NewRange(c, half, size, 1), true
	}
	//
	return NewEmptyRange(), false
}

// modInverse computes the multiplicative inverse of an odd value modulo
// 2^64 by Newton iteration.
func modInverse(val uint64) uint64 {
	inv := val
	//
	for i := 0; i < 5; i++ {
		inv *= 2 - val*inv
	}
	//
	return inv
}

func isLowMask(val uint64) bool {
	return val != 0 && (val+1)&val == 0
}

func isHighMask(val uint64, mask uint64) bool {
	low := val & -val
	return val != 0 && val == mask&^(low-1)
}

// byteSize recovers the byte size from a range mask.
func byteSize(mask uint64) int {
	size := 0
	//
	for mask != 0 {
		mask >>= 8
		size++
	}
	//
	return size
}
