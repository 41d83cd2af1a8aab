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
package pcode

import "fmt"

// Varnode represents a single value in the data-flow of a function: a named
// variable, a temporary or a constant.  Every varnode has a fixed size in
// bytes (at most eight) which determines the modulus of its arithmetic.
// Varnodes obey a single-assignment discipline: at most one operation defines
// any given varnode, with MULTIEQUAL operations merging competing definitions.
type Varnode struct {
	name string
	size int
	// constant value, valid only when constant is set
	val      uint64
	constant bool
	// defining operation, or nil for function inputs and constants
	def *PcodeOp
	// operations reading this varnode, in discovery order
	uses []*PcodeOp
	// bitmask covering every bit which could possibly be non-zero
	nzMask uint64
	// analysis scratch: an opaque annotation slot for whichever analysis is
	// currently running (e.g. the value-set solver), plus a mark bit.
	annotation any
	marked     bool
}

// Name returns the listing name of this varnode.  Constants are named by
// their value.
func (p *Varnode) Name() string {
	if p.constant {
		return fmt.Sprintf("%#x:%d", p.val, p.size)
	}
	//
	return p.name
}

// Size returns the size of this varnode in bytes.
func (p *Varnode) Size() int {
	return p.size
}

// IsConstant determines whether this varnode holds a compile-time constant.
func (p *Varnode) IsConstant() bool {
	return p.constant
}

// Val returns the constant value held by this varnode.  The result is
// meaningless unless IsConstant holds.
func (p *Varnode) Val() uint64 {
	return p.val
}

// IsWritten determines whether this varnode is the output of some operation.
func (p *Varnode) IsWritten() bool {
	return p.def != nil
}

// Def returns the operation defining this varnode, or nil for function inputs
// and constants.
func (p *Varnode) Def() *PcodeOp {
	return p.def
}

// Uses returns the operations reading this varnode.  The returned slice must
// not be modified.
func (p *Varnode) Uses() []*PcodeOp {
	return p.uses
}

// NZMask returns a bitmask covering all bits of this varnode which could
// possibly be non-zero.  The mask is always a sound over-approximation.
func (p *Varnode) NZMask() uint64 {
	return p.nzMask
}

// Mask returns the arithmetic modulus of this varnode minus one, i.e.
// 2^(8*size) - 1.
func (p *Varnode) Mask() uint64 {
	return SizeMask(p.size)
}

// SetAnnotation attaches an analysis-specific annotation to this varnode,
// replacing any previous annotation.
func (p *Varnode) SetAnnotation(a any) {
	p.annotation = a
}

// Annotation returns the annotation attached by the currently running
// analysis, or nil.
func (p *Varnode) Annotation() any {
	return p.annotation
}

// SetMark sets the analysis mark bit on this varnode.
func (p *Varnode) SetMark() {
	p.marked = true
}

// ClearMark clears the analysis mark bit on this varnode.
func (p *Varnode) ClearMark() {
	p.marked = false
}

// IsMarked determines whether the analysis mark bit is set.
func (p *Varnode) IsMarked() bool {
	return p.marked
}

// String returns "name:size" as written in a listing.
func (p *Varnode) String() string {
	if p.constant {
		return fmt.Sprintf("%#x:%d", p.val, p.size)
	}
	//
	return fmt.Sprintf("%s:%d", p.name, p.size)
}

// SizeMask returns 2^(8*size) - 1, the arithmetic modulus (minus one) for
// values of the given byte size.  Sizes outside 1..8 yield the full 64-bit
// mask.
func SizeMask(size int) uint64 {
	if size <= 0 || size >= 8 {
		return ^uint64(0)
	}
	//
	return (uint64(1) << (8 * size)) - 1
}
