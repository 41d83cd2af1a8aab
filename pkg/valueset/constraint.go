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

// generateConstraints harvests equations from every conditional branch in the
// function.  A branch whose condition is a comparison against a constant
// splits the values of the compared varnode into a satisfying range and its
// complement, each of which holds on the corresponding out-edge.
func (p *Solver) generateConstraints() {
	for _, block := range p.fn.Blocks() {
		p.constraintsFromCBranch(block)
	}
}

// constraintsFromCBranch extracts the comparison feeding the given block's
// conditional branch and propagates the satisfying range down the true edge
// and its complement down the false edge.  Either edge is skipped when its
// target has more than one predecessor, since the constraint then holds only
// on some paths into the target.
func (p *Solver) constraintsFromCBranch(block *pcode.Block) {
	op := block.CBranch()
	if op == nil {
		return
	}
	//
	cond := op.Input(0)
	if cond.IsConstant() {
		return
	}
	//
	def := cond.Def()
	if def == nil || !def.Code().IsComparison() || def.NumInputs() != 2 {
		return
	}
	//
	vn0, vn1 := def.Input(0), def.Input(1)
	if vn0.IsConstant() == vn1.IsConstant() {
		return
	}
	// Identify the constant operand and the slot it occupies.
	cslot, cvn, vn := 1, vn1, vn0
	if vn0.IsConstant() {
		cslot, cvn, vn = 0, vn0, vn1
	}
	//
	trueRange, ok := rangeFromComparison(def.Code(), cvn.Val(), cslot, vn.Size())
	if !ok {
		return
	}
	//
	falseRange := trueRange
	falseRange.Invert()
	//
	if t := block.TrueSucc(); t != nil && len(t.Preds()) == 1 {
		p.constraintsFromPath(vn, trueRange, t)
	}
	//
	if f := block.FalseSucc(); f != nil && len(f.Preds()) == 1 {
		p.constraintsFromPath(vn, falseRange, f)
	}
}

// constraintsFromPath applies the given range to vn and then pulls it back
// through vn's defining chain, constraining each varnode encountered along
// the way.  The walk stops at a free varnode or at an operation whose
// pre-image cannot be represented.
func (p *Solver) constraintsFromPath(vn *pcode.Varnode, rng CircleRange, split *pcode.Block) {
	for vn != nil {
		p.applyConstraints(vn, TypeAbsolute, rng, split)
		//
		def := vn.Def()
		if def == nil {
			return
		}
		//
		inVn, _ := rng.PullBack(def, true)
		if inVn == nil {
			return
		}
		//
		vn = inVn
	}
}

// applyConstraints records the fact that vn lies in rng whenever control has
// passed through split.  Each reading operation dominated by split receives
// an equation on the slot vn occupies; a phi definition additionally records
// the range as a widening landmark.
func (p *Solver) applyConstraints(vn *pcode.Varnode, typeCode int, rng CircleRange, split *pcode.Block) {
	var nz CircleRange
	//
	nz.SetNZMask(vn.NZMask(), vn.Size())
	rng.Intersect(&nz)
	//
	if idx, ok := vn.Annotation().(int); ok {
		if def := vn.Def(); def != nil && def.Code() == pcode.OpMultiEqual {
			p.nodes[idx].addLandmark(typeCode, rng)
		}
	}
	//
	for _, op := range vn.Uses() {
		out := op.Output()
		if out == nil {
			continue
		}
		//
		idx, ok := out.Annotation().(int)
		if !ok {
			continue
		}
		//
		slot := op.InputSlot(vn)
		if slot < 0 {
			continue
		}
		// A phi reads its input on the incoming edge, so the constraint
		// must dominate the corresponding predecessor rather than the
		// phi's own block.
		readBlock := op.Parent()
		if op.Code() == pcode.OpMultiEqual {
			readBlock = readBlock.Preds()[slot]
		}
		//
		if split.Dominates(readBlock) {
			p.nodes[idx].addEquation(slot, typeCode, rng)
		}
	}
}
