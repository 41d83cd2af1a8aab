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
	"testing"

	"github.com/mansallc/valueset/pkg/pcode"
)

// ===================================================================
// Construction
// ===================================================================

func Test_Range_01(t *testing.T) {
	r := NewEmptyRange()
	checkString(t, &r, "[]")
	checkSize(t, &r, 0)
	checkContains(t, &r, 0, false)
}

func Test_Range_02(t *testing.T) {
	r := NewFullRange(4)
	//
	if !r.IsFull() {
		t.Errorf("expected full range, got %s", r.String())
	}
	//
	checkSize(t, &r, 0x100000000)
	checkContains(t, &r, 0, true)
	checkContains(t, &r, 0xffffffff, true)
}

func Test_Range_03(t *testing.T) {
	r := NewSingleRange(5, 4)
	//
	if !r.IsSingle() {
		t.Errorf("expected singleton, got %s", r.String())
	}
	//
	checkString(t, &r, "{0x5}")
	checkSize(t, &r, 1)
	checkContains(t, &r, 5, true)
	checkContains(t, &r, 6, false)
}

func Test_Range_04(t *testing.T) {
	// Singleton at the top of the circle wraps its upper boundary.
	r := NewSingleRange(0xffffffff, 4)
	//
	if !r.IsSingle() {
		t.Errorf("expected singleton, got %s", r.String())
	}
	//
	checkContains(t, &r, 0xffffffff, true)
	checkContains(t, &r, 0, false)
}

func Test_Range_05(t *testing.T) {
	r := NewRange(2, 8, 4, 1)
	checkString(t, &r, "[0x2, 0x8) mask=0xffffffff step=1")
	checkSize(t, &r, 6)
	checkContains(t, &r, 2, true)
	checkContains(t, &r, 7, true)
	checkContains(t, &r, 8, false)
	checkContains(t, &r, 1, false)
}

func Test_Range_06(t *testing.T) {
	r := NewRange(0, 0x10, 4, 4)
	checkSize(t, &r, 4)
	checkContains(t, &r, 0, true)
	checkContains(t, &r, 4, true)
	checkContains(t, &r, 0xc, true)
	checkContains(t, &r, 2, false)
	checkContains(t, &r, 0x10, false)
}

func Test_Range_07(t *testing.T) {
	// Coincident boundaries with stride one normalise to the full range.
	r := NewRange(5, 5, 4, 1)
	//
	if !r.IsFull() {
		t.Errorf("expected full range, got %s", r.String())
	}
}

func Test_Range_08(t *testing.T) {
	// Coincident boundaries with a larger stride denote a residue class.
	r := NewRange(6, 6, 4, 4)
	checkString(t, &r, "[0x2, 0x2) mask=0xffffffff step=4")
	checkContains(t, &r, 2, true)
	checkContains(t, &r, 6, true)
	checkContains(t, &r, 0xfffffffe, true)
	checkContains(t, &r, 4, false)
}

func Test_Range_09(t *testing.T) {
	// Wrapping arc spanning zero.
	r := NewRange(0xfffffffe, 2, 4, 1)
	checkSize(t, &r, 4)
	checkContains(t, &r, 0xfffffffe, true)
	checkContains(t, &r, 0xffffffff, true)
	checkContains(t, &r, 0, true)
	checkContains(t, &r, 1, true)
	checkContains(t, &r, 2, false)
}

func Test_Range_10(t *testing.T) {
	rt := NewBoolRange(true)
	rf := NewBoolRange(false)
	checkString(t, &rt, "{0x1}")
	checkString(t, &rf, "{0x0}")
	//
	if rt.Mask() != 0xff {
		t.Errorf("expected one byte mask, got %#x", rt.Mask())
	}
}

func Test_Range_11(t *testing.T) {
	r := NewRange(0, 0x10, 4, 4)
	//
	if r.Min() != 0 || r.Max() != 0xc || r.End() != 0x10 {
		t.Errorf("unexpected boundaries for %s", r.String())
	}
	// Walk the iteration protocol.
	var count int
	for v := r.Min(); v != r.End(); v = r.Next(v) {
		if !r.Contains(v) {
			t.Errorf("iteration produced %#x outside %s", v, r.String())
		}
		//
		count++
	}
	//
	if count != 4 {
		t.Errorf("iteration produced %d values, expected 4", count)
	}
}

// ===================================================================
// Containment
// ===================================================================

func Test_Range_ContainsRange_01(t *testing.T) {
	a := NewRange(0, 0x10, 4, 1)
	b := NewRange(2, 8, 4, 2)
	checkContainsRange(t, &a, &b, true)
	checkContainsRange(t, &b, &a, false)
}

func Test_Range_ContainsRange_02(t *testing.T) {
	a := NewFullRange(4)
	b := NewRange(0xfffffff0, 0x10, 4, 4)
	checkContainsRange(t, &a, &b, true)
}

func Test_Range_ContainsRange_03(t *testing.T) {
	// Misaligned phases are not contained.
	a := NewRange(0, 0x10, 4, 4)
	b := NewRange(2, 0x12, 4, 4)
	checkContainsRange(t, &a, &b, false)
}

func Test_Range_ContainsRange_04(t *testing.T) {
	a := NewRange(2, 8, 4, 1)
	e := NewEmptyRange()
	checkContainsRange(t, &a, &e, true)
	checkContainsRange(t, &e, &a, false)
}

func Test_Range_ContainsRange_05(t *testing.T) {
	// A wrapping arc contains its unwrapped prefix.
	a := NewRange(0xfffffff0, 0x10, 4, 1)
	b := NewRange(0, 8, 4, 1)
	checkContainsRange(t, &a, &b, true)
	checkContainsRange(t, &b, &a, false)
}

// ===================================================================
// Intersection
// ===================================================================

func Test_Range_Intersect_01(t *testing.T) {
	a := NewRange(2, 8, 4, 1)
	b := NewRange(5, 12, 4, 1)
	checkIntersect(t, &a, &b, RangeProduced, "[0x5, 0x8) mask=0xffffffff step=1")
}

func Test_Range_Intersect_02(t *testing.T) {
	a := NewRange(2, 4, 4, 1)
	b := NewRange(8, 12, 4, 1)
	//
	if status := a.Intersect(&b); status != RangeDisjoint {
		t.Errorf("expected RangeDisjoint, got %d", status)
	} else if !a.IsEmpty() {
		t.Errorf("expected empty result, got %s", a.String())
	}
}

func Test_Range_Intersect_03(t *testing.T) {
	a := NewRange(0, 0x10, 4, 1)
	b := NewRange(4, 8, 4, 1)
	checkIntersect(t, &a, &b, RangeEqualOrContained, "[0x4, 0x8) mask=0xffffffff step=1")
}

func Test_Range_Intersect_04(t *testing.T) {
	a := NewFullRange(4)
	b := NewRange(4, 8, 4, 1)
	checkIntersect(t, &a, &b, RangeEqualOrContained, "[0x4, 0x8) mask=0xffffffff step=1")
}

func Test_Range_Intersect_05(t *testing.T) {
	// Strides and phases reconcile onto the coarser grid.
	a := NewRange(0, 0x10, 4, 4)
	b := NewRange(2, 0x12, 4, 2)
	checkIntersect(t, &a, &b, RangeProduced, "[0x4, 0x10) mask=0xffffffff step=4")
}

func Test_Range_Intersect_06(t *testing.T) {
	// Same arc, incompatible phases.
	a := NewRange(0, 0x10, 4, 4)
	b := NewRange(1, 0x11, 4, 4)
	//
	if status := a.Intersect(&b); status != RangeDisjoint {
		t.Errorf("expected RangeDisjoint, got %d", status)
	}
}

func Test_Range_Intersect_07(t *testing.T) {
	// Wrapping arc against an unwrapped one.
	a := NewRange(0xfffffff0, 0x10, 4, 1)
	b := NewRange(0, 0x20, 4, 1)
	checkIntersect(t, &a, &b, RangeProduced, "[0x0, 0x10) mask=0xffffffff step=1")
}

func Test_Range_Intersect_08(t *testing.T) {
	a := NewRange(2, 8, 4, 1)
	e := NewEmptyRange()
	//
	if status := a.Intersect(&e); status != RangeDisjoint {
		t.Errorf("expected RangeDisjoint, got %d", status)
	}
}

// ===================================================================
// Union
// ===================================================================

func Test_Range_Union_01(t *testing.T) {
	a := NewRange(2, 5, 4, 1)
	b := NewRange(5, 9, 4, 1)
	checkUnion(t, &a, &b, UnionProduced, "[0x2, 0x9) mask=0xffffffff step=1")
}

func Test_Range_Union_02(t *testing.T) {
	a := NewRange(2, 4, 4, 1)
	b := NewRange(8, 10, 4, 1)
	//
	if status := a.CircleUnion(&b); status != UnionFailed {
		t.Errorf("expected UnionFailed, got %d", status)
	}
	// Operand must be left untouched on failure.
	checkString(t, &a, "[0x2, 0x4) mask=0xffffffff step=1")
}

func Test_Range_Union_03(t *testing.T) {
	a := NewRange(2, 8, 4, 1)
	b := NewRange(5, 12, 4, 1)
	checkUnion(t, &a, &b, UnionProduced, "[0x2, 0xc) mask=0xffffffff step=1")
}

func Test_Range_Union_04(t *testing.T) {
	// Singleton adopts a compatible stride from the other operand.
	a := NewSingleRange(4, 4)
	b := NewRange(8, 0x10, 4, 4)
	checkUnion(t, &a, &b, UnionProduced, "[0x4, 0x10) mask=0xffffffff step=4")
}

func Test_Range_Union_05(t *testing.T) {
	// Two arcs which exactly complete the circle.
	a := NewRange(0, 8, 4, 1)
	b := NewRange(8, 0, 4, 1)
	//
	if status := a.CircleUnion(&b); status != UnionProduced {
		t.Errorf("expected UnionProduced, got %d", status)
	} else if !a.IsFull() {
		t.Errorf("expected full range, got %s", a.String())
	}
}

func Test_Range_Union_06(t *testing.T) {
	// Equal strides with incompatible phases cannot be joined.
	a := NewRange(0, 8, 4, 4)
	b := NewRange(2, 10, 4, 4)
	//
	if status := a.CircleUnion(&b); status != UnionFailed {
		t.Errorf("expected UnionFailed, got %d", status)
	}
}

func Test_Range_Union_07(t *testing.T) {
	a := NewEmptyRange()
	b := NewRange(2, 8, 4, 1)
	checkUnion(t, &a, &b, UnionProduced, "[0x2, 0x8) mask=0xffffffff step=1")
}

func Test_Range_Union_08(t *testing.T) {
	a := NewRange(2, 8, 4, 1)
	b := NewEmptyRange()
	checkUnion(t, &a, &b, UnionProduced, "[0x2, 0x8) mask=0xffffffff step=1")
}

// ===================================================================
// Minimal container
// ===================================================================

func Test_Range_Container_01(t *testing.T) {
	a := NewSingleRange(0, 4)
	b := NewSingleRange(4, 4)
	a.MinimalContainer(&b, 32)
	checkString(t, &a, "[0x0, 0x8) mask=0xffffffff step=4")
}

func Test_Range_Container_02(t *testing.T) {
	// With the stride capped at one the container degrades to a plain arc.
	a := NewSingleRange(0, 4)
	b := NewSingleRange(4, 4)
	a.MinimalContainer(&b, 1)
	checkString(t, &a, "[0x0, 0x5) mask=0xffffffff step=1")
}

func Test_Range_Container_03(t *testing.T) {
	// The covering arc may wrap past zero when that is smaller.
	a := NewSingleRange(0xfffffffc, 4)
	b := NewSingleRange(4, 4)
	a.MinimalContainer(&b, 4)
	checkString(t, &a, "[0xfffffffc, 0x8) mask=0xffffffff step=4")
	checkContains(t, &a, 0xfffffffc, true)
	checkContains(t, &a, 0, true)
	checkContains(t, &a, 4, true)
}

func Test_Range_Container_04(t *testing.T) {
	// Containment short-circuits without widening.
	a := NewRange(0, 0x10, 4, 1)
	b := NewSingleRange(7, 4)
	a.MinimalContainer(&b, 32)
	checkString(t, &a, "[0x0, 0x10) mask=0xffffffff step=1")
}

func Test_Range_Container_05(t *testing.T) {
	a := NewSingleRange(7, 4)
	b := NewRange(0, 0x10, 4, 1)
	a.MinimalContainer(&b, 32)
	checkString(t, &a, "[0x0, 0x10) mask=0xffffffff step=1")
}

func Test_Range_Container_06(t *testing.T) {
	a := NewEmptyRange()
	b := NewRange(2, 8, 4, 1)
	a.MinimalContainer(&b, 32)
	checkString(t, &a, "[0x2, 0x8) mask=0xffffffff step=1")
}

// ===================================================================
// Inversion
// ===================================================================

func Test_Range_Invert_01(t *testing.T) {
	r := NewRange(2, 8, 4, 1)
	r.Invert()
	checkString(t, &r, "[0x8, 0x2) mask=0xffffffff step=1")
	checkContains(t, &r, 1, true)
	checkContains(t, &r, 8, true)
	checkContains(t, &r, 5, false)
}

func Test_Range_Invert_02(t *testing.T) {
	r := NewFullRange(4)
	r.Invert()
	//
	if !r.IsEmpty() {
		t.Errorf("expected empty range, got %s", r.String())
	}
}

func Test_Range_Invert_03(t *testing.T) {
	r := NewEmptyRange()
	r.Invert()
	//
	if r.IsEmpty() {
		t.Errorf("expected non-empty range, got %s", r.String())
	}
}

// ===================================================================
// Stride restriction
// ===================================================================

func Test_Range_Stride_01(t *testing.T) {
	r := NewRange(0, 0x10, 4, 1)
	r.SetStride(4, 0)
	checkString(t, &r, "[0x0, 0x10) mask=0xffffffff step=4")
}

func Test_Range_Stride_02(t *testing.T) {
	r := NewRange(0, 0x10, 4, 1)
	r.SetStride(4, 2)
	checkString(t, &r, "[0x2, 0x12) mask=0xffffffff step=4")
	checkContains(t, &r, 2, true)
	checkContains(t, &r, 0xe, true)
	checkContains(t, &r, 4, false)
}

func Test_Range_Stride_03(t *testing.T) {
	// Singleton off the requested grid becomes empty.
	r := NewSingleRange(5, 4)
	r.SetStride(4, 0)
	//
	if !r.IsEmpty() {
		t.Errorf("expected empty range, got %s", r.String())
	}
}

func Test_Range_Stride_04(t *testing.T) {
	// Singleton on the grid survives with the new stride.
	r := NewSingleRange(4, 4)
	r.SetStride(4, 0)
	//
	if !r.IsSingle() {
		t.Errorf("expected singleton, got %s", r.String())
	}
	//
	checkContains(t, &r, 4, true)
}

func Test_Range_Stride_05(t *testing.T) {
	// A finer stride with mismatched phase empties the range.
	r := NewRange(0, 0x10, 4, 4)
	r.SetStride(2, 1)
	//
	if !r.IsEmpty() {
		t.Errorf("expected empty range, got %s", r.String())
	}
}

// ===================================================================
// Non-zero masks
// ===================================================================

func Test_Range_NZMask_01(t *testing.T) {
	var r CircleRange
	r.SetNZMask(0xf, 4)
	checkString(t, &r, "[0x0, 0x10) mask=0xffffffff step=1")
}

func Test_Range_NZMask_02(t *testing.T) {
	var r CircleRange
	r.SetNZMask(0xffffffff, 4)
	//
	if !r.IsFull() {
		t.Errorf("expected full range, got %s", r.String())
	}
}

func Test_Range_NZMask_03(t *testing.T) {
	var r CircleRange
	r.SetNZMask(0, 4)
	checkString(t, &r, "{0x0}")
}

// ===================================================================
// Widening
// ===================================================================

func Test_Range_Widen_01(t *testing.T) {
	r := NewRange(0, 8, 4, 4)
	lm := NewRange(0, 100, 4, 1)
	r.Widen(&lm, true)
	checkString(t, &r, "[0x0, 0x64) mask=0xffffffff step=4")
}

func Test_Range_Widen_02(t *testing.T) {
	// Unstable right boundary rounds up onto the stride grid.
	r := NewRange(0, 8, 4, 4)
	lm := NewRange(0, 99, 4, 1)
	r.Widen(&lm, true)
	checkString(t, &r, "[0x0, 0x64) mask=0xffffffff step=4")
}

func Test_Range_Widen_03(t *testing.T) {
	// Unstable left boundary rounds down onto the stride grid.
	r := NewRange(8, 0x10, 4, 4)
	lm := NewRange(2, 0x10, 4, 1)
	r.Widen(&lm, false)
	checkString(t, &r, "[0x0, 0x10) mask=0xffffffff step=4")
}

// ===================================================================
// Boolean collapse
// ===================================================================

func Test_Range_Bool_01(t *testing.T) {
	r := NewFullRange(1)
	r.ConvertToBoolean()
	checkString(t, &r, "[0x0, 0x2) mask=0xff step=1")
}

func Test_Range_Bool_02(t *testing.T) {
	r := NewSingleRange(1, 1)
	r.ConvertToBoolean()
	checkString(t, &r, "{0x1}")
}

func Test_Range_Bool_03(t *testing.T) {
	r := NewSingleRange(0, 1)
	r.ConvertToBoolean()
	checkString(t, &r, "{0x0}")
}

func Test_Range_Bool_04(t *testing.T) {
	r := NewSingleRange(5, 1)
	r.ConvertToBoolean()
	//
	if !r.IsEmpty() {
		t.Errorf("expected empty range, got %s", r.String())
	}
}

// ===================================================================
// Information content
// ===================================================================

func Test_Range_MaxInfo_01(t *testing.T) {
	r := NewSingleRange(5, 4)
	checkMaxInfo(t, &r, 32)
}

func Test_Range_MaxInfo_02(t *testing.T) {
	r := NewFullRange(4)
	checkMaxInfo(t, &r, 0)
}

func Test_Range_MaxInfo_03(t *testing.T) {
	r := NewRange(0, 0x100, 4, 1)
	checkMaxInfo(t, &r, 24)
}

func Test_Range_MaxInfo_04(t *testing.T) {
	r := NewEmptyRange()
	checkMaxInfo(t, &r, 0)
}

// ===================================================================
// Translation back to comparisons
// ===================================================================

func Test_Range_Translate_01(t *testing.T) {
	r := NewSingleRange(7, 4)
	checkTranslate(t, &r, pcode.OpIntEqual, 7, 0)
}

func Test_Range_Translate_02(t *testing.T) {
	r := NewRange(6, 5, 4, 1)
	checkTranslate(t, &r, pcode.OpIntNotEqual, 5, 0)
}

func Test_Range_Translate_03(t *testing.T) {
	r := NewRange(0, 10, 4, 1)
	checkTranslate(t, &r, pcode.OpIntLess, 10, 1)
}

func Test_Range_Translate_04(t *testing.T) {
	r := NewRange(5, 0, 4, 1)
	checkTranslate(t, &r, pcode.OpIntLess, 4, 0)
}

func Test_Range_Translate_05(t *testing.T) {
	r := NewRange(0x80000000, 10, 4, 1)
	checkTranslate(t, &r, pcode.OpIntSLess, 10, 1)
}

func Test_Range_Translate_06(t *testing.T) {
	r := NewRange(10, 0x80000000, 4, 1)
	checkTranslate(t, &r, pcode.OpIntSLess, 9, 0)
}

func Test_Range_Translate_07(t *testing.T) {
	r := NewRange(0, 0x10, 4, 4)
	//
	if _, _, _, ok := r.TranslateToComparison(); ok {
		t.Errorf("expected no translation for %s", r.String())
	}
}

// ===================================================================
// Helpers
// ===================================================================

func checkString(t *testing.T, r *CircleRange, expected string) {
	t.Helper()
	//
	if actual := r.String(); actual != expected {
		t.Errorf("expected %s, got %s", expected, actual)
	}
}

func checkSize(t *testing.T, r *CircleRange, expected uint64) {
	t.Helper()
	//
	if actual := r.Size(); actual != expected {
		t.Errorf("expected size %d for %s, got %d", expected, r.String(), actual)
	}
}

func checkContains(t *testing.T, r *CircleRange, val uint64, expected bool) {
	t.Helper()
	//
	if actual := r.Contains(val); actual != expected {
		t.Errorf("expected Contains(%#x) == %t for %s", val, expected, r.String())
	}
}

func checkContainsRange(t *testing.T, r *CircleRange, op2 *CircleRange, expected bool) {
	t.Helper()
	//
	if actual := r.ContainsRange(op2); actual != expected {
		t.Errorf("expected ContainsRange(%s) == %t for %s", op2.String(), expected, r.String())
	}
}

func checkIntersect(t *testing.T, r *CircleRange, op2 *CircleRange, status int, expected string) {
	t.Helper()
	//
	if actual := r.Intersect(op2); actual != status {
		t.Errorf("expected status %d, got %d (%s)", status, actual, r.String())
	} else if str := r.String(); str != expected {
		t.Errorf("expected %s, got %s", expected, str)
	}
}

func checkUnion(t *testing.T, r *CircleRange, op2 *CircleRange, status int, expected string) {
	t.Helper()
	//
	if actual := r.CircleUnion(op2); actual != status {
		t.Errorf("expected status %d, got %d (%s)", status, actual, r.String())
	} else if str := r.String(); str != expected {
		t.Errorf("expected %s, got %s", expected, str)
	}
}

func checkMaxInfo(t *testing.T, r *CircleRange, expected int) {
	t.Helper()
	//
	if actual := r.MaxInfo(); actual != expected {
		t.Errorf("expected %d known bits for %s, got %d", expected, r.String(), actual)
	}
}

func checkTranslate(t *testing.T, r *CircleRange, opc pcode.OpCode, c uint64, cslot int) {
	t.Helper()
	//
	actualOpc, actualC, actualSlot, ok := r.TranslateToComparison()
	//
	if !ok {
		t.Errorf("expected translation for %s", r.String())
	} else if actualOpc != opc || actualC != c || actualSlot != cslot {
		t.Errorf("expected %s %#x slot %d, got %s %#x slot %d",
			opc.String(), c, cslot, actualOpc.String(), actualC, actualSlot)
	}
}
