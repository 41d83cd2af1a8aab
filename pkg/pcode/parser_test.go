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

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ===================================================================
// Listing structure
// ===================================================================

func Test_Parse_01(t *testing.T) {
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x1:4
block exit
  b:4 = COPY a
`)
	//
	if n := len(fn.Blocks()); n != 2 {
		t.Fatalf("expected 2 blocks, got %d", n)
	}
	//
	if fn.Entry().Name() != "entry" {
		t.Errorf("expected entry block first, got %q", fn.Entry().Name())
	}
	//
	if blk := fn.Block("exit"); blk == nil || blk.Index() != 1 {
		t.Errorf("expected block exit at index 1")
	}
	//
	if n := len(fn.Entry().Ops()); n != 1 {
		t.Errorf("expected 1 operation in entry, got %d", n)
	}
}

func Test_Parse_02(t *testing.T) {
	// Constants are interned, and their value is reduced modulo the size.
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x10:4
  b:4 = INT_ADD y:4, 16:4
  c:1 = COPY 0x1ff:1
`)
	//
	ops := fn.Entry().Ops()
	//
	if ops[0].Input(1) != ops[1].Input(1) {
		t.Errorf("expected 0x10:4 and 16:4 to be the same varnode")
	}
	//
	if vn := ops[2].Input(0); !vn.IsConstant() || vn.Val() != 0xff {
		t.Errorf("expected constant reduced to 0xff, got %s", vn)
	}
}

func Test_Parse_03(t *testing.T) {
	// A size is required on first mention only, and fixes the varnode.
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x1:4
  b:4 = INT_MULT x, a
`)
	//
	vn := fn.Varnode("x")
	//
	if vn == nil || vn.Size() != 4 {
		t.Fatalf("expected x of size 4")
	}
	//
	if fn.Entry().Ops()[1].Input(0) != vn {
		t.Errorf("expected the second mention of x to resolve to the same varnode")
	}
}

func Test_Parse_04(t *testing.T) {
	// Comments and blank lines carry no operations.
	fn := mustParse(t, `
# a leading comment
block entry

  a:4 = INT_ADD x:4, 0x1:4  # trailing comment

`)
	//
	if n := len(fn.Entry().Ops()); n != 1 {
		t.Errorf("expected 1 operation, got %d", n)
	}
}

func Test_Parse_05(t *testing.T) {
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x10:4
  goto exit
block exit
  b:4 = COPY a
`)
	//
	expected := "block entry\n" +
		"  a:4 = INT_ADD x:4, 0x10:4\n" +
		"  BRANCH\n" +
		"block exit\n" +
		"  b:4 = COPY a:4\n"
	//
	if actual := fn.String(); actual != expected {
		t.Errorf("expected listing %q, got %q", expected, actual)
	}
}

func Test_Parse_06(t *testing.T) {
	// Def-use links are wired as operations are appended.
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x1:4
  b:4 = INT_MULT a, a
`)
	//
	var (
		a    = fn.Varnode("a")
		x    = fn.Varnode("x")
		mult = fn.Varnode("b").Def()
	)
	//
	if a.Def() == nil || a.Def().Code() != OpIntAdd {
		t.Errorf("expected a to be defined by INT_ADD")
	}
	//
	if x.IsWritten() {
		t.Errorf("expected x to be a free varnode")
	}
	// Each reading slot records a use.
	if n := len(a.Uses()); n != 2 {
		t.Errorf("expected 2 uses of a, got %d", n)
	}
	//
	if mult.InputSlot(a) != 0 || mult.InputSlot(x) != -1 {
		t.Errorf("unexpected input slots")
	}
	//
	if mult.Parent() != fn.Entry() {
		t.Errorf("expected the multiply inside the entry block")
	}
	//
	if a.Def().Seq() >= mult.Seq() {
		t.Errorf("expected sequence numbers in append order")
	}
}

// ===================================================================
// Malformed listings
// ===================================================================

func Test_Parse_Errors_01(t *testing.T) {
	checkParseError(t, `
block entry
block entry
`, `line 3: duplicate block "entry"`)
}

func Test_Parse_Errors_02(t *testing.T) {
	checkParseError(t, `
  a:4 = COPY x:4
`, "operation before first block")
}

func Test_Parse_Errors_03(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = INT_FROB x:4
`, `line 3: unknown opcode "INT_FROB"`)
}

func Test_Parse_Errors_04(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = COPY x
`, "requires a size on first mention")
}

func Test_Parse_Errors_05(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = INT_ADD x:4, 0x1:4
  b:4 = INT_ADD x:2, 0x1:4
`, "used with size")
}

func Test_Parse_Errors_06(t *testing.T) {
	checkParseError(t, `
block entry
  goto exit
  a:4 = COPY x:4
block exit
`, "operation after terminator")
}

func Test_Parse_Errors_07(t *testing.T) {
	checkParseError(t, `
block entry
  goto nowhere
`, `branch to unknown block "nowhere"`)
}

func Test_Parse_Errors_08(t *testing.T) {
	// A conditional branch in the last block has nowhere to fall through.
	checkParseError(t, `
block entry
  cbranch entry, c:1
`, "no fall-through")
}

func Test_Parse_Errors_09(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = COPY x:4
  a:4 = COPY y:4
`, "written more than once")
}

func Test_Parse_Errors_10(t *testing.T) {
	checkParseError(t, `
block entry
  0x1:4 = COPY x:4
`, "cannot be an output")
}

func Test_Parse_Errors_11(t *testing.T) {
	checkParseError(t, `
block entry
  cbranch entry
`, "requires a target and a condition")
}

func Test_Parse_Errors_12(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = BRANCH x:4
`, "does not produce a value")
}

func Test_Parse_Errors_13(t *testing.T) {
	checkParseError(t, `
block entry
  a:4 = INT_ADD x:4
`, "requires 2 inputs")
}

func Test_Parse_Errors_14(t *testing.T) {
	checkParseError(t, "# nothing here\n", "empty listing")
}

// ===================================================================
// Control-flow edges
// ===================================================================

func Test_Parse_Edges_01(t *testing.T) {
	// An unterminated block falls through to the next in layout order.
	fn := mustParse(t, `
block entry
  a:4 = INT_ADD x:4, 0x1:4
block next
`)
	//
	var (
		entry = fn.Block("entry")
		next  = fn.Block("next")
	)
	//
	if len(entry.Succs()) != 1 || entry.Succs()[0] != next {
		t.Errorf("expected entry to fall through to next")
	}
	//
	if len(next.Succs()) != 0 {
		t.Errorf("expected the last block to have no successors")
	}
}

func Test_Parse_Edges_02(t *testing.T) {
	// Fall-through edges are created before branch edges.
	fn := mustParse(t, `
block entry
  goto exit
block skip
block exit
`)
	//
	var (
		entry = fn.Block("entry")
		exit  = fn.Block("exit")
	)
	//
	if len(entry.Succs()) != 1 || entry.Succs()[0] != exit {
		t.Errorf("expected entry to branch to exit")
	}
	//
	if diff := cmp.Diff([]string{"skip", "entry"}, blockNames(exit.Preds())); diff != "" {
		t.Errorf("unexpected predecessor order at exit: %s", diff)
	}
	// The goto materializes as a BRANCH operation.
	ops := entry.Ops()
	if ops[len(ops)-1].Code() != OpBranch {
		t.Errorf("expected a BRANCH terminator")
	}
}

func Test_Parse_Edges_03(t *testing.T) {
	fn := mustParse(t, `
block entry
  c:1 = INT_LESS x:4, 0x2:4
  cbranch join, c
block fall
  a:4 = INT_AND x, 0xf:4
block join
`)
	//
	var (
		entry = fn.Block("entry")
		fall  = fn.Block("fall")
		join  = fn.Block("join")
	)
	//
	if entry.TrueSucc() != join || entry.FalseSucc() != fall {
		t.Errorf("unexpected branch targets")
	}
	// The false edge is created first.
	if succs := entry.Succs(); succs[0] != fall || succs[1] != join {
		t.Errorf("expected the fall-through edge in slot 0")
	}
	//
	br := entry.CBranch()
	//
	if br == nil || br.Code() != OpCBranch {
		t.Fatalf("expected a CBRANCH terminator")
	}
	//
	if br.Input(0) != fn.Varnode("c") {
		t.Errorf("expected c as the branch condition")
	}
	//
	if fall.CBranch() != nil {
		t.Errorf("expected no conditional branch in fall")
	}
}

func Test_Parse_Edges_04(t *testing.T) {
	// MULTIEQUAL slot i corresponds to Preds()[i].
	fn := mustParse(t, `
block entry
  c:1 = INT_LESS x:4, 0x2:4
  cbranch join, c
block fall
  a:4 = INT_AND x, 0xf:4
block join
  m:4 = MULTIEQUAL a, x
`)
	//
	var (
		entry = fn.Block("entry")
		fall  = fn.Block("fall")
		join  = fn.Block("join")
	)
	//
	if join.PredSlot(fall) != 0 || join.PredSlot(entry) != 1 {
		t.Errorf("unexpected predecessor slots at join")
	}
	//
	if join.PredSlot(join) != -1 {
		t.Errorf("expected -1 for a non-predecessor")
	}
	// Slot 0 carries the value defined along the fall-through path.
	m := fn.Varnode("m").Def()
	if m.Input(0) != fn.Varnode("a") {
		t.Errorf("expected a in slot 0 of the MULTIEQUAL")
	}
}

// ===================================================================
// Dominators
// ===================================================================

func Test_Dominators_01(t *testing.T) {
	// Diamond: neither arm dominates the merge.
	fn := mustParse(t, `
block entry
  c:1 = INT_LESS x:4, 0x2:4
  cbranch right, c
block left
  goto merge
block right
block merge
`)
	//
	var (
		entry = fn.Block("entry")
		left  = fn.Block("left")
		right = fn.Block("right")
		merge = fn.Block("merge")
	)
	//
	if entry.Idom() != nil {
		t.Errorf("expected no immediate dominator for the entry block")
	}
	//
	checkIdom(t, left, entry)
	checkIdom(t, right, entry)
	checkIdom(t, merge, entry)
	//
	if !entry.Dominates(merge) || !merge.Dominates(merge) {
		t.Errorf("expected entry and merge to dominate merge")
	}
	//
	if left.Dominates(merge) || right.Dominates(merge) {
		t.Errorf("expected neither arm to dominate merge")
	}
}

func Test_Dominators_02(t *testing.T) {
	// Loop: the header dominates the body and the exit.
	fn := mustParse(t, `
block entry
block head
  i:4 = MULTIEQUAL 0x0:4, i2:4
  c:1 = INT_LESS 0x63:4, i
  cbranch exit, c
block body
  i2:4 = INT_ADD i, 0x1:4
  goto head
block exit
`)
	//
	var (
		entry = fn.Block("entry")
		head  = fn.Block("head")
		body  = fn.Block("body")
		exit  = fn.Block("exit")
	)
	//
	checkIdom(t, head, entry)
	checkIdom(t, body, head)
	checkIdom(t, exit, head)
	//
	if !head.Dominates(body) || !head.Dominates(exit) {
		t.Errorf("expected the header to dominate the body and the exit")
	}
	//
	if body.Dominates(head) {
		t.Errorf("expected the back edge not to confer dominance")
	}
}

// ===================================================================
// Non-zero masks
// ===================================================================

func Test_NZMask_01(t *testing.T) {
	fn := mustParse(t, `
block entry
  a:4 = INT_AND x:4, 0xff:4
`)
	//
	checkNZMask(t, fn, "x", 0xffffffff)
	checkNZMask(t, fn, "a", 0xff)
}

func Test_NZMask_02(t *testing.T) {
	// Addition smears one bit up to cover carries.
	fn := mustParse(t, `
block entry
  a:4 = INT_AND x:4, 0xff:4
  b:4 = INT_ADD a, 0x1:4
  c:1 = INT_LESS b, 0x10:4
  d:4 = INT_ZEXT t:2
`)
	//
	checkNZMask(t, fn, "b", 0x1ff)
	checkNZMask(t, fn, "c", 0x1)
	checkNZMask(t, fn, "d", 0xffff)
}

func Test_NZMask_03(t *testing.T) {
	// Shifts by a constant move the mask; unknown amounts lose it.
	fn := mustParse(t, `
block entry
  a:4 = INT_AND x:4, 0xff:4
  b:4 = INT_ADD a, 0x1:4
  e:4 = INT_LEFT a, 0x8:4
  f:4 = INT_RIGHT a, 0x4:4
  g:1 = SUBPIECE b, 0x1:4
  h:4 = INT_LEFT a, s:4
`)
	//
	checkNZMask(t, fn, "e", 0xff00)
	checkNZMask(t, fn, "f", 0xf)
	checkNZMask(t, fn, "g", 0x1)
	checkNZMask(t, fn, "h", 0xffffffff)
}

func Test_NZMask_04(t *testing.T) {
	// A merge takes the union of its incoming masks.
	fn := mustParse(t, `
block entry
  c:1 = INT_LESS x:4, 0x2:4
  cbranch join, c
block fall
  a:4 = INT_AND x, 0xf:4
block join
  m:4 = MULTIEQUAL a, 0x30:4
`)
	//
	checkNZMask(t, fn, "m", 0x3f)
}

// ===================================================================
// Helpers
// ===================================================================

func mustParse(t *testing.T, listing string) *Function {
	t.Helper()
	//
	fn, err := Parse("test", listing)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	//
	return fn
}

func checkParseError(t *testing.T, listing string, fragment string) {
	t.Helper()
	//
	_, err := Parse("test", listing)
	//
	if err == nil {
		t.Fatalf("expected an error containing %q", fragment)
	} else if !strings.Contains(err.Error(), fragment) {
		t.Errorf("expected an error containing %q, got %q", fragment, err.Error())
	}
}

func blockNames(blocks []*Block) []string {
	names := make([]string, len(blocks))
	//
	for i, b := range blocks {
		names[i] = b.Name()
	}
	//
	return names
}

func checkIdom(t *testing.T, block *Block, expected *Block) {
	t.Helper()
	//
	if idom := block.Idom(); idom != expected {
		t.Errorf("expected %s as immediate dominator of %s, got %v", expected.Name(), block.Name(), idom)
	}
}

func checkNZMask(t *testing.T, fn *Function, name string, expected uint64) {
	t.Helper()
	//
	vn := fn.Varnode(name)
	if vn == nil {
		t.Fatalf("unknown varnode %q", name)
	}
	//
	if actual := vn.NZMask(); actual != expected {
		t.Errorf("expected mask %#x for %s, got %#x", expected, name, actual)
	}
}
