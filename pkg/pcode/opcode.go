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

// OpCode identifies the operation performed by a PcodeOp.  The enumeration is
// closed: analyses dispatch on it exhaustively, and any operation outside the
// enumeration is treated as producing an unknown value.
type OpCode uint8

// The full set of supported operations.  Arithmetic and logical operations
// work on twos-complement machine integers of a fixed byte size; comparison
// operations produce a boolean (one byte) output.
const (
	// OpInvalid is the zero opcode and never appears in a well-formed function.
	OpInvalid OpCode = iota
	// OpCopy copies its single input to its output.
	OpCopy
	// OpIntAdd adds two integers modulo 2^n.
	OpIntAdd
	// OpIntSub subtracts the second input from the first modulo 2^n.
	OpIntSub
	// OpIntMult multiplies two integers modulo 2^n.
	OpIntMult
	// OpIntAnd is bitwise conjunction.
	OpIntAnd
	// OpIntOr is bitwise disjunction.
	OpIntOr
	// OpIntXor is bitwise exclusive-or.
	OpIntXor
	// OpIntLeft shifts its first input left by the second.
	OpIntLeft
	// OpIntRight shifts its first input right by the second, filling with zeros.
	OpIntRight
	// OpIntSRight shifts its first input right by the second, replicating the sign bit.
	OpIntSRight
	// OpInt2Comp is twos-complement negation.
	OpInt2Comp
	// OpIntNegate is bitwise complement.
	OpIntNegate
	// OpIntZext zero-extends a smaller input to a larger output.
	OpIntZext
	// OpIntSext sign-extends a smaller input to a larger output.
	OpIntSext
	// OpSubPiece truncates an input to a smaller output, after shifting right by
	// the byte offset given in the second (constant) input.
	OpSubPiece
	// OpIntEqual compares two integers for equality, producing a boolean.
	OpIntEqual
	// OpIntNotEqual compares two integers for inequality, producing a boolean.
	OpIntNotEqual
	// OpIntLess is unsigned strictly-less-than.
	OpIntLess
	// OpIntSLess is signed strictly-less-than.
	OpIntSLess
	// OpIntLessEqual is unsigned less-than-or-equal.
	OpIntLessEqual
	// OpIntSLessEqual is signed less-than-or-equal.
	OpIntSLessEqual
	// OpBranch unconditionally transfers control to another block.
	OpBranch
	// OpCBranch transfers control to another block when its boolean input is true.
	OpCBranch
	// OpMultiEqual merges one value per incoming control-flow edge (a phi node).
	OpMultiEqual
)

// opcode metadata, indexed by OpCode.
var opcodeNames = [...]string{
	OpInvalid:       "INVALID",
	OpCopy:          "COPY",
	OpIntAdd:        "INT_ADD",
	OpIntSub:        "INT_SUB",
	OpIntMult:       "INT_MULT",
	OpIntAnd:        "INT_AND",
	OpIntOr:         "INT_OR",
	OpIntXor:        "INT_XOR",
	OpIntLeft:       "INT_LEFT",
	OpIntRight:      "INT_RIGHT",
	OpIntSRight:     "INT_SRIGHT",
	OpInt2Comp:      "INT_2COMP",
	OpIntNegate:     "INT_NEGATE",
	OpIntZext:       "INT_ZEXT",
	OpIntSext:       "INT_SEXT",
	OpSubPiece:      "SUBPIECE",
	OpIntEqual:      "INT_EQUAL",
	OpIntNotEqual:   "INT_NOTEQUAL",
	OpIntLess:       "INT_LESS",
	OpIntSLess:      "INT_SLESS",
	OpIntLessEqual:  "INT_LESSEQUAL",
	OpIntSLessEqual: "INT_SLESSEQUAL",
	OpBranch:        "BRANCH",
	OpCBranch:       "CBRANCH",
	OpMultiEqual:    "MULTIEQUAL",
}

var opcodeByName map[string]OpCode

func init() {
	opcodeByName = make(map[string]OpCode, len(opcodeNames))
	//
	for op, name := range opcodeNames {
		opcodeByName[name] = OpCode(op)
	}
	// never parsed
	delete(opcodeByName, "INVALID")
}

// String returns the canonical (listing) name of this opcode.
func (p OpCode) String() string {
	if int(p) < len(opcodeNames) {
		return opcodeNames[p]
	}
	//
	return fmt.Sprintf("OPCODE(%d)", uint8(p))
}

// ParseOpCode maps a listing name (e.g. "INT_ADD") to its opcode, returning
// false if the name is unknown.
func ParseOpCode(name string) (OpCode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsComparison determines whether this opcode compares two integers and
// produces a boolean output.
func (p OpCode) IsComparison() bool {
	switch p {
	case OpIntEqual, OpIntNotEqual, OpIntLess, OpIntSLess, OpIntLessEqual, OpIntSLessEqual:
		return true
	}
	//
	return false
}

// IsUnary determines whether this opcode takes exactly one input.
func (p OpCode) IsUnary() bool {
	switch p {
	case OpCopy, OpInt2Comp, OpIntNegate, OpIntZext, OpIntSext:
		return true
	}
	//
	return false
}

// IsBranch determines whether this opcode transfers control.
func (p OpCode) IsBranch() bool {
	return p == OpBranch || p == OpCBranch
}
