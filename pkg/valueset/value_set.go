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
	"fmt"

	"github.com/mansallc/valueset/pkg/pcode"
)

// Type codes classifying what a value set describes.
const (
	// TypeAbsolute means the range holds the value itself.
	TypeAbsolute = iota
	// TypeRelative means the range holds an offset from the designated base
	// register (typically the stack pointer).
	TypeRelative
)

// noNode marks the absence of a node or partition index.
const noNode = -1

// ValueSet tracks the set of values a single varnode may take, as a
// CircleRange refined over successive solver sweeps.  Value sets live in the
// solver's arena and link to each other by index, forming the weak
// topological order.
type ValueSet struct {
	// tracked varnode, or nil for the simulated root
	vn *pcode.Varnode
	// TypeAbsolute or TypeRelative
	typeCode int
	// opcode of the defining operation
	opCode pcode.OpCode
	// number of inputs of the defining operation
	numParams int
	// current approximation, grows monotonically
	rng CircleRange
	// per-slot constraints, with the landmark at virtual slot numParams
	equations []Equation
	// iteration count within the enclosing component; doubles as the
	// depth-first index during topological ordering
	count int
	// partition headed by this node, or noNode
	partHead int
	// next node in the weak topological order, or noNode
	next int
	// whether the left boundary was stable when widening began
	leftIsStable bool
}

// Equation constrains the range flowing through one input slot of the
// defining operation, as established by a conditional branch.
type Equation struct {
	// input slot constrained; numParams designates the landmark
	slot     int
	typeCode int
	rng      CircleRange
}

// Partition is a strongly connected component of the data-flow graph,
// delimited by arena indices into the weak topological order.  The solver
// re-sweeps a partition until it is no longer dirty.
type Partition struct {
	startNode int
	stopNode  int
	isDirty   bool
}

// newPartition constructs an empty partition.
func newPartition() Partition {
	return Partition{startNode: noNode, stopNode: noNode}
}

// setVarnode initializes this value set from the given varnode's defining
// operation.  A free varnode (no definition) seeds from its non-zero mask; a
// defined varnode starts empty and grows monotonically.
func (p *ValueSet) setVarnode(vn *pcode.Varnode, typeCode int) {
	p.vn = vn
	p.typeCode = typeCode
	p.partHead = noNode
	p.next = noNode
	//
	if def := vn.Def(); def != nil {
		p.opCode = def.Code()
		p.numParams = def.NumInputs()
		p.rng = NewEmptyRange()
		//
		return
	}
	//
	p.opCode = pcode.OpInvalid
	//
	if typeCode == TypeRelative {
		// The base register is, by definition, at offset zero from itself.
		p.rng = NewSingleRange(0, vn.Size())
	} else {
		p.rng.SetNZMask(vn.NZMask(), vn.Size())
	}
}

// addEquation attaches a constraint to the given input slot of the defining
// operation.
func (p *ValueSet) addEquation(slot int, typeCode int, rng CircleRange) {
	p.equations = append(p.equations, Equation{slot: slot, typeCode: typeCode, rng: rng})
}

// addLandmark stores a widening reference: a range previously witnessed to
// bound this value set, kept at the virtual slot past the real inputs.
func (p *ValueSet) addLandmark(typeCode int, rng CircleRange) {
	for i := range p.equations {
		if p.equations[i].slot == p.numParams {
			p.equations[i] = Equation{slot: p.numParams, typeCode: typeCode, rng: rng}
			return
		}
	}
	//
	p.equations = append(p.equations, Equation{slot: p.numParams, typeCode: typeCode, rng: rng})
}

// landmark returns the widening reference, or nil if none was recorded.
func (p *ValueSet) landmark() *CircleRange {
	for i := range p.equations {
		if p.equations[i].slot == p.numParams {
			return &p.equations[i].rng
		}
	}
	//
	return nil
}

// equationFor returns the constraint attached to the given input slot and
// type code, or nil.
func (p *ValueSet) equationFor(slot int, typeCode int) *CircleRange {
	for i := range p.equations {
		if p.equations[i].slot == slot && p.equations[i].typeCode == typeCode {
			return &p.equations[i].rng
		}
	}
	//
	return nil
}

// looped notes one more sweep of the enclosing component over this node.
func (p *ValueSet) looped() {
	p.count++
}

// Varnode returns the varnode this value set tracks.
func (p *ValueSet) Varnode() *pcode.Varnode {
	return p.vn
}

// TypeCode reports whether the range is absolute (TypeAbsolute) or an offset
// from the base register (TypeRelative).
func (p *ValueSet) TypeCode() int {
	return p.typeCode
}

// Range returns the current approximation of the values the varnode may
// take.  Only meaningful after the solver has run.
func (p *ValueSet) Range() CircleRange {
	return p.rng
}

// String returns "name: range", prefixed with "rel " for ranges relative to
// the base register.
func (p *ValueSet) String() string {
	name := "<root>"
	if p.vn != nil {
		name = p.vn.Name()
	}
	//
	if p.typeCode == TypeRelative {
		return fmt.Sprintf("%s: rel %s", name, p.rng.String())
	}
	//
	return fmt.Sprintf("%s: %s", name, p.rng.String())
}
