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
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/mansallc/valueset/pkg/pcode"
	"github.com/mansallc/valueset/pkg/util/collection/bit"
	"github.com/mansallc/valueset/pkg/util/collection/stack"
)

// Config holds the solver tunables.
type Config struct {
	// number of component sweeps before widening kicks in
	WideningThreshold int
	// ceiling on the total number of node iterations
	MaxIterations int
	// largest stride the solver will infer
	MaxStep uint64
}

// DefaultConfig returns the stock solver tunables.
func DefaultConfig() Config {
	return Config{
		WideningThreshold: 3,
		MaxIterations:     10000,
		MaxStep:           32,
	}
}

// Solver computes value sets for the varnodes of a single function by
// monotone fixpoint iteration over the data-flow graph, in weak topological
// order, with widening inside loops.  A solver instance is used once.
type Solver struct {
	fn     *pcode.Function
	config Config
	// arena of all value sets; the last entry is the simulated root
	nodes []ValueSet
	// arena of partitions, referenced by index from partition heads
	partitions []Partition
	// indices of value sets for varnodes with no defining operation
	rootNodes []int
	// index of the simulated root
	root int
	// index of the first node in the weak topological order
	orderStart int
	// depth-first index counter during topological ordering
	dfiCount      int
	numIterations int
}

// NewSolver constructs a solver for the given function with the given
// tunables.  Any annotations left by a previous analysis are cleared.
func NewSolver(fn *pcode.Function, config Config) *Solver {
	for _, vn := range fn.Varnodes() {
		vn.SetAnnotation(nil)
	}
	//
	return &Solver{fn: fn, config: config, orderStart: noNode, root: noNode}
}

// EstablishValueSets builds the system of value sets backward from the given
// sinks, generates branch constraints, and fixes the weak topological order.
// stackReg, if non-nil, designates the varnode whose value sets are tracked
// as offsets relative to itself.
func (p *Solver) EstablishValueSets(sinks []*pcode.Varnode, stackReg *pcode.Varnode) {
	var worklist []*pcode.Varnode
	//
	track := func(vn *pcode.Varnode) {
		if vn.IsConstant() {
			return
		}
		//
		if _, ok := vn.Annotation().(int); ok {
			return
		}
		//
		typeCode := TypeAbsolute
		if vn == stackReg && vn.Def() == nil {
			typeCode = TypeRelative
		}
		//
		idx := len(p.nodes)
		p.nodes = append(p.nodes, ValueSet{})
		p.nodes[idx].setVarnode(vn, typeCode)
		vn.SetAnnotation(idx)
		worklist = append(worklist, vn)
	}
	//
	for _, sink := range sinks {
		track(sink)
	}
	// Backward closure over defining operations.
	for len(worklist) > 0 {
		vn := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		//
		if def := vn.Def(); def != nil {
			for _, in := range def.Inputs() {
				track(in)
			}
		} else if idx, ok := vn.Annotation().(int); ok {
			p.rootNodes = append(p.rootNodes, idx)
		}
	}
	// Simulated root feeding every free varnode.
	p.root = len(p.nodes)
	p.nodes = append(p.nodes, ValueSet{partHead: noNode, next: noNode, rng: NewEmptyRange()})
	//
	p.generateConstraints()
	p.establishTopologicalOrder()
	//
	log.Debugf("value-set system: %d nodes, %d roots, %d partitions",
		len(p.nodes)-1, len(p.rootNodes), len(p.partitions))
}

// successors returns the arena indices downstream of the given node: the
// value sets of outputs of operations reading its varnode.  The simulated
// root feeds the free varnodes first, then every remaining node, so that
// cycles fed only by constants are still reached.
func (p *Solver) successors(idx int) []int {
	vs := &p.nodes[idx]
	if vs.vn == nil {
		var (
			seen  = bit.NewSet(len(p.nodes))
			succs = make([]int, 0, len(p.nodes)-1)
		)
		//
		for _, i := range p.rootNodes {
			seen.Insert(uint(i))
			succs = append(succs, i)
		}
		//
		for i := range p.nodes {
			if i != p.root && !seen.Contains(uint(i)) {
				succs = append(succs, i)
			}
		}
		//
		return succs
	}
	//
	var succs []int
	//
	for _, op := range vs.vn.Uses() {
		out := op.Output()
		if out == nil {
			continue
		}
		//
		if i, ok := out.Annotation().(int); ok {
			succs = append(succs, i)
		}
	}
	//
	return succs
}

// depth-first indices of retired nodes compare above every live index
const retiredDFI = math.MaxInt32

// visitFrame is one suspended activation of the depth-first traversal which
// fixes the weak topological order.  A frame starts in the visit phase and,
// when its node turns out to head a loop, switches to the component phase to
// decompose the subgraph below it.
type visitFrame struct {
	node  int
	succs []int
	// next successor to examine
	idx int
	// minimum depth-first index reachable from node
	head int
	loop bool
	// component phase, reached only by loop heads
	comp bool
	// partition under construction during the component phase
	part Partition
	// where finished nodes of this frame are prepended
	target *Partition
}

// establishTopologicalOrder linearizes the data-flow graph into a weak
// topological order: every loop head precedes its body, and each strongly
// connected component is recorded as a Partition.  This is Bourdoncle's
// algorithm, run on an explicit frame stack since component nesting can
// exceed the call stack on large functions.
func (p *Solver) establishTopologicalOrder() {
	for i := range p.nodes {
		p.nodes[i].count = 0
		p.nodes[i].next = noNode
		p.nodes[i].partHead = noNode
	}
	//
	var (
		order     = newPartition()
		frames    = stack.NewStack[*visitFrame]()
		nodeStack = stack.NewStack[int]()
	)
	//
	p.dfiCount = 0
	p.pushVisit(frames, nodeStack, p.root, &order)
	//
	for !frames.IsEmpty() {
		f := *frames.Top()
		//
		if f.idx < len(f.succs) {
			w := f.succs[f.idx]
			f.idx++
			//
			if p.nodes[w].count == 0 {
				if f.comp {
					p.pushVisit(frames, nodeStack, w, &f.part)
				} else {
					p.pushVisit(frames, nodeStack, w, f.target)
				}
			} else if !f.comp {
				if min := p.nodes[w].count; min <= f.head {
					f.head = min
					f.loop = true
				}
			}
			//
			continue
		}
		// Successors exhausted.
		if f.comp {
			p.partitionPrepend(f.node, &f.part)
			p.partitionSurround(f.part, f.target)
			frames.Pop()
			p.deliverHead(frames, f.head)
			//
			continue
		}
		//
		if f.head == p.nodes[f.node].count {
			p.nodes[f.node].count = retiredDFI
			el := nodeStack.Pop()
			//
			if f.loop {
				// Reset the loop body so the component phase revisits it.
				for el != f.node {
					p.nodes[el].count = 0
					el = nodeStack.Pop()
				}
				//
				f.comp = true
				f.idx = 0
				f.part = newPartition()
				//
				continue
			}
			//
			p.partitionPrepend(f.node, f.target)
		}
		// A node below its head stays on the node stack for the head's
		// component phase.
		frames.Pop()
		p.deliverHead(frames, f.head)
	}
	// Reset the depth-first scratch; count now counts component sweeps.
	for i := range p.nodes {
		p.nodes[i].count = 0
	}
	//
	p.orderStart = p.nodes[p.root].next
}

func (p *Solver) pushVisit(frames *stack.Stack[*visitFrame], nodeStack *stack.Stack[int],
	node int, target *Partition) {
	p.dfiCount++
	p.nodes[node].count = p.dfiCount
	nodeStack.Push(node)
	//
	frames.Push(&visitFrame{
		node:   node,
		succs:  p.successors(node),
		head:   p.dfiCount,
		part:   newPartition(),
		target: target,
	})
}

// deliverHead propagates a finished child's minimum reach to its parent.
func (p *Solver) deliverHead(frames *stack.Stack[*visitFrame], head int) {
	if frames.IsEmpty() {
		return
	}
	//
	parent := *frames.Top()
	if parent.comp {
		return
	}
	//
	if head <= parent.head {
		parent.head = head
		parent.loop = true
	}
}

// partitionPrepend pushes a node onto the front of a partition chain.
func (p *Solver) partitionPrepend(node int, part *Partition) {
	p.nodes[node].next = part.startNode
	part.startNode = node
	//
	if part.stopNode == noNode {
		part.stopNode = node
	}
}

// partitionSurround records a finished component and splices its chain onto
// the front of the enclosing partition.  The component head carries the
// partition index.
func (p *Solver) partitionSurround(inner Partition, outer *Partition) {
	idx := len(p.partitions)
	p.partitions = append(p.partitions, inner)
	p.nodes[inner.startNode].partHead = idx
	//
	p.nodes[inner.stopNode].next = outer.startNode
	outer.startNode = inner.startNode
	//
	if outer.stopNode == noNode {
		outer.stopNode = inner.stopNode
	}
}

// Solve runs the fixpoint iteration until no partition is dirty or the
// iteration ceiling is reached.  Forced termination leaves every value set
// a sound over-approximation.
func (p *Solver) Solve(max int) {
	if max <= 0 {
		max = p.config.MaxIterations
	}
	//
	p.numIterations = 0
	compStack := stack.NewStack[int]()
	node := p.orderStart
	//
	for node != noNode {
		vs := &p.nodes[node]
		// Entering a partition head opens a fresh sweep.
		if vs.partHead != noNode && (compStack.IsEmpty() || compStack.Peek(0) != vs.partHead) {
			compStack.Push(vs.partHead)
			p.partitions[vs.partHead].isDirty = false
		}
		//
		changed := p.iterate(node)
		//
		p.numIterations++
		if p.numIterations >= max {
			log.Warnf("value-set solver for %s hit iteration ceiling (%d)", p.fn.Name(), max)
			return
		}
		//
		if changed {
			for i := uint(0); i < compStack.Len(); i++ {
				p.partitions[compStack.Peek(i)].isDirty = true
			}
		}
		// Leaving a partition tail either re-sweeps or retires it.  Nested
		// partitions may share a tail node.
		restart := false
		//
		for !compStack.IsEmpty() {
			top := compStack.Peek(0)
			if p.partitions[top].stopNode != node {
				break
			}
			//
			if p.partitions[top].isDirty {
				p.partitions[top].isDirty = false
				p.loopedPartition(top)
				node = p.partitions[top].startNode
				restart = true
				//
				log.Debugf("re-sweeping partition %d from %s", top, p.nodes[node].String())
				//
				break
			}
			//
			compStack.Pop()
		}
		//
		if restart {
			continue
		}
		//
		node = vs.next
	}
}

// loopedPartition notes one more sweep on every node of the partition.
func (p *Solver) loopedPartition(idx int) {
	part := p.partitions[idx]
	//
	for n := part.startNode; n != noNode; n = p.nodes[n].next {
		p.nodes[n].looped()
		//
		if n == part.stopNode {
			break
		}
	}
}

// inputRange resolves the range flowing into one input slot of the defining
// operation: a tracked varnode's current value set, a constant singleton, or
// the full range, intersected with any equation attached to the slot.
func (p *Solver) inputRange(vs *ValueSet, op *pcode.PcodeOp, slot int) (CircleRange, int) {
	var (
		vn       = op.Input(slot)
		rng      CircleRange
		typeCode = TypeAbsolute
	)
	//
	if vn.IsConstant() {
		rng = NewSingleRange(vn.Val(), vn.Size())
	} else if idx, ok := vn.Annotation().(int); ok {
		rng = p.nodes[idx].rng
		typeCode = p.nodes[idx].typeCode
	} else {
		rng = NewFullRange(vn.Size())
	}
	//
	if eq := vs.equationFor(slot, typeCode); eq != nil {
		rng.Intersect(eq)
	}
	//
	return rng, typeCode
}

// iterate recomputes the range of one node from its inputs, meets the
// result with the previous range and applies widening at partition heads.
// Returns true iff the value set changed.
func (p *Solver) iterate(idx int) bool {
	vs := &p.nodes[idx]
	if vs.vn == nil || vs.vn.Def() == nil {
		// Roots are seeded once and never recomputed.
		return false
	}
	//
	var (
		op      = vs.vn.Def()
		size    = vs.vn.Size()
		res     CircleRange
		newType = TypeAbsolute
	)
	//
	switch {
	case vs.opCode == pcode.OpMultiEqual:
		res = NewEmptyRange()
		newType = noNode
		//
		for i := 0; i < op.NumInputs(); i++ {
			in, typeCode := p.inputRange(vs, op, i)
			//
			if newType == noNode {
				newType = typeCode
			} else if newType != typeCode {
				newType = TypeAbsolute
				res = NewFullRange(size)
				//
				break
			}
			//
			if res.CircleUnion(&in) == UnionFailed {
				res.MinimalContainer(&in, p.config.MaxStep)
			}
		}
		//
		if newType == noNode {
			newType = TypeAbsolute
		}
	case op.NumInputs() == 1:
		in, typeCode := p.inputRange(vs, op, 0)
		//
		if vs.opCode == pcode.OpCopy {
			newType = typeCode
		} else if typeCode != TypeAbsolute {
			in = NewFullRange(op.Input(0).Size())
		}
		//
		if !res.PushForwardUnary(vs.opCode, &in, size) {
			res = NewFullRange(size)
		}
	case op.NumInputs() == 2:
		in0, tc0 := p.inputRange(vs, op, 0)
		in1, tc1 := p.inputRange(vs, op, 1)
		//
		switch {
		case tc0 == TypeAbsolute && tc1 == TypeAbsolute:
			// ordinary arithmetic
		case vs.opCode == pcode.OpIntAdd && tc0 != tc1:
			newType = TypeRelative
		case vs.opCode == pcode.OpIntSub && tc0 == TypeRelative && tc1 == TypeAbsolute:
			newType = TypeRelative
		default:
			// Mixing relative values loses the base.
			if tc0 != TypeAbsolute {
				in0 = NewFullRange(op.Input(0).Size())
			}
			//
			if tc1 != TypeAbsolute {
				in1 = NewFullRange(op.Input(1).Size())
			}
		}
		//
		if !res.PushForwardBinary(vs.opCode, &in0, &in1, size, p.config.MaxStep) {
			res = NewFullRange(size)
		}
	default:
		res = NewFullRange(size)
	}
	// Meet with the previous approximation; the range only ever grows.
	out := vs.rng
	if out.CircleUnion(&res) == UnionFailed {
		out.MinimalContainer(&res, p.config.MaxStep)
	}
	//
	if vs.partHead != noNode {
		p.doWidening(vs, &out)
	}
	//
	changed := !out.Equals(&vs.rng) || newType != vs.typeCode
	vs.rng = out
	vs.typeCode = newType
	//
	return changed
}

// doWidening extrapolates the range of a partition head once its component
// has swept past the widening threshold, using the recorded landmark as the
// containment target.  A component still unstable at three times the
// threshold is forced to the full range.
func (p *Solver) doWidening(vs *ValueSet, out *CircleRange) {
	threshold := p.config.WideningThreshold
	//
	switch {
	case vs.count < threshold:
		return
	case vs.count > threshold:
		if vs.count >= 3*threshold {
			out.SetFull(vs.vn.Size())
		}
		//
		return
	}
	//
	vs.leftIsStable = vs.rng.Min() == out.Min()
	//
	landmark := vs.landmark()
	if landmark == nil {
		return
	}
	//
	if landmark.ContainsRange(out) {
		out.Widen(landmark, vs.leftIsStable)
		return
	}
	// The landmark may have been recorded for the opposite branch.
	inverted := *landmark
	inverted.Invert()
	//
	if inverted.ContainsRange(out) {
		out.Widen(&inverted, vs.leftIsStable)
		return
	}
	//
	out.SetFull(vs.vn.Size())
}

// NumIterations returns the number of node iterations performed by Solve.
func (p *Solver) NumIterations() int {
	return p.numIterations
}

// ValueSetOf returns the value set tracked for the given varnode, or nil if
// the varnode is not part of the system.
func (p *Solver) ValueSetOf(vn *pcode.Varnode) *ValueSet {
	if idx, ok := vn.Annotation().(int); ok {
		return &p.nodes[idx]
	}
	//
	return nil
}

// ValueSets returns every value set of the system in weak topological
// order.  The returned slice must not be modified.
func (p *Solver) ValueSets() []*ValueSet {
	var sets []*ValueSet
	//
	for n := p.orderStart; n != noNode; n = p.nodes[n].next {
		sets = append(sets, &p.nodes[n])
	}
	//
	return sets
}
