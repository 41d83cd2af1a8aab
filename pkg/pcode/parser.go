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
	"fmt"
	"strconv"
	"strings"
)

// Parse reads a function from its textual listing form.  The listing is line
// oriented:
//
//	block head
//	  c:1 = INT_SLESSEQUAL 0xa:4, i:4
//	  cbranch exit, c:1
//	block body
//	  goto head
//	block exit
//
// Blocks are introduced by "block <name>" lines and contain one operation
// per line.  A value-producing operation is written "out = OPCODE in, ..."
// where each operand is either "name:size" (size required on first mention)
// or a constant "value:size" in decimal or hex.  "cbranch <target>, <cond>"
// branches to the named block when the condition is true and otherwise falls
// through to the next block in layout order.  "goto <target>" branches
// unconditionally; a block with no terminator falls through.  Comments start
// with '#'.  Errors found on a line report its one-based line number; an
// empty listing and unresolved branch targets are reported without one.
func Parse(name string, listing string) (*Function, error) {
	var (
		fn      = NewFunction(name)
		parser  = &listingParser{fn: fn}
		current *Block
	)
	//
	for lineno, line := range strings.Split(listing, "\n") {
		// Strip comments and whitespace.
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		//
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		//
		if rest, ok := strings.CutPrefix(line, "block "); ok {
			blkName := strings.TrimSpace(rest)
			//
			if fn.Block(blkName) != nil {
				return nil, fmt.Errorf("line %d: duplicate block %q", lineno+1, blkName)
			}
			//
			current = fn.NewBlock(blkName)
			//
			continue
		}
		//
		if current == nil {
			return nil, fmt.Errorf("line %d: operation before first block", lineno+1)
		}
		//
		if err := parser.parseOp(current, line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno+1, err)
		}
	}
	//
	if len(fn.blocks) == 0 {
		return nil, fmt.Errorf("empty listing")
	}
	//
	if err := parser.resolveEdges(); err != nil {
		return nil, err
	}
	//
	fn.BuildDominators()
	fn.ComputeNZMasks()
	//
	return fn, nil
}

// pendingBranch records a branch whose target block may not exist yet at the
// time the branch line is parsed.
type pendingBranch struct {
	block  *Block
	target string
	// condition varnode, or nil for an unconditional branch
	cond *Varnode
}

type listingParser struct {
	fn       *Function
	branches []pendingBranch
}

func (p *listingParser) parseOp(block *Block, line string) error {
	if len(p.branches) > 0 && p.branches[len(p.branches)-1].block == block {
		return fmt.Errorf("operation after terminator in block %q", block.name)
	}
	//
	if rest, ok := strings.CutPrefix(line, "goto "); ok {
		p.branches = append(p.branches, pendingBranch{block, strings.TrimSpace(rest), nil})
		//
		return nil
	}
	//
	if rest, ok := strings.CutPrefix(line, "cbranch "); ok {
		target, condText, ok := strings.Cut(rest, ",")
		if !ok {
			return fmt.Errorf("cbranch requires a target and a condition")
		}
		//
		cond, err := p.operand(strings.TrimSpace(condText))
		if err != nil {
			return err
		}
		//
		p.branches = append(p.branches, pendingBranch{block, strings.TrimSpace(target), cond})
		//
		return nil
	}
	// Value-producing operation: "out = OPCODE in, ...".
	lhs, rhs, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("malformed operation %q", line)
	}
	//
	output, err := p.outputOperand(strings.TrimSpace(lhs))
	if err != nil {
		return err
	}
	//
	fields := strings.Fields(strings.TrimSpace(rhs))
	if len(fields) == 0 {
		return fmt.Errorf("missing opcode")
	}
	//
	opcode, ok := ParseOpCode(fields[0])
	if !ok {
		return fmt.Errorf("unknown opcode %q", fields[0])
	}
	//
	if opcode.IsBranch() {
		return fmt.Errorf("%s does not produce a value", opcode)
	}
	//
	var inputs []*Varnode
	//
	for _, text := range strings.Split(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rhs), fields[0])), ",") {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		//
		in, err := p.operand(text)
		if err != nil {
			return err
		}
		//
		inputs = append(inputs, in)
	}
	//
	_, err = p.fn.AppendOp(block, opcode, output, inputs...)
	//
	return err
}

// operand parses "name:size", "name" (size known from a prior mention) or a
// constant "value:size".
func (p *listingParser) operand(text string) (*Varnode, error) {
	name, sizeText, hasSize := strings.Cut(text, ":")
	if name == "" {
		return nil, fmt.Errorf("empty operand")
	}
	//
	if !hasSize {
		if vn := p.fn.Varnode(name); vn != nil {
			return vn, nil
		}
		//
		return nil, fmt.Errorf("operand %q requires a size on first mention", name)
	}
	//
	size, err := strconv.Atoi(sizeText)
	if err != nil || size < 1 || size > 8 {
		return nil, fmt.Errorf("invalid size in operand %q", text)
	}
	//
	if val, err := strconv.ParseUint(name, 0, 64); err == nil {
		return p.fn.Constant(val, size), nil
	}
	//
	return p.fn.getVarnode(name, size)
}

func (p *listingParser) outputOperand(text string) (*Varnode, error) {
	vn, err := p.operand(text)
	if err != nil {
		return nil, err
	}
	//
	if vn.constant {
		return nil, fmt.Errorf("constant %s cannot be an output", vn)
	}
	//
	return vn, nil
}

// resolveEdges wires control-flow edges once all blocks are known.  Edge
// creation order matters: the fall-through (false) edge of a conditional
// branch is created before the taken (true) edge.
func (p *listingParser) resolveEdges() error {
	var (
		fn         = p.fn
		terminated = make(map[*Block]bool, len(p.branches))
	)
	//
	for _, br := range p.branches {
		terminated[br.block] = true
	}
	// Fall-through edges for unterminated blocks.
	for i, block := range fn.blocks {
		if !terminated[block] && i+1 < len(fn.blocks) {
			fn.AddEdge(block, fn.blocks[i+1])
		}
	}
	//
	for _, br := range p.branches {
		target := fn.Block(br.target)
		if target == nil {
			return fmt.Errorf("branch to unknown block %q", br.target)
		}
		//
		if br.cond == nil {
			if _, err := fn.AppendOp(br.block, OpBranch, nil); err != nil {
				return err
			}
			//
			fn.AddEdge(br.block, target)
			//
			continue
		}
		//
		if br.block.index+1 >= len(fn.blocks) {
			return fmt.Errorf("block %q has no fall-through for cbranch", br.block.name)
		}
		//
		if _, err := fn.AppendOp(br.block, OpCBranch, nil, br.cond); err != nil {
			return err
		}
		//
		fn.SetBranchTargets(br.block, target, fn.blocks[br.block.index+1])
	}
	//
	return nil
}
