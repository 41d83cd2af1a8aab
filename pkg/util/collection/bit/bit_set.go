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
package bit

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Set provides a straightforward bitset implementation.  That is, a set of
// (unsigned) integer values implemented as an array of bits.
type Set struct {
	bits bitset.BitSet
}

// NewSet creates a Set with initial capacity for the given number of values.
func NewSet(size int) *Set {
	return &Set{*bitset.New(uint(size))}
}

// Clone creates a true copy of this bitset which ensures no aliasing between
// this set and the result.
func (p *Set) Clone() Set {
	return Set{*p.bits.Clone()}
}

// Insert a given value into this set.
func (p *Set) Insert(val uint) {
	p.bits.Set(val)
}

// InsertAll inserts zero or more elements into this bitset.
func (p *Set) InsertAll(vals ...uint) {
	for _, v := range vals {
		p.bits.Set(v)
	}
}

// Remove a given value from this set.
func (p *Set) Remove(val uint) {
	p.bits.Clear(val)
}

// Contains checks whether a given value is contained, or not.
func (p *Set) Contains(val uint) bool {
	return p.bits.Test(val)
}

// Union inserts all elements from a given bitset into this bitset, returning
// true if there is some change.
func (p *Set) Union(other Set) bool {
	before := p.bits.Count()
	p.bits.InPlaceUnion(&other.bits)
	//
	return p.bits.Count() != before
}

// Count returns the number of values held by this set.
func (p *Set) Count() uint {
	return p.bits.Count()
}

// Clear removes all values from this set.
func (p *Set) Clear() {
	p.bits.ClearAll()
}

// Each calls the given function for every value in this set, in ascending
// order.
func (p *Set) Each(fn func(uint)) {
	for i, ok := p.bits.NextSet(0); ok; i, ok = p.bits.NextSet(i + 1) {
		fn(i)
	}
}

func (p *Set) String() string {
	var (
		builder strings.Builder
		first   = true
	)
	//
	builder.WriteString("[")
	//
	p.Each(func(val uint) {
		if !first {
			builder.WriteString(", ")
		}
		//
		first = false
		//
		builder.WriteString(fmt.Sprintf("%d", val))
	})
	//
	builder.WriteString("]")
	//
	return builder.String()
}
