// Copyright (C) 2008-2018 by Nicolas Piganeau and the TS2 TEAM
// (See AUTHORS file)
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the
// Free Software Foundation, Inc.,
// 59 Temple Place - Suite 330, Boston, MA  02111-1307, USA.

package simulation

import (
	"fmt"
	"sync"
)

// TrackModel owns the static block graph per line plus the live block
// registry. The graph is represented as a directed adjacency list: two
// blocks are adjacent if a train can move from one to the other without
// entering a third block.
type TrackModel struct {
	mu sync.RWMutex

	blocks    map[BlockKey]*Block
	adjacency map[BlockKey][]BlockKey
	lineOrder map[string][]int // line -> ordered block IDs, for total-blocks-on-line lookups
}

// NewTrackModel creates an empty track model.
func NewTrackModel() *TrackModel {
	return &TrackModel{
		blocks:    make(map[BlockKey]*Block),
		adjacency: make(map[BlockKey][]BlockKey),
		lineOrder: make(map[string][]int),
	}
}

// AddBlock registers a block in the model.
func (tm *TrackModel) AddBlock(b *Block) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.blocks[b.Key] = b
	tm.lineOrder[b.Key.Line] = append(tm.lineOrder[b.Key.Line], b.Key.ID)
}

// Link declares that `to` is reachable directly from `from` (directional).
// Bidirectional track is expressed with two Link calls.
func (tm *TrackModel) Link(from, to BlockKey) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.adjacency[from] = append(tm.adjacency[from], to)
}

// Block returns the block for key, or nil if unknown.
func (tm *TrackModel) Block(key BlockKey) *Block {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.blocks[key]
}

// Adjacent reports whether `to` directly follows `from` on the track graph.
func (tm *TrackModel) Adjacent(from, to BlockKey) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	for _, n := range tm.adjacency[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Neighbors returns the blocks directly reachable from key.
func (tm *TrackModel) Neighbors(key BlockKey) []BlockKey {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make([]BlockKey, len(tm.adjacency[key]))
	copy(out, tm.adjacency[key])
	return out
}

// TotalBlocks returns the number of blocks registered for a line, used
// to size wayside command-frame arrays.
func (tm *TrackModel) TotalBlocks(line string) int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.lineOrder[line])
}

// BlockIDsForLine returns the block IDs registered for a line, in
// insertion order.
func (tm *TrackModel) BlockIDsForLine(line string) []int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	ids := tm.lineOrder[line]
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// AllBlocks returns every registered block, unordered.
func (tm *TrackModel) AllBlocks() []*Block {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make([]*Block, 0, len(tm.blocks))
	for _, b := range tm.blocks {
		out = append(out, b)
	}
	return out
}

// ValidateSequence checks that every consecutive pair in seq is
// graph-adjacent on the same line, returning an error naming the first
// broken pair.
func (tm *TrackModel) ValidateSequence(seq []BlockKey) error {
	for i := 0; i < len(seq)-1; i++ {
		if seq[i].Line != seq[i+1].Line {
			return fmt.Errorf("INVALID_INPUT: sequence crosses lines at index %d (%s -> %s)", i, seq[i], seq[i+1])
		}
		if !tm.Adjacent(seq[i], seq[i+1]) {
			return fmt.Errorf("INVALID_INPUT: blocks %s and %s are not adjacent", seq[i], seq[i+1])
		}
	}
	return nil
}
