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

import "sort"

// PLCInput is the per-cycle snapshot a PLC program runs over: raw block
// occupancy plus the CTC-issued authority/speed the PLC is allowed to
// downgrade but never upgrade.
type PLCInput struct {
	Occupancy      map[int]bool
	CTCAuthority   map[int]int
	CTCSpeed       map[int]int
	SwitchPosition map[int]int // junction block -> current commanded position, carried across cycles
}

// PLCOutput is the hazard-adjusted command set a PLC program hands back
// to its WaysideController for transmission to the track model.
type PLCOutput struct {
	Authority      map[int]int
	SuggestedSpeed map[int]int
	SwitchPosition map[int]int
	TrafficLight   map[int]string // "stop" | "proceed"
	CrossingActive map[int]bool
}

// PLCProgram is a pure transformer: (occupancy, CTC command, static
// topology) -> (speed, authority, switches, lights, crossings). It must
// not retain CTC or wayside state between calls beyond what is explicitly
// threaded through PLCInput.SwitchPosition.
type PLCProgram interface {
	Line() string
	Run(in PLCInput) PLCOutput
}

// PLCRegistry maps a line name to the PLC program responsible for it,
// mirroring the one-PLC-per-line deployment in the original wayside
// controllers (original_source/Wayside_Controller/GreenLinePlcV1.py,
// RedLinePlcV1.py).
var PLCRegistry = map[string]PLCProgram{
	"Green": NewGreenLinePLC(),
	"Red":   NewRedLinePLC(),
}

func newOutput(blocks []int) PLCOutput {
	out := PLCOutput{
		Authority:      make(map[int]int, len(blocks)),
		SuggestedSpeed: make(map[int]int, len(blocks)),
		SwitchPosition: make(map[int]int),
		TrafficLight:   make(map[int]string),
		CrossingActive: make(map[int]bool),
	}
	return out
}

func downgradeSpeed(out PLCOutput, block, maxSpeed int) {
	if cur, ok := out.SuggestedSpeed[block]; !ok || cur > maxSpeed {
		out.SuggestedSpeed[block] = maxSpeed
	}
}

func downgradeAuthority(out PLCOutput, block, maxAuthority int) {
	if cur, ok := out.Authority[block]; !ok || cur > maxAuthority {
		out.Authority[block] = maxAuthority
	}
}

// trailingHazard implements the trailing-N-block hazard rule common to
// both lines: if any of the `lookback` blocks behind `block` (inclusive
// of block-1) is occupied, the train approaching `block` must be held to
// speed/authority 0 (grounded on GreenLinePlcV1.py's `speed_hazard` trail
// computed over sections I-M / O-Q / S-U).
func trailingHazard(occ map[int]bool, block, lookback int) bool {
	for k := block - lookback; k < block; k++ {
		if occ[k] {
			return true
		}
	}
	return false
}

// GreenLinePLC implements the Green line hazard and junction logic
// (original_source/Wayside_Controller/GreenLinePlcV1.py).
type GreenLinePLC struct {
	blocks []int
}

// NewGreenLinePLC builds the Green line PLC over its known block range.
func NewGreenLinePLC() *GreenLinePLC {
	ids := make([]int, 0, 150)
	for i := 1; i <= 150; i++ {
		ids = append(ids, i)
	}
	return &GreenLinePLC{blocks: ids}
}

// Line implements PLCProgram.
func (p *GreenLinePLC) Line() string { return "Green" }

// greenJunctionState is the section-level mutual-exclusion state for the
// 76-77-101 / 85-86-100 switch complex feeding section N (blocks 77-85)
// from the M approach (74-76) and the O-P-Q approach (86-100). Only one
// approach may be authorized through section N at a time (grounded on
// GreenLinePlcV1.py's N_occupied/OPQ_occupied/M_occupied gates).
type greenJunctionState int

const (
	// greenIdle: neither N nor O-P-Q occupied, both switches through.
	greenIdle greenJunctionState = iota
	// greenInN: N occupied and block 100 still occupied (O-P-Q occupancy
	// is not consulted while N is occupied); 76 diverts into N while 85
	// stays through to 86.
	greenInN
	// greenInNExit: N occupied and block 100 clear; 85 diverts to take
	// the train out of N, hazarding both M and Q to keep the approach
	// clear while it exits.
	greenInNExit
	// greenInOPQ: the O-P-Q approach is occupied; N is held for it, 85
	// diverts the same as greenInNExit but without the Q hazard.
	greenInOPQ
)

func nOccupied(occ map[int]bool) bool {
	for i := 77; i <= 85; i++ {
		if occ[i] {
			return true
		}
	}
	return false
}

// opqOccupied covers the O-P-Q approach ahead of the Q sub-section
// (86-99); block 100 is tracked separately since it alone decides the
// InN/InN-exit split while a train is already in section N.
func opqOccupied(occ map[int]bool) bool {
	for i := 86; i <= 99; i++ {
		if occ[i] {
			return true
		}
	}
	return false
}

func classifyGreenJunction(occ map[int]bool) greenJunctionState {
	n := nOccupied(occ)
	switch {
	case n && !occ[100]:
		return greenInNExit
	case n:
		return greenInN
	case opqOccupied(occ):
		return greenInOPQ
	default:
		return greenIdle
	}
}

// switchPositions returns the commanded position for switch 76 and
// switch 85 for this state: 0 is the through leg, 1 the diverging leg.
func (s greenJunctionState) switchPositions() (sw76, sw85 int) {
	switch s {
	case greenIdle:
		return 0, 0
	case greenInN:
		return 1, 0
	default: // greenInNExit, greenInOPQ
		return 1, 1
	}
}

// hazardM zeros speed/authority across the M approach (74-76), applied
// whenever a route other than 74-75-76 currently owns section N.
func hazardM(out PLCOutput) {
	for b := 74; b <= 76; b++ {
		downgradeSpeed(out, b, 0)
		downgradeAuthority(out, b, 0)
	}
}

// hazardQ zeros speed/authority across the Q approach (98-100), applied
// while a train occupies section N and block 100 is clear (greenInNExit).
func hazardQ(out PLCOutput) {
	for b := 98; b <= 100; b++ {
		downgradeSpeed(out, b, 0)
		downgradeAuthority(out, b, 0)
	}
}

// Run implements PLCProgram. It applies, per cycle: the trailing-4 hazard
// rule across the I-M/O-Q/S-U sections, the section-N junction state
// machine for switches 76 and 85, and the block-19 crossing window.
func (p *GreenLinePLC) Run(in PLCInput) PLCOutput {
	out := newOutput(p.blocks)
	for _, b := range p.blocks {
		out.Authority[b] = in.CTCAuthority[b]
		out.SuggestedSpeed[b] = in.CTCSpeed[b]
	}

	// Trailing-4 hazard sections, grounded on GreenLinePlcV1.py's three
	// independently-swept ranges.
	for _, section := range [][2]int{{36, 76}, {86, 100}, {105, 116}} {
		for b := section[0]; b <= section[1]; b++ {
			if trailingHazard(in.Occupancy, b, 4) {
				downgradeSpeed(out, b, 0)
				downgradeAuthority(out, b, 0)
			}
		}
	}

	// Junction: section N's state decides both switch 76 and switch 85
	// together, plus which of the M/Q approaches gets hazarded. No
	// debouncing: the state can flip on consecutive cycles if occupancy
	// flickers at the section boundary.
	// TODO: debounce this by one tick before flipping SwitchPosition.
	state := classifyGreenJunction(in.Occupancy)
	sw76, sw85 := state.switchPositions()
	out.SwitchPosition[76] = sw76
	out.SwitchPosition[85] = sw85
	switch state {
	case greenInN:
		hazardM(out)
	case greenInNExit:
		hazardM(out)
		hazardQ(out)
	case greenInOPQ:
		hazardM(out)
	}

	// Crossing guard at block 19, active while any block in the 16-19
	// approach window is occupied (GreenLinePlcV1.py's block-19 window).
	crossingActive := false
	for b := 16; b <= 19; b++ {
		if in.Occupancy[b] {
			crossingActive = true
			break
		}
	}
	out.CrossingActive[19] = crossingActive
	if crossingActive {
		out.TrafficLight[19] = "stop"
	} else {
		out.TrafficLight[19] = "proceed"
	}

	return out
}

// RedLinePLC implements the Red line's direction-aware hazard logic
// (original_source/Wayside_Controller/RedLinePlcV1.py). Unlike the Green
// line, the hazard trail direction flips depending on whether traffic is
// routed up through section H, tracked via upThroughH.
type RedLinePLC struct {
	blocks    []int
	upThroughH bool
}

// NewRedLinePLC builds the Red line PLC over its known block range.
func NewRedLinePLC() *RedLinePLC {
	ids := make([]int, 0, 80)
	for i := 1; i <= 80; i++ {
		ids = append(ids, i)
	}
	return &RedLinePLC{blocks: ids, upThroughH: false}
}

// Line implements PLCProgram.
func (p *RedLinePLC) Line() string { return "Red" }

// Run implements PLCProgram. Direction of the trailing-hazard sweep
// through section H (blocks 60-72) depends on upThroughH; the block-47
// crossing uses a wider {44..50} window because of the grade approaching
// it (RedLinePlcV1.py).
func (p *RedLinePLC) Run(in PLCInput) PLCOutput {
	out := newOutput(p.blocks)
	for _, b := range p.blocks {
		out.Authority[b] = in.CTCAuthority[b]
		out.SuggestedSpeed[b] = in.CTCSpeed[b]
	}

	// Section H can run in either direction; recompute upThroughH from
	// which end currently shows occupancy closest to the section, since a
	// PLCProgram must stay pure across calls.
	p.upThroughH = in.Occupancy[72] && !in.Occupancy[60]

	if p.upThroughH {
		for b := 60; b <= 72; b++ {
			if trailingHazard(in.Occupancy, b, 4) {
				downgradeSpeed(out, b, 0)
				downgradeAuthority(out, b, 0)
			}
		}
	} else {
		for b := 72; b >= 60; b-- {
			if leadingHazard(in.Occupancy, b, 4) {
				downgradeSpeed(out, b, 0)
				downgradeAuthority(out, b, 0)
			}
		}
	}

	// Crossing guard at block 47, active while any block in the wider
	// 44-50 window is occupied.
	crossingActive := false
	for b := 44; b <= 50; b++ {
		if in.Occupancy[b] {
			crossingActive = true
			break
		}
	}
	out.CrossingActive[47] = crossingActive
	if crossingActive {
		out.TrafficLight[47] = "stop"
	} else {
		out.TrafficLight[47] = "proceed"
	}

	return out
}

// leadingHazard is trailingHazard's mirror for the reverse-direction
// sweep: hazard blocks are ahead of `block` rather than behind it.
func leadingHazard(occ map[int]bool, block, lookahead int) bool {
	for k := block + 1; k <= block+lookahead; k++ {
		if occ[k] {
			return true
		}
	}
	return false
}

// sortedKeys is used by wayside.go when it needs a deterministic
// iteration order over a PLCOutput's sparse maps (event logging, wire
// encoding).
func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
