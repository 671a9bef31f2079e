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

	"github.com/ts2/ts2ctc/simulation/telemetry"
	log "gopkg.in/inconshreveable/log15.v2"
)

var waysideLogger log.Logger

func init() {
	waysideLogger = log.Root().New("module", "wayside")
}

// CommandWord is the 16-bit wire-encoded command a wayside controller
// sends to a single block's track-model hardware: bit layout
// [authority:1][commandedSpeed:2][nextBlock:7][updatePrevious:1][nextStation:5],
// matching the fixed-width frame the original wayside/track-model link
// used (original_source/Wayside_Controller, original_source/Track_Model).
type CommandWord uint16

const (
	authorityShift       = 15
	commandedSpeedShift  = 13
	nextBlockShift       = 6
	updatePreviousShift  = 5
	nextStationShift     = 0

	commandedSpeedMask = 0x3
	nextBlockMask       = 0x7F
	updatePreviousMask  = 0x1
	nextStationMask     = 0x1F
)

// EncodeCommandWord packs a block-addressed command into the 16-bit wire
// format. Values outside their field width are truncated, matching the
// original fixed-width frame's silent wraparound.
func EncodeCommandWord(authority, commandedSpeed, nextBlock int, updatePrevious bool, nextStation int) CommandWord {
	var w uint16
	if authority != 0 {
		w |= 1 << authorityShift
	}
	w |= uint16(commandedSpeed&commandedSpeedMask) << commandedSpeedShift
	w |= uint16(nextBlock&nextBlockMask) << nextBlockShift
	if updatePrevious {
		w |= 1 << updatePreviousShift
	}
	w |= uint16(nextStation&nextStationMask) << nextStationShift
	return CommandWord(w)
}

// Decode unpacks a CommandWord back into its fields.
func (w CommandWord) Decode() (authority, commandedSpeed, nextBlock int, updatePrevious bool, nextStation int) {
	v := uint16(w)
	authority = int((v >> authorityShift) & 1)
	commandedSpeed = int((v >> commandedSpeedShift) & commandedSpeedMask)
	nextBlock = int((v >> nextBlockShift) & nextBlockMask)
	updatePrevious = (v>>updatePreviousShift)&updatePreviousMask == 1
	nextStation = int((v >> nextStationShift) & nextStationMask)
	return
}

// WaysideController runs one PLC program per tick against its line's live
// occupancy and the CTC's commanded authority/speed, then reports the
// blocks the PLC held as an event (without writing them onto Block) and
// reports occupancy up to the CTC.
// It is deliberately the only component that touches the PLC directly;
// the CommunicationHandler never calls a PLCProgram itself.
type WaysideController struct {
	mu sync.RWMutex

	Line string
	plc  PLCProgram
	tm   *TrackModel

	commHandler *CommunicationHandler

	lastCommand CommandFrame
	switchPosition map[int]int
	trafficLight   map[int]string
	crossingActive map[int]bool
	faulted        bool
	faultReason    string
}

// NewWaysideController creates a controller for a line, bound to a track
// model and the PLC program registered for that line.
func NewWaysideController(line string, tm *TrackModel) (*WaysideController, error) {
	plc, ok := PLCRegistry[line]
	if !ok {
		return nil, fmt.Errorf("NOT_FOUND: no PLC program registered for line %q", line)
	}
	return &WaysideController{
		Line:           line,
		plc:            plc,
		tm:             tm,
		switchPosition: make(map[int]int),
		trafficLight:   make(map[int]string),
		crossingActive: make(map[int]bool),
	}, nil
}

// ReceiveCTCCommand is called once per tick by the CommunicationHandler
// with the frame intended for this controller's line.
func (w *WaysideController) ReceiveCTCCommand(frame CommandFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastCommand = frame
}

// readOccupancy snapshots occupancy for every block on this controller's
// line.
func (w *WaysideController) readOccupancy() map[int]bool {
	occ := make(map[int]bool)
	for _, id := range w.tm.BlockIDsForLine(w.Line) {
		b := w.tm.Block(BlockKey{Line: w.Line, ID: id})
		if b != nil {
			occ[id] = b.Occupied()
		}
	}
	return occ
}

// runPLC executes the PLC program in isolation: a panicking PLC is caught
// and surfaced as a PLC_FAULT rather than taking down the wayside cycle.
func (w *WaysideController) runPLC(in PLCInput) (out PLCOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PLC_FAULT: line %s PLC panicked: %v", w.Line, r)
		}
	}()
	out = w.plc.Run(in)
	return out, nil
}

// UpdateCycle runs the full per-tick wayside pipeline: process the CTC
// command, read track-model occupancy, run the PLC, report the blocks it
// held (see sendCommandsToTrackModel), and report occupancy upstream.
func (w *WaysideController) UpdateCycle(now Time) error {
	w.mu.RLock()
	frame := w.lastCommand
	w.mu.RUnlock()

	authority := make(map[int]int, len(frame.BlockNum))
	speed := make(map[int]int, len(frame.BlockNum))
	for i, id := range frame.BlockNum {
		authority[id] = frame.Authority[i]
		speed[id] = frame.SuggestedSpeed[i]
	}

	occ := w.readOccupancy()

	w.mu.RLock()
	switchPos := make(map[int]int, len(w.switchPosition))
	for k, v := range w.switchPosition {
		switchPos[k] = v
	}
	w.mu.RUnlock()

	out, err := w.runPLC(PLCInput{
		Occupancy:      occ,
		CTCAuthority:   authority,
		CTCSpeed:       speed,
		SwitchPosition: switchPos,
	})
	if err != nil {
		w.mu.Lock()
		w.faulted = true
		w.faultReason = err.Error()
		w.mu.Unlock()
		telemetry.PLCFaultTotal.WithLabelValues(w.Line).Inc()
		waysideLogger.Error("PLC fault", "line", w.Line, "err", err)
		if w.commHandler != nil {
			w.commHandler.ctc.sendEvent(&Event{Name: PLCFaultEvent, Object: map[string]interface{}{
				"line": w.Line,
				"err":  err.Error(),
				"time": now,
			}})
		}
		return err
	}

	w.mu.Lock()
	w.faulted = false
	w.faultReason = ""
	for k, v := range out.SwitchPosition {
		w.switchPosition[k] = v
	}
	for k, v := range out.TrafficLight {
		w.trafficLight[k] = v
	}
	for k, v := range out.CrossingActive {
		w.crossingActive[k] = v
	}
	w.mu.Unlock()

	w.sendCommandsToTrackModel(out, now)

	if w.commHandler != nil {
		updates := make([]OccupancyUpdate, 0, len(occ))
		for id, isOcc := range occ {
			updates = append(updates, OccupancyUpdate{Line: w.Line, Block: id, Occupied: isOcc})
		}
		if err := w.commHandler.UpdateOccupiedBlocks(w.Line, updates, now); err != nil {
			return err
		}
	}
	return nil
}

// sendCommandsToTrackModel reports PLC-held blocks for the audit log and
// UI. The authority/speed values Block exposes remain CTC-derived, since
// Block is the only authority/speed oracle; a PLC hazard hold is a
// transient, wayside-local downgrade that self-clears the moment
// occupancy changes, so it is surfaced as an event instead of being
// written back onto Block.
func (w *WaysideController) sendCommandsToTrackModel(out PLCOutput, now Time) {
	holds := make([]BlockKey, 0)
	for _, id := range sortedKeys(out.Authority) {
		key := BlockKey{Line: w.Line, ID: id}
		b := w.tm.Block(key)
		if b == nil {
			continue
		}
		if out.Authority[id] == 0 && b.Operational() {
			holds = append(holds, key)
		}
	}
	if w.commHandler != nil {
		w.commHandler.ctc.sendEvent(&Event{Name: WaysideCycleEvent, Object: map[string]interface{}{
			"line":  w.Line,
			"holds": holds,
			"time":  now,
		}})
	}
}

// Faulted reports whether the last UpdateCycle ended in a PLC_FAULT.
func (w *WaysideController) Faulted() (bool, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.faulted, w.faultReason
}

// SwitchPosition returns the commanded position for a junction block, or
// 0 if the block has never been commanded.
func (w *WaysideController) SwitchPosition(block int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.switchPosition[block]
}

// CrossingActive reports whether the crossing guard at block is engaged.
func (w *WaysideController) CrossingActive(block int) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.crossingActive[block]
}
