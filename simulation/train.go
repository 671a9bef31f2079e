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
	"regexp"
	"sync"
)

// trainIDPattern is a line letter followed by 3 digits.
var trainIDPattern = regexp.MustCompile(`^[GR]\d{3}$`)

// ValidTrainID reports whether id matches the required shape, without
// checking uniqueness; uniqueness is checked by CTCSystem.ValidateID
// against its own registry.
func ValidTrainID(id string) bool {
	return id != "" && trainIDPattern.MatchString(id)
}

// MovementHistory tracks how long a train has rested on its current
// block, used by the emergency "stationary too long" check.
type MovementHistory struct {
	Block              BlockKey
	Count              int
	LastUpdate         Time
	FirstStationaryTime Time
	firstStationarySet bool
}

// Train is a dispatched unit under CTC control.
type Train struct {
	mu sync.RWMutex

	TrainID        string   `json:"trainId"`
	Line           string   `json:"line"`
	CurrentBlock   BlockKey `json:"currentBlock"`
	NextBlock      *BlockKey `json:"nextBlock,omitempty"`
	RouteID        string   `json:"routeId,omitempty"`
	Authority      int      `json:"authority"`
	SuggestedSpeed int      `json:"suggestedSpeed"`
	IsActive       bool     `json:"isActive"`
	Grade          float64  `json:"grade"`

	history MovementHistory
}

// NewTrain constructs an inactive train at the given block.
func NewTrain(id, line string, start BlockKey) *Train {
	return &Train{
		TrainID:      id,
		Line:         line,
		CurrentBlock: start,
		history:      MovementHistory{Block: start},
	}
}

// ID implements SimObject.
func (t *Train) ID() string {
	return t.TrainID
}

// UpdateMovementHistory records that the train has newly entered
// `block`, resetting the stationary-count bookkeeping used by the
// emergency check.
func (t *Train) UpdateMovementHistory(block BlockKey, now Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.history.Block == block {
		t.history.Count++
	} else {
		t.history.Block = block
		t.history.Count = 0
		t.history.firstStationarySet = false
	}
	t.history.LastUpdate = now
	t.CurrentBlock = block
}

// MarkStationaryTick starts the stationary clock that IsStationaryTooLong
// measures from, if it is not already running; UpdateMovementHistory on a
// block change stops it. CTCSystem does not call it: callers mark
// stationary ticks themselves.
func (t *Train) MarkStationaryTick(now Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.history.firstStationarySet {
		t.history.FirstStationaryTime = now
		t.history.firstStationarySet = true
	}
}

// IsStationaryTooLong reports whether the train has been on the same
// block, without a recorded move, for longer than threshold.
func (t *Train) IsStationaryTooLong(now Time, threshold float64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.history.firstStationarySet {
		return false
	}
	return now.Sub(t.history.FirstStationaryTime).Seconds() > threshold
}

// SetRouteID assigns the active route for this train.
func (t *Train) SetRouteID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RouteID = id
}

// GetRouteID returns the assigned route id, or "".
func (t *Train) GetRouteID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.RouteID
}

// SetAuthoritySpeed updates the per-tick authority/suggested-speed pair
// delivered by the wayside.
func (t *Train) SetAuthoritySpeed(authority, speed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Authority = authority
	t.SuggestedSpeed = speed
}

// SetActive flips the dispatched/removed flag.
func (t *Train) SetActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.IsActive = active
}

// Active reports whether the train is currently dispatched.
func (t *Train) Active() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.IsActive
}

// CurrentBlockKey returns the train's current block, thread-safely.
func (t *Train) CurrentBlockKey() BlockKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.CurrentBlock
}

// SetNextBlock records the block the train is expected to enter next.
func (t *Train) SetNextBlock(b *BlockKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.NextBlock = b
}
