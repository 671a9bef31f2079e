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

// RouteType distinguishes normal dispatch routes from emergency ones.
type RouteType string

const (
	RouteNormal    RouteType = "NORMAL"
	RouteEmergency RouteType = "EMERGENCY"
)

// stationDwell is the fixed dwell applied for speed-index-0 segments when
// computing ETA. It is distinct from the 60s station-stop sequencing timer
// in the Train Controller.
const stationDwell = 8 // seconds

// Route is an ordered, adjacency-valid sequence of blocks with a current
// position.
type Route struct {
	mu sync.RWMutex

	RouteID             string    `json:"routeId"`
	TrainID             string    `json:"trainId,omitempty"`
	BlockSequence       []BlockKey `json:"blockSequence"`
	currentBlockIndex   int
	StartBlock          BlockKey  `json:"startBlock"`
	EndBlock            BlockKey  `json:"endBlock"`
	isActive            bool
	RouteType           RouteType `json:"routeType"`
	Priority            int       `json:"priority"`
	EstimatedTravelTime float64   `json:"estimatedTravelTime"`
	ScheduledArrival    Time      `json:"scheduledArrival"`
	actualArrival       Time

	trackModel *TrackModel
}

// ID implements SimObject.
func (r *Route) ID() string {
	return r.RouteID
}

// IsActive reports whether the route has been activated.
func (r *Route) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isActive
}

// CurrentBlockIndex returns the index of the block the route considers
// "current".
func (r *Route) CurrentBlockIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentBlockIndex
}

// ActualArrival returns the timestamp stamped by DeactivateRoute, or the zero
// Time if the route has not yet completed.
func (r *Route) ActualArrival() Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actualArrival
}

// RouteManager builds and validates routes against a TrackModel and
// keeps the registry of routes by ID.
type RouteManager struct {
	mu     sync.RWMutex
	tm     *TrackModel
	routes map[string]*Route
	nextID int
}

// NewRouteManager creates a RouteManager bound to a track model.
func NewRouteManager(tm *TrackModel) *RouteManager {
	return &RouteManager{
		tm:     tm,
		routes: make(map[string]*Route),
	}
}

// CreateRoute fails with INVALID_INPUT on an empty sequence or one with a
// broken adjacency; single-block sequences are legal.
func (rm *RouteManager) CreateRoute(blockSequence []BlockKey, scheduledArrival Time) (*Route, error) {
	if len(blockSequence) == 0 {
		return nil, fmt.Errorf("INVALID_INPUT: empty block sequence")
	}
	for _, k := range blockSequence {
		if rm.tm.Block(k) == nil {
			return nil, fmt.Errorf("INVALID_INPUT: unknown block %s in sequence", k)
		}
	}
	if err := rm.tm.ValidateSequence(blockSequence); err != nil {
		return nil, err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.nextID++
	r := &Route{
		RouteID:           fmt.Sprintf("R%04d", rm.nextID),
		BlockSequence:     append([]BlockKey(nil), blockSequence...),
		currentBlockIndex: 0,
		StartBlock:        blockSequence[0],
		EndBlock:          blockSequence[len(blockSequence)-1],
		isActive:          false,
		RouteType:         RouteNormal,
		ScheduledArrival:  scheduledArrival,
		trackModel:        rm.tm,
	}
	rm.routes[r.RouteID] = r
	return r, nil
}

// Route returns a route by ID, or nil.
func (rm *RouteManager) Route(id string) *Route {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.routes[id]
}

// Routes returns every known route.
func (rm *RouteManager) Routes() map[string]*Route {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make(map[string]*Route, len(rm.routes))
	for k, v := range rm.routes {
		out[k] = v
	}
	return out
}

// UpdateLocation succeeds only on a forward move to a block still ahead
// in the sequence; backward or unknown moves leave state untouched and
// return false.
func (r *Route) UpdateLocation(block BlockKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := r.currentBlockIndex; k < len(r.BlockSequence); k++ {
		if r.BlockSequence[k] == block {
			r.currentBlockIndex = k
			return true
		}
	}
	return false
}

// CalculateAuthoritySpeed delegates to each block's predicates with
// next1/next2 drawn from the sequence, with the end-of-route tail rule
// (authority = 1 if operational, speed = 1).
func (r *Route) CalculateAuthoritySpeed(tm *TrackModel) (authority []int, speed []int) {
	r.mu.RLock()
	seq := append([]BlockKey(nil), r.BlockSequence...)
	r.mu.RUnlock()

	authority = make([]int, len(seq))
	speed = make([]int, len(seq))
	for i, key := range seq {
		b := tm.Block(key)
		if b == nil {
			continue
		}
		var next1, next2 *Block
		if i+1 < len(seq) {
			next1 = tm.Block(seq[i+1])
		}
		if i+2 < len(seq) {
			next2 = tm.Block(seq[i+2])
		}
		if i == len(seq)-1 {
			if b.Operational() {
				authority[i] = 1
			}
			speed[i] = 1
			continue
		}
		authority[i] = b.CalculateSafeAuthority()
		speed[i] = b.CalculateSuggestedSpeed(next1, next2)
	}
	return authority, speed
}

// GetEstimatedArrival sums, over remaining blocks, length /
// (speedIndex/3 * speedLimitMps), treating speed-index-0 segments as the
// fixed stationDwell.
func (r *Route) GetEstimatedArrival(tm *TrackModel, now Time) (Time, error) {
	if !r.IsActive() {
		return Time{}, fmt.Errorf("INVALID_INPUT: route is not active")
	}
	_, speed := r.CalculateAuthoritySpeed(tm)
	r.mu.RLock()
	seq := append([]BlockKey(nil), r.BlockSequence...)
	idx := r.currentBlockIndex
	r.mu.RUnlock()

	var totalSeconds float64
	for i := idx; i < len(seq); i++ {
		b := tm.Block(seq[i])
		if b == nil {
			continue
		}
		s := speed[i]
		if s == 0 {
			totalSeconds += stationDwell
			continue
		}
		limit := b.SpeedLimitMps()
		if limit <= 0 {
			continue
		}
		effective := (float64(s) / 3.0) * limit
		if effective <= 0 {
			continue
		}
		totalSeconds += b.LengthM / effective
	}
	return now.Add(durationSeconds(totalSeconds)), nil
}

// ActivateRoute marks the route active and assigns it to trainID.
func (r *Route) ActivateRoute(trainID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isActive = true
	r.TrainID = trainID
}

// DeactivateRoute marks the route inactive and stamps actualArrival.
func (r *Route) DeactivateRoute(now Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isActive = false
	r.actualArrival = now
}

// ContainsBlock reports whether the route's sequence includes key.
func (r *Route) ContainsBlock(key BlockKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.BlockSequence {
		if k == key {
			return true
		}
	}
	return false
}

// RemainingContainsBlock reports whether key is still ahead of (or at)
// the current position, used by Block.CanCloseSafely's caller.
func (r *Route) RemainingContainsBlock(key BlockKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := r.currentBlockIndex; i < len(r.BlockSequence); i++ {
		if r.BlockSequence[i] == key {
			return true
		}
	}
	return false
}
