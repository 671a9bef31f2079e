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

// PlatformSide describes which side of a train a station platform opens on.
type PlatformSide string

const (
	PlatformLeft  PlatformSide = "left"
	PlatformRight PlatformSide = "right"
	PlatformBoth  PlatformSide = "both"
)

// StationInfo describes the platform metadata carried by a block that
// hosts a station stop.
type StationInfo struct {
	Name string       `json:"name"`
	Side PlatformSide `json:"side"`
}

// BlockKey uniquely identifies a block within the whole track model.
type BlockKey struct {
	Line string
	ID   int
}

// String renders the key as "Line:ID", used in log fields and hub events.
func (k BlockKey) String() string {
	return fmt.Sprintf("%s:%d", k.Line, k.ID)
}

// Block is the only authority/speed oracle in the system: every other
// component must delegate to these predicates instead of re-deriving
// them.
type Block struct {
	mu sync.RWMutex

	Key BlockKey `json:"key"`

	LengthM       float64      `json:"lengthM"`
	GradePercent  float64      `json:"gradePercent"`
	SpeedLimitKmh float64      `json:"speedLimitKmh"`
	ElevationM    float64      `json:"elevationM"`
	Section       string       `json:"section"`
	Underground   bool         `json:"underground"`
	Station       *StationInfo `json:"station,omitempty"`
	HasSwitch     bool         `json:"hasSwitch"`
	HasCrossing   bool         `json:"hasCrossing"`

	open            bool
	failed          bool
	occupied        bool
	maintenance     bool
	failureReason   string
	lastChangedAt   Time
}

// NewBlock constructs an operational, unoccupied block.
func NewBlock(key BlockKey, lengthM, speedLimitKmh float64) *Block {
	return &Block{
		Key:           key,
		LengthM:       lengthM,
		SpeedLimitKmh: speedLimitKmh,
		open:          true,
	}
}

// SpeedLimitMps converts the configured speed limit to meters per second.
func (b *Block) SpeedLimitMps() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.SpeedLimitKmh / 3.6
}

// Open reports the open/closed flag.
func (b *Block) Open() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

// Failed reports the failed flag.
func (b *Block) Failed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failed
}

// Occupied reports the occupancy flag.
func (b *Block) Occupied() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.occupied
}

// MaintenanceMode reports whether the block is withdrawn for maintenance.
func (b *Block) MaintenanceMode() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maintenance
}

// FailureReason returns the last reason given to SetFailed, if any.
func (b *Block) FailureReason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureReason
}

// Operational reports open AND NOT failed AND NOT in maintenance.
func (b *Block) Operational() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open && !b.failed && !b.maintenance
}

// CalculateSafeAuthority returns 1 iff operational and not occupied.
func (b *Block) CalculateSafeAuthority() int {
	if b.Operational() && !b.Occupied() {
		return 1
	}
	return 0
}

// CalculateSuggestedSpeed applies the lookahead rule. next1/next2 may be
// nil to represent "absent" (end of known route).
func (b *Block) CalculateSuggestedSpeed(next1, next2 *Block) int {
	if b.CalculateSafeAuthority() == 0 {
		return 0
	}
	if next1 == nil || !next1.Operational() || next1.Occupied() {
		return 1
	}
	if next2 == nil || !next2.Operational() || next2.Occupied() {
		return 2
	}
	return 3
}

// CloseSafetyFailure is the structured failure returned by CanCloseSafely
// when a close would cut off an active train's route.
type CloseSafetyFailure struct {
	Reason          string
	OffendingTrains []string
}

func (f *CloseSafetyFailure) Error() string {
	return f.Reason
}

// CanCloseSafelyChecker is satisfied by anything that can enumerate
// trains whose active route currently crosses a block (the CTCSystem).
type CanCloseSafelyChecker interface {
	TrainsRoutedThrough(key BlockKey) []string
}

// CanCloseSafely succeeds (returns nil) iff no active train currently has
// a route crossing this block.
func (b *Block) CanCloseSafely(checker CanCloseSafelyChecker) error {
	offenders := checker.TrainsRoutedThrough(b.Key)
	if len(offenders) > 0 {
		return &CloseSafetyFailure{
			Reason:          fmt.Sprintf("UNSAFE_OPERATION: block %s has active train routes through it", b.Key),
			OffendingTrains: offenders,
		}
	}
	return nil
}

// SetFailed sets or clears the failed flag, stamping the reason and the
// time of change. No silent coalescing: every call updates the reason.
func (b *Block) SetFailed(flag bool, reason string, now Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = flag
	b.failureReason = reason
	b.lastChangedAt = now
}

// SetOpen sets or clears the open flag.
func (b *Block) SetOpen(flag bool, now Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = flag
	b.lastChangedAt = now
}

// SetMaintenance sets or clears the maintenance-mode flag.
func (b *Block) SetMaintenance(flag bool, now Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maintenance = flag
	b.lastChangedAt = now
}

// UpdateOccupation sets the occupancy flag, as called by the wayside's
// occupancy reconciliation path.
func (b *Block) UpdateOccupation(occupied bool, now Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.occupied = occupied
	b.lastChangedAt = now
}

// LastChangedAt returns the timestamp of the most recent state mutation.
func (b *Block) LastChangedAt() Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastChangedAt
}

// ID implements SimObject for event serialization.
func (b *Block) ID() string {
	return b.Key.String()
}

// BlockSnapshot is a JSON-friendly, lock-free copy of a block's dynamic state.
type BlockSnapshot struct {
	Key         BlockKey `json:"key"`
	Open        bool     `json:"open"`
	Failed      bool     `json:"failed"`
	Occupied    bool     `json:"occupied"`
	Maintenance bool     `json:"maintenance"`
	Operational bool     `json:"operational"`
	Authority   int      `json:"authority"`
}

// Snapshot captures the block's current dynamic state.
func (b *Block) Snapshot() BlockSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BlockSnapshot{
		Key:         b.Key,
		Open:        b.open,
		Failed:      b.failed,
		Occupied:    b.occupied,
		Maintenance: b.maintenance,
		Operational: b.open && !b.failed && !b.maintenance,
		Authority:   b.CalculateSafeAuthority(),
	}
}
