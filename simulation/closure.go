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

// ClosureStatus is the lifecycle state of a scheduled closure/opening.
type ClosureStatus string

const (
	StatusScheduled ClosureStatus = "scheduled"
	StatusActive    ClosureStatus = "active"
	StatusCancelled ClosureStatus = "cancelled"
)

// ScheduledClosure is a planned block closure.
type ScheduledClosure struct {
	ID             string        `json:"id"`
	Line           string        `json:"line"`
	BlockNumber    int           `json:"blockNumber"`
	ScheduledTime  Time          `json:"scheduledTime"`
	Status         ClosureStatus `json:"status"`
	RelatedOpening string        `json:"relatedOpening,omitempty"`
}

// ScheduledOpening is the paired re-opening of a previously closed block.
type ScheduledOpening struct {
	ID             string        `json:"id"`
	Line           string        `json:"line"`
	BlockNumber    int           `json:"blockNumber"`
	ScheduledTime  Time          `json:"scheduledTime"`
	Status         ClosureStatus `json:"status"`
	RelatedClosure string        `json:"relatedClosure,omitempty"`
}
