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
	"encoding/json"
	"time"
)

// durationSeconds converts a fractional second count to a time.Duration.
func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Time wraps time.Time to give it the HH:MM:SS wire format the rest of
// the stack (hub events, HTTP API, audit log) expects.
type Time struct {
	time.Time
}

// NewTime builds a Time value from a standard library time.Time.
func NewTime(t time.Time) Time {
	return Time{t}
}

// IsZero reports whether the wrapped time has never been set.
func (t Time) IsZero() bool {
	return t.Time.IsZero()
}

// Sub returns the duration between two Time values.
func (t Time) Sub(other Time) time.Duration {
	return t.Time.Sub(other.Time)
}

// Add returns a new Time offset by d.
func (t Time) Add(d time.Duration) Time {
	return Time{t.Time.Add(d)}
}

// Before reports whether t occurs before other.
func (t Time) Before(other Time) bool {
	return t.Time.Before(other.Time)
}

// After reports whether t occurs after other.
func (t Time) After(other Time) bool {
	return t.Time.After(other.Time)
}

// MarshalJSON renders the time as "HH:MM:SS" for the UI layer.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Time.Format("15:04:05"))
}

// UnmarshalJSON accepts either an RFC3339 timestamp or an "HH:MM:SS" string
// relative to the current day, matching how track-layout fixtures express
// scheduled times.
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse("15:04:05", s)
	if err != nil {
		return err
	}
	now := time.Now()
	t.Time = time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, now.Location())
	return nil
}
