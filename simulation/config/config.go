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

// Package config loads the static track layout and simulation options
// from YAML, grounded on the hot-reloadable RuntimeConfigManager pattern
// (validate-then-swap, never mutate the live config in place) seen in the
// example pack's ariadne engine config loader.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ts2/ts2ctc/simulation"
)

// BlockSpec is the YAML shape of one block entry in a track layout file.
type BlockSpec struct {
	Line          string  `yaml:"line"`
	ID            int     `yaml:"id"`
	LengthM       float64 `yaml:"lengthM"`
	GradePercent  float64 `yaml:"gradePercent"`
	SpeedLimitKmh float64 `yaml:"speedLimitKmh"`
	ElevationM    float64 `yaml:"elevationM"`
	Section       string  `yaml:"section"`
	Underground   bool    `yaml:"underground"`
	HasSwitch     bool    `yaml:"hasSwitch"`
	HasCrossing   bool    `yaml:"hasCrossing"`
	Station       *struct {
		Name string `yaml:"name"`
		Side string `yaml:"side"`
	} `yaml:"station,omitempty"`
	Next []int `yaml:"next"` // block IDs on the same line directly reachable from this block
}

// TrackLayout is the top-level YAML document describing a line's static
// topology.
type TrackLayout struct {
	Title   string      `yaml:"title"`
	Version string      `yaml:"version"`
	Blocks  []BlockSpec `yaml:"blocks"`
	Options struct {
		SuggestionsEnabled         bool    `yaml:"suggestionsEnabled"`
		SuggestionsIntervalMinutes int     `yaml:"suggestionsIntervalMinutes"`
		SuggestMaxItems            int     `yaml:"suggestMaxItems"`
		EmergencyStationarySeconds float64 `yaml:"emergencyStationarySeconds"`
	} `yaml:"options"`
}

// Validator mirrors the example pack's ConfigValidator interface so track
// layouts can be checked before they are swapped into a live TrackModel.
type Validator interface {
	Validate(layout *TrackLayout) error
}

type blockIDValidator struct{}

// Validate implements Validator: every `next` reference must name a block
// declared in the same layout.
func (blockIDValidator) Validate(layout *TrackLayout) error {
	known := make(map[simulation.BlockKey]bool, len(layout.Blocks))
	for _, b := range layout.Blocks {
		known[simulation.BlockKey{Line: b.Line, ID: b.ID}] = true
	}
	for _, b := range layout.Blocks {
		for _, n := range b.Next {
			key := simulation.BlockKey{Line: b.Line, ID: n}
			if !known[key] {
				return fmt.Errorf("INVALID_INPUT: block %s:%d references unknown next block %s", b.Line, b.ID, key)
			}
		}
	}
	return nil
}

// Loader reads, validates, and caches a track layout from disk, keeping
// the previously loaded layout available if a reload fails (same
// load-then-swap discipline as the example pack's RuntimeConfigManager).
type Loader struct {
	mu         sync.RWMutex
	path       string
	validators []Validator
	current    *TrackLayout
}

// NewLoader creates a Loader for the given YAML file path.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		validators: []Validator{blockIDValidator{}},
	}
}

// AddValidator registers an additional layout validator.
func (l *Loader) AddValidator(v Validator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validators = append(l.validators, v)
}

// Load reads and parses the layout file, validates it, and swaps it in as
// the current layout only on success.
func (l *Loader) Load() (*TrackLayout, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track layout: %w", err)
	}
	var layout TrackLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse track layout: %w", err)
	}

	l.mu.RLock()
	validators := append([]Validator(nil), l.validators...)
	l.mu.RUnlock()
	for _, v := range validators {
		if err := v.Validate(&layout); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.current = &layout
	l.mu.Unlock()
	return &layout, nil
}

// Current returns the most recently successfully loaded layout, or nil.
func (l *Loader) Current() *TrackLayout {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// BuildTrackModel materializes a simulation.TrackModel from a parsed
// layout: every block is constructed via simulation.NewBlock and every
// `next` edge becomes a directed simulation.TrackModel.Link.
func BuildTrackModel(layout *TrackLayout) *simulation.TrackModel {
	tm := simulation.NewTrackModel()
	for _, b := range layout.Blocks {
		key := simulation.BlockKey{Line: b.Line, ID: b.ID}
		blk := simulation.NewBlock(key, b.LengthM, b.SpeedLimitKmh)
		blk.GradePercent = b.GradePercent
		blk.ElevationM = b.ElevationM
		blk.Section = b.Section
		blk.Underground = b.Underground
		blk.HasSwitch = b.HasSwitch
		blk.HasCrossing = b.HasCrossing
		if b.Station != nil {
			blk.Station = &simulation.StationInfo{
				Name: b.Station.Name,
				Side: simulation.PlatformSide(b.Station.Side),
			}
		}
		tm.AddBlock(blk)
	}
	for _, b := range layout.Blocks {
		from := simulation.BlockKey{Line: b.Line, ID: b.ID}
		for _, n := range b.Next {
			tm.Link(from, simulation.BlockKey{Line: b.Line, ID: n})
		}
	}
	return tm
}

// ApplyLayoutOptions overlays the layout's options onto an existing
// simulation.Options value (normally CTCSystem's defaults). Title, Version
// and SuggestionsEnabled are always copied from the layout; the numeric
// options are copied only when the layout sets them above zero.
func ApplyLayoutOptions(base simulation.Options, layout *TrackLayout) simulation.Options {
	base.Title = layout.Title
	base.Version = layout.Version
	base.SuggestionsEnabled = layout.Options.SuggestionsEnabled
	if layout.Options.SuggestionsIntervalMinutes > 0 {
		base.SuggestionsIntervalMinutes = layout.Options.SuggestionsIntervalMinutes
	}
	if layout.Options.SuggestMaxItems > 0 {
		base.SuggestMaxItems = layout.Options.SuggestMaxItems
	}
	if layout.Options.EmergencyStationarySeconds > 0 {
		base.EmergencyStationarySeconds = layout.Options.EmergencyStationarySeconds
	}
	return base
}
