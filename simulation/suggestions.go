// Copyright (C) 2008-2019 by Nicolas Piganeau and the TS2 TEAM
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
	"fmt"
	"sort"
	"strings"
	"time"
)

var suggestionEngine *SuggestionEngine

// SuggestionKind defines the category of a suggestion.
type SuggestionKind string

const (
	SuggestionRouteActivate       SuggestionKind = "ROUTE_ACTIVATE"
	SuggestionRouteDeactivate     SuggestionKind = "ROUTE_DEACTIVATE"
	SuggestionClearStationaryHold SuggestionKind = "CLEAR_STATIONARY_HOLD"
	SuggestionCloseBlock          SuggestionKind = "CLOSE_BLOCK"
	SuggestionCancelClosure       SuggestionKind = "CANCEL_CLOSURE"
)

// SuggestionAction describes an actionable command the client may accept.
// The close-block and cancel-closure actions map to server hub
// object/action pairs; the train "inspect" action has no hub handler.
type SuggestionAction struct {
	Object string                 `json:"object"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// Suggestion expresses a recommended action with a score and explanation.
type Suggestion struct {
	ID      string             `json:"id"`
	Kind    SuggestionKind     `json:"kind"`
	Title   string             `json:"title"`
	Reason  string             `json:"reason"`
	Score   float64            `json:"score"`
	Actions []SuggestionAction `json:"actions"`
}

// Suggestions is a wrapper to serialize a set of suggestions.
type Suggestions struct {
	Items       []Suggestion `json:"items"`
	GeneratedAt Time         `json:"generatedAt"`

	ctc *CTCSystem
}

// ID implements SimObject for event serialization; suggestions have no
// object-level identity and are broadcast as a generic update.
func (s Suggestions) ID() string {
	return ""
}

// SuggestionEngine computes and manages suggestions periodically.
type SuggestionEngine struct {
	ctc            *CTCSystem
	lastComputedAt Time
	rejectedUntil  map[string]Time
}

// NewSuggestionEngine creates a suggestion engine bound to a CTC system.
func NewSuggestionEngine(ctc *CTCSystem) *SuggestionEngine {
	return &SuggestionEngine{
		ctc:           ctc,
		rejectedUntil: make(map[string]Time),
	}
}

// RejectUntil marks a suggestion as rejected until the given time.
func (e *SuggestionEngine) RejectUntil(id string, until Time) {
	e.rejectedUntil[id] = until
}

func (e *SuggestionEngine) filterRejected(items []Suggestion, now Time) []Suggestion {
	filtered := make([]Suggestion, 0, len(items))
	for _, it := range items {
		if until, ok := e.rejectedUntil[it.ID]; ok && now.Before(until) {
			continue
		}
		filtered = append(filtered, it)
	}
	return filtered
}

// RecomputeIfDue recomputes suggestions if the configured interval has
// elapsed. Returns true if it actually recomputed.
func (e *SuggestionEngine) RecomputeIfDue() bool {
	if !e.ctc.Options.SuggestionsEnabled {
		return false
	}
	interval := e.ctc.Options.SuggestionsIntervalMinutes
	if interval <= 0 {
		interval = 3
	}
	now := e.ctc.Options.CurrentTime
	if !e.lastComputedAt.IsZero() && now.Sub(e.lastComputedAt) < time.Duration(interval)*time.Minute {
		return false
	}
	e.lastComputedAt = now
	e.apply(now)
	return true
}

// Recompute recomputes suggestions immediately and emits an update event.
func (e *SuggestionEngine) Recompute() {
	now := e.ctc.Options.CurrentTime
	e.lastComputedAt = now
	e.apply(now)
}

func (e *SuggestionEngine) apply(now Time) {
	s := e.computeSuggestions()
	s.Items = e.filterRejected(s.Items, now)
	e.ctc.mu.Lock()
	e.ctc.Suggestions = s
	e.ctc.mu.Unlock()
	e.ctc.sendEvent(&Event{Name: SuggestionsUpdatedEvent, Object: *s})
}

// computeSuggestions builds the full candidate list across the
// stationary-hold, stale-closure and idle-failed-block categories,
// expressed against the Block/Route/Train/CTCSystem model.
func (e *SuggestionEngine) computeSuggestions() *Suggestions {
	res := &Suggestions{ctc: e.ctc, GeneratedAt: e.ctc.Options.CurrentTime}
	candidates := make([]Suggestion, 0)

	util := e.currentUtilizationPercent()

	candidates = append(candidates, e.suggestClearStationaryHolds(util)...)
	candidates = append(candidates, e.suggestCancelStaleClosures(util)...)
	candidates = append(candidates, e.suggestCloseIdleFailedBlocks()...)

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	maxItems := e.ctc.Options.SuggestMaxItems
	if maxItems <= 0 {
		maxItems = 50
	}
	if len(candidates) > maxItems {
		candidates = candidates[:maxItems]
	}
	res.Items = candidates
	return res
}

// suggestClearStationaryHolds flags a train that is approaching the
// emergency-stationary threshold but not yet over it, so a dispatcher can
// look at it before CheckForEmergencies fires. Accepting such a suggestion
// only checks that the train still exists; it changes no state.
func (e *SuggestionEngine) suggestClearStationaryHolds(util float64) []Suggestion {
	var out []Suggestion
	now := e.ctc.Options.CurrentTime
	warnThreshold := e.ctc.Options.EmergencyStationarySeconds * 0.75
	for _, t := range e.ctc.ActiveTrains() {
		if !t.IsStationaryTooLong(now, warnThreshold) {
			continue
		}
		rid := t.GetRouteID()
		if rid == "" {
			continue
		}
		score := 10.0
		if util > 60.0 {
			score += (util - 60.0) / 10.0
		}
		sID := fmt.Sprintf("%s:%s", SuggestionClearStationaryHold, t.TrainID)
		out = append(out, Suggestion{
			ID:     sID,
			Kind:   SuggestionClearStationaryHold,
			Title:  fmt.Sprintf("Train %s has been stationary at %s for an extended period", t.TrainID, t.CurrentBlockKey()),
			Reason: "Approaching the emergency stationary threshold; review authority/occupancy ahead before it trips.",
			Score:  score,
			Actions: []SuggestionAction{{
				Object: "train",
				Action: "inspect",
				Params: map[string]interface{}{"id": t.TrainID},
			}},
		})
	}
	return out
}

// suggestCancelStaleClosures proposes cancelling a still-scheduled closure
// whose target block is already under active maintenance from an earlier
// closure, since it would otherwise execute as a redundant no-op.
func (e *SuggestionEngine) suggestCancelStaleClosures(util float64) []Suggestion {
	var out []Suggestion
	e.ctc.mu.RLock()
	closures := append([]*ScheduledClosure(nil), e.ctc.scheduledClosures...)
	e.ctc.mu.RUnlock()
	for _, cl := range closures {
		if cl.Status != StatusScheduled {
			continue
		}
		if !e.ctc.IsUnderMaintenance(cl.Line, cl.BlockNumber) {
			continue
		}
		score := 6.0
		if util > 50.0 {
			score += (util - 50.0) / 10.0
		}
		sID := fmt.Sprintf("%s:%s", SuggestionCancelClosure, cl.ID)
		out = append(out, Suggestion{
			ID:     sID,
			Kind:   SuggestionCancelClosure,
			Title:  fmt.Sprintf("Cancel redundant closure %s", cl.ID),
			Reason: fmt.Sprintf("Block %s:%d is already under maintenance.", cl.Line, cl.BlockNumber),
			Score:  score,
			Actions: []SuggestionAction{{
				Object: "closure",
				Action: "cancel",
				Params: map[string]interface{}{"line": cl.Line, "block": cl.BlockNumber},
			}},
		})
	}
	return out
}

// suggestCloseIdleFailedBlocks proposes a maintenance closure for a block
// already reporting a failure with no active train routed through it, so
// the failure gets formally tracked instead of lingering unaddressed.
func (e *SuggestionEngine) suggestCloseIdleFailedBlocks() []Suggestion {
	var out []Suggestion
	for _, b := range e.ctc.TrackModel.AllBlocks() {
		if !b.Failed() || b.MaintenanceMode() {
			continue
		}
		if len(e.ctc.TrainsRoutedThrough(b.Key)) > 0 {
			continue
		}
		sID := fmt.Sprintf("%s:%s", SuggestionCloseBlock, b.Key)
		out = append(out, Suggestion{
			ID:     sID,
			Kind:   SuggestionCloseBlock,
			Title:  fmt.Sprintf("Close failed block %s for maintenance", b.Key),
			Reason: fmt.Sprintf("Block reports failure (%s) and no active route currently crosses it.", b.FailureReason()),
			Score:  12.0,
			Actions: []SuggestionAction{{
				Object: "block",
				Action: "close",
				Params: map[string]interface{}{"line": b.Key.Line, "block": b.Key.ID},
			}},
		})
	}
	return out
}

// currentUtilizationPercent computes a proxy for network utilization as
// the percentage of registered blocks currently occupied.
func (e *SuggestionEngine) currentUtilizationPercent() float64 {
	all := e.ctc.TrackModel.AllBlocks()
	if len(all) == 0 {
		return 0
	}
	occupied := 0
	for _, b := range all {
		if b.Occupied() {
			occupied++
		}
	}
	return float64(occupied) * 100.0 / float64(len(all))
}

// Accept executes the suggestion identified by id, if still valid.
func (e *SuggestionEngine) Accept(id string) error {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) < 2 {
		return fmt.Errorf("invalid suggestion id: %s", id)
	}
	kind := SuggestionKind(parts[0])
	now := e.ctc.Options.CurrentTime
	switch kind {
	case SuggestionCancelClosure:
		for _, cl := range e.ctc.scheduledClosures {
			if cl.ID == parts[1] {
				e.ctc.CancelScheduledClosure(cl.Line, cl.BlockNumber)
				return nil
			}
		}
		return fmt.Errorf("unknown closure: %s", parts[1])
	case SuggestionCloseBlock:
		loc := strings.SplitN(parts[1], ":", 2)
		if len(loc) != 2 {
			return fmt.Errorf("invalid block reference: %s", parts[1])
		}
		var block int
		if _, err := fmt.Sscanf(loc[1], "%d", &block); err != nil {
			return fmt.Errorf("invalid block number: %s", loc[1])
		}
		return e.ctc.CloseBlockImmediately(loc[0], block, now)
	case SuggestionClearStationaryHold:
		if e.ctc.Train(parts[1]) == nil {
			return fmt.Errorf("unknown train: %s", parts[1])
		}
		return nil
	default:
		return fmt.Errorf("unsupported suggestion kind: %s", kind)
	}
}

// Reject marks the suggestion as rejected for the given number of minutes.
func (e *SuggestionEngine) Reject(id string, minutes int) {
	if minutes <= 0 {
		minutes = 5
	}
	until := e.ctc.Options.CurrentTime.Add(time.Duration(minutes) * time.Minute)
	e.RejectUntil(id, until)
}

// GetSuggestionEngine returns the process-wide suggestion engine bound by
// ResetSuggestionEngine, or nil before the first simulation is loaded.
func GetSuggestionEngine() *SuggestionEngine {
	return suggestionEngine
}

// AcceptSuggestion accepts a suggestion on the process-wide engine.
func AcceptSuggestion(id string) error {
	if suggestionEngine == nil {
		return fmt.Errorf("suggestion engine not initialized")
	}
	return suggestionEngine.Accept(id)
}

// RejectSuggestion rejects a suggestion on the process-wide engine.
func RejectSuggestion(id string, minutes int) error {
	if suggestionEngine == nil {
		return fmt.Errorf("suggestion engine not initialized")
	}
	suggestionEngine.Reject(id, minutes)
	return nil
}

// RecomputeSuggestions forces an immediate recompute on the process-wide engine.
func RecomputeSuggestions() {
	if suggestionEngine == nil {
		return
	}
	suggestionEngine.Recompute()
}

// ResetSuggestionEngine rebinds the process-wide suggestion engine to the
// given CTC system, discarding previous state (including rejections).
func ResetSuggestionEngine(ctc *CTCSystem) {
	suggestionEngine = NewSuggestionEngine(ctc)
}

// MarshalJSON lets Suggestions serialize cleanly in events, hiding the
// unexported ctc backreference.
func (s Suggestions) MarshalJSON() ([]byte, error) {
	type aux struct {
		Items       []Suggestion `json:"items"`
		GeneratedAt Time         `json:"generatedAt"`
	}
	return json.Marshal(aux{Items: s.Items, GeneratedAt: s.GeneratedAt})
}
