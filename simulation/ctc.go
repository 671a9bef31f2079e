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
	"sort"
	"sync"

	"github.com/ts2/ts2ctc/simulation/telemetry"
	log "gopkg.in/inconshreveable/log15.v2"
)

var ctcLogger log.Logger

func init() {
	ctcLogger = log.Root().New("module", "ctc")
}

// Options holds the tunables for a running simulation, owned explicitly
// by the CTCSystem rather than through package-level globals.
type Options struct {
	Title                      string  `yaml:"title" json:"title"`
	Description                string  `yaml:"description" json:"description"`
	Version                    string  `yaml:"version" json:"version"`
	TimeFactor                 float64 `yaml:"timeFactor" json:"timeFactor"`
	SuggestionsEnabled         bool    `yaml:"suggestionsEnabled" json:"suggestionsEnabled"`
	SuggestionsIntervalMinutes int     `yaml:"suggestionsIntervalMinutes" json:"suggestionsIntervalMinutes"`
	SuggestMaxItems            int     `yaml:"suggestMaxItems" json:"suggestMaxItems"`
	SuggestPredictiveMaxDistanceM float64 `yaml:"suggestPredictiveMaxDistanceM" json:"suggestPredictiveMaxDistanceM"`
	SuggestPredictiveMaxETASeconds float64 `yaml:"suggestPredictiveMaxETASeconds" json:"suggestPredictiveMaxETASeconds"`
	SuggestSafetyBufferSeconds float64 `yaml:"suggestSafetyBufferSeconds" json:"suggestSafetyBufferSeconds"`
	EmergencyStationarySeconds float64 `yaml:"emergencyStationarySeconds" json:"emergencyStationarySeconds"`

	CurrentTime Time `json:"currentTime"`
}

// AmbiguousOccupancyError is returned when an occupancy update cannot be
// uniquely reconciled to a single train.
type AmbiguousOccupancyError struct {
	Block      BlockKey
	Candidates []string
}

func (e *AmbiguousOccupancyError) Error() string {
	return fmt.Sprintf("AMBIGUOUS_OCCUPANCY: block %s has %d candidate trains", e.Block, len(e.Candidates))
}

// OccupancyUpdate is one entry of a wayside occupancy report.
type OccupancyUpdate struct {
	Line     string
	Block    int
	Occupied bool
	TrainID  string
}

// CTCSystem is the central traffic controller. It owns the train, route,
// and block registries and exclusively owns closures and openings, held
// as an explicit struct with no process-wide singleton.
type CTCSystem struct {
	mu sync.RWMutex

	TrackModel   *TrackModel
	RouteManager *RouteManager
	Options      Options

	trains              map[string]*Train
	activeTrainIDs      map[string]bool
	scheduledClosures   []*ScheduledClosure
	scheduledOpenings   []*ScheduledOpening
	maintenanceClosures map[string]map[int]bool

	nextClosureID int

	sinks []EventSink

	Suggestions *Suggestions
	suggestionEngine *SuggestionEngine
}

// NewCTCSystem creates an empty CTC system bound to the given track model.
func NewCTCSystem(tm *TrackModel) *CTCSystem {
	c := &CTCSystem{
		TrackModel:          tm,
		RouteManager:        NewRouteManager(tm),
		trains:              make(map[string]*Train),
		activeTrainIDs:      make(map[string]bool),
		maintenanceClosures: make(map[string]map[int]bool),
		Options: Options{
			SuggestMaxItems:                50,
			SuggestPredictiveMaxDistanceM:  1000,
			SuggestPredictiveMaxETASeconds: 60,
			SuggestSafetyBufferSeconds:     5,
			EmergencyStationarySeconds:     120,
			SuggestionsIntervalMinutes:     3,
		},
	}
	c.suggestionEngine = NewSuggestionEngine(c)
	return c
}

// AddEventSink registers a subscriber that receives every sendEvent call
// (the server Hub, the audit log, the metrics collector).
func (c *CTCSystem) AddEventSink(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

func (c *CTCSystem) sendEvent(e *Event) {
	c.mu.RLock()
	sinks := append([]EventSink(nil), c.sinks...)
	c.mu.RUnlock()
	for _, s := range sinks {
		s.OnEvent(e)
	}
}

// ValidateID reports whether id is a well-formed, unregistered train id.
func (c *CTCSystem) ValidateID(id string) error {
	if !ValidTrainID(id) {
		return fmt.Errorf("INVALID_INPUT: train id %q does not match ^[GR]\\d{3}$", id)
	}
	c.mu.RLock()
	_, exists := c.trains[id]
	c.mu.RUnlock()
	if exists {
		return fmt.Errorf("INVALID_INPUT: train id %q already registered", id)
	}
	return nil
}

// AddTrain registers a new train.
func (c *CTCSystem) AddTrain(t *Train) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trains[t.TrainID] = t
}

// RemoveTrain removes a train from every registry.
func (c *CTCSystem) RemoveTrain(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.trains, id)
	delete(c.activeTrainIDs, id)
}

// Train returns a train by ID, or nil.
func (c *CTCSystem) Train(id string) *Train {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trains[id]
}

// Trains returns every registered train.
func (c *CTCSystem) Trains() map[string]*Train {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*Train, len(c.trains))
	for k, v := range c.trains {
		out[k] = v
	}
	return out
}

// ActiveTrains returns the currently dispatched trains.
func (c *CTCSystem) ActiveTrains() []*Train {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Train, 0, len(c.activeTrainIDs))
	for id := range c.activeTrainIDs {
		if t, ok := c.trains[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainID < out[j].TrainID })
	return out
}

// GenerateRoute delegates route creation to the RouteManager, or fails
// if none is available.
func (c *CTCSystem) GenerateRoute(line string, start, destination BlockKey, blockSequence []BlockKey, scheduledArrival Time) (*Route, error) {
	if c.RouteManager == nil {
		return nil, fmt.Errorf("NOT_FOUND: no route manager available")
	}
	return c.RouteManager.CreateRoute(blockSequence, scheduledArrival)
}

// ActivateRoute binds a route to a train; both must already exist.
func (c *CTCSystem) ActivateRoute(routeID, trainID string) error {
	r := c.RouteManager.Route(routeID)
	if r == nil {
		return fmt.Errorf("NOT_FOUND: route %q", routeID)
	}
	t := c.Train(trainID)
	if t == nil {
		return fmt.Errorf("NOT_FOUND: train %q", trainID)
	}
	r.ActivateRoute(trainID)
	t.SetRouteID(routeID)
	c.sendEvent(&Event{Name: RouteActivatedEvent, Object: r})
	return nil
}

// DispatchTrainFromYard validates the id, registers the train, generates
// a route over blockSequence, and activates it, rolling back on any
// failed step.
func (c *CTCSystem) DispatchTrainFromYard(id, line string, start, destination BlockKey, blockSequence []BlockKey, now Time) (*Route, error) {
	if err := c.ValidateID(id); err != nil {
		return nil, err
	}
	t := NewTrain(id, line, start)
	c.AddTrain(t)

	route, err := c.GenerateRoute(line, start, destination, blockSequence, now)
	if err != nil {
		c.RemoveTrain(id)
		return nil, err
	}

	if err := c.ActivateRoute(route.RouteID, id); err != nil {
		c.RemoveTrain(id)
		return nil, err
	}

	c.mu.Lock()
	c.activeTrainIDs[id] = true
	c.mu.Unlock()
	t.SetActive(true)
	c.refreshNextBlock(t)
	ctcLogger.Info("Train dispatched from yard", "train", id, "line", line, "route", route.RouteID)
	return route, nil
}

// refreshNextBlock recomputes a train's NextBlock from its active
// route's current position, so the next occupancy update crossing into
// that block reconciles back to this train in reconcileEntry.
func (c *CTCSystem) refreshNextBlock(t *Train) {
	rid := t.GetRouteID()
	if rid == "" {
		t.SetNextBlock(nil)
		return
	}
	r := c.RouteManager.Route(rid)
	if r == nil || !r.IsActive() {
		t.SetNextBlock(nil)
		return
	}
	idx := r.CurrentBlockIndex()
	if idx+1 >= len(r.BlockSequence) {
		t.SetNextBlock(nil)
		return
	}
	next := r.BlockSequence[idx+1]
	t.SetNextBlock(&next)
}

// TrainsRoutedThrough implements CanCloseSafelyChecker: returns the IDs
// of active trains whose route still has the block ahead of (or at) the
// current position.
func (c *CTCSystem) TrainsRoutedThrough(key BlockKey) []string {
	var offenders []string
	for _, t := range c.ActiveTrains() {
		rid := t.GetRouteID()
		if rid == "" {
			continue
		}
		r := c.RouteManager.Route(rid)
		if r == nil || !r.IsActive() {
			continue
		}
		if r.RemainingContainsBlock(key) {
			offenders = append(offenders, t.TrainID)
		}
	}
	sort.Strings(offenders)
	return offenders
}

// CloseBlockImmediately calls CanCloseSafely first, succeeding only on
// approval.
func (c *CTCSystem) CloseBlockImmediately(line string, block int, now Time) error {
	key := BlockKey{Line: line, ID: block}
	b := c.TrackModel.Block(key)
	if b == nil {
		return fmt.Errorf("NOT_FOUND: block %s", key)
	}
	if err := b.CanCloseSafely(c); err != nil {
		return err
	}
	b.SetMaintenance(true, now)
	c.mu.Lock()
	if c.maintenanceClosures[line] == nil {
		c.maintenanceClosures[line] = make(map[int]bool)
	}
	c.maintenanceClosures[line][block] = true
	c.mu.Unlock()
	c.sendEvent(&Event{Name: ClosureExecutedEvent, Object: b})
	return nil
}

// OpenBlockImmediately reverses CloseBlockImmediately.
func (c *CTCSystem) OpenBlockImmediately(line string, block int, now Time) error {
	key := BlockKey{Line: line, ID: block}
	b := c.TrackModel.Block(key)
	if b == nil {
		return fmt.Errorf("NOT_FOUND: block %s", key)
	}
	b.SetMaintenance(false, now)
	c.mu.Lock()
	if c.maintenanceClosures[line] != nil {
		delete(c.maintenanceClosures[line], block)
	}
	c.mu.Unlock()
	c.sendEvent(&Event{Name: OpeningExecutedEvent, Object: b})
	return nil
}

// IsUnderMaintenance reports whether a block is currently in the
// maintenance-closures ledger.
func (c *CTCSystem) IsUnderMaintenance(line string, block int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maintenanceClosures[line][block]
}

// ScheduleBlockClosure inserts a scheduled closure, and - if duration is
// non-zero - a paired opening at at+duration. Fails when the block is
// unknown.
func (c *CTCSystem) ScheduleBlockClosure(line string, block int, at Time, duration float64) (*ScheduledClosure, error) {
	key := BlockKey{Line: line, ID: block}
	if c.TrackModel.Block(key) == nil {
		return nil, fmt.Errorf("NOT_FOUND: block %s", key)
	}
	c.mu.Lock()
	c.nextClosureID++
	closure := &ScheduledClosure{
		ID:            fmt.Sprintf("CL%04d", c.nextClosureID),
		Line:          line,
		BlockNumber:   block,
		ScheduledTime: at,
		Status:        StatusScheduled,
	}
	c.scheduledClosures = append(c.scheduledClosures, closure)
	if duration > 0 {
		c.nextClosureID++
		opening := &ScheduledOpening{
			ID:             fmt.Sprintf("OP%04d", c.nextClosureID),
			Line:           line,
			BlockNumber:    block,
			ScheduledTime:  at.Add(durationSeconds(duration)),
			Status:         StatusScheduled,
			RelatedClosure: closure.ID,
		}
		closure.RelatedOpening = opening.ID
		c.scheduledOpenings = append(c.scheduledOpenings, opening)
	}
	c.mu.Unlock()
	c.sendEvent(&Event{Name: ClosureScheduledEvent, Object: closure})
	return closure, nil
}

// CancelScheduledClosure removes matching scheduled entries for (line, block).
func (c *CTCSystem) CancelScheduledClosure(line string, block int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]*ScheduledClosure, 0, len(c.scheduledClosures))
	for _, cl := range c.scheduledClosures {
		if cl.Line == line && cl.BlockNumber == block && cl.Status == StatusScheduled {
			continue
		}
		kept = append(kept, cl)
	}
	c.scheduledClosures = kept
}

// ProcessScheduledClosures executes every scheduled closure whose time
// has arrived.
func (c *CTCSystem) ProcessScheduledClosures(now Time) []string {
	c.mu.RLock()
	due := make([]*ScheduledClosure, 0)
	for _, cl := range c.scheduledClosures {
		if cl.Status == StatusScheduled && !cl.ScheduledTime.After(now) {
			due = append(due, cl)
		}
	}
	c.mu.RUnlock()

	var log []string
	for _, cl := range due {
		if err := c.CloseBlockImmediately(cl.Line, cl.BlockNumber, now); err != nil {
			cl.Status = StatusCancelled
			log = append(log, fmt.Sprintf("closure %s failed: %s", cl.ID, err))
			continue
		}
		cl.Status = StatusActive
		log = append(log, fmt.Sprintf("closure %s executed on %s:%d", cl.ID, cl.Line, cl.BlockNumber))
	}
	return log
}

// ProcessScheduledOpenings executes every scheduled opening whose time
// has arrived.
func (c *CTCSystem) ProcessScheduledOpenings(now Time) []string {
	c.mu.RLock()
	due := make([]*ScheduledOpening, 0)
	for _, op := range c.scheduledOpenings {
		if op.Status == StatusScheduled && !op.ScheduledTime.After(now) {
			due = append(due, op)
		}
	}
	c.mu.RUnlock()

	var log []string
	for _, op := range due {
		_ = c.OpenBlockImmediately(op.Line, op.BlockNumber, now)
		op.Status = StatusActive
		log = append(log, fmt.Sprintf("opening %s executed on %s:%d", op.ID, op.Line, op.BlockNumber))
	}
	return log
}

// ProcessOccupiedBlocks applies a batch of wayside occupancy reports,
// reconciling each entry/exit transition against active trains.
func (c *CTCSystem) ProcessOccupiedBlocks(updates []OccupancyUpdate, now Time) error {
	for _, u := range updates {
		key := BlockKey{Line: u.Line, ID: u.Block}
		b := c.TrackModel.Block(key)
		if b == nil {
			continue
		}
		wasOccupied := b.Occupied()
		b.UpdateOccupation(u.Occupied, now)

		if !wasOccupied && u.Occupied {
			if err := c.reconcileEntry(key, now); err != nil {
				return err
			}
		} else if wasOccupied && !u.Occupied {
			c.reconcileExit(key, now)
		}
	}
	return nil
}

// reconcileEntry handles a false->true occupancy transition: the unique
// train whose NextBlock is this block advances. Its route position moves
// to this block and its NextBlock is recomputed from the route so the
// following entry reconciles to the block after it.
func (c *CTCSystem) reconcileEntry(key BlockKey, now Time) error {
	var candidates []*Train
	for _, t := range c.ActiveTrains() {
		t.mu.RLock()
		next := t.NextBlock
		t.mu.RUnlock()
		if next != nil && *next == key {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) > 1 {
		ids := make([]string, len(candidates))
		for i, t := range candidates {
			ids[i] = t.TrainID
		}
		return &AmbiguousOccupancyError{Block: key, Candidates: ids}
	}
	if len(candidates) == 1 {
		t := candidates[0]
		t.UpdateMovementHistory(key, now)
		if rid := t.GetRouteID(); rid != "" {
			if r := c.RouteManager.Route(rid); r != nil {
				r.UpdateLocation(key)
			}
		}
		c.refreshNextBlock(t)
	}
	return nil
}

// reconcileExit handles a true->false occupancy transition. It changes no
// train or route state: the block's own occupancy has already been
// updated by ProcessOccupiedBlocks, and movement history advances in
// reconcileEntry when the train enters its next block.
func (c *CTCSystem) reconcileExit(key BlockKey, now Time) {
	for _, t := range c.ActiveTrains() {
		if t.CurrentBlockKey() == key && t.Active() {
			// the train has moved on; movement history was already
			// updated by reconcileEntry on the block it entered.
			return
		}
	}
}

// CheckForEmergencies returns the IDs of active trains stationary too
// long.
func (c *CTCSystem) CheckForEmergencies(now Time) []string {
	var offenders []string
	for _, t := range c.ActiveTrains() {
		if t.IsStationaryTooLong(now, c.Options.EmergencyStationarySeconds) {
			offenders = append(offenders, t.TrainID)
		}
	}
	if len(offenders) > 0 {
		telemetry.EmergencyTotal.Add(float64(len(offenders)))
		c.sendEvent(&Event{Name: EmergencyDetectedEvent, Object: offenders})
	}
	return offenders
}

// CommandFrame is the per-line frame computed for a wayside controller.
type CommandFrame struct {
	Line              string
	SuggestedSpeed    []int
	Authority         []int
	BlockNum          []int
	UpdateBlockInQueue []int
	NextStation       []int
	BlocksAway        []int
}

// BuildCommandFrames computes one CommandFrame for each of the Green and
// Red lines that has blocks in the track model, whether or not a route is
// active on it, and fills in authority/speed by delegating to each
// train's active route.
func (c *CTCSystem) BuildCommandFrames() []CommandFrame {
	byLine := make(map[string]*CommandFrame)
	for _, line := range []string{"Green", "Red"} {
		total := c.TrackModel.TotalBlocks(line)
		if total == 0 {
			continue
		}
		ids := c.TrackModel.BlockIDsForLine(line)
		f := &CommandFrame{
			Line:               line,
			SuggestedSpeed:     make([]int, total),
			Authority:          make([]int, total),
			BlockNum:           append([]int(nil), ids...),
			UpdateBlockInQueue: make([]int, total),
			NextStation:        make([]int, total),
			BlocksAway:         make([]int, total),
		}
		byLine[line] = f
	}

	for _, t := range c.ActiveTrains() {
		rid := t.GetRouteID()
		if rid == "" {
			continue
		}
		r := c.RouteManager.Route(rid)
		if r == nil || !r.IsActive() {
			continue
		}
		f, ok := byLine[t.Line]
		if !ok {
			continue
		}
		authority, speed := r.CalculateAuthoritySpeed(c.TrackModel)
		for i, key := range r.BlockSequence {
			idx := indexOf(f.BlockNum, key.ID)
			if idx < 0 {
				continue
			}
			f.Authority[idx] = authority[i]
			f.SuggestedSpeed[idx] = speed[i]
			f.UpdateBlockInQueue[idx] = 1
		}
	}

	out := make([]CommandFrame, 0, len(byLine))
	for _, line := range []string{"Green", "Red"} {
		if f, ok := byLine[line]; ok {
			out = append(out, *f)
		}
	}
	return out
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Tick drains scheduled closures/openings, checks for emergencies, and
// returns the computed command frames for the CommunicationHandler to
// fan out.
func (c *CTCSystem) Tick(now Time) []CommandFrame {
	c.mu.Lock()
	c.Options.CurrentTime = now
	c.mu.Unlock()

	c.ProcessScheduledClosures(now)
	c.ProcessScheduledOpenings(now)
	c.CheckForEmergencies(now)

	if c.suggestionEngine != nil {
		c.suggestionEngine.RecomputeIfDue()
	}

	frames := c.BuildCommandFrames()
	c.sendEvent(&Event{Name: ClockEvent, Object: now})
	return frames
}
