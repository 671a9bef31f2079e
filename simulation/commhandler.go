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

	log "gopkg.in/inconshreveable/log15.v2"
)

var commLogger log.Logger

func init() {
	commLogger = log.Root().New("module", "commhandler")
}

// TrainCommand is the authority/speed pair delivered to a single train,
// addressed by block so the wayside can route it without knowing which
// train currently sits there.
type TrainCommand struct {
	Block          BlockKey
	Authority      int
	SuggestedSpeed int
}

// CommunicationHandler is the single channel between the CTC system and
// every wayside controller. It owns the controller->block mapping and
// exposes CalculateAuthorityAndSpeed for a single train's authority/speed.
type CommunicationHandler struct {
	mu sync.RWMutex

	ctc                  *CTCSystem
	waysideControllers   map[string]*WaysideController // line -> controller
	controllerBlockMapping map[string][]BlockKey        // line -> owned blocks
}

// NewCommunicationHandler creates a handler bound to a CTC system.
func NewCommunicationHandler(ctc *CTCSystem) *CommunicationHandler {
	return &CommunicationHandler{
		ctc:                    ctc,
		waysideControllers:     make(map[string]*WaysideController),
		controllerBlockMapping: make(map[string][]BlockKey),
	}
}

// ProvideWaysideController registers the controller responsible for a
// line and the blocks it owns.
func (h *CommunicationHandler) ProvideWaysideController(line string, wc *WaysideController, blocks []BlockKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waysideControllers[line] = wc
	h.controllerBlockMapping[line] = append([]BlockKey(nil), blocks...)
	wc.commHandler = h
	commLogger.Info("Wayside controller registered", "line", line, "blocks", len(blocks))
}

// WaysideControllerFor returns the controller owning a line, or nil.
func (h *CommunicationHandler) WaysideControllerFor(line string) *WaysideController {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waysideControllers[line]
}

// AllWaysideControllers returns every registered controller keyed by line,
// used by the per-tick driver to run each controller's cycle after command
// frames have been sent.
func (h *CommunicationHandler) AllWaysideControllers() map[string]*WaysideController {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*WaysideController, len(h.waysideControllers))
	for k, v := range h.waysideControllers {
		out[k] = v
	}
	return out
}

// CalculateAuthorityAndSpeed returns a train's authority/suggested speed
// at its current route position. It delegates entirely to the train's
// active route (Route.CalculateAuthoritySpeed), the same function
// CTCSystem.BuildCommandFrames uses for the per-tick frames, so both give
// the same numbers. Neither BuildCommandFrames nor
// CTCSystem.DispatchTrainFromYard calls this method.
func (h *CommunicationHandler) CalculateAuthorityAndSpeed(trainID string) (authority int, speed int, err error) {
	t := h.ctc.Train(trainID)
	if t == nil {
		return 0, 0, fmt.Errorf("NOT_FOUND: train %q", trainID)
	}
	rid := t.GetRouteID()
	if rid == "" {
		return 0, 0, fmt.Errorf("INVALID_INPUT: train %q has no active route", trainID)
	}
	r := h.ctc.RouteManager.Route(rid)
	if r == nil || !r.IsActive() {
		return 0, 0, fmt.Errorf("INVALID_INPUT: route %q is not active", rid)
	}
	authorities, speeds := r.CalculateAuthoritySpeed(h.ctc.TrackModel)
	idx := r.CurrentBlockIndex()
	if idx >= len(authorities) {
		return 0, 0, fmt.Errorf("INVALID_INPUT: train %q route has no remaining blocks", trainID)
	}
	return authorities[idx], speeds[idx], nil
}

// SendTrainCommands computes and returns the command frames to forward to
// every registered wayside controller. It is the CTC-facing half of the
// per-tick cycle; UpdateCycle on each WaysideController is the
// wayside-facing half.
func (h *CommunicationHandler) SendTrainCommands(now Time) []CommandFrame {
	frames := h.ctc.BuildCommandFrames()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range frames {
		if wc, ok := h.waysideControllers[frames[i].Line]; ok {
			wc.ReceiveCTCCommand(frames[i])
		}
	}
	return frames
}

// UpdateOccupiedBlocks applies its authorization filter: a controller may
// only report occupancy for blocks it was registered to own. Any unowned
// entry is dropped and makes the whole call return UNAUTHORIZED_SENDER,
// even though the owned entries in the same batch still reach the CTC.
func (h *CommunicationHandler) UpdateOccupiedBlocks(line string, updates []OccupancyUpdate, now Time) error {
	h.mu.RLock()
	owned := h.controllerBlockMapping[line]
	h.mu.RUnlock()

	ownedSet := make(map[BlockKey]bool, len(owned))
	for _, k := range owned {
		ownedSet[k] = true
	}
	filtered := make([]OccupancyUpdate, 0, len(updates))
	rejected := 0
	for _, u := range updates {
		key := BlockKey{Line: u.Line, ID: u.Block}
		if !ownedSet[key] {
			commLogger.Warn("Rejected occupancy update for unowned block", "line", line, "block", key)
			rejected++
			continue
		}
		filtered = append(filtered, u)
	}
	if err := h.ctc.ProcessOccupiedBlocks(filtered, now); err != nil {
		return err
	}
	if rejected > 0 {
		return fmt.Errorf("UNAUTHORIZED_SENDER: controller for line %q reported %d block(s) outside its coverage", line, rejected)
	}
	return nil
}
