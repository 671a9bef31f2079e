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

package server

import (
	"encoding/json"
	"fmt"

	"github.com/ts2/ts2ctc/simulation"
)

// simulationObject controls the master Clock and reports a dump of the
// live CTC system, addressed as object "simulation".
type simulationObject struct{}

type dumpPayload struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Version     string        `json:"version"`
	CurrentTime string        `json:"currentTime"`
	Running     bool          `json:"running"`
	Blocks      []interface{} `json:"blocks"`
	Trains      []interface{} `json:"trains"`
}

// dispatch processes requests made on the simulation object.
func (s *simulationObject) dispatch(h *Hub, req Request, conn *connection) {
	ch := conn.pushChan
	logger.Debug("Request for simulation received", "submodule", "hub", "object", req.Object, "action", req.Action)
	switch req.Action {
	case "start":
		clk.Start()
		ch <- NewOkResponse(req.ID, "Simulation started successfully")
	case "pause":
		clk.Pause()
		ch <- NewOkResponse(req.ID, "Simulation paused successfully")
	case "restart":
		if rebuild == nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("restart unavailable: no rebuild hook wired"))
			return
		}
		wasStarted := clk.IsStarted()
		clk.Pause()

		freshCTC, freshComm, err := rebuild()
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("failed to rebuild simulation: %s", err))
			return
		}
		ctc = freshCTC
		comm = freshComm
		ctc.AddEventSink(simulation.EventSinkFunc(recordAuditFromEvent))
		ctc.AddEventSink(simulation.EventSinkFunc(updateMetrics))
		ctc.AddEventSink(simulation.EventSinkFunc(broadcastEvent))
		simulation.ResetSuggestionEngine(ctc)

		autoStart := wasStarted
		if req.Params != nil {
			var params map[string]interface{}
			if err := json.Unmarshal(req.Params, &params); err == nil {
				if v, ok := params["autoStart"].(bool); ok {
					autoStart = v
				}
			}
		}
		if autoStart {
			clk.Start()
			ch <- NewOkResponse(req.ID, "Simulation restarted and started successfully")
		} else {
			ch <- NewOkResponse(req.ID, "Simulation restarted successfully")
		}
	case "isStarted":
		j, err := json.Marshal(clk.IsStarted())
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, RawJSON(j))
	case "dump":
		blocks := make([]interface{}, 0)
		for _, b := range ctc.TrackModel.AllBlocks() {
			blocks = append(blocks, b.Snapshot())
		}
		trains := make([]interface{}, 0)
		for _, t := range ctc.Trains() {
			trains = append(trains, t)
		}
		payload := dumpPayload{
			Title:       ctc.Options.Title,
			Description: ctc.Options.Description,
			Version:     ctc.Options.Version,
			CurrentTime: ctc.Options.CurrentTime.Time.Format("15:04:05"),
			Running:     clk.IsStarted(),
			Blocks:      blocks,
			Trains:      trains,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, data)
	default:
		ch <- NewErrorResponse(req.ID, fmt.Errorf("unknown action %s/%s", req.Object, req.Action))
		logger.Debug("Request for unknown action received", "submodule", "hub", "object", req.Object, "action", req.Action)
	}
}

var _ hubObject = new(simulationObject)

func init() {
	hub.objects["simulation"] = new(simulationObject)
}
