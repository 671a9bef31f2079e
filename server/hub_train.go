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

package server

import (
	"encoding/json"
	"fmt"

	"github.com/ts2/ts2ctc/simulation"
)

// trainObject lists and dispatches trains, addressed as object "train".
type trainObject struct{}

type blockKeyParam struct {
	Line  string `json:"line"`
	Block int    `json:"block"`
}

func (p blockKeyParam) key() simulation.BlockKey {
	return simulation.BlockKey{Line: p.Line, ID: p.Block}
}

func (t *trainObject) dispatch(h *Hub, req Request, conn *connection) {
	ch := conn.pushChan
	switch req.Action {
	case "list":
		data, err := json.Marshal(ctc.Trains())
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, data)
	case "get":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("unparsable request: %s (%s)", err, req.Params))
			return
		}
		tr := ctc.Train(p.ID)
		if tr == nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("NOT_FOUND: no train %q", p.ID))
			return
		}
		data, err := json.Marshal(tr)
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, data)
	case "dispatch":
		var p struct {
			ID            string          `json:"id"`
			Line          string          `json:"line"`
			Start         blockKeyParam   `json:"start"`
			Destination   blockKeyParam   `json:"destination"`
			BlockSequence []blockKeyParam `json:"blockSequence"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("unparsable request: %s (%s)", err, req.Params))
			return
		}
		seq := make([]simulation.BlockKey, len(p.BlockSequence))
		for i, b := range p.BlockSequence {
			seq[i] = b.key()
		}
		route, err := ctc.DispatchTrainFromYard(p.ID, p.Line, p.Start.key(), p.Destination.key(), seq, clk.Now())
		if err != nil {
			ch <- NewErrorResponse(req.ID, err)
			return
		}
		data, err := json.Marshal(route)
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, data)
	case "activateRoute":
		var p struct {
			RouteID string `json:"routeId"`
			TrainID string `json:"trainId"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("unparsable request: %s (%s)", err, req.Params))
			return
		}
		if err := ctc.ActivateRoute(p.RouteID, p.TrainID); err != nil {
			ch <- NewErrorResponse(req.ID, err)
			return
		}
		ch <- NewOkResponse(req.ID, "Route activated")
	default:
		ch <- NewErrorResponse(req.ID, fmt.Errorf("unknown action %s/%s", req.Object, req.Action))
		logger.Debug("Request for unknown action received", "submodule", "hub", "object", req.Object, "action", req.Action)
	}
}

var _ hubObject = new(trainObject)

func init() {
	hub.objects["train"] = new(trainObject)
}
