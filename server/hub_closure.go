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

// closureObject schedules and cancels planned block closures, addressed
// as object "closure".
type closureObject struct{}

func (c *closureObject) dispatch(h *Hub, req Request, conn *connection) {
	ch := conn.pushChan
	switch req.Action {
	case "schedule":
		var p struct {
			Line     string  `json:"line"`
			Block    int     `json:"block"`
			At       string  `json:"at"`
			Duration float64 `json:"duration"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("unparsable request: %s (%s)", err, req.Params))
			return
		}
		var at simulation.Time
		if err := json.Unmarshal([]byte(`"`+p.At+`"`), &at); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("INVALID_INPUT: unparsable time %q", p.At))
			return
		}
		sc, err := ctc.ScheduleBlockClosure(p.Line, p.Block, at, p.Duration)
		if err != nil {
			ch <- NewErrorResponse(req.ID, err)
			return
		}
		data, err := json.Marshal(sc)
		if err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("internal error: %s", err))
			return
		}
		ch <- NewResponse(req.ID, data)
	case "cancel":
		var p blockKeyParam
		if err := json.Unmarshal(req.Params, &p); err != nil {
			ch <- NewErrorResponse(req.ID, fmt.Errorf("unparsable request: %s (%s)", err, req.Params))
			return
		}
		ctc.CancelScheduledClosure(p.Line, p.Block)
		ch <- NewOkResponse(req.ID, "Closure cancelled")
	default:
		ch <- NewErrorResponse(req.ID, fmt.Errorf("unknown action %s/%s", req.Object, req.Action))
		logger.Debug("Request for unknown action received", "submodule", "hub", "object", req.Object, "action", req.Action)
	}
}

var _ hubObject = new(closureObject)

func init() {
	hub.objects["closure"] = new(closureObject)
}
