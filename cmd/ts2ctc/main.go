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

// Command ts2ctc is the composition root: it loads a track layout, wires
// a CTCSystem/CommunicationHandler/wayside-controller fleet around it,
// and serves the result over the websocket hub and HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ts2/ts2ctc/server"
	"github.com/ts2/ts2ctc/simulation"
	"github.com/ts2/ts2ctc/simulation/config"

	log "gopkg.in/inconshreveable/log15.v2"
)

func main() {
	layoutPath := flag.String("layout", "layout.yaml", "path to the track layout YAML file")
	addr := flag.String("addr", server.DefaultAddr, "address to bind the HTTP server to")
	port := flag.String("port", server.DefaultPort, "port to bind the HTTP server to")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := log.Root()
	lvl := log.LvlInfo
	if *debug {
		lvl = log.LvlDebug
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stdout, log.TerminalFormat())))
	server.InitializeLogger(logger)

	ctcSys, clk, comm, err := build(*layoutPath, logger)
	if err != nil {
		logger.Crit("Failed to build CTC system", "error", err)
		os.Exit(1)
	}

	deps := server.Deps{
		CTC:   ctcSys,
		Clock: clk,
		Comm:  comm,
		Rebuild: func() (*simulation.CTCSystem, *simulation.CommunicationHandler, error) {
			rebuiltCTC, _, rebuiltComm, err := build(*layoutPath, logger)
			return rebuiltCTC, rebuiltComm, err
		},
	}
	server.Run(deps, *addr, *port)
}

// build loads the track layout and wires a fresh CTCSystem, Clock, and
// CommunicationHandler, with one WaysideController per line named in the
// layout. Returning a fresh Clock on every call keeps this the single
// place that knows how a line maps to a PLC program, but a restart
// reuses the existing Clock rather than drift simulated time; callers
// that don't need a fresh Clock should discard the second return value.
func build(layoutPath string, logger log.Logger) (*simulation.CTCSystem, *simulation.Clock, *simulation.CommunicationHandler, error) {
	loader := config.NewLoader(layoutPath)
	layout, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	tm := config.BuildTrackModel(layout)
	ctcSys := simulation.NewCTCSystem(tm)
	ctcSys.Options = config.ApplyLayoutOptions(ctcSys.Options, layout)

	comm := simulation.NewCommunicationHandler(ctcSys)

	lines := make(map[string][]simulation.BlockKey)
	for _, b := range layout.Blocks {
		key := simulation.BlockKey{Line: b.Line, ID: b.ID}
		lines[b.Line] = append(lines[b.Line], key)
	}
	for line, blocks := range lines {
		wc, err := simulation.NewWaysideController(line, tm)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build wayside controller for line %s: %w", line, err)
		}
		comm.ProvideWaysideController(line, wc, blocks)
		logger.Info("Wayside controller wired", "line", line, "blocks", len(blocks))
	}

	clk := simulation.NewClock(time.Now())
	return ctcSys, clk, comm, nil
}
