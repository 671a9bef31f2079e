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

//go:generate statik -src=../static

package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rakyll/statik/fs"
	_ "github.com/ts2/ts2ctc/server/statik"
	"github.com/ts2/ts2ctc/simulation"
	"github.com/ts2/ts2ctc/simulation/telemetry"
	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	DefaultAddr       string = "0.0.0.0"
	DefaultPort       string = "22222"
	MaxHubStartupTime        = 3 * time.Second
	// tickBudget is the wall-clock budget one tick cycle is allowed before
	// it counts as an overrun for telemetry.TickOverrunTotal.
	tickBudget = 100 * time.Millisecond
)

var (
	ctc  *simulation.CTCSystem
	clk  *simulation.Clock
	comm *simulation.CommunicationHandler
	rebuild func() (*simulation.CTCSystem, *simulation.CommunicationHandler, error)

	logger log.Logger
)

// InitializeLogger creates the logger for the server module.
func InitializeLogger(parentLogger log.Logger) {
	logger = parentLogger.New("module", "server")
}

// Deps bundles the wired core that cmd/ts2ctc assembles and hands to Run.
// Rebuild reloads the track layout from disk and re-wires a brand new
// CTCSystem/CommunicationHandler pair (config.Loader, PLC registry, and
// wayside controller construction all live in cmd/ts2ctc, which is the
// only place that knows how a line maps to a PLC program).
type Deps struct {
	CTC     *simulation.CTCSystem
	Clock   *simulation.Clock
	Comm    *simulation.CommunicationHandler
	Rebuild func() (*simulation.CTCSystem, *simulation.CommunicationHandler, error)
}

// Run starts the websocket hub and HTTP server for the given wired core.
func Run(d Deps, addr, port string) {
	logger.Info("Starting server")
	ctc = d.CTC
	clk = d.Clock
	comm = d.Comm
	rebuild = d.Rebuild

	ctc.AddEventSink(simulation.EventSinkFunc(recordAuditFromEvent))
	ctc.AddEventSink(simulation.EventSinkFunc(updateMetrics))
	ctc.AddEventSink(simulation.EventSinkFunc(broadcastEvent))

	simulation.ResetSuggestionEngine(ctc)
	startMetricsTicker()
	startTickLoop()

	hubUp := make(chan bool)
	timer := time.After(MaxHubStartupTime)
	go hub.run(hubUp)
	select {
	case <-hubUp:
		HttpdStart(addr, port)
		os.Exit(1)
	case <-timer:
		log.Crit("Hub did not start")
		os.Exit(1)
	}
}

// broadcastEvent fans a simulation.Event out to every connected client,
// skipping the high-frequency ClockEvent (clients poll time via dump).
func broadcastEvent(e *simulation.Event) {
	if e.Name == simulation.ClockEvent {
		return
	}
	data, err := json.Marshal(e.Object)
	if err != nil {
		logger.Debug("Failed to marshal event for broadcast", "event", e.Name, "error", err)
		return
	}
	payload, _ := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: string(e.Name), Data: data})
	hub.Broadcast(Response{Status: "event", Data: payload})
}

// startTickLoop subscribes to the Clock and drives one CTC/wayside cycle
// per tick, timing each cycle for the telemetry package.
func startTickLoop() {
	ticks := clk.Subscribe()
	go func() {
		for t := range ticks {
			start := time.Now()
			ctc.Tick(t.SimTime)
			comm.SendTrainCommands(t.SimTime)
			for _, wc := range comm.AllWaysideControllers() {
				wc.UpdateCycle(t.SimTime)
			}
			telemetry.ObserveTick(time.Since(start), tickBudget)
		}
	}()
}

// HttpdStart serves the following routes:
//
//    /        - HTTP home page with server status and a WebSocket client.
//    /ws      - WebSocket endpoint for dispatcher clients.
//    /metrics - Prometheus scrape endpoint.
func HttpdStart(addr, port string) {
	statikFS, err := fs.New()
	if err != nil {
		logger.Crit("Unable to read statik FS", "error", err)
		return
	}
	http.Handle("/static/", http.StripPrefix("/static/", http.FileServer(statikFS)))

	homeTemplFile, err := statikFS.Open("/index.html")
	if err != nil {
		logger.Crit("Unable to read index.html from statikFS", "error", err)
		return
	}
	homeTemplData, err := ioutil.ReadAll(homeTemplFile)
	if err != nil {
		logger.Crit("Unable to open `index.html`", "error", err)
		return
	}
	homeTempl = template.Must(template.New("").Parse(string(homeTemplData)))

	http.HandleFunc("/", serveHome)
	http.HandleFunc("/ws", serveWs)
	http.HandleFunc("/api/suggestions", serveSuggestions)
	http.Handle("/metrics", promhttp.Handler())
	installHTTPAPI()

	serverAddress := fmt.Sprintf("%s:%s", addr, port)
	logger.Info("Starting HTTP", "submodule", "http", "address", serverAddress)
	err = http.ListenAndServe(serverAddress, nil)
	logger.Crit("HTTP crashed", "submodule", "http", "error", err)
}

// serveHome serves the home page with an integrated JS WebSocket client.
func serveHome(w http.ResponseWriter, r *http.Request) {
	logger.Debug("New HTTP connection", "submodule", "http", "remote", r.RemoteAddr)
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Title       string
		Description string
		Host        string
	}{
		ctc.Options.Title,
		ctc.Options.Description,
		"ws://" + r.Host + "/ws",
	}
	homeTempl.Execute(w, data)
}

var homeTempl *template.Template

// serveSuggestions returns the current suggestions as JSON.
func serveSuggestions(w http.ResponseWriter, r *http.Request) {
	logger.Debug("New HTTP suggestions request", "submodule", "http", "remote", r.RemoteAddr)
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("recompute") == "1" {
		simulation.RecomputeSuggestions()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	snapshot := ctc.Suggestions
	if snapshot == nil {
		_, _ = w.Write([]byte(`{"items":[],"generatedAt":""}`))
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
