package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ts2/ts2ctc/simulation"
)

// GET /api/trains
func serveTrains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"trains": ctc.Trains()})
}

// GET /api/trains/{id}
func serveTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/trains/")
	t := ctc.Train(id)
	if t == nil {
		http.Error(w, "TRAIN_NOT_FOUND", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(t)
}

// GET /api/blocks
func serveBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	blocks := ctc.TrackModel.AllBlocks()
	snapshots := make([]simulation.BlockSnapshot, len(blocks))
	for i, b := range blocks {
		snapshots[i] = b.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"blocks": snapshots})
}

// PUT /api/blocks/{line}/{id}/maintenance  {"action":"close"|"open"}
func serveBlockMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/blocks/"), "/maintenance")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	line := parts[0]
	blockID, err := parseBlockID(parts[1])
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	switch strings.ToUpper(body.Action) {
	case "CLOSE":
		err = ctc.CloseBlockImmediately(line, blockID, clk.Now())
	case "OPEN":
		err = ctc.OpenBlockImmediately(line, blockID, clk.Now())
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"status":"OK"}`))
}

func parseBlockID(s string) (int, error) {
	return strconv.Atoi(s)
}

// GET /api/system/overview
func serveSystemOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ctc == nil {
		http.Error(w, "CTC system not initialized", http.StatusServiceUnavailable)
		return
	}

	blocks := ctc.TrackModel.AllBlocks()
	occupied := 0
	for _, b := range blocks {
		if b.Occupied() {
			occupied++
		}
	}
	util := 0.0
	if len(blocks) > 0 {
		util = float64(occupied) * 100.0 / float64(len(blocks))
	}

	activeTrains := ctc.ActiveTrains()

	resp := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"system": map[string]interface{}{
			"title":       ctc.Options.Title,
			"description": ctc.Options.Description,
			"version":     ctc.Options.Version,
			"currentTime": ctc.Options.CurrentTime.Time.Format("15:04:05"),
			"timeFactor":  ctc.Options.TimeFactor,
			"running":     clk.IsStarted(),
		},
		"totals": map[string]interface{}{
			"blocks": len(blocks),
			"trains": map[string]int{"total": len(ctc.Trains()), "active": len(activeTrains)},
		},
		"occupancy": map[string]interface{}{
			"blocksTotal":    len(blocks),
			"blocksOccupied": occupied,
			"utilization":    util,
		},
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func installHTTPAPI() {
	http.HandleFunc("/api/trains", serveTrains)
	http.HandleFunc("/api/trains/", serveTrain)
	http.HandleFunc("/api/blocks", serveBlocks)
	http.HandleFunc("/api/blocks/", serveBlockMaintenance)
	http.HandleFunc("/api/system/overview", serveSystemOverview)
	http.HandleFunc("/api/analytics/kpis", serveKPI)
	http.HandleFunc("/api/analytics/historical", serveKPIHistorical)
	http.HandleFunc("/api/simulation/whatif", serveWhatIf)
	http.HandleFunc("/api/simulation/restart", serveSimulationRestart)
	http.HandleFunc("/api/ai/hints", serveAIHints)
	http.HandleFunc("/api/ai/hints/", serveAIHintRespond)
	http.HandleFunc("/api/audit/logs", serveAuditLogs)
	http.HandleFunc("/api/audit/stream", serveAuditStream)
}
