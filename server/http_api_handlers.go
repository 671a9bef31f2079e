package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ts2/ts2ctc/simulation"
)

// GET /api/analytics/kpis
func serveKPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rangeParam := r.URL.Query().Get("timeRange")
	var dur time.Duration
	switch rangeParam {
	case "1h":
		dur = time.Hour
	case "6h":
		dur = 6 * time.Hour
	case "1d":
		dur = 24 * time.Hour
	case "1w":
		dur = 7 * 24 * time.Hour
	default:
		dur = 24 * time.Hour
	}
	agg, trend := aggregateKPIs(dur)
	resp := map[string]interface{}{
		"timeRange": rangeParam,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"kpis": map[string]interface{}{
			"utilization":           agg.utilization,
			"emergencies":           agg.emergencies,
			"plcFaults":             agg.plcFaults,
			"waysideHolds":          agg.waysideHolds,
			"closuresActive":        agg.closuresActive,
			"suggestionsAccepted":   agg.suggestionsAccepted,
			"suggestionsIgnored":    agg.suggestionsIgnored,
			"suggestionsOverridden": agg.suggestionsOverridden,
			"performance":           agg.performance,
		},
		"trends": map[string]interface{}{
			"utilization": map[string]interface{}{"change": trend.utilization, "direction": trendDirection(trend.utilization)},
			"emergencies": map[string]interface{}{"change": trend.emergencies, "direction": trendDirectionFloat(-float64(trend.emergencies))},
			"plcFaults":   map[string]interface{}{"change": trend.plcFaults, "direction": trendDirectionFloat(-float64(trend.plcFaults))},
			"performance": map[string]interface{}{"change": trend.performance, "direction": trendDirection(trend.performance)},
		},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func trendDirection(v float64) string {
	if v >= 0 {
		return "UP"
	}
	return "DOWN"
}
func trendDirectionFloat(v float64) string { return trendDirection(v) }

// GET /api/analytics/historical
func serveKPIHistorical(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metric := r.URL.Query().Get("metric")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "hourly"
	}
	metrics.mu.RLock()
	snaps := append([]kpiSnapshot{}, metrics.snapshots...)
	metrics.mu.RUnlock()
	series := make([]map[string]interface{}, 0, len(snaps))
	for _, s := range snaps {
		v := 0.0
		switch metric {
		case "utilization":
			v = s.utilization
		case "emergencies":
			v = float64(s.emergencies)
		case "plcFaults":
			v = float64(s.plcFaults)
		case "waysideHolds":
			v = float64(s.waysideHolds)
		case "closuresActive":
			v = float64(s.closuresActive)
		default:
			v = s.performance
		}
		series = append(series, map[string]interface{}{"t": s.ts.Format(time.RFC3339), "v": v})
	}
	resp := map[string]interface{}{"metric": metric, "period": period, "series": series}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// POST /api/simulation/whatif
func serveWhatIf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	agg, _ := aggregateKPIs(24 * time.Hour)
	predictions := map[string]interface{}{
		"utilization":     agg.utilization * 1.02,
		"emergencies":     agg.emergencies,
		"recommendations": []string{"Review closures scheduled near peak utilization blocks"},
	}
	resp := map[string]interface{}{
		"scenarioId":  "scenario_" + time.Now().UTC().Format("20060102150405"),
		"predictions": predictions,
		"confidence":  0.75,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// GET /api/ai/hints
func serveAIHints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ctc == nil {
		http.Error(w, "CTC system not initialized", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("recompute") == "1" {
		simulation.RecomputeSuggestions()
	}
	if ctc.Suggestions == nil {
		simulation.RecomputeSuggestions()
	}
	type hint struct {
		ID              string                 `json:"id"`
		Type            string                 `json:"type"`
		Priority        string                 `json:"priority"`
		Message         string                 `json:"message"`
		Reasoning       string                 `json:"reasoning"`
		Confidence      int                    `json:"confidence"`
		SuggestedAction map[string]interface{} `json:"suggestedAction"`
	}
	hints := []hint{}
	if ctc.Suggestions != nil {
		for _, s := range ctc.Suggestions.Items {
			prio := "MEDIUM"
			if s.Score >= 15 {
				prio = "HIGH"
			} else if s.Score < 5 {
				prio = "LOW"
			}
			sa := map[string]interface{}{}
			if len(s.Actions) > 0 {
				sa = map[string]interface{}{
					"type":   strings.ToUpper(s.Actions[0].Action),
					"object": s.Actions[0].Object,
					"params": s.Actions[0].Params,
				}
			}
			hints = append(hints, hint{
				ID:              s.ID,
				Type:            "OPTIMIZATION",
				Priority:        prio,
				Message:         s.Title,
				Reasoning:       s.Reason,
				Confidence:      int(80+s.Score) % 100,
				SuggestedAction: sa,
			})
		}
	}
	resp := map[string]interface{}{"hints": hints, "nextUpdate": time.Now().UTC().Add(3 * time.Minute).Format(time.RFC3339)}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// POST /api/ai/hints/{hintId}/respond
func serveAIHintRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/ai/hints/"), "/respond")
	var body struct {
		Response       string                 `json:"response"`
		OverrideAction map[string]interface{} `json:"overrideAction"`
		DismissMinutes int                    `json:"dismissMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	switch strings.ToUpper(body.Response) {
	case "ACCEPT":
		_ = simulation.AcceptSuggestion(hid)
		recordSuggestionOutcome("accept")
	case "DISMISS":
		if body.DismissMinutes <= 0 {
			body.DismissMinutes = 10
		}
		_ = simulation.RejectSuggestion(hid, body.DismissMinutes)
		recordSuggestionOutcome("ignore")
	case "OVERRIDE":
		recordSuggestionOutcome("override")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"status":"OK"}`))
}

// POST /api/simulation/restart
// Restarts the simulation by reloading the track layout from disk and
// re-wiring a fresh CTCSystem/CommunicationHandler pair via the Rebuild
// hook handed to Run (cmd/ts2ctc is the only place that knows how a line
// maps to a PLC program, so the reload logic lives there, not here).
func serveSimulationRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rebuild == nil {
		http.Error(w, "Restart unavailable", http.StatusServiceUnavailable)
		return
	}
	wasStarted := clk.IsStarted()
	clk.Pause()

	freshCTC, freshComm, err := rebuild()
	if err != nil {
		http.Error(w, "Failed to rebuild simulation", http.StatusInternalServerError)
		return
	}
	ctc = freshCTC
	comm = freshComm
	ctc.AddEventSink(simulation.EventSinkFunc(recordAuditFromEvent))
	ctc.AddEventSink(simulation.EventSinkFunc(updateMetrics))
	ctc.AddEventSink(simulation.EventSinkFunc(broadcastEvent))
	simulation.ResetSuggestionEngine(ctc)

	autoStart := wasStarted
	if r.URL.Query().Get("autoStart") == "1" {
		autoStart = true
	}
	if autoStart {
		clk.Start()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"status":"OK"}`))
}

// GET /api/audit/logs?sinceId=123&limit=200
func serveAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	sinceParam := q.Get("sinceId")
	limitParam := q.Get("limit")
	var sinceID int64
	var err error
	if sinceParam != "" {
		sinceID, err = strconv.ParseInt(sinceParam, 10, 64)
		if err != nil {
			http.Error(w, "Bad sinceId", http.StatusBadRequest)
			return
		}
	}
	limit := 200
	if limitParam != "" {
		if l, err2 := strconv.Atoi(limitParam); err2 == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	logs := audits.getSince(sinceID, limit)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": logs})
}

// GET /api/audit/stream (Server-Sent Events)
func serveAuditStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := audits.subscribe()
	defer audits.unsubscribe(ch)
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	enc := json.NewEncoder(w)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: audit\ndata: "))
			_ = enc.Encode(e)
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(":hb\n\n"))
			flusher.Flush()
		}
	}
}
