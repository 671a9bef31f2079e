package server

import (
	"sync"
	"time"

	"github.com/ts2/ts2ctc/simulation"
)

// Defaults/tuning for realtime KPIs
const (
	defaultCountWindow = 60 * time.Minute
)

type kpiSnapshot struct {
	ts                   time.Time
	utilization          float64
	emergencies          int
	plcFaults            int
	waysideHolds         int
	closuresActive       int
	suggestionsAccepted  int
	suggestionsIgnored   int
	suggestionsOverridden int
	performance          float64
}

type metricsState struct {
	mu sync.RWMutex

	emergencies  []time.Time
	plcFaults    []time.Time
	waysideHolds []time.Time

	closuresActive int

	accepted    []time.Time
	ignored     []time.Time
	overridden  []time.Time

	snapshots []kpiSnapshot
}

var metrics = &metricsState{}

// updateMetrics folds a simulation.Event into the rolling KPI windows.
// It is registered as one of CTCSystem's event sinks alongside the audit
// log and websocket broadcaster (server.Run).
func updateMetrics(e *simulation.Event) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	now := time.Now().UTC()
	switch e.Name {
	case simulation.EmergencyDetectedEvent:
		if trains, ok := e.Object.([]string); ok {
			for range trains {
				metrics.emergencies = append(metrics.emergencies, now)
			}
		}
		trimLocked(&metrics.emergencies)
	case simulation.WaysideCycleEvent:
		fields, ok := e.Object.(map[string]interface{})
		if !ok {
			return
		}
		if holds, ok := fields["holds"].([]simulation.BlockKey); ok && len(holds) > 0 {
			metrics.waysideHolds = append(metrics.waysideHolds, now)
			trimLocked(&metrics.waysideHolds)
		}
	case simulation.ClosureExecutedEvent:
		metrics.closuresActive++
	case simulation.OpeningExecutedEvent:
		if metrics.closuresActive > 0 {
			metrics.closuresActive--
		}
	case simulation.PLCFaultEvent:
		metrics.plcFaults = append(metrics.plcFaults, now)
		trimLocked(&metrics.plcFaults)
	}
}

func recordSuggestionOutcome(kind string) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	now := time.Now().UTC()
	switch kind {
	case "accept":
		metrics.accepted = append(metrics.accepted, now)
	case "ignore":
		metrics.ignored = append(metrics.ignored, now)
	case "override":
		metrics.overridden = append(metrics.overridden, now)
	}
}

func trimLocked(ts *[]time.Time) {
	cutoff := time.Now().UTC().Add(-defaultCountWindow)
	i := 0
	for ; i < len(*ts); i++ {
		if (*ts)[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		*ts = append([]time.Time{}, (*ts)[i:]...)
	}
}

func takeSnapshot() {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	occupied, total := 0, 0
	for _, b := range ctc.TrackModel.AllBlocks() {
		total++
		if b.Occupied() {
			occupied++
		}
	}
	util := 0.0
	if total > 0 {
		util = float64(occupied) * 100.0 / float64(total)
	}

	performance := 100.0 - float64(len(metrics.emergencies))*10.0 - float64(len(metrics.plcFaults))*5.0
	if performance < 0 {
		performance = 0
	}

	snap := kpiSnapshot{
		ts:                    time.Now().UTC(),
		utilization:           util,
		emergencies:           len(metrics.emergencies),
		plcFaults:             len(metrics.plcFaults),
		waysideHolds:          len(metrics.waysideHolds),
		closuresActive:        metrics.closuresActive,
		suggestionsAccepted:   len(metrics.accepted),
		suggestionsIgnored:    len(metrics.ignored),
		suggestionsOverridden: len(metrics.overridden),
		performance:           performance,
	}
	metrics.snapshots = append(metrics.snapshots, snap)
	if len(metrics.snapshots) > 1440 {
		metrics.snapshots = metrics.snapshots[len(metrics.snapshots)-1440:]
	}
}

func startMetricsTicker() {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		for range ticker.C {
			takeSnapshot()
		}
	}()
}

func aggregateKPIs(rangeDur time.Duration) (kpiSnapshot, kpiSnapshot) {
	metrics.mu.RLock()
	defer metrics.mu.RUnlock()
	if len(metrics.snapshots) == 0 {
		return kpiSnapshot{ts: time.Now().UTC()}, kpiSnapshot{}
	}
	cutoff := time.Now().UTC().Add(-rangeDur)
	var agg kpiSnapshot
	aggCount := 0
	for _, s := range metrics.snapshots {
		if s.ts.Before(cutoff) {
			continue
		}
		agg.utilization += s.utilization
		agg.emergencies += s.emergencies
		agg.plcFaults += s.plcFaults
		agg.waysideHolds += s.waysideHolds
		agg.closuresActive += s.closuresActive
		agg.suggestionsAccepted += s.suggestionsAccepted
		agg.suggestionsIgnored += s.suggestionsIgnored
		agg.suggestionsOverridden += s.suggestionsOverridden
		agg.performance += s.performance
		aggCount++
	}
	if aggCount > 0 {
		agg.utilization /= float64(aggCount)
		agg.closuresActive /= aggCount
		agg.performance /= float64(aggCount)
	}

	if len(metrics.snapshots) < 10 {
		return agg, kpiSnapshot{}
	}
	n := len(metrics.snapshots)
	w := n / 10
	if w < 1 {
		w = 1
	}
	cur := averageSlice(metrics.snapshots[n-w:])
	prev := averageSlice(metrics.snapshots[max(0, n-2*w):n-w])
	trend := kpiSnapshot{
		utilization: cur.utilization - prev.utilization,
		emergencies: cur.emergencies - prev.emergencies,
		plcFaults:   cur.plcFaults - prev.plcFaults,
		performance: cur.performance - prev.performance,
	}
	return agg, trend
}

func averageSlice(ss []kpiSnapshot) kpiSnapshot {
	var a kpiSnapshot
	if len(ss) == 0 {
		return a
	}
	for _, s := range ss {
		a.utilization += s.utilization
		a.emergencies += s.emergencies
		a.plcFaults += s.plcFaults
		a.performance += s.performance
	}
	a.utilization /= float64(len(ss))
	a.emergencies /= len(ss)
	a.plcFaults /= len(ss)
	a.performance /= float64(len(ss))
	return a
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
