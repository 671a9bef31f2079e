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

// Package telemetry exposes Prometheus metrics for the simulation core's
// tick loop, complementing the server package's own rolling KPI snapshot
// with counters an external scraper can alert on.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TickLatency records how long one system tick (CTC + command fan-out +
// wayside cycles) took to process.
var TickLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ts2ctc",
	Subsystem: "clock",
	Name:      "tick_duration_seconds",
	Help:      "Wall-clock duration of one simulated tick's full processing cycle.",
	Buckets:   prometheus.DefBuckets,
})

// TickOverrunTotal counts ticks whose processing time exceeded the base
// tick interval, which would otherwise silently fall behind real time.
var TickOverrunTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ts2ctc",
	Subsystem: "clock",
	Name:      "tick_overrun_total",
	Help:      "Number of ticks whose processing took longer than the base tick interval.",
})

// PLCFaultTotal counts PLC_FAULT occurrences per line.
var PLCFaultTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ts2ctc",
	Subsystem: "wayside",
	Name:      "plc_fault_total",
	Help:      "Number of PLC program faults caught per line.",
}, []string{"line"})

// EmergencyTotal counts emergency detections per train.
var EmergencyTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ts2ctc",
	Subsystem: "ctc",
	Name:      "emergency_detected_total",
	Help:      "Number of times CheckForEmergencies flagged a stationary train.",
})

func init() {
	prometheus.MustRegister(TickLatency, TickOverrunTotal, PLCFaultTotal, EmergencyTotal)
}

// ObserveTick records a tick's processing duration and bumps the overrun
// counter if it exceeded budget.
func ObserveTick(d time.Duration, budget time.Duration) {
	TickLatency.Observe(d.Seconds())
	if d > budget {
		TickOverrunTotal.Inc()
	}
}
