package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ts2/ts2ctc/simulation"
)

// AuditEntry represents a single audit log item sent to FE
type AuditEntry struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Event     string                 `json:"event"`
	Category  string                 `json:"category"`
	Severity  string                 `json:"severity"`
	Object    map[string]interface{} `json:"object"`
	Details   map[string]interface{} `json:"details"`
}

type auditState struct {
	mu          sync.RWMutex
	entries     []AuditEntry
	capacity    int
	nextID      int64
	subscribers map[chan AuditEntry]bool
}

var audits = &auditState{}

func init() {
	// default capacity for audit ring buffer
	audits.capacity = 1000
	audits.entries = make([]AuditEntry, 0, audits.capacity)
	audits.subscribers = make(map[chan AuditEntry]bool)
}

func (a *auditState) append(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// assign ID and timestamp if missing
	a.nextID++
	entry.ID = strconv.FormatInt(a.nextID, 10)
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if len(a.entries) == a.capacity {
		// drop the oldest (ring buffer behavior)
		copy(a.entries[0:], a.entries[1:])
		a.entries[len(a.entries)-1] = entry
	} else {
		a.entries = append(a.entries, entry)
	}
	// broadcast non-blocking to subscribers
	for ch := range a.subscribers {
		select {
		case ch <- entry:
		default:
			// drop if subscriber is slow
		}
	}
}

func (a *auditState) subscribe() chan AuditEntry {
	ch := make(chan AuditEntry, 256)
	a.mu.Lock()
	a.subscribers[ch] = true
	a.mu.Unlock()
	return ch
}

func (a *auditState) unsubscribe(ch chan AuditEntry) {
	a.mu.Lock()
	delete(a.subscribers, ch)
	a.mu.Unlock()
	close(ch)
}

// getSince returns up to limit entries with ID strictly greater than sinceID
func (a *auditState) getSince(sinceID int64, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AuditEntry, 0, limit)
	for i := 0; i < len(a.entries); i++ {
		id, _ := strconv.ParseInt(a.entries[i].ID, 10, 64)
		if id > sinceID {
			out = append(out, a.entries[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// recordAuditFromEvent converts a simulation event to an AuditEntry and appends it
func recordAuditFromEvent(e *simulation.Event) {
	if e == nil {
		return
	}
	entry := AuditEntry{
		Severity: "INFO",
		Object:   map[string]interface{}{},
		Details:  map[string]interface{}{},
	}
	switch e.Name {
	case simulation.RouteActivatedEvent:
		entry.Event = "ROUTE_ACTIVATED"
		entry.Category = "route"
		if r, ok := e.Object.(*simulation.Route); ok {
			entry.Object["id"] = r.ID()
			entry.Details["trainId"] = r.TrainID
			entry.Details["startBlock"] = r.StartBlock.String()
			entry.Details["endBlock"] = r.EndBlock.String()
		}
	case simulation.RouteDeactivatedEvent:
		entry.Event = "ROUTE_DEACTIVATED"
		entry.Category = "route"
		if r, ok := e.Object.(*simulation.Route); ok {
			entry.Object["id"] = r.ID()
			entry.Details["actualArrival"] = r.ActualArrival()
		}
	case simulation.ClosureScheduledEvent:
		entry.Event = "CLOSURE_SCHEDULED"
		entry.Category = "maintenance"
		if c, ok := e.Object.(*simulation.ScheduledClosure); ok {
			entry.Object["id"] = c.ID
			entry.Details["line"] = c.Line
			entry.Details["block"] = c.BlockNumber
			entry.Details["scheduledTime"] = c.ScheduledTime
			entry.Details["status"] = c.Status
		}
	case simulation.ClosureExecutedEvent:
		entry.Event = "CLOSURE_EXECUTED"
		entry.Category = "maintenance"
		entry.Severity = "WARN"
		if b, ok := e.Object.(*simulation.Block); ok {
			entry.Object["id"] = b.Key.String()
		}
	case simulation.OpeningExecutedEvent:
		entry.Event = "OPENING_EXECUTED"
		entry.Category = "maintenance"
		if b, ok := e.Object.(*simulation.Block); ok {
			entry.Object["id"] = b.Key.String()
		}
	case simulation.WaysideCycleEvent:
		if fields, ok := e.Object.(map[string]interface{}); ok {
			holds, _ := fields["holds"].([]simulation.BlockKey)
			if len(holds) == 0 {
				return
			}
			entry.Event = "WAYSIDE_HOLD"
			entry.Category = "wayside"
			entry.Severity = "WARN"
			entry.Object["line"] = fields["line"]
			entry.Details["holds"] = holds
		}
	case simulation.EmergencyDetectedEvent:
		entry.Event = "EMERGENCY_DETECTED"
		entry.Category = "safety"
		entry.Severity = "CRITICAL"
		if trains, ok := e.Object.([]string); ok {
			entry.Details["trains"] = trains
		}
	case simulation.PLCFaultEvent:
		entry.Event = "PLC_FAULT"
		entry.Category = "wayside"
		entry.Severity = "CRITICAL"
		if fields, ok := e.Object.(map[string]interface{}); ok {
			entry.Object["line"] = fields["line"]
			entry.Details["err"] = fields["err"]
		}
	case simulation.TrainStoppedAtStationEvent:
		entry.Event = "TRAIN_STOPPED_AT_STATION"
		entry.Category = "train"
		if t, ok := e.Object.(*simulation.Train); ok {
			entry.Object["id"] = t.ID()
			entry.Details["block"] = t.CurrentBlock.String()
		}
	case simulation.TrainDepartedFromStationEvent:
		entry.Event = "TRAIN_DEPARTED_FROM_STATION"
		entry.Category = "train"
		if t, ok := e.Object.(*simulation.Train); ok {
			entry.Object["id"] = t.ID()
			entry.Details["block"] = t.CurrentBlock.String()
		}
	case simulation.SuggestionsUpdatedEvent:
		entry.Event = "SUGGESTIONS_UPDATED"
		entry.Category = "dispatch"
		if s, ok := e.Object.(simulation.Suggestions); ok {
			entry.Details["count"] = len(s.Items)
		}
	case simulation.MessageReceivedEvent:
		entry.Event = "MESSAGE_RECEIVED"
		entry.Category = "system"
		b, _ := json.Marshal(e.Object)
		entry.Details["message"] = strings.TrimSpace(string(b))
	default:
		// ignore very chatty events that fire every tick
		if e.Name == simulation.ClockEvent || e.Name == simulation.TrainChangedEvent || e.Name == simulation.BlockChangedEvent {
			return
		}
		entry.Event = strings.ToUpper(string(e.Name))
		entry.Category = "system"
	}
	audits.append(entry)
}
