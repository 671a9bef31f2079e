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

package simulation

// EventName identifies the kind of change being broadcast to subscribers
// (the server Hub, the audit log, the metrics collector).
type EventName string

const (
	ClockEvent                    EventName = "clock"
	BlockChangedEvent             EventName = "blockChanged"
	RouteActivatedEvent           EventName = "routeActivated"
	RouteDeactivatedEvent         EventName = "routeDeactivated"
	TrainChangedEvent             EventName = "trainChanged"
	TrainStoppedAtStationEvent    EventName = "trainStoppedAtStation"
	TrainDepartedFromStationEvent EventName = "trainDepartedFromStation"
	SuggestionsUpdatedEvent       EventName = "suggestionsUpdated"
	MessageReceivedEvent          EventName = "messageReceived"
	ClosureScheduledEvent         EventName = "closureScheduled"
	ClosureExecutedEvent          EventName = "closureExecuted"
	OpeningExecutedEvent          EventName = "openingExecuted"
	WaysideCycleEvent             EventName = "waysideCycle"
	EmergencyDetectedEvent        EventName = "emergencyDetected"
	PLCFaultEvent                 EventName = "plcFault"
)

// Event is the generic envelope broadcast by every subsystem that mutates
// shared state. The server Hub fans these out over the WebSocket, the
// audit log converts them to AuditEntry rows, and the metrics collector
// folds them into rolling KPIs.
type Event struct {
	Name   EventName
	Object interface{}
}

// SimObject is implemented by anything that can identify itself for
// event serialization (blocks, routes, trains, suggestions).
type SimObject interface {
	ID() string
}

// EventSink receives events. CTCSystem.sendEvent fans out to every
// registered sink (server Hub, audit log, metrics).
type EventSink interface {
	OnEvent(e *Event)
}

// EventSinkFunc adapts a plain function to an EventSink.
type EventSinkFunc func(e *Event)

// OnEvent implements EventSink.
func (f EventSinkFunc) OnEvent(e *Event) {
	f(e)
}
