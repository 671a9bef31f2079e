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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Request is the wire shape of every message a client sends over the
// WebSocket: an object/action pair plus opaque parameters, addressed by a
// client-chosen ID so responses can be correlated out of order.
type Request struct {
	ID     string          `json:"id"`
	Object string          `json:"object"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire shape of every message the server sends back for a
// Request, or pushes unprompted for a broadcast Event.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Msg    string          `json:"msg,omitempty"`
}

// RawJSON wraps an already-encoded JSON document so it can be attached to
// a Response without a second marshal/unmarshal round trip.
func RawJSON(data []byte) json.RawMessage {
	return json.RawMessage(data)
}

// NewResponse builds a success Response carrying data.
func NewResponse(id string, data json.RawMessage) Response {
	return Response{ID: id, Status: "ok", Data: data}
}

// NewOkResponse builds a success Response carrying a human-readable message.
func NewOkResponse(id, msg string) Response {
	return Response{ID: id, Status: "ok", Msg: msg}
}

// NewErrorResponse builds a failure Response from an error.
func NewErrorResponse(id string, err error) Response {
	return Response{ID: id, Status: "error", Msg: err.Error()}
}

// hubObject is implemented by every addressable object the hub can
// dispatch requests to ("simulation", "suggestions", "train", "block",
// "closure"). Each lives in its own hub_*.go file.
type hubObject interface {
	dispatch(h *Hub, req Request, conn *connection)
}

// connection wraps one client's WebSocket and the channel its dispatch
// handlers push responses onto, decoupling the hub's broadcast loop from
// a single slow client's write speed.
type connection struct {
	ws       *websocket.Conn
	pushChan chan Response
	hub      *Hub
}

func (c *connection) writePump() {
	for resp := range c.pushChan {
		if err := c.ws.WriteJSON(resp); err != nil {
			logger.Debug("Write to client failed", "submodule", "hub", "error", err)
			return
		}
	}
}

func (c *connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			logger.Debug("Read from client failed", "submodule", "hub", "error", err)
			return
		}
		c.hub.requests <- hubRequest{req: req, conn: c}
	}
}

type hubRequest struct {
	req  Request
	conn *connection
}

// Hub fans out simulation Events to every connected client and dispatches
// inbound Requests to the addressed hubObject. It is the only goroutine
// that touches `connections`, `objects` reads aside, keeping the hub a
// single-writer loop.
type Hub struct {
	objects map[string]hubObject

	connections map[*connection]bool
	register    chan *connection
	unregister  chan *connection
	requests    chan hubRequest
	broadcast   chan Response
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newHub creates an empty Hub; hubObjects register themselves into
// hub.objects from their own init() functions, one per file, keyed by
// object name.
func newHub() *Hub {
	return &Hub{
		objects:     make(map[string]hubObject),
		connections: make(map[*connection]bool),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		requests:    make(chan hubRequest, 64),
		broadcast:   make(chan Response, 64),
	}
}

// hub is the process-wide websocket hub. Every hub_*.go file registers
// its object into hub.objects from its own init().
var hub = newHub()

// run is the hub's single event loop; hubUp is closed once it is ready to
// accept connections (mirrors Run's MaxHubStartupTime handshake).
func (h *Hub) run(hubUp chan bool) {
	close(hubUp)
	for {
		select {
		case c := <-h.register:
			h.connections[c] = true
		case c := <-h.unregister:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.pushChan)
			}
		case hr := <-h.requests:
			obj, ok := h.objects[hr.req.Object]
			if !ok {
				hr.conn.pushChan <- NewErrorResponse(hr.req.ID, fmt.Errorf("unknown object %q", hr.req.Object))
				continue
			}
			obj.dispatch(h, hr.req, hr.conn)
		case resp := <-h.broadcast:
			for c := range h.connections {
				select {
				case c.pushChan <- resp:
				default:
					logger.Warn("Dropping broadcast to slow client", "submodule", "hub")
				}
			}
		}
	}
}

// Broadcast pushes a Response to every connected client without waiting
// for a Request (used for simulation.Event fan-out).
func (h *Hub) Broadcast(resp Response) {
	select {
	case h.broadcast <- resp:
	case <-time.After(time.Second):
		logger.Warn("Hub broadcast channel full, dropping event", "submodule", "hub")
	}
}

// serveWs upgrades an HTTP connection to a WebSocket and wires it into
// the hub's read/write pumps.
func serveWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket upgrade failed", "submodule", "http", "error", err)
		return
	}
	c := &connection{ws: ws, pushChan: make(chan Response, 16), hub: hub}
	hub.register <- c
	go c.writePump()
	c.readPump()
}
