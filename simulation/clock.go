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

import (
	"fmt"
	"sync"
	"time"

	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	// baseTickInterval is the simulated advance applied on every tick
	// regardless of rate multiplier.
	baseTickInterval = 100 * time.Millisecond
	// MinRate and MaxRate bound the allowed clock multiplier.
	MinRate = 1.0
	MaxRate = 10.0
)

var clockLogger log.Logger

func init() {
	clockLogger = log.Root().New("module", "clock")
}

// Tick is the payload broadcast to every Clock subscriber once per tick.
type Tick struct {
	SimTime     Time
	WallElapsed time.Duration
}

// Clock is the single source of simulated time for the whole core. Only
// the tick goroutine writes to its internal state; all other access is
// through the exported, mutex-guarded methods: one writer, many readers.
type Clock struct {
	mu         sync.RWMutex
	startOfDay time.Time
	elapsed    time.Duration
	multiplier float64
	started    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	subMu       sync.Mutex
	subscribers map[chan Tick]bool
}

// NewClock creates a Clock whose simulated day starts at startOfDay.
func NewClock(startOfDay time.Time) *Clock {
	return &Clock{
		startOfDay:  startOfDay,
		multiplier:  1.0,
		subscribers: make(map[chan Tick]bool),
	}
}

// Now returns the current simulated time.
func (c *Clock) Now() Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Time{c.startOfDay.Add(c.elapsed)}
}

// IsStarted reports whether the clock is currently ticking.
func (c *Clock) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// SetRate sets the wall-clock speed multiplier. A multiplier outside
// [MinRate, MaxRate] is rejected with an INVALID_INPUT error and the rate
// is left unchanged.
func (c *Clock) SetRate(multiplier float64) error {
	if multiplier < MinRate || multiplier > MaxRate {
		return fmt.Errorf("INVALID_INPUT: rate multiplier %.2f outside [%.1f, %.1f]", multiplier, MinRate, MaxRate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.multiplier = multiplier
	return nil
}

// Subscribe returns a buffered channel fed one Tick per simulated tick.
// A slow subscriber has its oldest buffered tick dropped rather than
// blocking the clock goroutine.
func (c *Clock) Subscribe() <-chan Tick {
	ch := make(chan Tick, 8)
	c.subMu.Lock()
	c.subscribers[ch] = true
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (c *Clock) Unsubscribe(ch <-chan Tick) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subscribers {
		if sub == ch {
			delete(c.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (c *Clock) broadcast(tick Tick) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- tick:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- tick:
			default:
			}
		}
	}
}

// Start begins ticking if not already started.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()
	clockLogger.Info("Clock started")
	go c.run()
}

// Pause stops ticking; no further Tick events are emitted until Start is
// called again.
func (c *Clock) Pause() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()
	close(stopCh)
	<-doneCh
	clockLogger.Info("Clock paused")
}

func (c *Clock) run() {
	defer close(c.doneCh)
	for {
		c.mu.RLock()
		interval := time.Duration(float64(baseTickInterval) / c.multiplier)
		stopCh := c.stopCh
		c.mu.RUnlock()

		timer := time.NewTimer(interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			c.mu.Lock()
			c.elapsed += baseTickInterval
			now := Time{c.startOfDay.Add(c.elapsed)}
			c.mu.Unlock()
			c.broadcast(Tick{SimTime: now, WallElapsed: interval})
		}
	}
}
