// File: client/reconnect.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded reconnection and connection-check polling. Both mechanisms
// share the attempt ceiling; exceeding it permanently gives up and
// clears the timer.

package client

import (
	"time"

	"github.com/momentics/tagsock/api"
)

// scheduleReconnect arms one reconnect attempt after ReconnectInterval.
// Attempts beyond the ceiling stop the retry loop for good.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() || c.reconnectTimer != nil {
		return
	}
	c.reconnecting = true
	if c.reconnectAttempts >= c.cfg.RetryCeiling {
		c.log.Printf("%v: ceiling of %d attempts reached, giving up", api.ErrRetriesExceeded, c.cfg.RetryCeiling)
		c.reconnecting = false
		return
	}
	c.reconnectAttempts++
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		if c.closed.Load() {
			return
		}
		if err := c.Connection(""); err != nil {
			c.log.Printf("reconnect attempt %d: %v", c.reconnectAttempts, err)
			c.scheduleReconnect()
		}
	})
}

// endReconnection resets the retry state after the server confirmed the
// new connection, and notifies the connection-check callback.
func (c *Client) endReconnection() {
	c.mu.Lock()
	wasReconnecting := c.reconnecting
	c.reconnecting = false
	c.reconnectAttempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	cb := c.checkCB
	c.mu.Unlock()

	if wasReconnecting && cb != nil {
		cb("reconnection")
	}
}

// CheckConnection notifies cb("connection") once the socket reaches the
// open state, polling at CheckInterval up to the attempt ceiling, after
// which polling stops silently. After a successful reconnect the same
// callback receives "reconnection".
func (c *Client) CheckConnection(cb func(mode string)) {
	c.mu.Lock()
	if c.checkCB == nil {
		c.checkCB = cb
	}
	cb = c.checkCB
	c.mu.Unlock()

	if c.connected.Load() {
		c.resetCheck()
		cb("connection")
		return
	}

	c.mu.Lock()
	if c.checkStop != nil || c.closed.Load() {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.checkStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.checkAttempts++
				exceeded := c.checkAttempts > c.cfg.RetryCeiling
				c.mu.Unlock()
				if exceeded {
					c.resetCheck()
					return
				}
				if c.connected.Load() {
					c.resetCheck()
					cb("connection")
					return
				}
			}
		}
	}()
}

// resetCheck stops the polling goroutine and resets the counter.
func (c *Client) resetCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkStop != nil {
		close(c.checkStop)
		c.checkStop = nil
	}
	c.checkAttempts = 0
}
