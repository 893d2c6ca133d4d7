// File: client/config.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import "time"

// Config holds all configurable parameters for the WebSocket client.
type Config struct {
	Address           string        // WebSocket URL or bare host:port
	RetryCeiling      int           // max reconnect / connection-check attempts
	ReconnectInterval time.Duration // gap between reconnect attempts
	CheckInterval     time.Duration // gap between connection-check polls
	HandshakeTimeout  time.Duration // dial + upgrade deadline
	MaxMessageSize    int64         // cap on one assembled inbound message
	ReadBufferSize    int           // per-read chunk size
}

// DefaultConfig mirrors the original deployment defaults: a ceiling of
// 25 attempts polled every 5 seconds.
func DefaultConfig() *Config {
	return &Config{
		RetryCeiling:      25,
		ReconnectInterval: 5 * time.Second,
		CheckInterval:     5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    16 << 20,
		ReadBufferSize:    4096,
	}
}
