// File: server/options.go
// Package server defines functional options for the Server engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log"
	"time"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithPingInterval overrides the liveness ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		s.cfg.PingInterval = d
	}
}

// WithMaxMessageSize overrides the assembled-message cap.
func WithMaxMessageSize(n int64) Option {
	return func(s *Server) {
		s.cfg.MaxMessageSize = n
	}
}

// WithReadBufferSize overrides the per-read chunk size.
func WithReadBufferSize(n int) Option {
	return func(s *Server) {
		s.cfg.ReadBufferSize = n
	}
}
