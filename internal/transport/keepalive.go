// File: internal/transport/keepalive.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP keepalive tuning for upgraded sockets. The frame-level ping/pong
// supervisor detects dead peers at the application layer; kernel
// keepalive backs it up when a peer vanishes without a FIN.

package transport

import (
	"net"
	"time"
)

// KeepAlive holds kernel keepalive probe parameters.
type KeepAlive struct {
	Idle     time.Duration // idle time before the first probe
	Interval time.Duration // gap between probes
	Count    int           // failed probes before the kernel gives up
}

// DefaultKeepAlive matches twice the default ping interval so the kernel
// never races the application-level supervisor.
func DefaultKeepAlive() KeepAlive {
	return KeepAlive{Idle: 50 * time.Second, Interval: 10 * time.Second, Count: 3}
}

// Tune enables keepalive on a TCP connection and applies the probe
// parameters where the platform supports it. Non-TCP connections (test
// pipes) are left untouched.
func Tune(conn net.Conn, ka KeepAlive) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	if err := tc.SetKeepAlivePeriod(ka.Idle); err != nil {
		return err
	}
	return setProbeOptions(tc, ka)
}
