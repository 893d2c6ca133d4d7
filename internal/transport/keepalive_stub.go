// File: internal/transport/keepalive_stub.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package transport

import "net"

// setProbeOptions is a no-op where per-probe socket options are not
// portable; SetKeepAlivePeriod from Tune still applies.
func setProbeOptions(_ *net.TCPConn, _ KeepAlive) error {
	return nil
}
