// File: internal/transport/keepalive_linux.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// setProbeOptions applies TCP_KEEPINTVL and TCP_KEEPCNT, which the
// portable net API does not expose.
func setProbeOptions(tc *net.TCPConn, ka KeepAlive) error {
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := raw.Control(func(fd uintptr) {
		if ka.Interval > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(ka.Interval.Seconds()))
			if serr != nil {
				return
			}
		}
		if ka.Count > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Count)
		}
	})
	if cerr != nil {
		return cerr
	}
	return serr
}
