// File: session/conn.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state owned by the registry. Application code never
// holds a *Conn across calls; it addresses connections by id through the
// registry, so a connection can be torn down while other code still
// holds its id.

package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/tagsock/api"
	"github.com/momentics/tagsock/protocol"
)

// TransferTicket is the one pending upload/download announcement a
// connection may hold. A second announcement before the paired binary
// frame arrives overwrites the first (last-announcement-wins; known
// limitation, not a queue).
type TransferTicket struct {
	mu       sync.Mutex
	pending  bool
	filename string
	mimeType string
}

// Announce stashes transfer metadata for the next binary message.
func (t *TransferTicket) Announce(filename, mimeType string) {
	t.mu.Lock()
	t.pending = true
	t.filename = filename
	t.mimeType = mimeType
	t.mu.Unlock()
}

// Take returns and clears the stashed metadata, if any.
func (t *TransferTicket) Take() (filename, mimeType string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending {
		return "", "", false
	}
	t.pending = false
	return t.filename, t.mimeType, true
}

// Conn holds the engine-side state of one accepted connection.
type Conn struct {
	id        string
	signature string
	netConn   net.Conn
	remote    string
	asm       *protocol.Assembler

	// Transfer is the per-connection two-phase transfer stash.
	Transfer TransferTicket

	lastPong atomic.Int64 // unix nanoseconds

	writeMu sync.Mutex

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id, signature string, nc net.Conn, asm *protocol.Assembler) *Conn {
	c := &Conn{
		id:        id,
		signature: signature,
		netConn:   nc,
		asm:       asm,
		timers:    make(map[*time.Timer]struct{}),
		done:      make(chan struct{}),
	}
	if nc != nil && nc.RemoteAddr() != nil {
		c.remote = nc.RemoteAddr().String()
	}
	c.TouchPong()
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Signature returns the HMAC signature issued at accept time. It is
// immutable for the lifetime of the connection.
func (c *Conn) Signature() string { return c.signature }

// RemoteAddr returns the remote address for log context.
func (c *Conn) RemoteAddr() string { return c.remote }

// Assembler returns the connection's defragmentation state.
func (c *Conn) Assembler() *protocol.Assembler { return c.asm }

// WriteRaw writes an already-encoded frame. Writes on one connection are
// serialized so concurrent sends cannot interleave frame bytes.
func (c *Conn) WriteRaw(data []byte) error {
	select {
	case <-c.done:
		return api.ErrNotConnected
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.netConn.Write(data)
	return err
}

// TouchPong records liveness from the peer.
func (c *Conn) TouchPong() {
	c.lastPong.Store(time.Now().UnixNano())
}

// LastPong returns the time of the last observed pong.
func (c *Conn) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// AfterFunc schedules a deferred write tracked by the connection. The
// callback never fires after Close; teardown stops every pending timer
// before the socket is released.
func (c *Conn) AfterFunc(d time.Duration, fn func()) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.timerMu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.timerMu.Unlock()
		if live {
			fn()
		}
	})
	c.timers[t] = struct{}{}
}

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close tears the connection down exactly once: pending timers are
// stopped and forgotten first, then the socket is closed. The ordering
// is mandatory so a fired timer can never touch a half-destroyed
// connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.timerMu.Lock()
		for t := range c.timers {
			t.Stop()
			delete(c.timers, t)
		}
		c.timerMu.Unlock()
		err = c.netConn.Close()
	})
	return err
}
