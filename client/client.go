// File: client/client.go
// Package client provides the single-connection role of the tag-routed
// messaging layer: a reconnecting WebSocket client speaking the same
// envelope protocol as the server engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client performs the RFC 6455 handshake over bare TCP, masks every
// outbound frame, answers transport-level pings transparently and the
// application-level "ping" tag with "pong", and schedules bounded
// reconnect attempts when the socket drops.

package client

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/tagsock/api"
	"github.com/momentics/tagsock/internal/transport"
	"github.com/momentics/tagsock/protocol"
	"github.com/momentics/tagsock/router"
	"github.com/momentics/tagsock/session"
)

// DownloadCallback receives one paired binary download.
type DownloadCallback func(data []byte, filename string)

// Send modes, matching the server surface.
const (
	ModeText   = "text"
	ModeBinary = "binary"
)

// transferAnnounceGap separates an upload announcement from its binary
// payload.
const transferAnnounceGap = 100 * time.Millisecond

// Client is the single-connection engine role.
type Client struct {
	cfg    *Config
	log    *log.Logger
	router *router.Router

	download   session.TransferTicket
	downloadCB atomic.Pointer[DownloadCallback]

	mu        sync.Mutex
	conn      net.Conn
	epoch     chan struct{} // closed when the current connection dies
	id        string
	connected atomic.Bool
	closed    atomic.Bool

	writeMu sync.Mutex

	reconnectAttempts int
	reconnectTimer    *time.Timer
	reconnecting      bool

	checkAttempts int
	checkStop     chan struct{}
	checkCB       func(mode string)

	timers map[*time.Timer]struct{}
}

// New constructs a Client. The application-level ping tag is answered
// with pong out of the box.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{
		cfg:    cfg,
		log:    log.New(os.Stderr, "tagsock/client: ", log.LstdFlags),
		router: router.New(),
		timers: make(map[*time.Timer]struct{}),
	}
	c.router.Register(router.TagPing, router.HandlerFunc(func(_ any, _ string) {
		if err := c.SendData(ModeText, "ok", router.TagPong, 0); err != nil {
			c.log.Printf("pong reply: %v", err)
		}
	}))
	return c
}

// SetLogger replaces the default stderr logger.
func (c *Client) SetLogger(l *log.Logger) { c.log = l }

// Connection dials address (or the configured one when empty), performs
// the upgrade handshake, and starts the read loop. It blocks until the
// handshake completes or fails.
func (c *Client) Connection(address string) error {
	if c.closed.Load() {
		return api.ErrNotConnected
	}
	c.mu.Lock()
	if address != "" {
		c.cfg.Address = address
	}
	addr := c.cfg.Address
	c.mu.Unlock()

	conn, br, err := c.dialAndHandshake(addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.epoch = make(chan struct{})
	epoch := c.epoch
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Printf("connection open to %s", addr)

	go c.readLoop(conn, br, epoch)
	return nil
}

// dialAndHandshake performs one TCP dial and WebSocket upgrade.
func (c *Client) dialAndHandshake(addr string) (net.Conn, *bufio.Reader, error) {
	host, path := splitAddress(addr)

	conn, err := net.DialTimeout("tcp", host, c.cfg.HandshakeTimeout)
	if err != nil {
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))

	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		conn.Close()
		return nil, nil, err
	}
	secKey := base64.StdEncoding.EncodeToString(keyBytes)
	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n",
		path, host, secKey,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", api.ErrBadHandshake, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: status %d", api.ErrBadHandshake, resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != protocol.AcceptKey(secKey) {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: accept key mismatch", api.ErrBadHandshake)
	}

	_ = conn.SetDeadline(time.Time{})
	if err := transport.Tune(conn, transport.DefaultKeepAlive()); err != nil {
		c.log.Printf("keepalive tuning: %v", err)
	}
	return conn, br, nil
}

// readLoop drains one connection epoch. Server frames arrive unmasked.
func (c *Client) readLoop(conn net.Conn, br *bufio.Reader, epoch chan struct{}) {
	asm := protocol.NewAssembler(false, c.cfg.MaxMessageSize)
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			msgs, perr := asm.Push(buf[:n])
			for _, m := range msgs {
				if c.handleMessage(m) {
					c.handleDisconnect(conn, epoch)
					return
				}
			}
			if perr != nil {
				c.log.Printf("protocol error: %v", perr)
				c.handleDisconnect(conn, epoch)
				return
			}
		}
		if err != nil {
			c.handleDisconnect(conn, epoch)
			return
		}
	}
}

// handleMessage processes one assembled message. Returns true when the
// connection must be torn down.
func (c *Client) handleMessage(m protocol.Message) bool {
	switch m.Opcode {
	case protocol.OpcodePing:
		if frame, err := protocol.EncodeFrame(protocol.OpcodePong, m.Payload, true); err == nil {
			_ = c.writeRaw(frame)
		}
	case protocol.OpcodePong:
		// Transport-level liveness is the server's concern.
	case protocol.OpcodeClose:
		if frame, err := protocol.EncodeFrame(protocol.OpcodeClose, nil, true); err == nil {
			_ = c.writeRaw(frame)
		}
		return true
	case protocol.OpcodeText:
		c.handleText(m.Payload)
	default:
		c.handleBinary(m.Payload)
	}
	return false
}

// handleText decodes the envelope, applies reserved tags, and routes.
func (c *Client) handleText(payload []byte) {
	env, ok := router.DecodeEnvelope(payload)
	if !ok {
		return
	}
	decoded := router.DecodePayload(env.Data)

	switch env.Tag {
	case router.Namespaced(router.TagClientIDCurrent):
		c.acceptClientID(decoded)
	case router.Namespaced(router.TagDownload):
		filename, mimeType := transferMeta(decoded)
		c.download.Announce(filename, mimeType)
	}

	c.router.Dispatch(env.Tag, decoded, c.ClientID())
}

// acceptClientID stores the server-issued id and emits the first- or
// re-connection notice the server reconciles presence with.
func (c *Client) acceptClientID(decoded any) {
	id, _ := decoded.(string)
	c.mu.Lock()
	first := c.id == ""
	c.id = id
	c.mu.Unlock()

	notice := router.TagClientConnected
	if !first {
		notice = router.TagClientReconnection
	}
	if err := c.SendData(ModeText, "", notice, 0); err != nil {
		c.log.Printf("connection notice: %v", err)
	}
	if !first {
		c.endReconnection()
	}
}

// handleBinary pairs a binary message with the stashed download
// announcement.
func (c *Client) handleBinary(payload []byte) {
	filename, _, ok := c.download.Take()
	if !ok {
		c.log.Printf("unannounced binary message dropped")
		return
	}
	cb := c.downloadCB.Load()
	if cb == nil {
		c.log.Printf("binary download dropped, no download handler")
		return
	}
	(*cb)(payload, filename)
}

// handleDisconnect tears down the current epoch and schedules a
// reconnect attempt unless Close was requested.
func (c *Client) handleDisconnect(conn net.Conn, epoch chan struct{}) {
	c.mu.Lock()
	if c.epoch != epoch {
		// A newer connection already took over.
		c.mu.Unlock()
		return
	}
	close(epoch)
	c.conn = nil
	c.mu.Unlock()

	c.connected.Store(false)
	_ = conn.Close()
	c.clearTimers()

	if c.closed.Load() {
		return
	}
	c.log.Printf("connection close, scheduling reconnect")
	c.scheduleReconnect()
}

// SendData sends one message. Text mode accepts strings and
// JSON-marshalable values; binary mode requires []byte. Sending while
// not connected is an error, not a silent drop.
func (c *Client) SendData(mode string, payload any, tag string, delay time.Duration) error {
	if !c.connected.Load() {
		return api.ErrNotConnected
	}

	var frame []byte
	switch mode {
	case ModeText:
		data, err := router.EncodeText(tag, payload)
		if err != nil {
			return err
		}
		frame, err = protocol.EncodeFrame(protocol.OpcodeText, data, true)
		if err != nil {
			return err
		}
	case ModeBinary:
		b, ok := payload.([]byte)
		if !ok {
			return api.ErrPayloadMode
		}
		var err error
		frame, err = protocol.EncodeFrame(protocol.OpcodeBinary, b, true)
		if err != nil {
			return err
		}
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "unknown send mode").WithContext("mode", mode)
	}

	if delay > 0 {
		c.afterFunc(delay, func() {
			if err := c.writeRaw(frame); err != nil {
				c.log.Printf("deferred write: %v", err)
			}
		})
		return nil
	}
	return c.writeRaw(frame)
}

// writeRaw writes an encoded frame on the current connection. Writes are
// serialized so concurrent sends cannot interleave frame bytes.
func (c *Client) writeRaw(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return api.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := conn.Write(frame)
	return err
}

// ReceiveData registers cb for a bare tag name, replacing any previous
// handler for the same tag.
func (c *Client) ReceiveData(tag string, cb func(payload any)) {
	c.router.Register(tag, router.HandlerFunc(func(payload any, _ string) {
		cb(payload)
	}))
}

// ReceiveDataOff removes the handler for tag; a no-op when absent.
func (c *Client) ReceiveDataOff(tag string) {
	c.router.Unregister(tag)
}

// SendDataBroadcast asks the server to relay payload to every other
// client.
func (c *Client) SendDataBroadcast(payload any) error {
	return c.SendData(ModeText, payload, router.TagBroadcast, 0)
}

// SendDataUpload pushes a file to the server: a metadata announcement on
// the upload tag, then the binary payload after the announce gap.
func (c *Client) SendDataUpload(filename string, data []byte) error {
	meta := map[string]string{"filename": filename}
	if err := c.SendData(ModeText, meta, router.TagUpload, 0); err != nil {
		return err
	}
	return c.SendData(ModeBinary, data, "", transferAnnounceGap)
}

// ReceiveDataDownload registers the callback receiving paired binary
// downloads as (data, filename).
func (c *Client) ReceiveDataDownload(cb DownloadCallback) {
	c.downloadCB.Store(&cb)
}

// ClientID returns the server-issued connection id, empty before the
// first clientId_current notice.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Close shuts the client down permanently: reconnect and check polling
// stop, pending deferred sends are cancelled, and a close frame is sent
// when the socket is still open. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.checkStop != nil {
		close(c.checkStop)
		c.checkStop = nil
	}
	conn := c.conn
	c.mu.Unlock()

	c.clearTimers()
	c.connected.Store(false)

	if conn != nil {
		if frame, err := protocol.EncodeFrame(protocol.OpcodeClose, nil, true); err == nil {
			c.writeMu.Lock()
			_, _ = conn.Write(frame)
			c.writeMu.Unlock()
		}
		return conn.Close()
	}
	return nil
}

// afterFunc schedules a deferred write cancelled on disconnect or Close.
func (c *Client) afterFunc(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.mu.Unlock()
		if live {
			fn()
		}
	})
	c.timers[t] = struct{}{}
}

// clearTimers stops and forgets every pending deferred send.
func (c *Client) clearTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
		delete(c.timers, t)
	}
}

// transferMeta extracts filename and MIME type from an announcement
// payload: either a bare filename string or {filename, mimeType}.
func transferMeta(payload any) (filename, mimeType string) {
	if s, ok := payload.(string); ok {
		return s, ""
	}
	filename, _ = router.StringField(payload, "filename")
	mimeType, _ = router.StringField(payload, "mimeType")
	return filename, mimeType
}

// splitAddress accepts ws:// and http:// URLs or a bare host:port.
func splitAddress(addr string) (host, path string) {
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil {
			return u.Host, u.RequestURI()
		}
	}
	return addr, "/"
}
