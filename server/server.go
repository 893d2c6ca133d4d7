// File: server/server.go
// Package server implements the multi-client tag-routed messaging engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The engine consumes HTTP upgrade requests from a host server (it is a
// plain http.Handler), hijacks the TCP connection, completes the RFC
// 6455 handshake, and runs one read goroutine plus one liveness
// goroutine per connection. Decoded envelopes are demultiplexed through
// the tag router; raw binary frames pair with the most recent transfer
// announcement on the same connection.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/tagsock/internal/transport"
	"github.com/momentics/tagsock/protocol"
	"github.com/momentics/tagsock/router"
	"github.com/momentics/tagsock/session"
)

// UploadCallback receives one paired binary transfer.
type UploadCallback func(data []byte, filename, mimeType, clientID string)

// Server is the multi-client engine.
type Server struct {
	cfg      *Config
	log      *log.Logger
	registry *session.Registry
	router   *router.Router

	uploadCB atomic.Pointer[UploadCallback]

	closed atomic.Bool
}

// New constructs a Server around cfg. The "direct" forwarding tag is
// registered out of the box.
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:    cfg,
		log:    log.New(os.Stderr, "tagsock/server: ", log.LstdFlags),
		router: router.New(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registry = session.NewRegistry(cfg.SecretKey, cfg.Shards)
	s.registerDirect()
	return s
}

// ServeHTTP upgrades the request to a WebSocket connection. Anything
// other than a valid upgrade is answered with 400 and closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	key, verr := protocol.ValidateUpgrade(r)

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		s.log.Printf("hijack failed: %v", err)
		return
	}

	if verr != nil {
		s.log.Printf("rejected upgrade from %s: %v", conn.RemoteAddr(), verr)
		_ = protocol.WriteRejection(conn)
		_ = conn.Close()
		return
	}

	// The connection becomes eligible for framing only after the 101
	// response is on the wire.
	if err := protocol.WriteUpgradeResponse(conn, protocol.AcceptKey(key)); err != nil {
		s.log.Printf("handshake write to %s failed: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	if err := transport.Tune(conn, transport.DefaultKeepAlive()); err != nil {
		s.log.Printf("keepalive tuning for %s: %v", conn.RemoteAddr(), err)
	}

	asm := protocol.NewAssembler(true, s.cfg.MaxMessageSize)
	c, err := s.registry.Create(conn, asm)
	if err != nil {
		s.log.Printf("register connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	s.log.Printf("connection request from ip %s, client %s", c.RemoteAddr(), c.ID())

	// Push the issued id to the new client, announce it to everyone else.
	if err := s.SendData(c.ID(), ModeText, c.ID(), router.TagClientIDCurrent, 0); err != nil {
		s.log.Printf("send client id to %s: %v", c.ID(), err)
	}
	s.SendDataBroadcast(map[string]string{
		"label":  "connection",
		"result": fmt.Sprintf("Client %s connected.", c.ID()),
	}, c.ID())

	go s.readLoop(c, rw.Reader)
	go s.pingLoop(c)
}

// readLoop feeds socket bytes through the connection's assembler and
// dispatches every completed message in arrival order.
func (s *Server) readLoop(c *session.Conn, r io.Reader) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// Every inbound operation re-verifies the id signature.
			if !s.registry.Verify(c) {
				s.log.Printf("wrong signature for client %s, frame dropped", c.ID())
				continue
			}
			msgs, perr := c.Assembler().Push(buf[:n])
			for _, m := range msgs {
				if s.handleMessage(c, m) {
					return
				}
			}
			if perr != nil {
				s.log.Printf("protocol error from client %s (%s): %v", c.ID(), c.RemoteAddr(), perr)
				s.teardown(c)
				return
			}
		}
		if err != nil {
			select {
			case <-c.Done():
				// Teardown already in progress elsewhere.
			default:
				if !errors.Is(err, io.EOF) {
					s.log.Printf("read error from client %s (%s): %v", c.ID(), c.RemoteAddr(), err)
				}
			}
			s.teardown(c)
			return
		}
	}
}

// handleMessage processes one assembled message. Returns true when the
// read loop must stop.
func (s *Server) handleMessage(c *session.Conn, m protocol.Message) bool {
	switch m.Opcode {
	case protocol.OpcodePong:
		c.TouchPong()
	case protocol.OpcodePing:
		if frame, err := protocol.EncodeFrame(protocol.OpcodePong, m.Payload, false); err == nil {
			_ = c.WriteRaw(frame)
		}
	case protocol.OpcodeClose:
		if frame, err := protocol.EncodeFrame(protocol.OpcodeClose, nil, false); err == nil {
			_ = c.WriteRaw(frame)
		}
		s.teardown(c)
		return true
	case protocol.OpcodeText:
		s.handleText(c, m.Payload)
	default:
		s.handleBinary(c, m.Payload)
	}
	return false
}

// handleText decodes the envelope, applies engine-reserved tags, and
// routes to the registered handler.
func (s *Server) handleText(c *session.Conn, payload []byte) {
	env, ok := router.DecodeEnvelope(payload)
	if !ok {
		return
	}
	decoded := router.DecodePayload(env.Data)

	reserved := true
	switch env.Tag {
	case router.Namespaced(router.TagUpload):
		filename, mimeType := transferMeta(decoded)
		c.Transfer.Announce(filename, mimeType)
	case router.Namespaced(router.TagBroadcast):
		s.SendDataBroadcast(decoded, c.ID())
	case router.Namespaced(router.TagPong):
		// Application-level pong counts as liveness too.
		c.TouchPong()
	default:
		reserved = false
	}

	if !s.router.Dispatch(env.Tag, decoded, c.ID()) && !reserved {
		s.log.Printf("no handler for tag %q, message from client %s dropped", env.Tag, c.ID())
	}
}

// handleBinary pairs a binary message with the transfer metadata most
// recently announced on this connection.
func (s *Server) handleBinary(c *session.Conn, payload []byte) {
	filename, mimeType, ok := c.Transfer.Take()
	if !ok {
		s.log.Printf("unannounced binary message from client %s, dropped", c.ID())
		return
	}
	cb := s.uploadCB.Load()
	if cb == nil {
		s.log.Printf("binary transfer from client %s dropped, no upload handler", c.ID())
		return
	}
	(*cb)(payload, filename, mimeType, c.ID())
}

// pingLoop sends a zero-payload ping every PingInterval and forces a
// disconnect once the peer misses two intervals.
func (s *Server) pingLoop(c *session.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
			if time.Since(c.LastPong()) > 2*s.cfg.PingInterval {
				s.log.Printf("client %s pong timeout", c.ID())
				s.teardown(c)
				return
			}
			frame, err := protocol.EncodeFrame(protocol.OpcodePing, nil, false)
			if err != nil {
				return
			}
			if err := c.WriteRaw(frame); err != nil {
				s.teardown(c)
				return
			}
		}
	}
}

// teardown removes the connection and, when this call actually won the
// removal, announces the disconnection to the remaining clients.
func (s *Server) teardown(c *session.Conn) {
	id := c.ID()
	if !s.registry.Delete(id) {
		return
	}
	s.log.Printf("disconnection request from ip %s, client %s", c.RemoteAddr(), id)
	s.SendDataBroadcast(map[string]string{
		"label":  "disconnection",
		"result": fmt.Sprintf("Client %s disconnected.", id),
	}, id)
}

// registerDirect wires the built-in point-to-point forwarding tag:
// {content, toClientId} envelopes are relayed to the target connection.
func (s *Server) registerDirect() {
	s.router.Register(router.TagDirect, router.HandlerFunc(func(payload any, fromID string) {
		to, ok := router.StringField(payload, "toClientId")
		if !ok {
			s.log.Printf("direct message from client %s without toClientId, dropped", fromID)
			return
		}
		obj := payload.(map[string]any)
		if err := s.SendData(to, ModeText, obj["content"], router.TagDirect, 0); err != nil {
			s.log.Printf("direct forward from %s to %s: %v", fromID, to, err)
		}
	}))
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

// Shutdown disconnects every client and refuses further upgrades.
// Idempotent.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.registry.Range(func(c *session.Conn) {
		s.registry.Delete(c.ID())
	})
}

// ListenAndServe runs a host HTTP server for the engine until ctx is
// cancelled, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.cfg.ListenAddr
	}
	httpSrv := &http.Server{Addr: addr, Handler: s}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Shutdown()
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shctx)
	})
	return g.Wait()
}
