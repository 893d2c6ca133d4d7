// File: server/surface.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Public send/receive surface consumed by the host application. All
// addressing goes through connection ids; application code never holds
// connection state directly.

package server

import (
	"fmt"
	"time"

	"github.com/momentics/tagsock/api"
	"github.com/momentics/tagsock/protocol"
	"github.com/momentics/tagsock/router"
)

// Send modes.
const (
	ModeText   = "text"
	ModeBinary = "binary"
)

// transferAnnounceGap separates a download announcement from its binary
// payload so the two writes never interleave with another send.
const transferAnnounceGap = 100 * time.Millisecond

// SendData sends one message to clientID. Text mode wraps payload in a
// tagged envelope; binary mode requires a raw []byte and no tag. A
// positive delay defers the write on a connection-tracked timer that is
// cancelled if the connection goes away first.
//
// Wrong payload types are programming errors and fail fast; an unknown
// clientID is an expected race and is returned as api.ErrClientNotFound.
func (s *Server) SendData(clientID, mode string, payload any, tag string, delay time.Duration) error {
	if s.closed.Load() {
		return api.ErrServerClosed
	}
	c, ok := s.registry.Get(clientID)
	if !ok {
		s.log.Printf("send to unknown client %s dropped", clientID)
		return fmt.Errorf("%w: %s", api.ErrClientNotFound, clientID)
	}

	var frame []byte
	switch mode {
	case ModeText:
		data, err := router.EncodeText(tag, payload)
		if err != nil {
			return err
		}
		frame, err = protocol.EncodeFrame(protocol.OpcodeText, data, false)
		if err != nil {
			return err
		}
	case ModeBinary:
		b, ok := payload.([]byte)
		if !ok {
			return api.ErrPayloadMode
		}
		var err error
		frame, err = protocol.EncodeFrame(protocol.OpcodeBinary, b, false)
		if err != nil {
			return err
		}
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "unknown send mode").WithContext("mode", mode)
	}

	if delay > 0 {
		c.AfterFunc(delay, func() {
			if err := c.WriteRaw(frame); err != nil {
				s.log.Printf("deferred write to client %s: %v", clientID, err)
				s.teardown(c)
			}
		})
		return nil
	}

	if err := c.WriteRaw(frame); err != nil {
		s.log.Printf("write to client %s: %v", clientID, err)
		s.teardown(c)
		return err
	}
	return nil
}

// SendDataBroadcast sends payload on the broadcast tag to every client
// except excludeID (typically the sender, to avoid echo).
func (s *Server) SendDataBroadcast(payload any, excludeID string) {
	for _, id := range s.registry.IDs() {
		if id == excludeID {
			continue
		}
		if err := s.SendData(id, ModeText, payload, router.TagBroadcast, 0); err != nil {
			s.log.Printf("broadcast to client %s: %v", id, err)
		}
	}
}

// SendDataDownload pushes a file to clientID: a metadata announcement on
// the download tag, then the binary payload after the announce gap.
func (s *Server) SendDataDownload(clientID, filename string, data []byte) error {
	meta := map[string]string{"filename": filename}
	if err := s.SendData(clientID, ModeText, meta, router.TagDownload, 0); err != nil {
		return err
	}
	return s.SendData(clientID, ModeBinary, data, "", transferAnnounceGap)
}

// ReceiveData registers h for a bare tag name, replacing any previous
// handler for the same tag.
func (s *Server) ReceiveData(tag string, h router.Handler) {
	s.router.Register(tag, h)
}

// ReceiveDataFunc registers a plain function for a tag.
func (s *Server) ReceiveDataFunc(tag string, fn func(payload any, clientID string)) {
	s.router.Register(tag, router.HandlerFunc(fn))
}

// ReceiveDataOff removes the handler for tag; a no-op when absent.
func (s *Server) ReceiveDataOff(tag string) {
	s.router.Unregister(tag)
}

// ReceiveDataUpload registers the callback receiving paired binary
// uploads as (data, filename, mimeType, clientID).
func (s *Server) ReceiveDataUpload(cb UploadCallback) {
	s.uploadCB.Store(&cb)
}

// ClientIDList returns the ids of all live connections.
func (s *Server) ClientIDList() []string {
	return s.registry.IDs()
}

// Disconnect forcefully removes a client. Unknown ids are a no-op.
func (s *Server) Disconnect(clientID string) {
	if c, ok := s.registry.Get(clientID); ok {
		s.teardown(c)
	}
}
