// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP to WebSocket upgrade handshake: header validation, computation of
// Sec-WebSocket-Accept per RFC 6455, and the wire-exact 101 response.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
)

// WebSocketGUID is the fixed GUID concatenated with the client key.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeHeadersSize defines the maximum combined length of handshake headers.
const MaxHandshakeHeadersSize = 8192

var (
	ErrInvalidUpgradeHeader = errors.New("invalid or missing Upgrade header")
	ErrMissingWebSocketKey  = errors.New("missing or multi-valued Sec-WebSocket-Key header")
	ErrHeadersTooLarge      = errors.New("handshake headers too large")
)

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA1(key + GUID)).
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidateUpgrade checks the upgrade request headers and returns the
// client's Sec-WebSocket-Key. The Upgrade header must carry the token
// "websocket" (case-insensitive) and the key must be present exactly once.
func ValidateUpgrade(r *http.Request) (string, error) {
	total := 0
	for k, vs := range r.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return "", ErrHeadersTooLarge
		}
	}

	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		return "", ErrInvalidUpgradeHeader
	}

	keys := r.Header[http.CanonicalHeaderKey("Sec-WebSocket-Key")]
	if len(keys) != 1 || keys[0] == "" {
		return "", ErrMissingWebSocketKey
	}
	return keys[0], nil
}

// WriteUpgradeResponse writes the wire-exact switching-protocols response.
// The connection enters the registry only after this write succeeds.
func WriteUpgradeResponse(w io.Writer, acceptKey string) error {
	lines := []string{
		"HTTP/1.1 101 Switching Protocols",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Accept: " + acceptKey,
		"\r\n",
	}
	_, err := io.WriteString(w, strings.Join(lines, "\r\n"))
	return err
}

// WriteRejection writes the failure response for a bad upgrade request.
// The caller closes the connection afterwards.
func WriteRejection(w io.Writer) error {
	_, err := io.WriteString(w, "HTTP/1.1 400 Bad Request")
	return err
}

// headerContainsToken checks if headerName contains the given token, case-insensitive.
func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	token = strings.ToLower(token)
	for _, v := range vals {
		parts := strings.Split(v, ",")
		for _, p := range parts {
			if strings.ToLower(strings.TrimSpace(p)) == token {
				return true
			}
		}
	}
	return false
}
