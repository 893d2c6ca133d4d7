// File: router/envelope.go
// Package router
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The application envelope carried inside text frames:
// {"tag":"cws_<name>","data":"<base64>"}. Tags are namespaced so control
// traffic cannot collide with unrelated application messages sharing the
// connection.

package router

import (
	"encoding/base64"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/tagsock/api"
)

// TagPrefix namespaces every envelope tag.
const TagPrefix = "cws_"

// Reserved tag names used by the engine itself.
const (
	TagClientIDCurrent    = "clientId_current"
	TagClientConnected    = "client_connected"
	TagClientReconnection = "client_reconnection"
	TagBroadcast          = "broadcast"
	TagDirect             = "direct"
	TagUpload             = "upload"
	TagDownload           = "download"
	TagPing               = "ping"
	TagPong               = "pong"
)

// Envelope is the wire-level message structure for text frames.
type Envelope struct {
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

// Namespaced prefixes a bare tag name.
func Namespaced(tag string) string {
	return TagPrefix + tag
}

// EncodeText builds the envelope bytes for one text frame. payload may
// be a string (passed through) or any JSON-marshalable value; raw byte
// buffers belong to binary mode and are rejected here.
func EncodeText(tag string, payload any) ([]byte, error) {
	var plain string
	switch v := payload.(type) {
	case string:
		plain = v
	case []byte:
		return nil, api.ErrPayloadMode
	case nil:
		plain = ""
	default:
		b, err := sonnet.Marshal(v)
		if err != nil {
			return nil, api.ErrInvalidPayload
		}
		plain = string(b)
	}

	env := Envelope{
		Tag:  Namespaced(tag),
		Data: base64.StdEncoding.EncodeToString([]byte(plain)),
	}
	return sonnet.Marshal(&env)
}

// DecodeEnvelope parses an inbound text frame. Blank or non-envelope
// payloads return ok=false and are dropped by the caller; the wire may
// carry unrelated traffic.
func DecodeEnvelope(raw []byte) (*Envelope, bool) {
	if strings.TrimSpace(string(raw)) == "" {
		return nil, false
	}
	var env Envelope
	if err := sonnet.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Tag == "" {
		return nil, false
	}
	return &env, true
}

// DecodePayload base64-decodes the envelope data field and attempts a
// JSON parse. JSON-parseable content is delivered as the parsed value,
// anything else as the raw decoded string.
func DecodePayload(data string) any {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return data
	}
	var parsed any
	if err := sonnet.Unmarshal(decoded, &parsed); err != nil {
		return string(decoded)
	}
	return parsed
}

// StringField extracts a string value by key from a decoded payload
// when it is a JSON object.
func StringField(payload any, key string) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := obj[key].(string)
	return s, ok
}
