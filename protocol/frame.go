// File: protocol/frame.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket frame encoding/decoding and masking logic.
//
// DecodeFrame follows the streaming convention used across the library:
// a buffer that does not yet hold one complete frame yields (nil, 0, nil)
// so the caller can retain the prefix and wait for more bytes.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/momentics/tagsock/api"
)

// WSFrame represents a decoded WebSocket frame.
type WSFrame struct {
	IsFinal    bool  // FIN bit
	Opcode     byte  // Operation code
	Masked     bool  // Whether the frame was masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte
}

// DecodeFrame parses one frame from the front of raw.
// Returns the frame, the total consumed byte count, and an error.
// An incomplete frame returns (nil, 0, nil); the caller must keep raw
// and retry once more bytes arrive. The length boundary is checked at
// every tier (2, 4, 10 bytes, mask key, payload) so a frame split at an
// arbitrary point never errors.
func DecodeFrame(raw []byte, maxPayload int64) (*WSFrame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	fin := raw[0]&FinBit != 0
	opcode := raw[0] & 0x0F
	masked := raw[1]&MaskBit != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case Len16Marker:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case Len64Marker:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		u := binary.BigEndian.Uint64(raw[offset:])
		if u > uint64(maxPayload) {
			return nil, 0, fmt.Errorf("%w: %d bytes declared", api.ErrFrameTooLarge, u)
		}
		length = int64(u)
		offset += 8
	}

	if length > maxPayload {
		return nil, 0, fmt.Errorf("%w: %d bytes declared", api.ErrFrameTooLarge, length)
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	totalLen := offset + int(length)
	if len(raw) < totalLen {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:totalLen])
	if masked {
		unmaskInPlace(payload, maskKey)
	}

	return &WSFrame{
		IsFinal:    fin,
		Opcode:     opcode,
		Masked:     masked,
		PayloadLen: length,
		MaskKey:    maskKey,
		Payload:    payload,
	}, totalLen, nil
}

// EncodeFrame serializes one frame with FIN set. The library never emits
// multi-frame outbound messages. When mask is true (client role) a fresh
// random mask key is applied per RFC 6455; server frames stay unmasked.
func EncodeFrame(opcode byte, payload []byte, mask bool) ([]byte, error) {
	plen := len(payload)
	if int64(plen) > DefaultMaxFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, plen)
	}

	var hdr [MaxFrameHeaderLen]byte
	hdr[0] = FinBit | (opcode & 0x0F)
	offset := 2

	var maskBit byte
	if mask {
		maskBit = MaskBit
	}

	switch {
	case plen <= MaxControlPayloadLen:
		hdr[1] = byte(plen) | maskBit
	case plen <= 0xFFFF:
		hdr[1] = Len16Marker | maskBit
		binary.BigEndian.PutUint16(hdr[offset:], uint16(plen))
		offset += 2
	default:
		hdr[1] = Len64Marker | maskBit
		binary.BigEndian.PutUint64(hdr[offset:], uint64(plen))
		offset += 8
	}

	var maskKey [4]byte
	if mask {
		if _, err := rand.Read(maskKey[:]); err != nil {
			return nil, fmt.Errorf("mask key: %w", err)
		}
		copy(hdr[offset:], maskKey[:])
		offset += 4
	}

	out := make([]byte, offset+plen)
	copy(out, hdr[:offset])
	copy(out[offset:], payload)
	if mask {
		unmaskInPlace(out[offset:], maskKey)
	}
	return out, nil
}

// unmaskInPlace applies XOR on payload using maskKey.
func unmaskInPlace(buf []byte, key [4]byte) {
	for i := 0; i < len(buf); i++ {
		buf[i] ^= key[i%4]
	}
}
