// File: protocol/constants.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket wire protocol constants (RFC 6455 subset).

package protocol

const (
	// Data opcodes (<0x8)
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2

	// Control opcodes
	OpcodeClose = 0x8
	OpcodePing  = 0x9
	OpcodePong  = 0xA

	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // extended payload length plus mask key

	// Bit masks
	FinBit  = 0x80
	MaskBit = 0x80

	// Extended payload length markers
	Len16Marker = 126
	Len64Marker = 127
)

// DefaultMaxFramePayload bounds a single frame payload. Large enough for
// binary file transfer, small enough to stop a hostile peer from forcing
// unbounded allocation with one header.
const DefaultMaxFramePayload = 16 << 20 // 16 MiB

// IsControl reports whether opcode denotes a control frame.
func IsControl(opcode byte) bool {
	return opcode >= OpcodeClose
}

// IsData reports whether opcode denotes a data frame.
func IsData(opcode byte) bool {
	return opcode == OpcodeContinuation || opcode == OpcodeText || opcode == OpcodeBinary
}
