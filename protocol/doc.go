// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements the RFC 6455 subset used by tagsock: the upgrade handshake,
// frame encoding/decoding with 7/16/64-bit payload lengths and masking,
// and the per-connection defragmentation state machine.
//
// Deliberately out of scope: extension and subprotocol negotiation,
// UTF-8 validation of text frames, and close-code semantics beyond a
// minimal close echo. The package targets control-channel messaging and
// binary transfer, not a general-purpose WebSocket implementation.
package protocol
