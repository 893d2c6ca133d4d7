// File: protocol/assembler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental defragmentation of a WebSocket byte stream. One Assembler
// exists per connection; Push is called once per socket read with the
// newly arrived chunk and returns every message completed by it, in
// arrival order. Control frames are surfaced as single-frame messages
// and never disturb an in-progress fragmented data message.

package protocol

import (
	"fmt"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/tagsock/api"
)

// Message is a fully reassembled inbound message or a surfaced control
// frame. For fragmented data, Opcode is the opcode of the first frame
// (text or binary) and Payload is the concatenation of all fragments.
type Message struct {
	Opcode  byte
	Payload []byte
}

type assemblerState int

const (
	stateIdle assemblerState = iota
	stateAccumulating
)

// Assembler accumulates raw bytes and extracts complete messages.
// It is not safe for concurrent use; each connection's read loop owns one.
type Assembler struct {
	requireMask bool  // inbound data frames must be masked (server role)
	maxMessage  int64 // cap on one assembled message

	buf       []byte
	state     assemblerState
	opcode    byte
	fragments *queue.Queue // []byte elements of the in-progress message
	pending   int64        // accumulated fragment bytes

	droppedUnmasked atomic.Int64
}

// NewAssembler constructs an Assembler. requireMask is true for the
// server role, where RFC 6455 demands masked client frames.
func NewAssembler(requireMask bool, maxMessage int64) *Assembler {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxFramePayload
	}
	return &Assembler{
		requireMask: requireMask,
		maxMessage:  maxMessage,
		fragments:   queue.New(),
	}
}

// Push appends chunk to the retained buffer and drains every complete
// frame from it. Partial frames stay buffered for the next call; several
// frames in one chunk all drain in order. A protocol violation
// (oversized frame or oversized assembled message) returns the messages
// completed so far plus the error; the connection should be torn down.
func (a *Assembler) Push(chunk []byte) ([]Message, error) {
	a.buf = append(a.buf, chunk...)

	var out []Message
	for {
		frame, consumed, err := DecodeFrame(a.buf, a.maxMessage)
		if err != nil {
			return out, err
		}
		if frame == nil {
			return out, nil
		}
		a.buf = a.buf[consumed:]

		if IsControl(frame.Opcode) {
			// Surfaced as-is; the data-opcode/fragment state is untouched.
			out = append(out, Message{Opcode: frame.Opcode, Payload: frame.Payload})
			continue
		}

		if a.requireMask && !frame.Masked {
			// Unmasked client data frame: protocol violation, drop the
			// frame rather than misinterpret its bytes.
			a.droppedUnmasked.Add(1)
			continue
		}

		if a.state == stateIdle {
			a.state = stateAccumulating
			a.opcode = frame.Opcode
		}
		a.pending += frame.PayloadLen
		if a.pending > a.maxMessage {
			a.reset()
			return out, fmt.Errorf("%w: %d bytes accumulated", api.ErrMessageTooLarge, a.pending)
		}
		a.fragments.Add(frame.Payload)

		if frame.IsFinal {
			out = append(out, Message{Opcode: a.opcode, Payload: a.join()})
			a.reset()
		}
	}
}

// DroppedUnmasked reports how many inbound data frames were discarded
// for missing the mandatory mask bit.
func (a *Assembler) DroppedUnmasked() int64 {
	return a.droppedUnmasked.Load()
}

// Buffered returns the number of retained undecoded bytes.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// join concatenates the queued fragments into one payload.
func (a *Assembler) join() []byte {
	payload := make([]byte, 0, a.pending)
	for a.fragments.Length() > 0 {
		payload = append(payload, a.fragments.Remove().([]byte)...)
	}
	return payload
}

// reset returns the assembler to the idle state. The fragment queue is
// drained, never replaced, so its ring storage is reused.
func (a *Assembler) reset() {
	for a.fragments.Length() > 0 {
		a.fragments.Remove()
	}
	a.state = stateIdle
	a.opcode = 0
	a.pending = 0
}
