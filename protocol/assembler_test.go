// File: protocol/assembler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bytes"
	"testing"
)

// fragment builds a raw frame without the FIN shortcut EncodeFrame applies.
func fragment(t *testing.T, opcode byte, payload []byte, fin, mask bool) []byte {
	t.Helper()
	raw, err := EncodeFrame(opcode, payload, mask)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !fin {
		raw[0] &^= FinBit
	}
	return raw
}

func TestAssemblerSingleFrame(t *testing.T) {
	a := NewAssembler(false, 0)
	raw := fragment(t, OpcodeText, []byte("hello"), true, false)

	msgs, err := a.Push(raw)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Opcode != OpcodeText || string(msgs[0].Payload) != "hello" {
		t.Errorf("message = %#x %q", msgs[0].Opcode, msgs[0].Payload)
	}
	if a.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", a.Buffered())
	}
}

func TestAssemblerSplitAtEveryBoundary(t *testing.T) {
	payload := []byte("split me at every possible byte boundary")
	raw := fragment(t, OpcodeBinary, payload, true, false)

	for cut := 1; cut < len(raw); cut++ {
		a := NewAssembler(false, 0)
		msgs, err := a.Push(raw[:cut])
		if err != nil {
			t.Fatalf("Push(first %d): %v", cut, err)
		}
		if len(msgs) != 0 {
			t.Fatalf("cut %d: message emitted from a partial frame", cut)
		}
		msgs, err = a.Push(raw[cut:])
		if err != nil {
			t.Fatalf("Push(rest after %d): %v", cut, err)
		}
		if len(msgs) != 1 || !bytes.Equal(msgs[0].Payload, payload) {
			t.Fatalf("cut %d: got %d messages", cut, len(msgs))
		}
	}
}

func TestAssemblerTwoFramesOneChunk(t *testing.T) {
	a := NewAssembler(false, 0)
	chunk := append(
		fragment(t, OpcodeText, []byte("first"), true, false),
		fragment(t, OpcodeText, []byte("second"), true, false)...,
	)

	msgs, err := a.Push(chunk)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if string(msgs[0].Payload) != "first" || string(msgs[1].Payload) != "second" {
		t.Errorf("order = %q, %q", msgs[0].Payload, msgs[1].Payload)
	}
}

func TestAssemblerFragmentedMessage(t *testing.T) {
	a := NewAssembler(false, 0)
	var chunk []byte
	chunk = append(chunk, fragment(t, OpcodeText, []byte("one "), false, false)...)
	chunk = append(chunk, fragment(t, OpcodeContinuation, []byte("two "), false, false)...)
	chunk = append(chunk, fragment(t, OpcodeContinuation, []byte("three"), true, false)...)

	msgs, err := a.Push(chunk)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Opcode != OpcodeText {
		t.Errorf("opcode = %#x, want first-frame opcode %#x", msgs[0].Opcode, OpcodeText)
	}
	if string(msgs[0].Payload) != "one two three" {
		t.Errorf("payload = %q", msgs[0].Payload)
	}
}

func TestAssemblerControlDuringFragmentation(t *testing.T) {
	a := NewAssembler(false, 0)
	var chunk []byte
	chunk = append(chunk, fragment(t, OpcodeBinary, []byte{1, 2}, false, false)...)
	chunk = append(chunk, fragment(t, OpcodePing, []byte("keepalive"), true, false)...)
	chunk = append(chunk, fragment(t, OpcodeContinuation, []byte{3, 4}, true, false)...)

	msgs, err := a.Push(chunk)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Opcode != OpcodePing || string(msgs[0].Payload) != "keepalive" {
		t.Errorf("first message = %#x %q, want the surfaced ping", msgs[0].Opcode, msgs[0].Payload)
	}
	if msgs[1].Opcode != OpcodeBinary || !bytes.Equal(msgs[1].Payload, []byte{1, 2, 3, 4}) {
		t.Errorf("second message = %#x %v, want the joined binary", msgs[1].Opcode, msgs[1].Payload)
	}
}

func TestAssemblerDropsUnmaskedData(t *testing.T) {
	a := NewAssembler(true, 0)
	var chunk []byte
	chunk = append(chunk, fragment(t, OpcodeText, []byte("bare"), true, false)...)
	chunk = append(chunk, fragment(t, OpcodeText, []byte("masked"), true, true)...)

	msgs, err := a.Push(chunk)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "masked" {
		t.Fatalf("got %d messages, want only the masked one", len(msgs))
	}
	if a.DroppedUnmasked() != 1 {
		t.Errorf("DroppedUnmasked = %d, want 1", a.DroppedUnmasked())
	}
}

func TestAssemblerMessageTooLarge(t *testing.T) {
	a := NewAssembler(false, 64)
	var chunk []byte
	chunk = append(chunk, fragment(t, OpcodeBinary, make([]byte, 40), false, false)...)
	chunk = append(chunk, fragment(t, OpcodeContinuation, make([]byte, 40), true, false)...)

	_, err := a.Push(chunk)
	if err == nil {
		t.Fatal("Push accepted a message past the cap")
	}
	// The assembler must be reusable after the violation reset.
	msgs, err := a.Push(fragment(t, OpcodeText, []byte("ok"), true, false))
	if err != nil || len(msgs) != 1 {
		t.Fatalf("post-reset Push = (%d, %v), want one message", len(msgs), err)
	}
}
