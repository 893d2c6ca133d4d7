// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the tagsock library.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrNotConnected    = fmt.Errorf("connection is not open")
	ErrClientNotFound  = fmt.Errorf("client id not registered")
	ErrInvalidPayload  = fmt.Errorf("payload type not supported")
	ErrPayloadMode     = fmt.Errorf("payload type does not match send mode")
	ErrFrameTooLarge   = fmt.Errorf("frame payload exceeds maximum allowed size")
	ErrMessageTooLarge = fmt.Errorf("assembled message exceeds maximum allowed size")
	ErrBadHandshake    = fmt.Errorf("websocket handshake failed")
	ErrServerClosed    = fmt.Errorf("server is shut down")
	ErrRetriesExceeded = fmt.Errorf("reconnect attempt ceiling exceeded")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeProtocol
	ErrCodeAuth
	ErrCodeTimeout
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
