// File: router/router.go
// Package router
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tag-keyed dispatch of decoded application messages. At most one
// handler is held per tag; registering a duplicate replaces the previous
// handler and at most one handler fires per message. Ordering across
// different tags is not guaranteed; same-tag delivery is FIFO per
// connection because each connection's read loop dispatches serially.

package router

import "sync"

// Handler processes one decoded payload for a tag. connID identifies the
// originating connection; the client role passes its own id.
type Handler interface {
	Handle(payload any, connID string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(payload any, connID string)

// Handle implements Handler.
func (f HandlerFunc) Handle(payload any, connID string) { f(payload, connID) }

// Router maps namespaced tags to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New constructs an empty Router.
func New() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register stores h under the bare tag name, replacing any previous
// handler for the same tag.
func (r *Router) Register(tag string, h Handler) {
	r.mu.Lock()
	r.handlers[Namespaced(tag)] = h
	r.mu.Unlock()
}

// Unregister removes the handler for tag. Removing a tag that was never
// registered is a no-op.
func (r *Router) Unregister(tag string) {
	r.mu.Lock()
	delete(r.handlers, Namespaced(tag))
	r.mu.Unlock()
}

// Dispatch routes a decoded payload to the handler registered under the
// exact namespaced tag. Returns false on a routing miss; the caller
// decides whether that is worth a log line, it is never fatal.
func (r *Router) Dispatch(namespacedTag string, payload any, connID string) bool {
	r.mu.RLock()
	h, ok := r.handlers[namespacedTag]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h.Handle(payload, connID)
	return true
}
