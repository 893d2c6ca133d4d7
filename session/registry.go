// File: session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded, thread-safe connection registry keyed by opaque connection
// id. Every id is paired with an HMAC-SHA256 signature derived from the
// server secret; inbound operations are re-verified against it to
// defend against guessed or cross-connection replayed ids.

package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"net"
	"sync"

	"github.com/momentics/tagsock/protocol"
)

// idEntropyBytes is the entropy of a connection identifier before hex
// encoding.
const idEntropyBytes = 20

// Registry maps connection id to connection state. It owns the full
// lifecycle: entries are created on a successful upgrade and destroyed
// on close, error, liveness timeout, or explicit disconnect.
type Registry struct {
	secret []byte
	shards []*shard
	mask   uint32
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry constructs a sharded registry signing ids with secret.
func NewRegistry(secret string, shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{conns: make(map[string]*Conn)}
	}
	return &Registry{secret: []byte(secret), shards: shards, mask: m - 1}
}

// Create generates a fresh id and signature, initializes the connection
// state, and inserts it. The returned Conn is already live for framing.
func (r *Registry) Create(nc net.Conn, asm *protocol.Assembler) (*Conn, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}
	c := newConn(id, r.Sign(id), nc, asm)
	sh := r.shard(id)
	sh.mu.Lock()
	sh.conns[id] = c
	sh.mu.Unlock()
	return c, nil
}

// Get fetches a connection if present. Unknown ids are a recoverable
// condition for the caller, never a panic.
func (r *Registry) Get(id string) (*Conn, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[id]
	return c, ok
}

// Delete closes and removes the connection, reporting whether this call
// performed the removal. Idempotent.
func (r *Registry) Delete(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	c, ok := sh.conns[id]
	if ok {
		delete(sh.conns, id)
	}
	sh.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// Range applies fn to all live connections.
func (r *Registry) Range(fn func(*Conn)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		conns := make([]*Conn, 0, len(sh.conns))
		for _, c := range sh.conns {
			conns = append(conns, c)
		}
		sh.mu.RUnlock()
		for _, c := range conns {
			fn(c)
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// IDs returns the ids of all live connections.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.Len())
	r.Range(func(c *Conn) {
		ids = append(ids, c.ID())
	})
	return ids
}

// Sign computes the hex HMAC-SHA256 signature of id.
func (r *Registry) Sign(id string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature of the connection's id and compares it
// against the one issued at accept time, in constant time.
func (r *Registry) Verify(c *Conn) bool {
	return hmac.Equal([]byte(r.Sign(c.ID())), []byte(c.Signature()))
}

// shard picks the correct shard for a given id.
func (r *Registry) shard(id string) *shard {
	return r.shards[fnv32(id)&r.mask]
}

// generateID returns a hex-encoded random token unique among live
// connections with overwhelming probability.
func generateID() (string, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
