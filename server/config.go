// File: server/config.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server engine parameters. Listen address and TLS belong
// to the host HTTP server; the engine only consumes upgrade requests.
type Config struct {
	// SecretKey signs connection ids (HMAC-SHA256).
	SecretKey string
	// PingInterval is the gap between liveness pings. A connection whose
	// last pong is older than twice this is treated as dead.
	PingInterval time.Duration
	// MaxMessageSize caps one assembled inbound message.
	MaxMessageSize int64
	// ReadBufferSize is the per-read chunk size of the read loop.
	ReadBufferSize int
	// Shards is the connection registry shard count.
	Shards int
	// ListenAddr is used only by ListenAndServe convenience wiring.
	ListenAddr string
}

// DefaultConfig returns the defaults used by the original control-channel
// deployments: 25s pings, 16 MiB messages.
func DefaultConfig() *Config {
	return &Config{
		PingInterval:   25 * time.Second,
		MaxMessageSize: 16 << 20,
		ReadBufferSize: 4096,
		Shards:         16,
		ListenAddr:     ":8080",
	}
}

// fileConfig is the YAML mapping of Config. Durations are strings in
// time.ParseDuration syntax ("25s").
type fileConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PingInterval   string `yaml:"ping_interval"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
	Shards         int    `yaml:"shards"`
	ListenAddr     string `yaml:"listen_addr"`
}

// ConfigFromFile loads a YAML config, applying defaults for absent keys.
func ConfigFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.SecretKey = fc.SecretKey
	if fc.PingInterval != "" {
		d, err := time.ParseDuration(fc.PingInterval)
		if err != nil {
			return nil, fmt.Errorf("parse ping_interval: %w", err)
		}
		cfg.PingInterval = d
	}
	if fc.MaxMessageSize > 0 {
		cfg.MaxMessageSize = fc.MaxMessageSize
	}
	if fc.ReadBufferSize > 0 {
		cfg.ReadBufferSize = fc.ReadBufferSize
	}
	if fc.Shards > 0 {
		cfg.Shards = fc.Shards
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	return cfg, nil
}
