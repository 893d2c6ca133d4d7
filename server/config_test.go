// File: server/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := "secret_key: hunter2\n" +
		"ping_interval: 10s\n" +
		"max_message_size: 1048576\n" +
		"shards: 8\n" +
		"listen_addr: \":9999\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := ConfigFromFile(path)
	if err != nil {
		t.Fatalf("ConfigFromFile: %v", err)
	}
	if cfg.SecretKey != "hunter2" {
		t.Errorf("SecretKey = %q", cfg.SecretKey)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	if cfg.MaxMessageSize != 1048576 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.Shards != 8 {
		t.Errorf("Shards = %d", cfg.Shards)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	// Absent keys keep their defaults.
	if cfg.ReadBufferSize != 4096 {
		t.Errorf("ReadBufferSize = %d, want the default", cfg.ReadBufferSize)
	}
}

func TestConfigFromFileErrors(t *testing.T) {
	if _, err := ConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("ping_interval: banana\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := ConfigFromFile(bad); err == nil {
		t.Error("unparsable duration accepted")
	}
}
