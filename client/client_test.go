// File: client/client_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests pairing the client role against the server engine
// over a real loopback listener.

package client

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/momentics/tagsock/api"
	"github.com/momentics/tagsock/router"
	"github.com/momentics/tagsock/server"
)

func newTestPair(t *testing.T, mutate func(*Config)) (*server.Server, *Client) {
	t.Helper()
	scfg := server.DefaultConfig()
	scfg.SecretKey = "client-test-secret"
	srv := server.New(scfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})

	cfg := DefaultConfig()
	cfg.Address = ts.URL
	cfg.ReconnectInterval = 100 * time.Millisecond
	cfg.CheckInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	c := New(cfg)
	t.Cleanup(func() { c.Close() })
	return srv, c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientConnectAndIdentity(t *testing.T) {
	srv, c := newTestPair(t, nil)

	notices := make(chan string, 1)
	srv.ReceiveDataFunc(router.TagClientConnected, func(_ any, clientID string) {
		notices <- clientID
	})

	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })

	select {
	case id := <-notices:
		if id != c.ClientID() {
			t.Errorf("connected notice from %q, client holds %q", id, c.ClientID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connected notice")
	}

	ids := srv.ClientIDList()
	if len(ids) != 1 || ids[0] != c.ClientID() {
		t.Errorf("server ids = %v, client id = %q", ids, c.ClientID())
	}
}

func TestClientSendReceiveRoundTrip(t *testing.T) {
	srv, c := newTestPair(t, nil)

	srv.ReceiveDataFunc("message", func(payload any, clientID string) {
		if err := srv.SendData(clientID, server.ModeText, payload, "message", 0); err != nil {
			t.Errorf("server echo: %v", err)
		}
	})

	echoed := make(chan any, 1)
	c.ReceiveData("message", func(payload any) { echoed <- payload })

	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })

	if err := c.SendData(ModeText, "round trip", "message", 0); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	select {
	case got := <-echoed:
		if got != "round trip" {
			t.Errorf("payload = %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}
}

func TestClientUploadDownloadPairing(t *testing.T) {
	srv, c := newTestPair(t, nil)

	// The server returns every upload through the download path.
	srv.ReceiveDataUpload(func(data []byte, filename, mimeType, clientID string) {
		if err := srv.SendDataDownload(clientID, filename, data); err != nil {
			t.Errorf("download push: %v", err)
		}
	})

	type download struct {
		data     []byte
		filename string
	}
	downloads := make(chan download, 1)
	c.ReceiveDataDownload(func(data []byte, filename string) {
		downloads <- download{data, filename}
	})

	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })

	body := []byte("upload me and send me back")
	if err := c.SendDataUpload("notes.txt", body); err != nil {
		t.Fatalf("SendDataUpload: %v", err)
	}

	select {
	case d := <-downloads:
		if d.filename != "notes.txt" || !bytes.Equal(d.data, body) {
			t.Errorf("download = (%q, %q)", d.filename, d.data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("download never arrived")
	}
}

func TestClientAnswersApplicationPing(t *testing.T) {
	srv, c := newTestPair(t, nil)

	pongs := make(chan any, 1)
	srv.ReceiveDataFunc(router.TagPong, func(payload any, _ string) { pongs <- payload })

	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })

	if err := srv.SendData(c.ClientID(), server.ModeText, "", router.TagPing, 0); err != nil {
		t.Fatalf("server ping: %v", err)
	}
	select {
	case got := <-pongs:
		if got != "ok" {
			t.Errorf("pong payload = %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pong never arrived")
	}
}

func TestClientReconnectAfterServerDisconnect(t *testing.T) {
	srv, c := newTestPair(t, nil)

	reconnections := make(chan string, 1)
	srv.ReceiveDataFunc(router.TagClientReconnection, func(_ any, clientID string) {
		reconnections <- clientID
	})

	modes := make(chan string, 2)
	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	c.CheckConnection(func(mode string) { modes <- mode })
	select {
	case m := <-modes:
		if m != "connection" {
			t.Fatalf("first check mode = %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("check callback never fired")
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })
	firstID := c.ClientID()

	srv.Disconnect(firstID)

	select {
	case id := <-reconnections:
		if id == firstID {
			t.Errorf("reconnected with the old id %q", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client never reconnected")
	}
	select {
	case m := <-modes:
		if m != "reconnection" {
			t.Errorf("check mode after reconnect = %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnection notice never reached the check callback")
	}
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c := New(DefaultConfig())
	if err := c.SendData(ModeText, "x", "t", 0); !errors.Is(err, api.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 500 * time.Millisecond
	c := New(cfg)
	if err := c.Connection("127.0.0.1:1"); err == nil {
		t.Error("Connection to a dead port succeeded")
		c.Close()
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	_, c := newTestPair(t, nil)
	if err := c.Connection(""); err != nil {
		t.Fatalf("Connection: %v", err)
	}
	waitFor(t, "client id", func() bool { return c.ClientID() != "" })

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := c.SendData(ModeText, "x", "t", 0); !errors.Is(err, api.ErrNotConnected) {
		t.Errorf("send after Close = %v, want ErrNotConnected", err)
	}
}
