package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/rendezvous"
)

// waitEvent polls h until an event of the given kind arrives.
func waitEvent(t *testing.T, h Handle, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range h.Receive() {
			if ev.Kind == kind {
				return ev
			}
			if ev.Kind == ServerLost || ev.Kind == ConnectionFailed {
				t.Fatalf("%s: unexpected %s while waiting for %s", h.ID(), ev.Kind, kind)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: timed out waiting for %s", h.ID(), kind)
	return Event{}
}

func testTransportConfig(serverURL string) config.Transport {
	cfg := config.Default().Transport
	cfg.ServerURL = serverURL
	cfg.STUNServers = nil // host candidates only
	return cfg
}

// TestWebRTCLink establishes a real pion link through a local rendezvous
// server and exchanges datagrams on both channels.
func TestWebRTCLink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC link test in short mode")
	}

	srv := httptest.NewServer(rendezvous.NewServer().Handler())
	defer srv.Close()
	cfg := testTransportConfig("ws" + strings.TrimPrefix(srv.URL, "http") + rendezvous.Path)

	host, err := DialWebRTC(cfg, Options{MaxIncoming: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()
	client, err := DialWebRTC(cfg, Options{MaxIncoming: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	waitEvent(t, host, ServerConnected)
	waitEvent(t, client, ServerConnected)

	host.RegisterRoom()
	room := waitEvent(t, host, RoomAssigned).Room
	if len(room) != rendezvous.RoomCodeLength {
		t.Fatalf("room code %q has wrong length", room)
	}

	client.ResolveRoom(room)
	if ev := waitEvent(t, client, RoomResolved); ev.Peer != host.ID() {
		t.Fatalf("resolved %s, want %s", ev.Peer, host.ID())
	}

	client.OpenNAT(host.ID())
	waitEvent(t, client, PunchSucceeded)
	punched := waitEvent(t, host, PunchSucceeded)

	host.Connect(punched.Peer)
	waitEvent(t, host, ConnectionAccepted)
	if ev := waitEvent(t, client, IncomingConnection); ev.Peer != host.ID() {
		t.Fatalf("incoming from %s, want %s", ev.Peer, host.ID())
	}

	if err := host.Send([]byte("reliable"), client.ID(), true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := waitEvent(t, client, Data)
	if string(ev.Data) != "reliable" || !ev.Reliable {
		t.Fatalf("unexpected data %+v", ev)
	}

	if err := client.Send([]byte("back"), host.ID(), true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ev := waitEvent(t, host, Data); string(ev.Data) != "back" {
		t.Fatalf("unexpected data %+v", ev)
	}

	client.LeaveServer()
	host.CloseConnection(client.ID())
	waitEvent(t, client, Disconnected)
}

func TestWebRTCServerUnreachable(t *testing.T) {
	cfg := testTransportConfig("ws://127.0.0.1:1/ws")
	cfg.DialTimeout = 500 * time.Millisecond

	h, err := DialWebRTC(cfg, Options{MaxIncoming: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range h.Receive() {
			if ev.Kind == ServerLost {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected ServerLost for an unreachable server")
}

func TestWebRTCSendWithoutLink(t *testing.T) {
	cfg := testTransportConfig("ws://127.0.0.1:1/ws")
	cfg.DialTimeout = 100 * time.Millisecond
	h, err := DialWebRTC(cfg, Options{MaxIncoming: 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Send([]byte{1}, "nobody", true); err == nil {
		t.Fatal("expected error sending without a link")
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Send([]byte{1}, "nobody", true); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
