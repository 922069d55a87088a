package rendezvous

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testPeer is a raw WebSocket client speaking the rendezvous protocol.
type testPeer struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialPeer(t *testing.T, srv *httptest.Server, id string) *testPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path + "?" + PeerParam + "=" + id
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { ws.Close() })
	return &testPeer{t: t, ws: ws}
}

func (p *testPeer) send(msg *Message) {
	p.t.Helper()
	data, err := Marshal(msg)
	if err != nil {
		p.t.Fatalf("marshal: %v", err)
	}
	if err := p.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *testPeer) recv() *Message {
	p.t.Helper()
	p.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	msg, err := Unmarshal(data)
	if err != nil {
		p.t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func newTestServer(t *testing.T, codes ...string) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer()
	if len(codes) > 0 {
		s.newCode = func() string {
			code := codes[0]
			if len(codes) > 1 {
				codes = codes[1:]
			}
			return code
		}
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

// TestHostResolvePunch walks the full introduction: host opens a room, the
// client resolves it, both are told about each other and an offer is relayed.
func TestHostResolvePunch(t *testing.T) {
	_, srv := newTestServer(t, "AB12C")

	host := dialPeer(t, srv, "host-1")
	client := dialPeer(t, srv, "client-1")

	host.send(&Message{Op: OpHost})
	room := host.recv()
	if room.Op != OpRoom || room.Room != "AB12C" {
		t.Fatalf("expected room AB12C, got %+v", room)
	}

	client.send(&Message{Op: OpResolve, Room: "AB12C"})
	resolved := client.recv()
	if resolved.Op != OpResolved || resolved.Peer != "host-1" {
		t.Fatalf("expected resolved host-1, got %+v", resolved)
	}

	client.send(&Message{Op: OpPunch, Target: "host-1"})
	if m := client.recv(); m.Op != OpPunched || m.Peer != "host-1" {
		t.Fatalf("client expected punched host-1, got %+v", m)
	}
	if m := host.recv(); m.Op != OpPunched || m.Peer != "client-1" {
		t.Fatalf("host expected punched client-1, got %+v", m)
	}

	host.send(&Message{Op: OpOffer, Target: "client-1", SDP: "v=0 offer"})
	if m := client.recv(); m.Op != OpOffer || m.Peer != "host-1" || m.SDP != "v=0 offer" {
		t.Fatalf("client expected relayed offer, got %+v", m)
	}

	client.send(&Message{Op: OpAnswer, Target: "host-1", SDP: "v=0 answer"})
	if m := host.recv(); m.Op != OpAnswer || m.Peer != "client-1" || m.SDP != "v=0 answer" {
		t.Fatalf("host expected relayed answer, got %+v", m)
	}
}

func TestErrors(t *testing.T) {
	_, srv := newTestServer(t)
	p := dialPeer(t, srv, "lonely")

	testCases := []struct {
		name string
		req  *Message
		code ErrorCode
	}{
		{"unknown room", &Message{Op: OpResolve, Room: "ZZZZZ"}, CodeRoomNotFound},
		{"punch to nobody", &Message{Op: OpPunch, Target: "ghost"}, CodeTargetNotConnected},
		{"offer to nobody", &Message{Op: OpOffer, Target: "ghost", SDP: "x"}, CodeTargetNotConnected},
		{"server-only op", &Message{Op: OpRoom}, CodeBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p.send(tc.req)
			m := p.recv()
			if m.Op != OpError || m.Code != tc.code {
				t.Fatalf("expected error %s, got %+v", tc.code, m)
			}
			if tc.code != CodeBadRequest && m.Ref != tc.req.Op {
				t.Errorf("Ref = %s, want %s", m.Ref, tc.req.Op)
			}
		})
	}
}

// TestRoomClosesWithHost verifies a room disappears once its host leaves.
func TestRoomClosesWithHost(t *testing.T) {
	s, srv := newTestServer(t, "QWERT")

	host := dialPeer(t, srv, "host-2")
	host.send(&Message{Op: OpHost})
	host.recv()
	if s.Rooms() != 1 {
		t.Fatalf("Rooms() = %d, want 1", s.Rooms())
	}

	host.ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Rooms() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room still open after host disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := dialPeer(t, srv, "client-2")
	client.send(&Message{Op: OpResolve, Room: "QWERT"})
	if m := client.recv(); m.Op != OpError || m.Code != CodeRoomNotFound {
		t.Fatalf("expected room not found, got %+v", m)
	}
}

func TestRejectsBadHandshake(t *testing.T) {
	_, srv := newTestServer(t)
	first := dialPeer(t, srv, "dup")
	// One round trip guarantees the id is registered.
	first.send(&Message{Op: OpResolve, Room: "NONE0"})
	first.recv()

	testCases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing id", "", http.StatusBadRequest},
		{"duplicate id", "?" + PeerParam + "=dup", http.StatusConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path + tc.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %v", tc.status, resp)
			}
		})
	}
}

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := generateRoomCode(RoomCodeLength)
		if len(code) != RoomCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(roomAlphabet, c) {
				t.Fatalf("code %q contains %q", code, c)
			}
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	in := &Message{Op: OpError, Code: CodeTargetNotConnected, Ref: OpPunch, Target: "abc"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if *out != *in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	if _, err := Unmarshal([]byte{0xFF, 0x00}); err == nil {
		t.Fatal("expected decode error for garbage")
	}
}
