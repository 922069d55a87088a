package session_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/session"
	"github.com/1ureka/sweetspace/internal/transport"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recorder wraps a network's Dial and remembers every handle it made.
type recorder struct {
	net     *transport.MemoryNetwork
	handles []transport.Handle
}

func (r *recorder) dial(opts transport.Options) (transport.Handle, error) {
	h, err := r.net.Dial(opts)
	if err == nil {
		r.handles = append(r.handles, h)
	}
	return h, err
}

func (r *recorder) current() transport.Address {
	return r.handles[len(r.handles)-1].ID()
}

type fixture struct {
	t     *testing.T
	net   *transport.MemoryNetwork
	clock *fakeClock
	cfg   config.Session
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:     t,
		net:   transport.NewMemoryNetwork(),
		clock: &fakeClock{now: time.Unix(1000, 0)},
		cfg:   config.Default().Session,
	}
}

func (f *fixture) host(code string) (*session.Session, *recorder) {
	f.t.Helper()
	f.net.SetNextRoomCode(code)
	r := &recorder{net: f.net}
	s, err := session.NewHost(f.cfg, r.dial, session.WithClock(f.clock))
	if err != nil {
		f.t.Fatalf("NewHost: %v", err)
	}
	return s, r
}

func (f *fixture) client(cfg config.Session, code string) (*session.Session, *recorder) {
	f.t.Helper()
	r := &recorder{net: f.net}
	s, err := session.NewClient(cfg, r.dial, code, session.WithClock(f.clock))
	if err != nil {
		f.t.Fatalf("NewClient: %v", err)
	}
	return s, r
}

// pump runs enough receive passes for every queued exchange to settle and
// returns what each session surfaced.
func pump(ss ...*session.Session) [][]session.Inbound {
	out := make([][]session.Inbound, len(ss))
	for round := 0; round < 12; round++ {
		for i, s := range ss {
			s.Receive(func(in session.Inbound) { out[i] = append(out[i], in) })
		}
	}
	return out
}

func expectStatus(t *testing.T, s *session.Session, want session.Status) {
	t.Helper()
	if got := s.Status(); got != want {
		t.Fatalf("status = %s, want %s", got, want)
	}
}

func expectID(t *testing.T, s *session.Session, want uint8) {
	t.Helper()
	id, ok := s.PlayerID()
	if !ok || id != want {
		t.Fatalf("player id = %d (assigned %v), want %d", id, ok, want)
	}
}

func hasInbound(in []session.Inbound, kind session.InboundKind, player uint8) bool {
	for _, x := range in {
		if x.Kind == kind && x.Player == player {
			return true
		}
	}
	return false
}

func TestHostOpensRoom(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	expectStatus(t, host, session.Pending)

	pump(host)
	expectStatus(t, host, session.Connected)
	expectID(t, host, 0)
	if host.RoomCode() != "AB12C" {
		t.Fatalf("room code = %q", host.RoomCode())
	}
	if !host.IsHost() || !host.IsPlayerActive(0) || host.NumPlayers() != 1 {
		t.Fatalf("unexpected host state: host=%v active0=%v num=%d", host.IsHost(), host.IsPlayerActive(0), host.NumPlayers())
	}
	if _, ok := host.Role().(*session.HostRole); !ok {
		t.Fatalf("role is %T", host.Role())
	}
}

func TestHandshake(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)

	c1, _ := f.client(f.cfg, "AB12C")
	in := pump(host, c1)
	expectStatus(t, c1, session.Connected)
	expectID(t, c1, 1)
	if !hasInbound(in[0], session.InboundPlayerJoined, 1) {
		t.Fatalf("host did not surface player 1 joining: %+v", in[0])
	}

	c2, _ := f.client(f.cfg, "AB12C")
	in = pump(host, c1, c2)
	expectID(t, c2, 2)
	if !hasInbound(in[1], session.InboundPlayerJoined, 2) {
		t.Fatalf("player 1 did not hear about player 2: %+v", in[1])
	}

	for i, s := range []*session.Session{host, c1, c2} {
		if s.NumPlayers() != 3 || s.TotalPlayers() != 3 {
			t.Fatalf("session %d: num=%d total=%d, want 3/3", i, s.NumPlayers(), s.TotalPlayers())
		}
		for id := uint8(0); id < 3; id++ {
			if !s.IsPlayerActive(id) {
				t.Fatalf("session %d: player %d inactive", i, id)
			}
		}
	}

	role, ok := c1.Role().(*session.ClientRole)
	if !ok || role.RoomCode != "AB12C" || role.HostAddress == "" {
		t.Fatalf("unexpected client role %+v", c1.Role())
	}
}

func TestJoinFailures(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxPlayers = 2
	host, _ := f.host("AB12C")
	pump(host)

	c1, _ := f.client(f.cfg, "AB12C")
	pump(host, c1)
	expectStatus(t, c1, session.Connected)

	t.Run("room full", func(t *testing.T) {
		c2, _ := f.client(f.cfg, "AB12C")
		pump(host, c1, c2)
		expectStatus(t, c2, session.RoomNotFound)
		if !c2.RoomFull() {
			t.Fatal("RoomFull() = false for a full room")
		}
		if host.NumPlayers() != 2 {
			t.Fatalf("host num players = %d", host.NumPlayers())
		}
	})

	t.Run("room not found", func(t *testing.T) {
		c, _ := f.client(f.cfg, "ZZZZZ")
		pump(c)
		expectStatus(t, c, session.RoomNotFound)
		if c.RoomFull() {
			t.Fatal("RoomFull() = true for a missing room")
		}
	})

	t.Run("server unreachable", func(t *testing.T) {
		f.net.SetServerReachable(false)
		defer f.net.SetServerReachable(true)
		c, _ := f.client(f.cfg, "AB12C")
		pump(c)
		expectStatus(t, c, session.GenericError)
	})
}

func TestAPIMismatch(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)

	other := f.cfg
	other.APIVersion = f.cfg.APIVersion + 1
	c, _ := f.client(other, "AB12C")
	pump(host, c)

	expectStatus(t, c, session.APIMismatch)
	if host.NumPlayers() != 1 || host.IsPlayerActive(1) {
		t.Fatalf("host admitted a mismatched client: num=%d", host.NumPlayers())
	}

	// The slot was freed for the next player.
	next, _ := f.client(f.cfg, "AB12C")
	pump(host, next)
	expectID(t, next, 1)
}

func TestInvalidRoomCode(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"", "ABCD", "ABCDEF", "AB C1", "AB\x01C1"} {
		_, err := session.NewClient(f.cfg, f.net.Dial, code)
		if !errors.Is(err, session.ErrInvalidRoomCode) {
			t.Errorf("NewClient(%q) error = %v", code, err)
		}
	}
	if f.net.Handles() != 0 {
		t.Fatalf("invalid codes dialed %d handles", f.net.Handles())
	}
}

func TestRelay(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)
	c1, _ := f.client(f.cfg, "AB12C")
	c2, _ := f.client(f.cfg, "AB12C")
	pump(host, c1, c2)

	if err := c1.Send([]byte{7, 7}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in := pump(host, c1, c2)

	want := session.Inbound{Kind: session.InboundMessage, Payload: []byte{7, 7}, Player: 1}
	if len(in[0]) != 1 || in[0][0].Kind != want.Kind || in[0][0].Player != 1 || !bytes.Equal(in[0][0].Payload, want.Payload) {
		t.Fatalf("host got %+v", in[0])
	}
	if len(in[1]) != 0 {
		t.Fatalf("sender got its own message back: %+v", in[1])
	}
	if len(in[2]) != 1 || in[2][0].Player != 0 || !bytes.Equal(in[2][0].Payload, want.Payload) {
		t.Fatalf("player 2 got %+v", in[2])
	}

	if err := host.Send([]byte{9}, false); err != nil {
		t.Fatalf("host Send: %v", err)
	}
	if err := c2.SendToHost([]byte{5}); err != nil {
		t.Fatalf("SendToHost: %v", err)
	}
	in = pump(host, c1, c2)
	if len(in[1]) != 1 || len(in[2]) != 1 || in[1][0].Payload[0] != 9 {
		t.Fatalf("host broadcast not delivered: %+v %+v", in[1], in[2])
	}
	if len(in[0]) != 1 || in[0][0].Player != 2 || in[0][0].Payload[0] != 5 {
		t.Fatalf("direct message not delivered: %+v", in[0])
	}
}

func TestSendRequiresConnection(t *testing.T) {
	f := newFixture(t)
	c, _ := f.client(f.cfg, "AB12C")
	if err := c.Send([]byte{1}, true); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("Send while pending: %v", err)
	}
}

func TestPlayerLeftInLobby(t *testing.T) {
	f := newFixture(t)
	host, hr := f.host("AB12C")
	pump(host)
	c1, r1 := f.client(f.cfg, "AB12C")
	c2, _ := f.client(f.cfg, "AB12C")
	pump(host, c1, c2)

	f.net.Sever(hr.current(), r1.current())
	in := pump(host, c2)

	if !hasInbound(in[0], session.InboundPlayerLeft, 1) || !hasInbound(in[1], session.InboundPlayerLeft, 1) {
		t.Fatalf("departure not surfaced: host=%+v c2=%+v", in[0], in[1])
	}
	if host.NumPlayers() != 2 || host.TotalPlayers() != 2 || host.IsPlayerActive(1) {
		t.Fatalf("host after leave: num=%d total=%d", host.NumPlayers(), host.TotalPlayers())
	}
	if c2.NumPlayers() != 2 || c2.IsPlayerActive(1) {
		t.Fatalf("player 2 after leave: num=%d", c2.NumPlayers())
	}
}

func TestStartGameFreezesTotal(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)
	c1, _ := f.client(f.cfg, "AB12C")
	pump(host, c1)

	host.StartGame()
	pump(host, c1)
	if !host.Started() || !c1.Started() {
		t.Fatal("game not started on both sides")
	}
	if c1.TotalPlayers() != 2 {
		t.Fatalf("total players = %d", c1.TotalPlayers())
	}

	// Nobody left, so nobody can take a slot.
	late, _ := f.client(f.cfg, "AB12C")
	pump(host, c1, late)
	expectStatus(t, late, session.RoomNotFound)
	if !late.RoomFull() {
		t.Fatal("late joiner should see a full room")
	}
}

func TestReconnect(t *testing.T) {
	f := newFixture(t)
	host, hr := f.host("AB12C")
	pump(host)
	c1, r1 := f.client(f.cfg, "AB12C")
	pump(host, c1)
	host.StartGame()
	pump(host, c1)

	f.net.Sever(hr.current(), r1.current())
	in := pump(host, c1)

	expectStatus(t, c1, session.Connected)
	expectID(t, c1, 1)
	if len(r1.handles) != 2 {
		t.Fatalf("client dialed %d times, want 2", len(r1.handles))
	}
	if !hasInbound(in[0], session.InboundPlayerLeft, 1) || !hasInbound(in[0], session.InboundPlayerJoined, 1) {
		t.Fatalf("host did not see the round trip: %+v", in[0])
	}
	if host.NumPlayers() != 2 || host.TotalPlayers() != 2 {
		t.Fatalf("host after reconnect: num=%d total=%d", host.NumPlayers(), host.TotalPlayers())
	}

	if err := c1.Send([]byte{3}, true); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	in = pump(host, c1)
	if len(in[0]) != 1 || in[0][0].Payload[0] != 3 {
		t.Fatalf("host got %+v after reconnect", in[0])
	}
}

func TestReconnectTimeout(t *testing.T) {
	f := newFixture(t)
	host, hr := f.host("AB12C")
	pump(host)
	c1, r1 := f.client(f.cfg, "AB12C")
	pump(host, c1)

	f.net.SetServerReachable(false)
	f.net.Sever(hr.current(), r1.current())
	pump(host, c1)
	expectStatus(t, c1, session.Reconnecting)
	if len(r1.handles) != 2 {
		t.Fatalf("dials after disconnect = %d, want 2", len(r1.handles))
	}

	// Within the gap: no new attempt.
	f.clock.Advance(f.cfg.ReconnectGap / 2)
	pump(c1)
	if len(r1.handles) != 2 {
		t.Fatalf("redialed inside the gap (%d dials)", len(r1.handles))
	}

	f.clock.Advance(f.cfg.ReconnectGap)
	pump(c1)
	expectStatus(t, c1, session.Reconnecting)
	if len(r1.handles) != 3 {
		t.Fatalf("dials after one gap = %d, want 3", len(r1.handles))
	}

	f.clock.Advance(f.cfg.ReconnectTimeout)
	pump(c1)
	expectStatus(t, c1, session.Disconnected)

	dials := len(r1.handles)
	f.clock.Advance(f.cfg.ReconnectTimeout)
	pump(c1)
	expectStatus(t, c1, session.Disconnected)
	if len(r1.handles) != dials {
		t.Fatal("Disconnected session kept dialing")
	}
}

func TestReconnectIDMismatch(t *testing.T) {
	f := newFixture(t)
	host, hr := f.host("AB12C")
	pump(host)
	c1, r1 := f.client(f.cfg, "AB12C")
	c2, r2 := f.client(f.cfg, "AB12C")
	pump(host, c1, c2)
	host.StartGame()
	pump(host, c1, c2)

	f.net.Sever(hr.current(), r1.current())
	f.net.Sever(hr.current(), r2.current())

	// Player 2 comes back first and is offered slot 1.
	pump(host, c2)
	expectStatus(t, c2, session.Disconnected)

	pump(host, c1)
	expectStatus(t, c1, session.Connected)
	expectID(t, c1, 1)
}

func TestForceDisconnect(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)
	c1, r1 := f.client(f.cfg, "AB12C")
	pump(host, c1)

	c1.ForceDisconnect()
	expectStatus(t, c1, session.Reconnecting)

	in := pump(host, c1)
	if !hasInbound(in[0], session.InboundPlayerLeft, 1) {
		t.Fatalf("host missed the forced departure: %+v", in[0])
	}
	expectStatus(t, c1, session.Connected)
	expectID(t, c1, 1)
	if len(r1.handles) != 2 {
		t.Fatalf("dials = %d, want 2", len(r1.handles))
	}

	host.ForceDisconnect()
	expectStatus(t, host, session.Connected)
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	host, _ := f.host("AB12C")
	pump(host)
	c1, _ := f.client(f.cfg, "AB12C")
	pump(host, c1)

	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}
	in := pump(host)
	if !hasInbound(in[0], session.InboundPlayerLeft, 1) {
		t.Fatalf("host missed the closed client: %+v", in[0])
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
