// Package session turns a transport.Handle into a game room: it runs the
// join handshake through the rendezvous server, keeps the host's roster of
// player slots, relays gameplay payloads through the host and rebuilds a
// client's connection after the host link drops.
//
// A Session is single-threaded. Every method, including Receive, must be
// called from the same goroutine (the game loop).
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/protocol"
	"github.com/1ureka/sweetspace/internal/rendezvous"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

var (
	// ErrInvalidRoomCode is returned for codes that are not five printable characters.
	ErrInvalidRoomCode = errors.New("session: invalid room code")
	// ErrNotConnected is returned when gameplay is sent outside Connected.
	ErrNotConnected = errors.New("session: not connected")
)

// Clock supplies the time used for reconnection deadlines.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock, e.g. with a fake in tests.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// InboundKind classifies an Inbound.
type InboundKind uint8

const (
	// InboundMessage carries a gameplay payload.
	InboundMessage InboundKind = iota + 1
	// InboundPlayerJoined reports Player finishing its handshake.
	InboundPlayerJoined
	// InboundPlayerLeft reports Player losing its link.
	InboundPlayerLeft
)

// Inbound is one item surfaced by Receive.
type Inbound struct {
	Kind    InboundKind
	Payload []byte
	// Player is the joining or leaving player, or for messages the direct
	// sender (clients only ever hear from the host).
	Player uint8
}

// Session is one peer's membership in a room.
type Session struct {
	cfg   config.Session
	dial  transport.DialFunc
	clock Clock

	handle   transport.Handle
	role     Role
	status   Status
	roomFull bool
	started  bool

	roomCode     string
	playerID     uint8
	hasID        bool
	numPlayers   uint8
	totalPlayers uint8
	active       []bool

	hostLinked     bool
	disconnectedAt time.Time
	lastAttempt    time.Time
	attempted      bool
}

// NewHost opens a room. The room code arrives asynchronously; the session
// is Connected once it has one.
func NewHost(cfg config.Session, dial transport.DialFunc, opts ...Option) (*Session, error) {
	s := newSession(cfg, dial, newHostRole(cfg.MaxPlayers), opts)
	if err := s.open(); err != nil {
		return nil, err
	}
	util.LogInfo("hosting as %s", util.PeerTag(string(s.handle.ID())))
	return s, nil
}

// NewClient joins the room with the given code.
func NewClient(cfg config.Session, dial transport.DialFunc, roomCode string, opts ...Option) (*Session, error) {
	if !ValidRoomCode(roomCode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomCode, roomCode)
	}
	s := newSession(cfg, dial, &ClientRole{RoomCode: roomCode}, opts)
	s.roomCode = roomCode
	if err := s.open(); err != nil {
		return nil, err
	}
	util.LogInfo("joining room %s as %s", roomCode, util.PeerTag(string(s.handle.ID())))
	return s, nil
}

// ValidRoomCode reports whether code has the shape of a room code.
func ValidRoomCode(code string) bool {
	if len(code) != rendezvous.RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '!' || code[i] > '~' {
			return false
		}
	}
	return true
}

func newSession(cfg config.Session, dial transport.DialFunc, role Role, opts []Option) *Session {
	s := &Session{
		cfg:    cfg,
		dial:   dial,
		clock:  realClock{},
		role:   role,
		status: Pending,
		active: make([]bool, cfg.MaxPlayers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// open dials a fresh transport handle for the current role.
func (s *Session) open() error {
	var maxIncoming int
	switch r := s.role.(type) {
	case *HostRole:
		maxIncoming = len(r.Slots)
	case *ClientRole:
		maxIncoming = 1
	default:
		unknownRole(r)
	}

	h, err := s.dial(transport.Options{MaxIncoming: maxIncoming})
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	s.handle = h
	return nil
}

// release closes the transport handle, if any.
func (s *Session) release() error {
	if s.handle == nil {
		return nil
	}
	err := s.handle.Close()
	s.handle = nil
	return err
}

// Close releases the transport. The session is unusable afterwards.
func (s *Session) Close() error {
	return s.release()
}

// ---------------------------------------------------------------------------
// Getters
// ---------------------------------------------------------------------------

func (s *Session) Status() Status   { return s.status }
func (s *Session) Role() Role       { return s.role }
func (s *Session) RoomCode() string { return s.roomCode }

// PlayerID returns this peer's id once assigned.
func (s *Session) PlayerID() (uint8, bool) { return s.playerID, s.hasID }

// NumPlayers is the number of players currently connected, including us.
func (s *Session) NumPlayers() uint8 { return s.numPlayers }

// TotalPlayers is the number of players in the game, connected or not.
func (s *Session) TotalPlayers() uint8 { return s.totalPlayers }

// RoomFull reports whether RoomNotFound was caused by a full room.
func (s *Session) RoomFull() bool { return s.roomFull }

// Started reports whether the host has locked the room.
func (s *Session) Started() bool { return s.started }

// IsHost reports whether this session hosts the room.
func (s *Session) IsHost() bool {
	_, ok := s.role.(*HostRole)
	return ok
}

// IsPlayerActive reports whether player id is currently connected.
func (s *Session) IsPlayerActive(id uint8) bool {
	return int(id) < len(s.active) && s.active[id]
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send delivers payload to every other player. The host sends to each
// client; a client sends to the host, which relays it.
func (s *Session) Send(payload []byte, reliable bool) error {
	if s.status != Connected || s.handle == nil {
		return fmt.Errorf("%w (%s)", ErrNotConnected, s.status)
	}

	switch r := s.role.(type) {
	case *HostRole:
		return s.broadcast(r, protocol.PacketStandard, payload, "", reliable)
	case *ClientRole:
		return s.sendTo(r.HostAddress, protocol.PacketStandard, payload, reliable)
	default:
		unknownRole(r)
	}
	return nil
}

// SendToHost delivers payload to the host only. It does nothing on the host.
func (s *Session) SendToHost(payload []byte) error {
	if s.status != Connected || s.handle == nil {
		return fmt.Errorf("%w (%s)", ErrNotConnected, s.status)
	}

	switch r := s.role.(type) {
	case *HostRole:
		return nil
	case *ClientRole:
		return s.sendTo(r.HostAddress, protocol.PacketDirectToHost, payload, true)
	default:
		unknownRole(r)
	}
	return nil
}

// StartGame locks the room: the player count is frozen and later joiners
// are treated as returning players.
func (s *Session) StartGame() {
	switch r := s.role.(type) {
	case *HostRole:
		util.LogInfo("starting game with %d players", s.numPlayers)
		r.Started = true
		s.started = true
		s.totalPlayers = s.numPlayers
		if s.handle != nil {
			if err := s.broadcast(r, protocol.PacketStartGame, nil, "", true); err != nil {
				util.LogWarning("start game broadcast: %v", err)
			}
		}
	case *ClientRole:
		s.started = true
		s.totalPlayers = s.numPlayers
	default:
		unknownRole(r)
	}
}

// ForceDisconnect makes a connected client behave as if the host link had
// dropped, starting the reconnection cycle.
func (s *Session) ForceDisconnect() {
	switch r := s.role.(type) {
	case *HostRole:
		util.LogWarning("ignoring forced disconnect on the host")
	case *ClientRole:
		if s.status != Connected {
			return
		}
		util.LogWarning("forcing disconnect from host %s", util.PeerTag(string(r.HostAddress)))
		s.enterReconnecting()
	default:
		unknownRole(r)
	}
}

// sendTo wraps payload in an envelope for one peer.
func (s *Session) sendTo(dest transport.Address, typ protocol.PacketType, payload []byte, reliable bool) error {
	data, err := protocol.EncodeEnvelope(typ, payload)
	if err != nil {
		return err
	}
	if err := s.handle.Send(data, dest, reliable); err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, util.PeerTag(string(dest)), err)
	}
	return nil
}

// broadcast sends one envelope to every active client except skip.
func (s *Session) broadcast(h *HostRole, typ protocol.PacketType, payload []byte, skip transport.Address, reliable bool) error {
	data, err := protocol.EncodeEnvelope(typ, payload)
	if err != nil {
		return err
	}

	var errs []error
	for i, addr := range h.Slots {
		if addr == "" || addr == skip || !s.active[i+1] {
			continue
		}
		if err := s.handle.Send(data, addr, reliable); err != nil {
			errs = append(errs, fmt.Errorf("send %s to player %d: %w", typ, i+1, err))
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Receive drains the transport, advancing the handshake and reconnection,
// and calls fn for every gameplay payload and roster change.
func (s *Session) Receive(fn func(Inbound)) {
	switch s.status {
	case Reconnecting:
		s.attemptReconnect()
		if s.handle == nil {
			return
		}
	case Disconnected, GenericError, APIMismatch, RoomNotFound:
		return
	case Pending, Connected:
	}
	if s.handle == nil {
		return
	}

	for _, ev := range s.handle.Receive() {
		switch r := s.role.(type) {
		case *HostRole:
			s.hostEvent(r, ev, fn)
		case *ClientRole:
			s.clientEvent(r, ev, fn)
		default:
			unknownRole(r)
		}
		if s.status.Terminal() {
			return
		}
	}
}

// fail moves to a failure status. While reconnecting, a failed attempt is
// only logged; the next attempt or the timeout decides.
func (s *Session) fail(status Status, reason string) {
	if s.status == Reconnecting {
		util.LogWarning("reconnection attempt failed: %s", reason)
		return
	}
	util.LogError("session failed (%s): %s", status, reason)
	s.status = status
}
