package session

import (
	"github.com/1ureka/sweetspace/internal/protocol"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

func (s *Session) clientEvent(c *ClientRole, ev transport.Event, fn func(Inbound)) {
	switch ev.Kind {
	case transport.ServerConnected:
		s.handle.ResolveRoom(c.RoomCode)

	case transport.ServerLost:
		if s.status == Pending && !s.hostLinked {
			s.fail(GenericError, "rendezvous server unreachable")
		}

	case transport.RoomResolved:
		c.HostAddress = ev.Peer
		util.LogDebug("room %s is hosted by %s", ev.Room, util.PeerTag(string(ev.Peer)))
		s.handle.OpenNAT(ev.Peer)

	case transport.RoomNotFound:
		s.fail(RoomNotFound, "room "+c.RoomCode+" does not exist")

	case transport.PunchSucceeded:
		util.LogDebug("punchthrough to %s succeeded", util.PeerTag(string(ev.Peer)))

	case transport.PunchFailed, transport.ConnectionFailed:
		s.fail(GenericError, "cannot reach host: "+ev.Kind.String())

	case transport.NoFreeIncoming:
		s.failFull()

	case transport.IncomingConnection, transport.ConnectionAccepted:
		if ev.Peer != c.HostAddress {
			util.LogWarning("closing link from stranger %s", util.PeerTag(string(ev.Peer)))
			s.handle.CloseConnection(ev.Peer)
			return
		}
		s.hostLinked = true

	case transport.Disconnected:
		if ev.Peer != c.HostAddress {
			return
		}
		s.hostLinked = false
		switch s.status {
		case Pending:
			s.fail(GenericError, "host closed the link during the handshake")
		case Connected:
			util.LogWarning("lost the host")
			s.enterReconnecting()
		default:
			util.LogDebug("host link dropped while %s", s.status)
		}

	case transport.Data:
		if ev.Peer != c.HostAddress {
			util.LogDebug("dropping datagram from stranger %s", util.PeerTag(string(ev.Peer)))
			return
		}
		s.clientData(c, ev, fn)

	default:
		util.LogDebug("client ignoring %s", ev.Kind)
	}
}

func (s *Session) clientData(c *ClientRole, ev transport.Event, fn func(Inbound)) {
	typ, payload, err := protocol.DecodeEnvelope(ev.Data)
	if err != nil {
		util.LogWarning("dropping envelope from host: %v", err)
		return
	}

	switch typ {
	case protocol.PacketJoinRoom:
		s.join(c, payload, fn)
	case protocol.PacketReconnect:
		s.rejoin(c, payload, fn)
	case protocol.PacketJoinRoomFail:
		s.failFull()
	case protocol.PacketPlayerJoined, protocol.PacketPlayerLeft, protocol.PacketStartGame, protocol.PacketStandard:
		if s.status != Connected {
			util.LogDebug("dropping %s while %s", typ, s.status)
			return
		}
		s.roster(typ, payload, fn)
	default:
		util.LogWarning("client dropping %s envelope", typ)
	}
}

// join handles the host's JoinRoom tuple.
func (s *Session) join(c *ClientRole, payload []byte, fn func(Inbound)) {
	info, err := protocol.DecodeJoinInfo(payload)
	if err != nil {
		s.fail(GenericError, "malformed join tuple: "+err.Error())
		return
	}
	if s.status != Pending && s.status != Reconnecting {
		util.LogDebug("ignoring JoinRoom while %s", s.status)
		return
	}
	if info.APIVersion != s.cfg.APIVersion {
		s.apiMismatch(c, protocol.PacketJoinRoom, info)
		return
	}

	s.adopt(info, fn)
	s.connected(c, protocol.PacketJoinRoom)
}

// rejoin handles the host's Reconnect tuple.
func (s *Session) rejoin(c *ClientRole, payload []byte, fn func(Inbound)) {
	info, err := protocol.DecodeJoinInfo(payload)
	if err != nil {
		s.fail(GenericError, "malformed reconnect tuple: "+err.Error())
		return
	}
	if info.APIVersion != s.cfg.APIVersion {
		s.apiMismatch(c, protocol.PacketReconnect, info)
		return
	}
	if s.status != Reconnecting {
		util.LogError("host sent Reconnect while %s", s.status)
		s.status = GenericError
		return
	}
	if s.hasID && info.PlayerID != s.playerID {
		util.LogError("host offered player %d, we were player %d", info.PlayerID, s.playerID)
		s.status = Disconnected
		s.release()
		return
	}

	s.adopt(info, fn)
	s.started = true
	s.connected(c, protocol.PacketReconnect)
}

// adopt takes the host's counts. Only the host and this player are known
// to be active; the host names the others right after the handshake. Anyone
// remembered from before a reconnection is reported as gone.
func (s *Session) adopt(info protocol.JoinInfo, fn func(Inbound)) {
	s.playerID, s.hasID = info.PlayerID, true
	s.numPlayers = info.NumPlayers
	s.totalPlayers = info.TotalPlayers

	for id := 1; id < len(s.active); id++ {
		if s.active[id] && id != int(info.PlayerID) {
			s.active[id] = false
			fn(Inbound{Kind: InboundPlayerLeft, Player: uint8(id)})
		}
	}
	s.active[0] = true
	if int(info.PlayerID) < len(s.active) {
		s.active[info.PlayerID] = true
	}
}

// connected finishes the handshake: echo the id and leave the server.
func (s *Session) connected(c *ClientRole, typ protocol.PacketType) {
	s.status = Connected
	if err := s.sendTo(c.HostAddress, typ, protocol.JoinAck{PlayerID: s.playerID, APIOK: true}.Encode(), true); err != nil {
		util.LogWarning("handshake answer: %v", err)
	}
	s.handle.LeaveServer()
	util.LogSuccess("joined room %s as player %d (%d/%d)", c.RoomCode, s.playerID, s.numPlayers, s.totalPlayers)
}

// apiMismatch is fatal but still tells the host why.
func (s *Session) apiMismatch(c *ClientRole, typ protocol.PacketType, info protocol.JoinInfo) {
	util.LogError("host speaks API %d, we speak %d", info.APIVersion, s.cfg.APIVersion)
	s.status = APIMismatch
	if err := s.sendTo(c.HostAddress, typ, protocol.JoinAck{PlayerID: info.PlayerID, APIOK: false}.Encode(), true); err != nil {
		util.LogDebug("handshake answer: %v", err)
	}
	s.handle.LeaveServer()
}

// roster applies host announcements and surfaces gameplay.
func (s *Session) roster(typ protocol.PacketType, payload []byte, fn func(Inbound)) {
	switch typ {
	case protocol.PacketStandard:
		fn(Inbound{Kind: InboundMessage, Payload: payload, Player: 0})
		return
	case protocol.PacketStartGame:
		util.LogInfo("host started the game")
		s.StartGame()
		return
	}

	if len(payload) < 1 || int(payload[0]) >= len(s.active) {
		util.LogWarning("dropping %s with bad player id %v", typ, payload)
		return
	}
	id := payload[0]

	if typ == protocol.PacketPlayerJoined {
		if s.active[id] {
			return
		}
		s.active[id] = true
		s.recount()
		util.LogInfo("player %d joined", id)
		fn(Inbound{Kind: InboundPlayerJoined, Player: id})
		return
	}

	if !s.active[id] {
		return
	}
	s.active[id] = false
	s.numPlayers--
	if !s.started {
		s.totalPlayers--
	}
	util.LogInfo("player %d left", id)
	fn(Inbound{Kind: InboundPlayerLeft, Player: id})
}

// recount raises the counts to cover every player known to be active.
func (s *Session) recount() {
	var n uint8
	for _, a := range s.active {
		if a {
			n++
		}
	}
	if n > s.numPlayers {
		s.numPlayers = n
	}
	if !s.started && s.numPlayers > s.totalPlayers {
		s.totalPlayers = s.numPlayers
	}
}

func (s *Session) failFull() {
	if s.status == Reconnecting {
		util.LogWarning("reconnection attempt failed: room is full")
		return
	}
	s.roomFull = true
	s.fail(RoomNotFound, "room is full")
}

func (s *Session) enterReconnecting() {
	if c, ok := s.role.(*ClientRole); ok && c.HostAddress != "" && s.handle != nil {
		s.handle.CloseConnection(c.HostAddress)
	}
	s.status = Reconnecting
	s.hostLinked = false
	s.disconnectedAt = s.clock.Now()
	s.attempted = false
}

// attemptReconnect gives up after the timeout, and otherwise redials the
// room once per gap.
func (s *Session) attemptReconnect() {
	now := s.clock.Now()
	if now.Sub(s.disconnectedAt) > s.cfg.ReconnectTimeout {
		util.LogError("could not reconnect within %s", s.cfg.ReconnectTimeout)
		s.status = Disconnected
		s.release()
		return
	}
	if s.attempted && now.Sub(s.lastAttempt) < s.cfg.ReconnectGap {
		return
	}

	s.attempted = true
	s.lastAttempt = now
	if err := s.release(); err != nil {
		util.LogDebug("closing old transport: %v", err)
	}
	s.role.(*ClientRole).HostAddress = ""
	s.hostLinked = false

	util.LogInfo("reconnecting to room %s", s.roomCode)
	if err := s.open(); err != nil {
		util.LogWarning("reconnection attempt failed: %v", err)
	}
}
