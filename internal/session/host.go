package session

import (
	"github.com/1ureka/sweetspace/internal/protocol"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

func (s *Session) hostEvent(h *HostRole, ev transport.Event, fn func(Inbound)) {
	switch ev.Kind {
	case transport.ServerConnected:
		s.handle.RegisterRoom()

	case transport.ServerLost:
		if s.status == Pending {
			s.fail(GenericError, "rendezvous server unreachable")
			return
		}
		util.LogWarning("rendezvous server lost; no new players can join %s", s.roomCode)

	case transport.RoomAssigned:
		s.roomCode = ev.Room
		s.playerID, s.hasID = 0, true
		s.numPlayers, s.totalPlayers = 1, 1
		s.active[0] = true
		s.status = Connected
		util.LogSuccess("room %s is open", ev.Room)

	case transport.PunchSucceeded:
		s.reserve(h, ev.Peer)

	case transport.ConnectionAccepted:
		s.welcome(h, ev.Peer)

	case transport.IncomingConnection:
		// Clients never dial the host.
		util.LogWarning("closing unexpected incoming link from %s", util.PeerTag(string(ev.Peer)))
		s.handle.CloseConnection(ev.Peer)

	case transport.ConnectionFailed, transport.NoFreeIncoming:
		util.LogWarning("link to %s failed (%s)", util.PeerTag(string(ev.Peer)), ev.Kind)
		delete(h.PendingRejects, ev.Peer)
		if i := h.slotOf(ev.Peer); i >= 0 {
			h.Slots[i] = ""
		}

	case transport.Disconnected:
		s.hostLost(h, ev.Peer, fn)

	case transport.Data:
		s.hostData(h, ev, fn)

	default:
		util.LogDebug("host ignoring %s", ev.Kind)
	}
}

// reserve decides, once and for all, whether peer gets a slot.
func (s *Session) reserve(h *HostRole, peer transport.Address) {
	tag := util.PeerTag(string(peer))

	if i := h.slotOf(peer); i >= 0 {
		util.LogDebug("repeated punch from %s reuses slot for player %d", tag, i+1)
	} else if i := h.freeSlot(); i >= 0 && (!h.Started || s.numPlayers < s.totalPlayers) {
		h.Slots[i] = peer
		util.LogInfo("reserved player %d for %s", i+1, tag)
	} else {
		h.PendingRejects[peer] = struct{}{}
		util.LogWarning("room %s is full; rejecting %s", s.roomCode, tag)
	}
	s.handle.Connect(peer)
}

// welcome sends the join tuple (or the rejection) once the link is up.
func (s *Session) welcome(h *HostRole, peer transport.Address) {
	if _, rejected := h.PendingRejects[peer]; rejected {
		delete(h.PendingRejects, peer)
		if err := s.sendTo(peer, protocol.PacketJoinRoomFail, nil, true); err != nil {
			util.LogWarning("join rejection: %v", err)
		}
		s.handle.CloseConnection(peer)
		return
	}

	i := h.slotOf(peer)
	if i < 0 {
		util.LogWarning("closing link to unreserved peer %s", util.PeerTag(string(peer)))
		s.handle.CloseConnection(peer)
		return
	}

	typ := protocol.PacketJoinRoom
	info := protocol.JoinInfo{
		NumPlayers:   s.numPlayers + 1,
		TotalPlayers: s.totalPlayers + 1,
		PlayerID:     uint8(i + 1),
		APIVersion:   s.cfg.APIVersion,
	}
	if h.Started {
		typ = protocol.PacketReconnect
		info.TotalPlayers = s.totalPlayers
	}

	if err := s.sendTo(peer, typ, info.Encode(), true); err != nil {
		util.LogWarning("handshake with player %d: %v", i+1, err)
	}
}

// verify checks a client's answer to the join tuple.
func (s *Session) verify(h *HostRole, peer transport.Address, payload []byte, fn func(Inbound)) {
	i := h.slotOf(peer)
	if i < 0 {
		util.LogWarning("handshake answer from unreserved peer %s", util.PeerTag(string(peer)))
		return
	}
	id := uint8(i + 1)
	if s.active[id] {
		util.LogDebug("player %d answered twice", id)
		return
	}

	ack, err := protocol.DecodeJoinAck(payload)
	switch {
	case err != nil:
		util.LogWarning("player %d sent a malformed handshake: %v", id, err)
	case ack.PlayerID != id:
		util.LogWarning("player %d answered as %d", id, ack.PlayerID)
	case !ack.APIOK:
		util.LogWarning("player %d runs a different API version", id)
	default:
		s.active[id] = true
		s.numPlayers++
		if !h.Started {
			s.totalPlayers++
		}
		if s.numPlayers > s.totalPlayers {
			s.totalPlayers = s.numPlayers
		}
		util.LogSuccess("player %d joined (%d/%d)", id, s.numPlayers, s.totalPlayers)

		if err := s.broadcast(h, protocol.PacketPlayerJoined, []byte{id}, peer, true); err != nil {
			util.LogWarning("announce player %d: %v", id, err)
		}
		// The join tuple only carried counts; name the others explicitly.
		for j := 1; j < len(s.active); j++ {
			if j == int(id) || !s.active[j] {
				continue
			}
			if err := s.sendTo(peer, protocol.PacketPlayerJoined, []byte{uint8(j)}, true); err != nil {
				util.LogWarning("roster for player %d: %v", id, err)
				break
			}
		}
		fn(Inbound{Kind: InboundPlayerJoined, Player: id})
		return
	}

	h.Slots[i] = ""
	s.handle.CloseConnection(peer)
}

// hostLost frees the slot of a peer whose link went down.
func (s *Session) hostLost(h *HostRole, peer transport.Address, fn func(Inbound)) {
	delete(h.PendingRejects, peer)
	i := h.slotOf(peer)
	if i < 0 {
		return
	}
	h.Slots[i] = ""
	id := uint8(i + 1)
	if !s.active[id] {
		util.LogDebug("player %d left before finishing the handshake", id)
		return
	}

	s.active[id] = false
	s.numPlayers--
	if !h.Started {
		s.totalPlayers--
	}
	util.LogWarning("player %d left (%d/%d)", id, s.numPlayers, s.totalPlayers)

	if err := s.broadcast(h, protocol.PacketPlayerLeft, []byte{id}, "", true); err != nil {
		util.LogWarning("announce departure of player %d: %v", id, err)
	}
	fn(Inbound{Kind: InboundPlayerLeft, Player: id})
}

func (s *Session) hostData(h *HostRole, ev transport.Event, fn func(Inbound)) {
	typ, payload, err := protocol.DecodeEnvelope(ev.Data)
	if err != nil {
		util.LogWarning("dropping envelope from %s: %v", util.PeerTag(string(ev.Peer)), err)
		return
	}

	switch typ {
	case protocol.PacketJoinRoom, protocol.PacketReconnect:
		s.verify(h, ev.Peer, payload, fn)
		return
	case protocol.PacketStandard, protocol.PacketDirectToHost:
	default:
		util.LogWarning("host dropping %s envelope", typ)
		return
	}

	i := h.slotOf(ev.Peer)
	if i < 0 || !s.active[i+1] || s.status != Connected {
		util.LogDebug("dropping %s from inactive peer %s", typ, util.PeerTag(string(ev.Peer)))
		return
	}
	id := uint8(i + 1)

	if typ == protocol.PacketStandard {
		if err := s.broadcast(h, typ, payload, ev.Peer, ev.Reliable); err != nil {
			util.LogDebug("relay from player %d: %v", id, err)
		}
	}
	fn(Inbound{Kind: InboundMessage, Payload: payload, Player: id})
}
