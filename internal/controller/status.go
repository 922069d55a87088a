package controller

import "fmt"

// Status is the matchmaking status the game's menus react to.
type Status uint8

const (
	Uninitialized Status = iota
	// HostConnecting: waiting for the rendezvous server to assign a room.
	HostConnecting
	// HostWaitingForPlayers: the room is open.
	HostWaitingForPlayers
	HostError
	// ClientConnecting: joining a room; no player id yet.
	ClientConnecting
	// ClientWaitingForPlayers: joined; waiting for the host to start.
	ClientWaitingForPlayers
	ClientRoomInvalid
	ClientRoomFull
	ClientAPIMismatch
	ClientError
	GameRunning
	// Reconnecting: the link to the host dropped mid-game.
	Reconnecting
	// ReconnectPending: linked again, waiting for a state sync to confirm
	// that both sides are on the same level.
	ReconnectPending
	ReconnectFailed
	// GameEnded: the last level was completed.
	GameEnded
)

var statusNames = map[Status]string{
	Uninitialized:           "Uninitialized",
	HostConnecting:          "HostConnecting",
	HostWaitingForPlayers:   "HostWaitingForPlayers",
	HostError:               "HostError",
	ClientConnecting:        "ClientConnecting",
	ClientWaitingForPlayers: "ClientWaitingForPlayers",
	ClientRoomInvalid:       "ClientRoomInvalid",
	ClientRoomFull:          "ClientRoomFull",
	ClientAPIMismatch:       "ClientAPIMismatch",
	ClientError:             "ClientError",
	GameRunning:             "GameRunning",
	Reconnecting:            "Reconnecting",
	ReconnectPending:        "ReconnectPending",
	ReconnectFailed:         "ReconnectFailed",
	GameEnded:               "GameEnded",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// canInit reports whether a new connection may be started from s.
func (s Status) canInit() bool {
	switch s {
	case Uninitialized, HostError, ClientRoomInvalid, ClientRoomFull,
		ClientAPIMismatch, ClientError, ReconnectFailed, GameEnded:
		return true
	}
	return false
}

// Event is a major network event the game loop must acknowledge.
type Event uint8

const (
	EventNone Event = iota
	// EventLoadLevel: a (re)started or next level must be loaded.
	EventLoadLevel
	// EventEndGame: the final level was passed.
	EventEndGame
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "None"
	case EventLoadLevel:
		return "LoadLevel"
	case EventEndGame:
		return "EndGame"
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}
