package session

import "fmt"

// Status is the connection status of a session.
type Status uint8

const (
	// Pending: the handshake has not finished.
	Pending Status = iota
	// Connected: gameplay messages flow.
	Connected
	// Reconnecting: the host link dropped; only handshake messages flow.
	Reconnecting
	// Disconnected: reconnection gave up or was refused. Permanent.
	Disconnected
	// APIMismatch: host and client run different protocol versions.
	APIMismatch
	// RoomNotFound: the room does not exist or is full (see RoomFull).
	RoomNotFound
	// GenericError: any other failure.
	GenericError
)

var statusNames = map[Status]string{
	Pending:      "Pending",
	Connected:    "Connected",
	Reconnecting: "Reconnecting",
	Disconnected: "Disconnected",
	APIMismatch:  "APIMismatch",
	RoomNotFound: "RoomNotFound",
	GenericError: "GenericError",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether the session can no longer make progress.
func (s Status) Terminal() bool {
	switch s {
	case Disconnected, APIMismatch, RoomNotFound, GenericError:
		return true
	}
	return false
}
