// Package transport is the packet layer under a game session: a Handle
// talks to the rendezvous server, opens direct links to other peers and
// moves datagrams over them. Everything a Handle observes is queued as an
// Event and drained by the owner through Receive, so callers stay
// single-threaded regardless of how the implementation works internally.
package transport

import (
	"errors"
	"fmt"
)

// Address identifies a remote peer.
type Address string

// EventKind classifies an Event.
type EventKind uint8

const (
	ServerConnected    EventKind = iota + 1 // rendezvous server reachable
	ServerLost                              // rendezvous server unreachable or gone
	RoomAssigned                            // Room holds our new room code
	RoomResolved                            // Peer hosts the requested Room
	RoomNotFound                            // Room is unknown to the server
	PunchSucceeded                          // Peer was introduced to us
	PunchFailed                             // Peer is not known to the server
	ConnectionAccepted                      // our Connect to Peer produced a link
	IncomingConnection                      // Peer opened a link to us
	ConnectionFailed                        // our Connect to Peer gave up
	NoFreeIncoming                          // Peer has no room for another link
	Disconnected                            // the link to Peer is gone
	Data                                    // Data arrived from Peer
)

var eventNames = map[EventKind]string{
	ServerConnected:    "ServerConnected",
	ServerLost:         "ServerLost",
	RoomAssigned:       "RoomAssigned",
	RoomResolved:       "RoomResolved",
	RoomNotFound:       "RoomNotFound",
	PunchSucceeded:     "PunchSucceeded",
	PunchFailed:        "PunchFailed",
	ConnectionAccepted: "ConnectionAccepted",
	IncomingConnection: "IncomingConnection",
	ConnectionFailed:   "ConnectionFailed",
	NoFreeIncoming:     "NoFreeIncoming",
	Disconnected:       "Disconnected",
	Data:               "Data",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one observation queued by a Handle.
type Event struct {
	Kind     EventKind
	Peer     Address
	Room     string
	Data     []byte
	Reliable bool // Data only: which channel carried it
}

var (
	// ErrNotConnected is returned when sending to a peer without a link.
	ErrNotConnected = errors.New("transport: no link to peer")
	// ErrQueueFull is returned when a link's send queue cannot take more.
	ErrQueueFull = errors.New("transport: send queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: handle closed")
)

// Handle is a single peer's view of the network. All methods are
// non-blocking; outcomes surface later as events.
type Handle interface {
	// ID is this peer's address as others see it.
	ID() Address

	// RegisterRoom asks the rendezvous server for a room code.
	RegisterRoom()
	// ResolveRoom asks the rendezvous server who hosts room.
	ResolveRoom(room string)
	// OpenNAT asks the rendezvous server to introduce us to target.
	OpenNAT(target Address)
	// LeaveServer drops the rendezvous connection. No event follows.
	LeaveServer()

	// Connect opens a direct link to an introduced peer.
	Connect(target Address)
	// Send queues data for dest on the reliable-ordered or the unreliable channel.
	Send(data []byte, dest Address, reliable bool) error
	// CloseConnection drops the link to peer. The peer sees Disconnected.
	CloseConnection(peer Address)

	// Receive drains every queued event in arrival order.
	Receive() []Event

	// Close releases everything. Linked peers see Disconnected.
	Close() error
}

// Options configures one Handle.
type Options struct {
	// MaxIncoming caps links opened to us by others.
	MaxIncoming int
}

// DialFunc creates a fresh Handle and starts connecting it to the
// rendezvous server. The session calls it again for every reconnect attempt.
type DialFunc func(opts Options) (Handle, error)
