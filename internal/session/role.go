package session

import (
	"fmt"

	"github.com/1ureka/sweetspace/internal/transport"
)

// Role is what this peer is in the room: *HostRole or *ClientRole.
type Role interface {
	isRole()
}

// HostRole is the host's view of the room. Slot i belongs to player id i+1;
// an empty address marks a free slot.
type HostRole struct {
	Slots []transport.Address
	// PendingRejects holds peers that were introduced while the room was
	// full. They get JoinRoomFail as soon as their link opens.
	PendingRejects map[transport.Address]struct{}
	Started        bool
}

// ClientRole is a client's view of the room.
type ClientRole struct {
	RoomCode    string
	HostAddress transport.Address
}

func (*HostRole) isRole()   {}
func (*ClientRole) isRole() {}

func newHostRole(maxPlayers int) *HostRole {
	return &HostRole{
		Slots:          make([]transport.Address, maxPlayers-1),
		PendingRejects: make(map[transport.Address]struct{}),
	}
}

// slotOf returns the slot held by addr, or -1.
func (h *HostRole) slotOf(addr transport.Address) int {
	if addr == "" {
		return -1
	}
	for i, a := range h.Slots {
		if a == addr {
			return i
		}
	}
	return -1
}

// freeSlot returns the first free slot, or -1.
func (h *HostRole) freeSlot() int {
	for i, a := range h.Slots {
		if a == "" {
			return i
		}
	}
	return -1
}

// unknownRole aborts on a Role implementation this package does not know.
func unknownRole(r Role) {
	panic(fmt.Sprintf("session: unknown role %T", r))
}
