// Package protocol defines the compact binary formats exchanged between
// peers: gameplay messages, control payloads, session envelopes, handshake
// tuples and full entity snapshots.
package protocol

import "fmt"

// MessageType is the first byte of every gameplay-level payload.
type MessageType uint8

// Gameplay messages.
const (
	PositionUpdate MessageType = iota
	Jump
	BreachCreate
	BreachShrink
	DualCreate
	DualResolve
	ButtonCreate
	ButtonFlag
	ButtonResolve
	AllCreate
	AllFail
	AllSucceed
	ForceWin
	StateSync
)

// Control messages that travel next to gameplay traffic.
const (
	StartGame  MessageType = 52
	ChangeGame MessageType = 53
)

var messageNames = map[MessageType]string{
	PositionUpdate: "PositionUpdate",
	Jump:           "Jump",
	BreachCreate:   "BreachCreate",
	BreachShrink:   "BreachShrink",
	DualCreate:     "DualCreate",
	DualResolve:    "DualResolve",
	ButtonCreate:   "ButtonCreate",
	ButtonFlag:     "ButtonFlag",
	ButtonResolve:  "ButtonResolve",
	AllCreate:      "AllCreate",
	AllFail:        "AllFail",
	AllSucceed:     "AllSucceed",
	ForceWin:       "ForceWin",
	StateSync:      "StateSync",
	StartGame:      "StartGame",
	ChangeGame:     "ChangeGame",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// IsGameplay reports whether t uses the fixed nine-byte message layout.
func (t MessageType) IsGameplay() bool {
	return t < StateSync
}

// MessageSize is the fixed size of a gameplay message:
// Type(1) + Angle(2) + ID(1) + Data1(1) + Data2(1) + Sign(1) + Data3(2).
const MessageSize = 9

// Message is a decoded gameplay message. Unused byte fields hold Absent and
// unused float fields hold NoValue().
type Message struct {
	Type  MessageType
	Angle float32
	ID    uint8
	Data1 uint8
	Data2 uint8
	Data3 float32 // the only signed field
}

// NewMessage returns a message of the given type with every field absent.
func NewMessage(typ MessageType) *Message {
	return &Message{
		Type:  typ,
		Angle: NoValue(),
		ID:    Absent,
		Data1: Absent,
		Data2: Absent,
		Data3: NoValue(),
	}
}
