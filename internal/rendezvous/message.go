// Package rendezvous implements the lightweight introduction service peers
// use before they can talk directly: it hands out room codes, resolves a
// room code to its host, introduces two peers to each other and relays the
// SDP offer/answer pair that opens the direct link.
package rendezvous

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Path is the HTTP path the WebSocket endpoint is served on.
const Path = "/ws"

// PeerParam is the query parameter a peer uses to announce its identifier.
const PeerParam = "peer"

// RoomCodeLength is the number of characters in a room code.
const RoomCodeLength = 5

// Op identifies the kind of rendezvous message.
type Op uint8

const (
	OpHost     Op = iota + 1 // peer → server: open a room
	OpRoom                   // server → host: room code assigned
	OpResolve                // peer → server: look up a room
	OpResolved               // server → peer: room host identifier
	OpPunch                  // peer → server: introduce me to Target
	OpPunched                // server → both peers: introduction done
	OpOffer                  // relayed SDP offer
	OpAnswer                 // relayed SDP answer
	OpReject                 // relayed refusal of an offer (no free slots)
	OpError                  // server → peer: request failed
)

var opNames = map[Op]string{
	OpHost:     "host",
	OpRoom:     "room",
	OpResolve:  "resolve",
	OpResolved: "resolved",
	OpPunch:    "punch",
	OpPunched:  "punched",
	OpOffer:    "offer",
	OpAnswer:   "answer",
	OpReject:   "reject",
	OpError:    "error",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ErrorCode explains an OpError message.
type ErrorCode uint8

const (
	CodeRoomNotFound ErrorCode = iota + 1
	CodeTargetNotConnected
	CodeBadRequest
)

func (c ErrorCode) String() string {
	switch c {
	case CodeRoomNotFound:
		return "room not found"
	case CodeTargetNotConnected:
		return "target not connected"
	case CodeBadRequest:
		return "bad request"
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// Message is the single envelope exchanged with the rendezvous server, sent
// as one CBOR item per WebSocket binary frame. Integer keys keep frames small.
type Message struct {
	Op     Op        `cbor:"1,keyasint"`
	Room   string    `cbor:"2,keyasint,omitempty"`
	Peer   string    `cbor:"3,keyasint,omitempty"` // the other party, filled in by the server
	Target string    `cbor:"4,keyasint,omitempty"`
	SDP    string    `cbor:"5,keyasint,omitempty"`
	Code   ErrorCode `cbor:"6,keyasint,omitempty"`
	Ref    Op        `cbor:"7,keyasint,omitempty"` // request an OpError answers
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding: identical messages produce identical frames.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rendezvous: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("rendezvous: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes msg for the wire.
func Marshal(msg *Message) ([]byte, error) {
	return encMode.Marshal(msg)
}

// Unmarshal decodes one wire frame.
func Unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding rendezvous message: %w", err)
	}
	return &msg, nil
}
