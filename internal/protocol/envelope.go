package protocol

import "fmt"

// PacketType tags a session envelope.
type PacketType uint8

// Session envelope types. Values start at 1 so a zeroed buffer never parses
// as a valid envelope.
const (
	PacketStandard     PacketType = iota + 1 // host relays to every other peer
	PacketDirectToHost                       // consumed by the host only
	PacketJoinRoom                           // handshake: JoinInfo from host, JoinAck from client
	PacketJoinRoomFail                       // host is full
	PacketReconnect                          // handshake for a rejoining player
	PacketPlayerJoined                       // [playerID]
	PacketPlayerLeft                         // [playerID]
	PacketStartGame                          // host locked the room
)

var packetNames = map[PacketType]string{
	PacketStandard:     "Standard",
	PacketDirectToHost: "DirectToHost",
	PacketJoinRoom:     "JoinRoom",
	PacketJoinRoomFail: "JoinRoomFail",
	PacketReconnect:    "Reconnect",
	PacketPlayerJoined: "PlayerJoined",
	PacketPlayerLeft:   "PlayerLeft",
	PacketStartGame:    "StartGame",
}

func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// EnvelopeHeaderSize is Type(1) + Length(1).
const EnvelopeHeaderSize = 2

// MaxPayloadSize is the largest payload a one-byte length field can carry.
const MaxPayloadSize = 255

// EncodeEnvelope wraps payload as [type][length][payload].
func EncodeEnvelope(typ PacketType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: envelope payload is %d bytes (max %d)", ErrTooLarge, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, EnvelopeHeaderSize+len(payload))
	buf[0] = uint8(typ)
	buf[1] = uint8(len(payload))
	copy(buf[EnvelopeHeaderSize:], payload)
	return buf, nil
}

// DecodeEnvelope unwraps an envelope. The returned payload is a copy.
func DecodeEnvelope(data []byte) (PacketType, []byte, error) {
	if len(data) < EnvelopeHeaderSize {
		return 0, nil, fmt.Errorf("%w: envelope is %d bytes", ErrShort, len(data))
	}
	n := int(data[1])
	if len(data)-EnvelopeHeaderSize < n {
		return 0, nil, fmt.Errorf("%w: envelope declares %d bytes but carries %d", ErrShort, n, len(data)-EnvelopeHeaderSize)
	}
	payload := make([]byte, n)
	copy(payload, data[EnvelopeHeaderSize:EnvelopeHeaderSize+n])
	return PacketType(data[0]), payload, nil
}

// ---------------------------------------------------------------------------
// Handshake tuples
// ---------------------------------------------------------------------------

// JoinInfo is what the host sends once a direct link opens.
type JoinInfo struct {
	NumPlayers   uint8 // players connected including the joiner
	TotalPlayers uint8
	PlayerID     uint8
	APIVersion   uint8
}

// Encode serializes the tuple.
func (j JoinInfo) Encode() []byte {
	return []byte{j.NumPlayers, j.TotalPlayers, j.PlayerID, j.APIVersion}
}

// DecodeJoinInfo parses a JoinInfo tuple.
func DecodeJoinInfo(data []byte) (JoinInfo, error) {
	if len(data) < 4 {
		return JoinInfo{}, fmt.Errorf("%w: join info is %d bytes", ErrShort, len(data))
	}
	return JoinInfo{
		NumPlayers:   data[0],
		TotalPlayers: data[1],
		PlayerID:     data[2],
		APIVersion:   data[3],
	}, nil
}

// JoinAck is the client's answer to JoinInfo.
type JoinAck struct {
	PlayerID uint8
	APIOK    bool
}

// Encode serializes the tuple.
func (a JoinAck) Encode() []byte {
	return []byte{a.PlayerID, boolByte(a.APIOK)}
}

// DecodeJoinAck parses a JoinAck tuple.
func DecodeJoinAck(data []byte) (JoinAck, error) {
	if len(data) < 2 {
		return JoinAck{}, fmt.Errorf("%w: join ack is %d bytes", ErrShort, len(data))
	}
	return JoinAck{PlayerID: data[0], APIOK: data[1] != 0}, nil
}
