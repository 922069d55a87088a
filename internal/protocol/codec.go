package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FloatPrecision is the factor floats are multiplied by before being
// truncated into a 16-bit word. A word can therefore carry values in
// [0, 364.07] with a resolution of 1/180.
const FloatPrecision = 180.0

// Absent marks an unused byte field.
const Absent uint8 = 0xFF

const (
	absentWord uint16 = 0xFFFF
	maxWord    uint16 = absentWord - 1

	signNegative uint8 = 0
	signPositive uint8 = 1
)

var (
	// ErrShort is returned when a buffer is smaller than its format requires.
	ErrShort = errors.New("protocol: buffer too short")
	// ErrTooLarge is returned when a payload does not fit its length field.
	ErrTooLarge = errors.New("protocol: payload too large")
	// ErrBadSign is returned when a signed field carries an unknown sign byte.
	ErrBadSign = errors.New("protocol: invalid sign byte")
)

// NoValue returns the float used for absent fields.
func NoValue() float32 {
	return float32(math.NaN())
}

// IsAbsent reports whether f is the absent float marker.
func IsAbsent(f float32) bool {
	return math.IsNaN(float64(f))
}

// PutFloat writes f into b[0:2], low byte first. Negative values clamp to 0
// and values past the word range saturate.
func PutFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint16(b, floatToWord(f))
}

// Float reads a float written by PutFloat.
func Float(b []byte) float32 {
	w := binary.LittleEndian.Uint16(b)
	if w == absentWord {
		return NoValue()
	}
	return float32(float64(w) / FloatPrecision)
}

func floatToWord(f float32) uint16 {
	if IsAbsent(f) {
		return absentWord
	}
	scaled := float64(f) * FloatPrecision
	switch {
	case scaled <= 0:
		return 0
	case scaled >= float64(maxWord):
		return maxWord
	}
	return uint16(scaled)
}

// PutSigned writes f into b[0:3] as a sign byte followed by the magnitude.
func PutSigned(b []byte, f float32) {
	switch {
	case IsAbsent(f):
		b[0] = Absent
		binary.LittleEndian.PutUint16(b[1:3], absentWord)
	case f < 0:
		b[0] = signNegative
		PutFloat(b[1:3], -f)
	default:
		b[0] = signPositive
		PutFloat(b[1:3], f)
	}
}

// Signed reads a value written by PutSigned.
func Signed(b []byte) (float32, error) {
	switch b[0] {
	case Absent:
		return NoValue(), nil
	case signPositive:
		return Float(b[1:3]), nil
	case signNegative:
		return -Float(b[1:3]), nil
	}
	return 0, fmt.Errorf("%w: %#02x", ErrBadSign, b[0])
}

// Encode serializes a gameplay message into its fixed nine-byte form.
func Encode(msg *Message) []byte {
	buf := make([]byte, MessageSize)
	buf[0] = uint8(msg.Type)
	PutFloat(buf[1:3], msg.Angle)
	buf[3] = msg.ID
	buf[4] = msg.Data1
	buf[5] = msg.Data2
	PutSigned(buf[6:9], msg.Data3)
	return buf
}

// Decode deserializes a gameplay message.
func Decode(data []byte) (*Message, error) {
	if len(data) < MessageSize {
		return nil, fmt.Errorf("%w: message is %d bytes (need %d)", ErrShort, len(data), MessageSize)
	}
	data3, err := Signed(data[6:9])
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:  MessageType(data[0]),
		Angle: Float(data[1:3]),
		ID:    data[3],
		Data1: data[4],
		Data2: data[5],
		Data3: data3,
	}, nil
}

// ---------------------------------------------------------------------------
// Control payloads
// ---------------------------------------------------------------------------

// LevelChange is the body of a ChangeGame message. Next is false for a
// restart of the current level.
type LevelChange struct {
	Next   bool
	Level  uint8 // only meaningful when Next is set
	Parity bool
}

// EncodeStartGame builds the StartGame control payload.
func EncodeStartGame(level uint8) []byte {
	return []byte{uint8(StartGame), level}
}

// DecodeStartGame returns the level carried by a StartGame payload.
func DecodeStartGame(data []byte) (uint8, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: start game is %d bytes", ErrShort, len(data))
	}
	return data[1], nil
}

// EncodeChangeGame builds the ChangeGame control payload.
func EncodeChangeGame(c LevelChange) []byte {
	if !c.Next {
		return []byte{uint8(ChangeGame), 0, boolByte(c.Parity)}
	}
	return []byte{uint8(ChangeGame), 1, c.Level, boolByte(c.Parity)}
}

// DecodeChangeGame parses a ChangeGame payload.
func DecodeChangeGame(data []byte) (LevelChange, error) {
	if len(data) < 3 {
		return LevelChange{}, fmt.Errorf("%w: change game is %d bytes", ErrShort, len(data))
	}
	if data[1] == 0 {
		return LevelChange{Parity: data[2] != 0}, nil
	}
	if len(data) < 4 {
		return LevelChange{}, fmt.Errorf("%w: next level is %d bytes", ErrShort, len(data))
	}
	return LevelChange{Next: true, Level: data[2], Parity: data[3] != 0}, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
