package protocol

import (
	"fmt"
)

// Per-entity record sizes inside a snapshot.
const (
	playerRecordSize = 5 // angle(2) + signed velocity(3)
	breachRecordSize = 4 // angle(2) + player(1) + health(1)
	doorRecordSize   = 3 // angle(2) + occupancy mask(1)
	buttonRecordSize = 4 // angle(2) + pair(1) + flags(1)

	snapshotHeaderSize    = 3 // level(1) + health(2)
	challengeRecordSize   = 3 // active(1) + progress(1) + roll direction(1)
	maxSnapshotLevel      = 0x7F
	buttonFlagResolved    = 1 << 0
	buttonFlagPressed     = 1 << 1
	snapshotSectionCounts = 4
)

// PlayerState is one player's continuous motion.
type PlayerState struct {
	Angle    float32
	Velocity float32
}

// BreachState is one breach. An inactive breach has an absent angle.
type BreachState struct {
	Angle  float32
	Player uint8
	Health uint8
}

// DoorState is one dual task. PlayersOn is a bitmask of player ids.
type DoorState struct {
	Angle     float32
	PlayersOn uint8
}

// ButtonState is one half of a paired button task.
type ButtonState struct {
	Angle    float32
	Pair     uint8
	Pressed  bool
	Resolved bool
}

// ChallengeState is the stabilizer (all-players) challenge.
type ChallengeState struct {
	Active   bool
	Progress uint8
	RollDir  uint8
}

// Snapshot is the host's authoritative view of every dynamic entity.
type Snapshot struct {
	Level     uint8
	Parity    bool
	Health    float32
	Players   []PlayerState
	Breaches  []BreachState
	Doors     []DoorState
	Buttons   []ButtonState
	Challenge ChallengeState
}

// Size returns the encoded size of s in bytes.
func (s *Snapshot) Size() int {
	return snapshotHeaderSize + snapshotSectionCounts +
		len(s.Players)*playerRecordSize +
		len(s.Breaches)*breachRecordSize +
		len(s.Doors)*doorRecordSize +
		len(s.Buttons)*buttonRecordSize +
		challengeRecordSize
}

// EncodeLevel packs a level number and its parity into one byte.
func EncodeLevel(level uint8, parity bool) uint8 {
	return level<<1 | boolByte(parity)
}

// DecodeLevel reverses EncodeLevel.
func DecodeLevel(b uint8) (level uint8, parity bool) {
	return b >> 1, b&1 == 1
}

// EncodeSnapshot serializes s. The result always fits inside an envelope
// together with the leading StateSync type byte.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s.Level > maxSnapshotLevel {
		return nil, fmt.Errorf("protocol: snapshot level %d out of range", s.Level)
	}
	size := s.Size()
	if size > MaxPayloadSize-1 {
		return nil, fmt.Errorf("%w: snapshot is %d bytes (max %d)", ErrTooLarge, size, MaxPayloadSize-1)
	}

	buf := make([]byte, size)
	buf[0] = EncodeLevel(s.Level, s.Parity)
	PutFloat(buf[1:3], s.Health)
	off := snapshotHeaderSize

	buf[off] = uint8(len(s.Players))
	off++
	for _, p := range s.Players {
		PutFloat(buf[off:off+2], p.Angle)
		PutSigned(buf[off+2:off+5], p.Velocity)
		off += playerRecordSize
	}

	buf[off] = uint8(len(s.Breaches))
	off++
	for _, b := range s.Breaches {
		PutFloat(buf[off:off+2], b.Angle)
		buf[off+2] = b.Player
		buf[off+3] = b.Health
		off += breachRecordSize
	}

	buf[off] = uint8(len(s.Doors))
	off++
	for _, d := range s.Doors {
		PutFloat(buf[off:off+2], d.Angle)
		buf[off+2] = d.PlayersOn
		off += doorRecordSize
	}

	buf[off] = uint8(len(s.Buttons))
	off++
	for _, b := range s.Buttons {
		PutFloat(buf[off:off+2], b.Angle)
		buf[off+2] = b.Pair
		var flags uint8
		if b.Resolved {
			flags |= buttonFlagResolved
		}
		if b.Pressed {
			flags |= buttonFlagPressed
		}
		buf[off+3] = flags
		off += buttonRecordSize
	}

	buf[off] = boolByte(s.Challenge.Active)
	buf[off+1] = s.Challenge.Progress
	buf[off+2] = s.Challenge.RollDir

	return buf, nil
}

// snapshotReader walks a snapshot buffer, failing once on truncation.
type snapshotReader struct {
	data []byte
	off  int
	err  error
}

func (r *snapshotReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: snapshot truncated at offset %d", ErrShort, r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *snapshotReader) count() int {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return int(b[0])
}

// DecodeSnapshot parses a buffer produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	r := &snapshotReader{data: data}
	s := &Snapshot{}

	if hdr := r.take(snapshotHeaderSize); hdr != nil {
		s.Level, s.Parity = DecodeLevel(hdr[0])
		s.Health = Float(hdr[1:3])
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		b := r.take(playerRecordSize)
		if b == nil {
			break
		}
		vel, err := Signed(b[2:5])
		if err != nil {
			return nil, err
		}
		s.Players = append(s.Players, PlayerState{Angle: Float(b[0:2]), Velocity: vel})
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		b := r.take(breachRecordSize)
		if b == nil {
			break
		}
		s.Breaches = append(s.Breaches, BreachState{Angle: Float(b[0:2]), Player: b[2], Health: b[3]})
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		b := r.take(doorRecordSize)
		if b == nil {
			break
		}
		s.Doors = append(s.Doors, DoorState{Angle: Float(b[0:2]), PlayersOn: b[2]})
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		b := r.take(buttonRecordSize)
		if b == nil {
			break
		}
		s.Buttons = append(s.Buttons, ButtonState{
			Angle:    Float(b[0:2]),
			Pair:     b[2],
			Resolved: b[3]&buttonFlagResolved != 0,
			Pressed:  b[3]&buttonFlagPressed != 0,
		})
	}

	if c := r.take(challengeRecordSize); c != nil {
		s.Challenge = ChallengeState{Active: c[0] != 0, Progress: c[1], RollDir: c[2]}
	}

	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// EncodeStateSync builds the StateSync payload: [StateSync][snapshot].
func EncodeStateSync(s *Snapshot) ([]byte, error) {
	body, err := EncodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	return append([]byte{uint8(StateSync)}, body...), nil
}

// EncodeSyncRequest builds the bare [StateSync] payload a reconnecting
// client sends the host to ask for a snapshot right away.
func EncodeSyncRequest() []byte {
	return []byte{uint8(StateSync)}
}

// DecodeStateSync parses a StateSync payload including its type byte.
func DecodeStateSync(data []byte) (*Snapshot, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: state sync is %d bytes", ErrShort, len(data))
	}
	return DecodeSnapshot(data[1:])
}
