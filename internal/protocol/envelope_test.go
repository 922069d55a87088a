package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/1ureka/sweetspace/internal/protocol"
)

// TestEnvelopeRoundTrip verifies type and payload survive wrapping.
func TestEnvelopeRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		typ     protocol.PacketType
		payload []byte
	}{
		{"standard message", protocol.PacketStandard, protocol.Encode(protocol.NewMessage(protocol.Jump))},
		{"direct to host", protocol.PacketDirectToHost, []byte{1, 2, 3}},
		{"empty start game", protocol.PacketStartGame, nil},
		{"max payload", protocol.PacketStandard, bytes.Repeat([]byte{0xAB}, protocol.MaxPayloadSize)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := protocol.EncodeEnvelope(tc.typ, tc.payload)
			if err != nil {
				t.Fatalf("EncodeEnvelope failed: %v", err)
			}
			if len(encoded) != protocol.EnvelopeHeaderSize+len(tc.payload) {
				t.Fatalf("encoded size = %d", len(encoded))
			}

			typ, payload, err := protocol.DecodeEnvelope(encoded)
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}
			if typ != tc.typ {
				t.Errorf("type = %v, want %v", typ, tc.typ)
			}
			if !bytes.Equal(payload, tc.payload) {
				t.Errorf("payload mismatch: got % x, want % x", payload, tc.payload)
			}
		})
	}
}

func TestEnvelopeTooLarge(t *testing.T) {
	_, err := protocol.EncodeEnvelope(protocol.PacketStandard, make([]byte, protocol.MaxPayloadSize+1))
	if !errors.Is(err, protocol.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

// TestEnvelopeShort covers both a missing header and a length field that
// promises more than the buffer holds.
func TestEnvelopeShort(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"type only", []byte{1}},
		{"truncated payload", []byte{1, 5, 0xAA, 0xBB}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := protocol.DecodeEnvelope(tc.data)
			if !errors.Is(err, protocol.ErrShort) {
				t.Fatalf("expected ErrShort, got %v", err)
			}
		})
	}
}

// TestEnvelopePayloadIsCopy ensures callers can reuse the receive buffer.
func TestEnvelopePayloadIsCopy(t *testing.T) {
	raw := []byte{uint8(protocol.PacketStandard), 2, 9, 9}
	_, payload, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}
	raw[2] = 0
	if payload[0] != 9 {
		t.Fatal("payload aliases the input buffer")
	}
}

func TestHandshakeTuples(t *testing.T) {
	info := protocol.JoinInfo{NumPlayers: 3, TotalPlayers: 3, PlayerID: 2, APIVersion: 0}
	gotInfo, err := protocol.DecodeJoinInfo(info.Encode())
	if err != nil || gotInfo != info {
		t.Fatalf("JoinInfo round trip = %+v, %v", gotInfo, err)
	}

	ack := protocol.JoinAck{PlayerID: 2, APIOK: true}
	gotAck, err := protocol.DecodeJoinAck(ack.Encode())
	if err != nil || gotAck != ack {
		t.Fatalf("JoinAck round trip = %+v, %v", gotAck, err)
	}

	if _, err := protocol.DecodeJoinInfo([]byte{1, 2}); !errors.Is(err, protocol.ErrShort) {
		t.Errorf("short JoinInfo: expected ErrShort, got %v", err)
	}
	if _, err := protocol.DecodeJoinAck([]byte{1}); !errors.Is(err, protocol.ErrShort) {
		t.Errorf("short JoinAck: expected ErrShort, got %v", err)
	}
}
