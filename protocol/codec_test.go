package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecode_PayloadTypes(t *testing.T) {
	cases := []struct {
		name    string
		msgType uint16
		payload interface{}
	}{
		{"FindMatch", TypeFindMatch, &FindMatchRequest{Mode: "duel"}},
		{"CancelMatch", TypeCancelMatch, &CancelMatchRequest{Mode: "duel"}},
		{"Ready", TypeReady, &ReadyRequest{MatchID: "m-1"}},
		{"MatchFound", TypeMatchFound, &MatchFound{
			MatchID:         "m-1",
			Mode:            "duel",
			Players:         []string{"alice", "bob"},
			ReadyDeadlineMs: 1700000010000,
		}},
		{"MatchConfirmed", TypeMatchConfirmed, &MatchConfirmed{MatchID: "m-1"}},
		{"MatchAborted", TypeMatchAborted, &MatchAborted{MatchID: "m-1", Reason: "peer_cancel"}},
		{"ReadyAck", TypeReadyAck, &ReadyAcknowledged{
			MatchID:         "m-1",
			ReadyPlayers:    []string{"alice"},
			ReadyDeadlineMs: 1700000010000,
		}},
		{"ReadyAckFail", TypeReadyAckFail, &ReadyAcknowledgeFail{MatchID: "m-1", Reason: "unhealthy"}},
		{"TicketCancelled", TypeTicketCancelled, &TicketCancelled{TicketID: "t-1", Mode: "duel"}},
		{"Error", TypeError, &ErrorNotice{Code: "conflict", Message: "already paired"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msg := &Message{
				Header:  Header{Type: c.msgType, ID: 42, Timestamp: 1700000000000},
				Payload: c.payload,
			}

			encoded, err := Encode(msg)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Header.Type != c.msgType {
				t.Errorf("type: expected 0x%04x, got 0x%04x", c.msgType, decoded.Header.Type)
			}
			if decoded.Header.ID != 42 {
				t.Errorf("id: expected 42, got %d", decoded.Header.ID)
			}
			if decoded.Header.Timestamp != 1700000000000 {
				t.Errorf("timestamp: expected 1700000000000, got %d", decoded.Header.Timestamp)
			}
			if decoded.Payload == nil {
				t.Fatal("expected a payload")
			}

			reencoded, err := Encode(decoded)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(encoded, reencoded) {
				t.Errorf("re-encode differs:\n  first:  %x\n  second: %x", encoded, reencoded)
			}
		})
	}
}

func TestEncodeDecode_HeaderOnly(t *testing.T) {
	for _, msgType := range []uint16{TypePing, TypePong} {
		msg := &Message{Header: Header{Type: msgType, ID: 7, Timestamp: 1700000000000}}

		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(encoded) != HeaderSize {
			t.Errorf("expected a bare %d-byte header, got %d bytes", HeaderSize, len(encoded))
		}

		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Payload != nil {
			t.Errorf("header-only frame decoded with payload %v", decoded.Payload)
		}
		if decoded.Header.Telemetry != nil {
			t.Errorf("telemetry flag unset but segment decoded: %+v", decoded.Header.Telemetry)
		}
	}
}

func TestEncodeDecode_Telemetry(t *testing.T) {
	telemetry := &Telemetry{}
	telemetry.SetRTT(23)
	telemetry.SetLastPingID(99)
	telemetry.SetClientSent(1700000000123)

	msg := &Message{
		Header: Header{
			Type:      TypeMatchFound,
			ID:        1,
			Timestamp: 1700000000000,
			Telemetry: telemetry,
		},
		Payload: &MatchFound{MatchID: "m-1", Mode: "duel", Players: []string{"a", "b"}},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded[18]&FlagHasTelemetry == 0 {
		t.Fatal("telemetry flag not set on wire")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.Header.Telemetry
	if got == nil {
		t.Fatal("telemetry segment lost")
	}
	if rtt, ok := got.RTT(); !ok || rtt != 23 {
		t.Errorf("rtt: expected 23, got %d (set=%v)", rtt, ok)
	}
	if id, ok := got.LastPingID(); !ok || id != 99 {
		t.Errorf("last ping id: expected 99, got %d (set=%v)", id, ok)
	}
	if sent, ok := got.ClientSent(); !ok || sent != 1700000000123 {
		t.Errorf("client sent: expected 1700000000123, got %d (set=%v)", sent, ok)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("telemetry re-encode differs:\n  first:  %x\n  second: %x", encoded, reencoded)
	}
}

func TestEncodeDecode_PartialTelemetry(t *testing.T) {
	// Only one field set; the others must stay absent through a round trip.
	telemetry := &Telemetry{}
	telemetry.SetRTT(8)

	msg := &Message{
		Header: Header{Type: TypePing, ID: 3, Timestamp: 1, Telemetry: telemetry},
	}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded.Header.Telemetry.LastPingID(); ok {
		t.Error("last ping id should be absent")
	}
	if _, ok := decoded.Header.Telemetry.ClientSent(); ok {
		t.Error("client sent should be absent")
	}
	if rtt, ok := decoded.Header.Telemetry.RTT(); !ok || rtt != 8 {
		t.Errorf("rtt: expected 8, got %d (set=%v)", rtt, ok)
	}
}

func TestDecode_TruncatedHeader(t *testing.T) {
	for size := 0; size < HeaderSize; size++ {
		if _, err := Decode(make([]byte, size)); !errors.Is(err, ErrTruncatedHeader) {
			t.Errorf("size %d: expected ErrTruncatedHeader, got %v", size, err)
		}
	}
}

func TestDecode_TruncatedTelemetry(t *testing.T) {
	telemetry := &Telemetry{}
	telemetry.SetRTT(10)
	telemetry.SetLastPingID(5)
	msg := &Message{Header: Header{Type: TypePing, ID: 1, Telemetry: telemetry}}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Every cut inside the telemetry segment must fail, never yield a
	// zeroed or partial segment.
	for size := HeaderSize; size < len(encoded); size++ {
		if _, err := Decode(encoded[:size]); !errors.Is(err, ErrTruncatedTelemetry) {
			t.Errorf("size %d: expected ErrTruncatedTelemetry, got %v", size, err)
		}
	}
}

func TestDecode_UnknownTypeFailsSoft(t *testing.T) {
	msg := &Message{Header: Header{Type: 0x7777, ID: 9, Timestamp: 5}}
	// Encode manually: the encoder refuses unknown payloads but a bare
	// header with a foreign type is exactly what a newer peer would send.
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if decoded == nil || decoded.Header.Type != 0x7777 {
		t.Error("header should still be available for logging on unknown types")
	}
}

func TestDecode_PayloadOnHeaderOnlyType(t *testing.T) {
	encoded, err := Encode(&Message{Header: Header{Type: TypePong, ID: 2}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(encoded, 'x')); !errors.Is(err, ErrUnexpectedPayload) {
		t.Errorf("expected ErrUnexpectedPayload, got %v", err)
	}
}

func TestDecode_GarbagePayload(t *testing.T) {
	encoded, err := Encode(&Message{
		Header:  Header{Type: TypeFindMatch, ID: 1},
		Payload: &FindMatchRequest{Mode: "duel"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	corrupted := append(encoded[:HeaderSize:HeaderSize], []byte("{not json")...)
	if _, err := Decode(corrupted); err == nil {
		t.Error("expected error for corrupted payload")
	}
}
