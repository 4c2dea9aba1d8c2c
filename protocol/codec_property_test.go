package protocol

import (
	"bytes"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

// drawMessage generates a random well-formed protocol message.
func drawMessage(t *rapid.T) *Message {
	msgType := rapid.SampledFrom([]uint16{
		TypePing, TypePong, TypeFindMatch, TypeCancelMatch, TypeReady,
		TypeMatchFound, TypeMatchConfirmed, TypeMatchAborted,
		TypeReadyAck, TypeReadyAckFail, TypeTicketCancelled, TypeError,
	}).Draw(t, "msgType")

	msg := &Message{
		Header: Header{
			Type:      msgType,
			ID:        rapid.Uint64().Draw(t, "id"),
			Timestamp: rapid.Int64Range(0, 1<<52).Draw(t, "timestamp"),
		},
	}

	if rapid.Bool().Draw(t, "hasTelemetry") {
		telemetry := &Telemetry{}
		if rapid.Bool().Draw(t, "hasRTT") {
			telemetry.SetRTT(rapid.Uint32().Draw(t, "rtt"))
		}
		if rapid.Bool().Draw(t, "hasPingID") {
			telemetry.SetLastPingID(rapid.Uint64().Draw(t, "pingID"))
		}
		if rapid.Bool().Draw(t, "hasClientSent") {
			telemetry.SetClientSent(rapid.Int64Range(0, 1<<52).Draw(t, "clientSent"))
		}
		if !telemetry.Empty() {
			msg.Header.Telemetry = telemetry
		}
	}

	mode := rapid.StringMatching(`[a-z0-9_]{1,16}`).Draw(t, "mode")
	id := rapid.StringMatching(`[a-z0-9-]{1,32}`).Draw(t, "entityID")

	switch msgType {
	case TypeFindMatch:
		msg.Payload = &FindMatchRequest{Mode: mode}
	case TypeCancelMatch:
		msg.Payload = &CancelMatchRequest{Mode: mode}
	case TypeReady:
		msg.Payload = &ReadyRequest{MatchID: id}
	case TypeMatchFound:
		msg.Payload = &MatchFound{
			MatchID:         id,
			Mode:            mode,
			Players:         []string{"p1-" + mode, "p2-" + mode},
			ReadyDeadlineMs: rapid.Int64Range(0, 1<<52).Draw(t, "deadline"),
		}
	case TypeMatchConfirmed:
		msg.Payload = &MatchConfirmed{MatchID: id}
	case TypeMatchAborted:
		msg.Payload = &MatchAborted{MatchID: id, Reason: mode}
	case TypeReadyAck:
		msg.Payload = &ReadyAcknowledged{MatchID: id, ReadyPlayers: []string{mode}}
	case TypeReadyAckFail:
		msg.Payload = &ReadyAcknowledgeFail{MatchID: id, Reason: mode}
	case TypeTicketCancelled:
		msg.Payload = &TicketCancelled{TicketID: id, Mode: mode}
	case TypeError:
		msg.Payload = &ErrorNotice{Code: mode, Message: id}
	}

	return msg
}

// For any well-formed message, encode -> decode -> re-encode must yield
// byte-identical output and an equal in-memory message.
func TestBinaryRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := drawMessage(t)

		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		reencoded, err := Encode(decoded)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}

		if !bytes.Equal(encoded, reencoded) {
			t.Fatalf("round trip not byte-identical:\n  first:  %x\n  second: %x", encoded, reencoded)
		}
		if !reflect.DeepEqual(msg.Payload, decoded.Payload) {
			t.Fatalf("payload mismatch:\n  sent: %#v\n  got:  %#v", msg.Payload, decoded.Payload)
		}
	})
}

// The JSON mirror must carry exactly the same message as the binary form.
func TestJSONMirror_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := drawMessage(t)

		viaJSON, err := EncodeJSON(msg)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		decoded, err := DecodeJSON(viaJSON)
		if err != nil {
			t.Fatalf("decode json: %v", err)
		}

		if !reflect.DeepEqual(msg.Payload, decoded.Payload) {
			t.Fatalf("payload mismatch:\n  sent: %#v\n  got:  %#v", msg.Payload, decoded.Payload)
		}

		// Cross-check against the binary codec: both decoders must agree.
		wire, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode binary: %v", err)
		}
		viaBinary, err := Decode(wire)
		if err != nil {
			t.Fatalf("decode binary: %v", err)
		}
		if !reflect.DeepEqual(viaBinary.Payload, decoded.Payload) {
			t.Fatalf("codecs disagree:\n  binary: %#v\n  json:   %#v", viaBinary.Payload, decoded.Payload)
		}
		if viaBinary.Header.ID != decoded.Header.ID || viaBinary.Header.Type != decoded.Header.Type {
			t.Fatalf("header mismatch: binary %+v, json %+v", viaBinary.Header, decoded.Header)
		}
	})
}
