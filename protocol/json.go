package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// JSON mirror of the binary frame. The structure mirrors the wire layout:
// one header object with a named telemetry map, one optional payload
// object. Header-only messages omit "payload" entirely.
type jsonEnvelope struct {
	Header  jsonHeader          `json:"header"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

type jsonHeader struct {
	Type      uint16           `json:"type"`
	ID        uint64           `json:"id"`
	Timestamp int64            `json:"timestamp"`
	Flags     uint8            `json:"flags"`
	Telemetry map[string]int64 `json:"telemetry,omitempty"`
}

// Telemetry map keys, mirroring the binary TLV tags.
const (
	telemetryKeyRTT          = "rtt_ms"
	telemetryKeyLastPingID   = "last_ping_id"
	telemetryKeyClientSentMs = "client_sent_ms"
)

// EncodeJSON serializes a message into the mirrored JSON form.
func EncodeJSON(msg *Message) ([]byte, error) {
	h := &msg.Header

	flags := h.Flags &^ FlagHasTelemetry
	env := jsonEnvelope{
		Header: jsonHeader{
			Type:      h.Type,
			ID:        h.ID,
			Timestamp: h.Timestamp,
			Flags:     flags,
		},
	}

	if !h.Telemetry.Empty() {
		env.Header.Flags |= FlagHasTelemetry
		fields := make(map[string]int64, 3)
		if rtt, ok := h.Telemetry.RTT(); ok {
			fields[telemetryKeyRTT] = int64(rtt)
		}
		if id, ok := h.Telemetry.LastPingID(); ok {
			fields[telemetryKeyLastPingID] = int64(id)
		}
		if sent, ok := h.Telemetry.ClientSent(); ok {
			fields[telemetryKeyClientSentMs] = sent
		}
		env.Header.Telemetry = fields
	}

	if msg.Payload != nil {
		if HeaderOnly(h.Type) {
			return nil, fmt.Errorf("%w: type 0x%04x", ErrUnexpectedPayload, h.Type)
		}
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = data
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// DecodeJSON parses the mirrored JSON form, applying the same two-phase
// type registry lookup as the binary decoder.
func DecodeJSON(data []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	msg := &Message{
		Header: Header{
			Type:      env.Header.Type,
			ID:        env.Header.ID,
			Timestamp: env.Header.Timestamp,
			Flags:     env.Header.Flags,
		},
	}

	if len(env.Header.Telemetry) > 0 {
		t := &Telemetry{}
		if rtt, ok := env.Header.Telemetry[telemetryKeyRTT]; ok {
			t.SetRTT(uint32(rtt))
		}
		if id, ok := env.Header.Telemetry[telemetryKeyLastPingID]; ok {
			t.SetLastPingID(uint64(id))
		}
		if sent, ok := env.Header.Telemetry[telemetryKeyClientSentMs]; ok {
			t.SetClientSent(sent)
		}
		msg.Header.Telemetry = t
	}

	if !KnownType(msg.Header.Type) {
		return msg, fmt.Errorf("%w: 0x%04x", ErrUnknownType, msg.Header.Type)
	}

	if HeaderOnly(msg.Header.Type) {
		if len(env.Payload) != 0 {
			return nil, fmt.Errorf("%w: type 0x%04x", ErrUnexpectedPayload, msg.Header.Type)
		}
		return msg, nil
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("missing payload for type 0x%04x", msg.Header.Type)
	}
	if len(env.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(env.Payload))
	}

	payload := NewPayload(msg.Header.Type)
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload type 0x%04x: %w", msg.Header.Type, err)
	}
	msg.Payload = payload

	return msg, nil
}
