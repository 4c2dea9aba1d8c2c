package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binary wire format, big-endian:
//
//	[Type u16][Id u64][Timestamp i64][Flags u8][Telemetry?][Payload?]
//
// The telemetry segment is present iff FlagHasTelemetry is set. The payload
// occupies the remainder of the frame; header-only types carry none.
const HeaderSize = 2 + 8 + 8 + 1

// MaxPayloadSize bounds payload decoding to prevent excessive allocation.
const MaxPayloadSize = 1 * 1024 * 1024

var (
	ErrTruncatedHeader    = errors.New("truncated header")
	ErrTruncatedTelemetry = errors.New("truncated telemetry segment")
	ErrUnknownType        = errors.New("unknown message type")
	ErrUnexpectedPayload  = errors.New("unexpected payload on header-only frame")
	ErrPayloadTooLarge    = errors.New("payload too large")
)

// Encode serializes a message into a fresh byte slice.
// The telemetry flag is derived from segment presence, so a decoded message
// re-encodes byte-identically.
func Encode(msg *Message) ([]byte, error) {
	return AppendEncode(make([]byte, 0, HeaderSize+64), msg)
}

// AppendEncode serializes a message, appending to dst. It is the
// allocation-free variant for send paths that reuse pooled buffers.
func AppendEncode(dst []byte, msg *Message) ([]byte, error) {
	h := &msg.Header

	flags := h.Flags &^ FlagHasTelemetry
	if !h.Telemetry.Empty() {
		flags |= FlagHasTelemetry
	}

	out := dst
	out = binary.BigEndian.AppendUint16(out, h.Type)
	out = binary.BigEndian.AppendUint64(out, h.ID)
	out = binary.BigEndian.AppendUint64(out, uint64(h.Timestamp))
	out = append(out, flags)

	if flags&FlagHasTelemetry != 0 {
		out = appendTelemetry(out, h.Telemetry)
	}

	if msg.Payload != nil {
		if HeaderOnly(h.Type) {
			return nil, fmt.Errorf("%w: type 0x%04x", ErrUnexpectedPayload, h.Type)
		}
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		out = append(out, data...)
	}

	return out, nil
}

// Decode parses a complete binary frame.
//
// Decoding is two-phase: the header is parsed first, then the payload type
// registry decides whether a payload exists at all. Unknown types return
// the parsed header together with ErrUnknownType so callers can log and
// drop the frame without treating it as a protocol failure.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncatedHeader
	}

	msg := &Message{
		Header: Header{
			Type:      binary.BigEndian.Uint16(data[0:2]),
			ID:        binary.BigEndian.Uint64(data[2:10]),
			Timestamp: int64(binary.BigEndian.Uint64(data[10:18])),
			Flags:     data[18],
		},
	}
	rest := data[HeaderSize:]

	if msg.Header.Flags&FlagHasTelemetry != 0 {
		telemetry, n, err := decodeTelemetry(rest)
		if err != nil {
			return nil, err
		}
		msg.Header.Telemetry = telemetry
		rest = rest[n:]
	}

	if !KnownType(msg.Header.Type) {
		return msg, fmt.Errorf("%w: 0x%04x", ErrUnknownType, msg.Header.Type)
	}

	if HeaderOnly(msg.Header.Type) {
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: type 0x%04x with %d trailing bytes",
				ErrUnexpectedPayload, msg.Header.Type, len(rest))
		}
		return msg, nil
	}

	if len(rest) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(rest))
	}

	payload := NewPayload(msg.Header.Type)
	if err := json.Unmarshal(rest, payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload type 0x%04x: %w", msg.Header.Type, err)
	}
	msg.Payload = payload

	return msg, nil
}
