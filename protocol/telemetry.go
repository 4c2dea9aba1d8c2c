package protocol

import (
	"encoding/binary"
	"fmt"
)

// Telemetry TLV tags, encoded in ascending order.
const (
	TagRTT          uint8 = 0x01 // round-trip time, u32 milliseconds
	TagLastPingID   uint8 = 0x02 // correlation id of the last matched ping, u64
	TagClientSentMs uint8 = 0x03 // client-side send timestamp, i64 milliseconds
)

// Telemetry is the optional header segment carrying connection quality
// samples. Fields are individually optional; only set fields are encoded.
type Telemetry struct {
	rttMs        uint32
	lastPingID   uint64
	clientSentMs int64
	set          uint8 // bitmask, bit n-1 for tag n
}

func (t *Telemetry) mark(tag uint8)     { t.set |= 1 << (tag - 1) }
func (t *Telemetry) has(tag uint8) bool { return t.set&(1<<(tag-1)) != 0 }

// SetRTT records a round-trip time sample in milliseconds.
func (t *Telemetry) SetRTT(ms uint32) {
	t.rttMs = ms
	t.mark(TagRTT)
}

// RTT returns the round-trip time sample, if set.
func (t *Telemetry) RTT() (uint32, bool) {
	return t.rttMs, t.has(TagRTT)
}

// SetLastPingID records the correlation id of the last matched ping.
func (t *Telemetry) SetLastPingID(id uint64) {
	t.lastPingID = id
	t.mark(TagLastPingID)
}

// LastPingID returns the last matched ping id, if set.
func (t *Telemetry) LastPingID() (uint64, bool) {
	return t.lastPingID, t.has(TagLastPingID)
}

// SetClientSent records the client-side send timestamp in milliseconds.
func (t *Telemetry) SetClientSent(ms int64) {
	t.clientSentMs = ms
	t.mark(TagClientSentMs)
}

// ClientSent returns the client-side send timestamp, if set.
func (t *Telemetry) ClientSent() (int64, bool) {
	return t.clientSentMs, t.has(TagClientSentMs)
}

// Empty reports whether no field is set.
func (t *Telemetry) Empty() bool {
	return t == nil || t.set == 0
}

// appendTelemetry encodes the segment as a field count followed by TLV
// entries in ascending tag order. The canonical order makes re-encoding a
// decoded segment byte-identical.
func appendTelemetry(dst []byte, t *Telemetry) []byte {
	var count uint8
	for tag := TagRTT; tag <= TagClientSentMs; tag++ {
		if t.has(tag) {
			count++
		}
	}
	dst = append(dst, count)
	if t.has(TagRTT) {
		dst = append(dst, TagRTT, 4)
		dst = binary.BigEndian.AppendUint32(dst, t.rttMs)
	}
	if t.has(TagLastPingID) {
		dst = append(dst, TagLastPingID, 8)
		dst = binary.BigEndian.AppendUint64(dst, t.lastPingID)
	}
	if t.has(TagClientSentMs) {
		dst = append(dst, TagClientSentMs, 8)
		dst = binary.BigEndian.AppendUint64(dst, uint64(t.clientSentMs))
	}
	return dst
}

// decodeTelemetry parses a TLV segment from data and returns the segment
// plus the number of bytes consumed. Unknown tags are skipped by length so
// newer peers can add fields without breaking older readers.
func decodeTelemetry(data []byte) (*Telemetry, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncatedTelemetry
	}
	count := int(data[0])
	offset := 1
	t := &Telemetry{}
	for i := 0; i < count; i++ {
		if len(data) < offset+2 {
			return nil, 0, ErrTruncatedTelemetry
		}
		tag := data[offset]
		length := int(data[offset+1])
		offset += 2
		if len(data) < offset+length {
			return nil, 0, ErrTruncatedTelemetry
		}
		value := data[offset : offset+length]
		offset += length

		switch tag {
		case TagRTT:
			if length != 4 {
				return nil, 0, fmt.Errorf("%w: rtt field length %d", ErrTruncatedTelemetry, length)
			}
			t.SetRTT(binary.BigEndian.Uint32(value))
		case TagLastPingID:
			if length != 8 {
				return nil, 0, fmt.Errorf("%w: last ping id field length %d", ErrTruncatedTelemetry, length)
			}
			t.SetLastPingID(binary.BigEndian.Uint64(value))
		case TagClientSentMs:
			if length != 8 {
				return nil, 0, fmt.Errorf("%w: client sent field length %d", ErrTruncatedTelemetry, length)
			}
			t.SetClientSent(int64(binary.BigEndian.Uint64(value)))
		default:
			// Skip unknown tags.
		}
	}
	return t, offset, nil
}
