package protocol

// Message types
const (
	TypePing            uint16 = 0x0001 // Liveness probe, header-only
	TypePong            uint16 = 0x0002 // Liveness reply, header-only
	TypeFindMatch       uint16 = 0x0010 // Client requests matchmaking
	TypeCancelMatch     uint16 = 0x0011 // Client cancels matchmaking
	TypeReady           uint16 = 0x0012 // Client acknowledges ready check
	TypeMatchFound      uint16 = 0x0020 // Server: paired, ready window open
	TypeMatchConfirmed  uint16 = 0x0021 // Server: both players ready
	TypeMatchAborted    uint16 = 0x0022 // Server: match aborted or expired
	TypeReadyAck        uint16 = 0x0023 // Server: ready progress snapshot
	TypeReadyAckFail    uint16 = 0x0024 // Server: ready acknowledge rejected
	TypeTicketCancelled uint16 = 0x0025 // Server: ticket cancelled
	TypeError           uint16 = 0x00FF // Server: request-level error
)

// Header flags
const (
	FlagHasTelemetry uint8 = 1 << 0
)

// Header is the fixed-layout portion of every frame. Telemetry is carried
// inline when FlagHasTelemetry is set.
type Header struct {
	Type      uint16
	ID        uint64 // sender-monotonic correlation id
	Timestamp int64  // unix milliseconds at send time
	Flags     uint8
	Telemetry *Telemetry
}

// Message is the single internal representation shared by the binary and
// JSON encodings. Payload is nil for header-only types.
type Message struct {
	Header  Header
	Payload interface{}
}

// FindMatchRequest asks to be enqueued for a mode.
type FindMatchRequest struct {
	Mode string `json:"mode"`
}

// CancelMatchRequest cancels the caller's open ticket for a mode.
type CancelMatchRequest struct {
	Mode string `json:"mode"`
}

// ReadyRequest acknowledges the ready check for a match.
type ReadyRequest struct {
	MatchID string `json:"match_id"`
}

// MatchFound notifies a paired player that the ready window has opened.
type MatchFound struct {
	MatchID         string   `json:"match_id"`
	Mode            string   `json:"mode"`
	Players         []string `json:"players"`
	ReadyDeadlineMs int64    `json:"ready_deadline_ms"`
}

// MatchConfirmed notifies that both players acknowledged in time.
type MatchConfirmed struct {
	MatchID string `json:"match_id"`
}

// MatchAborted notifies that the match will not proceed.
type MatchAborted struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// ReadyAcknowledged is the ready-check progress snapshot.
type ReadyAcknowledged struct {
	MatchID         string   `json:"match_id"`
	ReadyPlayers    []string `json:"ready_players"`
	ReadyDeadlineMs int64    `json:"ready_deadline_ms"`
}

// ReadyAcknowledgeFail notifies that a ready acknowledgement was rejected.
type ReadyAcknowledgeFail struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// TicketCancelled confirms a ticket cancellation to its owner.
type TicketCancelled struct {
	TicketID string `json:"ticket_id"`
	Mode     string `json:"mode"`
}

// ErrorNotice carries a structured request-level error to the client.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// payloadFactories maps wire types to payload constructors. Types present
// with a nil factory are header-only. Unregistered types are unknown and
// fail soft at decode time.
var payloadFactories = map[uint16]func() interface{}{
	TypePing:            nil,
	TypePong:            nil,
	TypeFindMatch:       func() interface{} { return new(FindMatchRequest) },
	TypeCancelMatch:     func() interface{} { return new(CancelMatchRequest) },
	TypeReady:           func() interface{} { return new(ReadyRequest) },
	TypeMatchFound:      func() interface{} { return new(MatchFound) },
	TypeMatchConfirmed:  func() interface{} { return new(MatchConfirmed) },
	TypeMatchAborted:    func() interface{} { return new(MatchAborted) },
	TypeReadyAck:        func() interface{} { return new(ReadyAcknowledged) },
	TypeReadyAckFail:    func() interface{} { return new(ReadyAcknowledgeFail) },
	TypeTicketCancelled: func() interface{} { return new(TicketCancelled) },
	TypeError:           func() interface{} { return new(ErrorNotice) },
}

// KnownType reports whether the wire type is part of the protocol.
func KnownType(t uint16) bool {
	_, ok := payloadFactories[t]
	return ok
}

// HeaderOnly reports whether the wire type carries no payload.
func HeaderOnly(t uint16) bool {
	factory, ok := payloadFactories[t]
	return ok && factory == nil
}

// NewPayload returns a zero payload value for the wire type, or nil for
// header-only and unknown types.
func NewPayload(t uint16) interface{} {
	factory := payloadFactories[t]
	if factory == nil {
		return nil
	}
	return factory()
}
