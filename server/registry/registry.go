// Package registry tracks live player connections. It owns the write
// side of each websocket, heartbeat bookkeeping (pong times, in-flight
// pings, RTT estimates), and is the liveness capability the matchmaking
// coordinator consults.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omidkianifarkingkode/flowcast/protocol"
)

// WireConn is the slice of a websocket connection the registry needs.
// *websocket.Conn satisfies it.
type WireConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// writeTimeout bounds a single frame write so one stuck client cannot
// wedge a pushing goroutine.
const writeTimeout = 10 * time.Second

// Conn is a registered player connection.
type Conn struct {
	PlayerID     string
	RegisteredAt time.Time

	ws      WireConn
	limiter *rate.Limiter

	// sendMu serializes writes; gorilla permits one concurrent writer.
	sendMu sync.Mutex

	lastPongAt atomic.Int64 // unix nanos
	rttMs      atomic.Int64 // -1 until the first measured round trip

	// pings tracks in-flight ping ids to their send times so a pong can
	// be matched back to a measured round trip.
	pingMu sync.Mutex
	pings  map[uint64]time.Time
}

// LastPongAt reports the last time a pong arrived from this connection.
func (c *Conn) LastPongAt() time.Time {
	return time.Unix(0, c.lastPongAt.Load())
}

// RTT reports the most recent round-trip estimate in milliseconds and
// whether one has been measured yet.
func (c *Conn) RTT() (int64, bool) {
	ms := c.rttMs.Load()
	return ms, ms >= 0
}

// Allow reports whether the connection's inbound rate limit admits
// another message.
func (c *Conn) Allow() bool {
	return c.limiter.Allow()
}

// Config tunes the registry.
type Config struct {
	// PongTimeout is how long a connection may go without a pong before
	// IsHealthy reports false.
	PongTimeout time.Duration

	// PingTTL bounds how long an unanswered ping id is remembered.
	PingTTL time.Duration

	// MessageRate and MessageBurst shape the per-connection inbound
	// rate limit.
	MessageRate  rate.Limit
	MessageBurst int

	Logger zerolog.Logger
}

const (
	DefaultPongTimeout  = 15 * time.Second
	DefaultPingTTL      = 30 * time.Second
	DefaultMessageRate  = rate.Limit(20)
	DefaultMessageBurst = 40
)

// Registry is the set of currently connected players. One connection per
// player: registering a player again force-closes the previous socket.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	pongTimeout time.Duration
	pingTTL     time.Duration
	msgRate     rate.Limit
	msgBurst    int
	now         func() time.Time
	logger      zerolog.Logger
}

func New(cfg Config) *Registry {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.PingTTL <= 0 {
		cfg.PingTTL = DefaultPingTTL
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = DefaultMessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = DefaultMessageBurst
	}
	return &Registry{
		conns:       make(map[string]*Conn),
		pongTimeout: cfg.PongTimeout,
		pingTTL:     cfg.PingTTL,
		msgRate:     cfg.MessageRate,
		msgBurst:    cfg.MessageBurst,
		now:         time.Now,
		logger:      cfg.Logger.With().Str("com", "registry").Logger(),
	}
}

// Register adds a player connection. An existing connection for the same
// player is closed and replaced; the returned Conn is the live one.
func (r *Registry) Register(playerID string, ws WireConn) *Conn {
	conn := &Conn{
		PlayerID:     playerID,
		RegisteredAt: r.now(),
		ws:           ws,
		limiter:      rate.NewLimiter(r.msgRate, r.msgBurst),
		pings:        make(map[uint64]time.Time),
	}
	conn.lastPongAt.Store(r.now().UnixNano())
	conn.rttMs.Store(-1)

	r.mu.Lock()
	prev := r.conns[playerID]
	r.conns[playerID] = conn
	r.mu.Unlock()

	if prev != nil {
		_ = prev.ws.Close()
		r.logger.Info().
			Str("player_id", playerID).
			Msg("replaced existing connection")
	}

	r.logger.Info().
		Str("player_id", playerID).
		Msg("player connected")
	return conn
}

// Unregister removes the connection, but only if it is still the one
// registered for the player. A socket that was already replaced must not
// evict its successor on teardown.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	current, ok := r.conns[conn.PlayerID]
	if ok && current == conn {
		delete(r.conns, conn.PlayerID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info().
			Str("player_id", conn.PlayerID).
			Msg("player disconnected")
	}
}

// Get returns the live connection for a player.
func (r *Registry) Get(playerID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[playerID]
	return conn, ok
}

// Snapshot returns the current connections. The slice is a copy; the
// Conns are shared.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len reports how many players are connected.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsHealthy reports whether the player has a connection whose last pong
// is within the pong timeout. This is the matchmaking liveness probe.
func (r *Registry) IsHealthy(playerID string) bool {
	conn, ok := r.Get(playerID)
	if !ok {
		return false
	}
	return r.now().Sub(conn.LastPongAt()) <= r.pongTimeout
}

// TrackPing remembers an outbound ping id so the answering pong can be
// matched to a round-trip time.
func (r *Registry) TrackPing(conn *Conn, pingID uint64) {
	now := r.now()
	conn.pingMu.Lock()
	conn.pings[pingID] = now
	// Forget pings that will never be answered.
	for id, sentAt := range conn.pings {
		if now.Sub(sentAt) > r.pingTTL {
			delete(conn.pings, id)
		}
	}
	conn.pingMu.Unlock()
}

// RecordPong marks the connection alive and, when the pong's id matches
// an in-flight ping, updates the RTT estimate. Liveness always uses the
// server receive time, never client-reported timestamps.
func (r *Registry) RecordPong(conn *Conn, pongID uint64) {
	now := r.now()
	conn.lastPongAt.Store(now.UnixNano())

	conn.pingMu.Lock()
	sentAt, ok := conn.pings[pongID]
	if ok {
		delete(conn.pings, pongID)
	}
	conn.pingMu.Unlock()
	if !ok {
		return
	}

	rtt := now.Sub(sentAt).Milliseconds()
	conn.rttMs.Store(rtt)
	r.logger.Debug().
		Str("player_id", conn.PlayerID).
		Uint64("ping_id", pongID).
		Int64("rtt_ms", rtt).
		Msg("pong matched")
}

// Send encodes the message and writes it to the connection. Outbound
// messages other than ping and pong carry the connection's current
// telemetry unless the caller set its own.
func (r *Registry) Send(conn *Conn, msg *protocol.Message) error {
	if msg.Header.Telemetry == nil && !protocol.HeaderOnly(msg.Header.Type) {
		if rtt, ok := conn.RTT(); ok {
			tel := &protocol.Telemetry{}
			tel.SetRTT(uint32(rtt))
			msg.Header.Telemetry = tel
		}
	}

	buf := protocol.GetFrameBuffer()
	frame, err := protocol.AppendEncode((*buf)[:0], msg)
	if err != nil {
		protocol.PutFrameBuffer(buf)
		return fmt.Errorf("encode message type 0x%04x: %w", msg.Header.Type, err)
	}

	conn.sendMu.Lock()
	_ = conn.ws.SetWriteDeadline(r.now().Add(writeTimeout))
	err = conn.ws.WriteMessage(websocket.BinaryMessage, frame)
	conn.sendMu.Unlock()

	*buf = frame
	protocol.PutFrameBuffer(buf)

	if err != nil {
		// A failed write means the socket is gone; close it so the read
		// loop unwinds and unregisters.
		_ = conn.ws.Close()
		return fmt.Errorf("write to %s: %w", conn.PlayerID, err)
	}
	return nil
}

// SendTo sends to a player by id. Pushes race with disconnects, so an
// unknown player drops the message rather than erroring.
func (r *Registry) SendTo(playerID string, msg *protocol.Message) {
	conn, ok := r.Get(playerID)
	if !ok {
		r.logger.Debug().
			Str("player_id", playerID).
			Uint16("type", msg.Header.Type).
			Msg("push dropped, player not connected")
		return
	}
	if err := r.Send(conn, msg); err != nil {
		r.logger.Warn().Err(err).
			Str("player_id", playerID).
			Msg("push failed")
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	return c.ws.Close()
}
