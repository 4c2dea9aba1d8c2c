// Package heartbeat drives the server-initiated ping loop and evicts
// connections that stop answering.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// Config tunes the monitor.
type Config struct {
	// Interval between ping sweeps.
	Interval time.Duration

	// Timeout is how long a connection may go without a pong before it
	// is closed and unregistered. Should match the registry's pong
	// timeout so the liveness probe and eviction agree.
	Timeout time.Duration

	Logger zerolog.Logger
}

// Monitor pings every registered connection on an interval and closes
// the ones whose last pong is older than the timeout.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func New(reg *registry.Registry, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{
		registry: reg,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		now:      time.Now,
		logger:   cfg.Logger.With().Str("com", "heartbeat").Logger(),
	}
}

// Run sweeps until the context is cancelled. Blocking; call in its own
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("interval", m.interval).
		Dur("timeout", m.timeout).
		Msg("heartbeat monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one heartbeat pass: evict timed-out connections, ping the
// rest. Each connection is handled in its own goroutine because a send
// blocks until the socket's write deadline on a stuck client, and one
// slow client must not delay pings or eviction for the others. Sweep
// returns once every connection has been handled.
func (m *Monitor) Sweep() {
	now := m.now()
	var wg sync.WaitGroup
	for _, conn := range m.registry.Snapshot() {
		wg.Add(1)
		go func(conn *registry.Conn) {
			defer wg.Done()
			m.sweepConn(conn, now)
		}(conn)
	}
	wg.Wait()
}

func (m *Monitor) sweepConn(conn *registry.Conn, now time.Time) {
	silence := now.Sub(conn.LastPongAt())
	if silence > m.timeout {
		m.logger.Warn().
			Str("player_id", conn.PlayerID).
			Dur("silence", silence).
			Msg("heartbeat timeout, closing connection")
		_ = conn.Close()
		m.registry.Unregister(conn)
		return
	}

	ping := &protocol.Message{
		Header: protocol.Header{
			Type:      protocol.TypePing,
			ID:        protocol.NextID(),
			Timestamp: now.UnixMilli(),
		},
	}
	m.registry.TrackPing(conn, ping.Header.ID)
	if err := m.registry.Send(conn, ping); err != nil {
		m.logger.Debug().Err(err).
			Str("player_id", conn.PlayerID).
			Msg("ping send failed")
	}
}
