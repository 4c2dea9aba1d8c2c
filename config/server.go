package config

import (
	"fmt"
	"net"
	"time"

	storeredis "github.com/omidkianifarkingkode/flowcast/matchmaking/store/redis"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Server struct {
	Listen      Listen      `yaml:"listen"`
	Heartbeat   Heartbeat   `yaml:"heartbeat"`
	Matchmaking Matchmaking `yaml:"matchmaking"`
	Limits      Limits      `yaml:"limits"`
	Store       Store       `yaml:"store"`
}

type Listen struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Addr formats the listen address for net.Listen.
func (l Listen) Addr() string {
	return net.JoinHostPort(l.IP, fmt.Sprintf("%d", l.Port))
}

type Heartbeat struct {
	// Interval between server pings.
	Interval time.Duration `yaml:"interval"`
	// Timeout without a pong before the connection is closed.
	Timeout time.Duration `yaml:"timeout"`
	// PingTTL bounds how long unanswered ping ids are remembered.
	PingTTL time.Duration `yaml:"ping_ttl"`
}

type Matchmaking struct {
	// ReadyWindow is the time both players have to acknowledge a match.
	ReadyWindow time.Duration `yaml:"ready_window"`
	// ExpiryInterval is how often overdue matches are swept.
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

type Limits struct {
	// MessageRate and MessageBurst shape the per-connection inbound
	// rate limit, in messages per second.
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`
}

type Store struct {
	// Backend selects the ticket/match store: memory or redis.
	Backend string            `yaml:"backend"`
	Redis   storeredis.Config `yaml:"redis"`
}

// ApplyDefaults fills zero fields with production defaults.
func (s *Server) ApplyDefaults() {
	if s.Listen.IP == "" {
		s.Listen.IP = DefaultListenIP
	}
	if s.Listen.Port == 0 {
		s.Listen.Port = DefaultListenPort
	}
	if s.Heartbeat.Interval == 0 {
		s.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if s.Heartbeat.Timeout == 0 {
		s.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}
	if s.Heartbeat.PingTTL == 0 {
		s.Heartbeat.PingTTL = DefaultPingTTL
	}
	if s.Matchmaking.ReadyWindow == 0 {
		s.Matchmaking.ReadyWindow = DefaultReadyWindow
	}
	if s.Matchmaking.ExpiryInterval == 0 {
		s.Matchmaking.ExpiryInterval = DefaultExpiryInterval
	}
	if s.Limits.MessageRate == 0 {
		s.Limits.MessageRate = DefaultMessageRate
	}
	if s.Limits.MessageBurst == 0 {
		s.Limits.MessageBurst = DefaultMessageBurst
	}
	if s.Store.Backend == "" {
		s.Store.Backend = BackendMemory
	}
	if s.Store.Backend == BackendRedis && s.Store.Redis.Addr == "" {
		s.Store.Redis.Addr = DefaultRedisAddr
	}
}

// Validate rejects configurations the server cannot run with.
func (s *Server) Validate() error {
	if net.ParseIP(s.Listen.IP) == nil {
		return fmt.Errorf("invalid listen ip: %s", s.Listen.IP)
	}
	if s.Listen.Port < 1 || s.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", s.Listen.Port)
	}
	if s.Heartbeat.Timeout <= s.Heartbeat.Interval {
		return fmt.Errorf("heartbeat timeout %s must exceed interval %s",
			s.Heartbeat.Timeout, s.Heartbeat.Interval)
	}
	switch s.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.Store.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", s.Store.Backend)
	}
	return nil
}
