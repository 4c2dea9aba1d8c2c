package config

import "time"

const (
	EnvPrefix = "FLOWCAST_"

	DefaultListenIP   = "0.0.0.0"
	DefaultListenPort = 8080

	// DefaultHeartbeatInterval is the interval between server pings
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultHeartbeatTimeout is the silence before a connection is dropped
	DefaultHeartbeatTimeout = 15 * time.Second

	// DefaultPingTTL is how long an unanswered ping id stays matchable
	DefaultPingTTL = 30 * time.Second

	// DefaultReadyWindow is the ready-check deadline after a match is found
	DefaultReadyWindow = 20 * time.Second

	// DefaultExpiryInterval is how often overdue matches are swept
	DefaultExpiryInterval = time.Second

	// DefaultMessageRate and DefaultMessageBurst shape per-connection
	// inbound rate limiting
	DefaultMessageRate  = 20.0
	DefaultMessageBurst = 40

	DefaultRedisAddr = "localhost:6379"
)
