// Package server is the websocket front of the matchmaking service. It
// owns the HTTP listener, the per-connection read loops, and the wiring
// between transport, registry, and coordinator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/omidkianifarkingkode/flowcast/config"
	"github.com/omidkianifarkingkode/flowcast/matchmaking"
	"github.com/omidkianifarkingkode/flowcast/matchmaking/store/memory"
	storeredis "github.com/omidkianifarkingkode/flowcast/matchmaking/store/redis"
	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/dispatch"
	"github.com/omidkianifarkingkode/flowcast/server/heartbeat"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

const shutdownGrace = 5 * time.Second

// Server hosts the matchmaking websocket endpoint.
type Server struct {
	config      *config.Server
	registry    *registry.Registry
	coordinator *matchmaking.Coordinator
	mux         *dispatch.Mux
	monitor     *heartbeat.Monitor
	sweeper     *matchmaking.ExpirySweeper
	upgrader    websocket.Upgrader
	logger      zerolog.Logger

	// closers tear down backend clients on shutdown.
	closers []func() error
}

// New creates a server from validated configuration.
func New(ctx context.Context, conf *config.Server) (*Server, error) {
	conf.ApplyDefaults()
	logger := log.With().Str("com", "server").Logger()

	reg := registry.New(registry.Config{
		PongTimeout:  conf.Heartbeat.Timeout,
		PingTTL:      conf.Heartbeat.PingTTL,
		MessageRate:  rate.Limit(conf.Limits.MessageRate),
		MessageBurst: conf.Limits.MessageBurst,
		Logger:       logger,
	})

	s := &Server{
		config:   conf,
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}

	tickets, matches, err := s.buildStores(ctx, conf)
	if err != nil {
		return nil, err
	}

	s.coordinator = matchmaking.NewCoordinator(matchmaking.CoordinatorConfig{
		Tickets:     tickets,
		Matches:     matches,
		Liveness:    reg,
		Notifier:    newPushNotifier(reg, logger),
		ReadyWindow: conf.Matchmaking.ReadyWindow,
		Logger:      logger,
	})

	s.mux = dispatch.NewMux(logger)
	s.registerHandlers(s.mux)

	s.monitor = heartbeat.New(reg, heartbeat.Config{
		Interval: conf.Heartbeat.Interval,
		Timeout:  conf.Heartbeat.Timeout,
		Logger:   logger,
	})
	s.sweeper = matchmaking.NewExpirySweeper(s.coordinator, conf.Matchmaking.ExpiryInterval, logger)

	return s, nil
}

func (s *Server) buildStores(ctx context.Context, conf *config.Server) (matchmaking.TicketStore, matchmaking.MatchStore, error) {
	switch conf.Store.Backend {
	case config.BackendRedis:
		client, err := storeredis.NewClient(ctx, conf.Store.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.logger.Info().
			Str("addr", conf.Store.Redis.Addr).
			Msg("using redis store")
		return storeredis.NewTicketStore(client, conf.Store.Redis.KeyPrefix),
			storeredis.NewMatchStore(client, conf.Store.Redis.KeyPrefix), nil
	default:
		s.logger.Info().Msg("using in-memory store")
		return memory.NewTicketStore(), memory.NewMatchStore(), nil
	}
}

// Start creates the server and runs it until the context is cancelled.
func Start(ctx context.Context, conf *config.Server) error {
	srv, err := New(ctx, conf)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Run serves until the context is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	go s.monitor.Run(ctx)
	go s.sweeper.Run(ctx)

	httpServer := &http.Server{
		Addr:        s.config.Listen.Addr(),
		Handler:     s.Routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", httpServer.Addr).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)

	for _, conn := range s.registry.Snapshot() {
		_ = conn.Close()
	}
	s.close()
	return err
}

func (s *Server) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn().Err(err).Msg("close backend")
		}
	}
}

// Routes builds the HTTP surface: the websocket endpoint and a health
// probe.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	return r
}

// handleWS upgrades the connection and runs its read loop until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := s.registry.Register(playerID, ws)
	defer func() {
		s.registry.Unregister(conn)
		_ = ws.Close()
	}()

	s.readLoop(r.Context(), conn, ws)
}

func (s *Server) readLoop(ctx context.Context, conn *registry.Conn, ws *websocket.Conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).
					Str("player_id", conn.PlayerID).
					Msg("read loop ended")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.logger.Debug().
				Str("player_id", conn.PlayerID).
				Int("ws_type", msgType).
				Msg("non-binary frame dropped")
			continue
		}
		if !conn.Allow() {
			s.sendError(conn, protocol.Header{}, matchmaking.Errorf(matchmaking.CodeValidation, "rate limit exceeded"))
			continue
		}

		if err := s.mux.Dispatch(ctx, conn, data); err != nil {
			s.sendError(conn, protocol.Header{}, matchmaking.Errorf(matchmaking.CodeValidation, "malformed frame: %v", err))
		}
	}
}
