package server

import (
	"context"
	"errors"
	"time"

	"github.com/omidkianifarkingkode/flowcast/matchmaking"
	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/dispatch"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

func (s *Server) registerHandlers(m *dispatch.Mux) {
	m.HandleHeader(s.handleHeartbeat)
	dispatch.Register(m, protocol.TypeFindMatch, s.handleFindMatch)
	dispatch.Register(m, protocol.TypeCancelMatch, s.handleCancelMatch)
	dispatch.Register(m, protocol.TypeReady, s.handleReady)
}

// handleHeartbeat answers client pings and books client pongs. Pongs echo
// the ping id, which is how the round trip is matched.
func (s *Server) handleHeartbeat(_ context.Context, conn *registry.Conn, header protocol.Header) bool {
	switch header.Type {
	case protocol.TypePing:
		pong := &protocol.Message{
			Header: protocol.Header{
				Type:      protocol.TypePong,
				ID:        header.ID,
				Timestamp: time.Now().UnixMilli(),
			},
		}
		if err := s.registry.Send(conn, pong); err != nil {
			s.logger.Debug().Err(err).
				Str("player_id", conn.PlayerID).
				Msg("pong reply failed")
		}
		return true
	case protocol.TypePong:
		pingID := header.ID
		if header.Telemetry != nil {
			if id, ok := header.Telemetry.LastPingID(); ok {
				pingID = id
			}
		}
		s.registry.RecordPong(conn, pingID)
		return true
	}
	return false
}

func (s *Server) handleFindMatch(ctx context.Context, conn *registry.Conn, header protocol.Header, req *protocol.FindMatchRequest) error {
	result, err := s.coordinator.FindMatch(ctx, conn.PlayerID, req.Mode)
	if err != nil {
		s.sendError(conn, header, err)
		return nil
	}

	// A fresh pairing already notified both players. A repeat request
	// against a bound ticket gets the found snapshot again so a client
	// that lost it can recover.
	if result.Match != nil && !result.Paired {
		s.registry.SendTo(conn.PlayerID, &protocol.Message{
			Header: protocol.Header{
				Type:      protocol.TypeMatchFound,
				ID:        protocol.NextID(),
				Timestamp: time.Now().UnixMilli(),
			},
			Payload: &protocol.MatchFound{
				MatchID:         result.Match.ID,
				Mode:            result.Match.Mode,
				Players:         result.Match.Players[:],
				ReadyDeadlineMs: result.Match.ReadyDeadline.UnixMilli(),
			},
		})
	}
	return nil
}

func (s *Server) handleCancelMatch(ctx context.Context, conn *registry.Conn, header protocol.Header, req *protocol.CancelMatchRequest) error {
	result, err := s.coordinator.CancelMatch(ctx, conn.PlayerID, req.Mode)
	if err != nil {
		s.sendError(conn, header, err)
		return nil
	}

	// A no-op cancel still answers, so the client can settle its state.
	if !result.Cancelled {
		ticketID := ""
		if result.Ticket != nil {
			ticketID = result.Ticket.ID
		}
		s.registry.SendTo(conn.PlayerID, &protocol.Message{
			Header: protocol.Header{
				Type:      protocol.TypeTicketCancelled,
				ID:        protocol.NextID(),
				Timestamp: time.Now().UnixMilli(),
			},
			Payload: &protocol.TicketCancelled{TicketID: ticketID, Mode: req.Mode},
		})
	}
	return nil
}

func (s *Server) handleReady(ctx context.Context, conn *registry.Conn, header protocol.Header, req *protocol.ReadyRequest) error {
	if _, err := s.coordinator.AcknowledgeReady(ctx, conn.PlayerID, req.MatchID); err != nil {
		// The unhealthy gate already pushed its own failure notice.
		if matchmaking.ErrCode(err) != matchmaking.CodeUnhealthy {
			s.sendError(conn, header, err)
		}
		return nil
	}
	return nil
}

// sendError answers a request with a structured error notice. The notice
// reuses the request's correlation id.
func (s *Server) sendError(conn *registry.Conn, req protocol.Header, err error) {
	code := matchmaking.ErrCode(err)
	msg := "internal error"
	var domainErr *matchmaking.Error
	if errors.As(err, &domainErr) {
		msg = domainErr.Message
	}

	s.logger.Debug().Err(err).
		Str("player_id", conn.PlayerID).
		Uint16("request_type", req.Type).
		Str("code", string(code)).
		Msg("request failed")

	s.registry.SendTo(conn.PlayerID, &protocol.Message{
		Header: protocol.Header{
			Type:      protocol.TypeError,
			ID:        req.ID,
			Timestamp: time.Now().UnixMilli(),
		},
		Payload: &protocol.ErrorNotice{Code: string(code), Message: msg},
	})
}
