package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/omidkianifarkingkode/flowcast/matchmaking"
	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

// pushNotifier delivers matchmaking notifications over the registered
// websocket connections. It is the coordinator's Notifier.
type pushNotifier struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

func newPushNotifier(reg *registry.Registry, logger zerolog.Logger) *pushNotifier {
	return &pushNotifier{
		registry: reg,
		logger:   logger.With().Str("com", "notify").Logger(),
	}
}

func (n *pushNotifier) push(playerID string, msgType uint16, payload interface{}) {
	n.registry.SendTo(playerID, &protocol.Message{
		Header: protocol.Header{
			Type:      msgType,
			ID:        protocol.NextID(),
			Timestamp: time.Now().UnixMilli(),
		},
		Payload: payload,
	})
}

func (n *pushNotifier) MatchFound(playerID string, m *matchmaking.Match) {
	n.push(playerID, protocol.TypeMatchFound, &protocol.MatchFound{
		MatchID:         m.ID,
		Mode:            m.Mode,
		Players:         m.Players[:],
		ReadyDeadlineMs: m.ReadyDeadline.UnixMilli(),
	})
}

func (n *pushNotifier) MatchConfirmed(playerID string, m *matchmaking.Match) {
	n.push(playerID, protocol.TypeMatchConfirmed, &protocol.MatchConfirmed{MatchID: m.ID})
}

func (n *pushNotifier) MatchAborted(playerID string, m *matchmaking.Match, reason matchmaking.AbortReason) {
	n.push(playerID, protocol.TypeMatchAborted, &protocol.MatchAborted{
		MatchID: m.ID,
		Reason:  string(reason),
	})
}

func (n *pushNotifier) ReadyAcknowledged(playerID string, m *matchmaking.Match) {
	n.push(playerID, protocol.TypeReadyAck, &protocol.ReadyAcknowledged{
		MatchID:         m.ID,
		ReadyPlayers:    m.ReadyPlayers(),
		ReadyDeadlineMs: m.ReadyDeadline.UnixMilli(),
	})
}

func (n *pushNotifier) ReadyAcknowledgeFail(playerID, matchID, reason string) {
	n.push(playerID, protocol.TypeReadyAckFail, &protocol.ReadyAcknowledgeFail{
		MatchID: matchID,
		Reason:  reason,
	})
}

func (n *pushNotifier) TicketCancelled(playerID string, t *matchmaking.Ticket) {
	n.push(playerID, protocol.TypeTicketCancelled, &protocol.TicketCancelled{
		TicketID: t.ID,
		Mode:     t.Mode,
	})
}
