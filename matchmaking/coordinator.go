package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultReadyWindow bounds the ready-check handshake.
	DefaultReadyWindow = 20 * time.Second

	// pairingAttempts bounds the optimistic pairing retry loop before the
	// race is surfaced as a conflict.
	pairingAttempts = 8

	// ackAttempts bounds revision-conflict retries on the ready path.
	ackAttempts = 8
)

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Tickets  TicketStore
	Matches  MatchStore
	Liveness LivenessProbe
	Sessions GameSessionProbe // optional; nil disables the session gate
	Notifier Notifier

	// ReadyWindow is the time both players have to acknowledge.
	// Zero means DefaultReadyWindow.
	ReadyWindow time.Duration

	// Clock overrides time.Now, for tests. Nil means time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Coordinator orchestrates the matchmaking ticket/match lifecycle on top
// of the stores and the liveness capability. Its three operations are the
// only entry points a transport layer calls.
type Coordinator struct {
	tickets     TicketStore
	matches     MatchStore
	liveness    LivenessProbe
	sessions    GameSessionProbe
	notifier    Notifier
	readyWindow time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewCoordinator creates a coordinator, applying defaults for the ready
// window and clock.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.ReadyWindow <= 0 {
		cfg.ReadyWindow = DefaultReadyWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Coordinator{
		tickets:     cfg.Tickets,
		matches:     cfg.Matches,
		liveness:    cfg.Liveness,
		sessions:    cfg.Sessions,
		notifier:    cfg.Notifier,
		readyWindow: cfg.ReadyWindow,
		now:         cfg.Clock,
		logger:      cfg.Logger.With().Str("com", "coordinator").Logger(),
	}
}

// FindMatchResult is the snapshot returned by FindMatch. Match is non-nil
// when the ticket is bound to one, whether by this call or a previous one;
// Paired is true only when this call created it, in which case both
// players were already notified.
type FindMatchResult struct {
	Ticket *Ticket
	Match  *Match
	Paired bool
}

// FindMatch enqueues the player for a mode and attempts to pair the new
// ticket with the oldest waiting candidate. A player who already holds an
// open ticket for the mode gets its current snapshot back instead of a
// duplicate.
func (c *Coordinator) FindMatch(ctx context.Context, playerID, mode string) (*FindMatchResult, error) {
	if playerID == "" || mode == "" {
		return nil, Errorf(CodeValidation, "player id and mode are required")
	}
	if c.sessions != nil && c.sessions.HasActiveSession(playerID) {
		return nil, Errorf(CodeConflict, "player %s already has an active game session", playerID)
	}
	if !c.liveness.IsHealthy(playerID) {
		return nil, Errorf(CodeUnhealthy, "player %s has no live connection", playerID)
	}

	// Idempotency: an open ticket for this mode is the answer, not an error.
	existing, err := c.tickets.GetOpenByPlayer(ctx, playerID, mode)
	switch {
	case err == nil:
		return c.snapshotResult(ctx, existing)
	case errors.Is(err, ErrTicketNotFound):
		// Enqueue below.
	default:
		return nil, fmt.Errorf("load open ticket: %w", err)
	}

	ticket := NewTicket(playerID, mode, c.now())
	if err := c.tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, ErrTicketAlreadyOpen) {
			// Lost a race against another connection of the same player.
			existing, err := c.tickets.GetOpenByPlayer(ctx, playerID, mode)
			if err != nil {
				return nil, fmt.Errorf("reload open ticket: %w", err)
			}
			return c.snapshotResult(ctx, existing)
		}
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	c.logger.Info().
		Str("player_id", playerID).
		Str("mode", mode).
		Str("ticket_id", ticket.ID).
		Msg("ticket enqueued")

	return c.pair(ctx, ticket)
}

// pair runs the optimistic pairing loop: scan the Searching queue, pick
// the oldest other ticket, claim both tickets, then materialize the match.
// Claims happen in ticket-id order so two pairings racing over the same
// pair contend on the same ticket first and exactly one side wins. A lost
// claim on the candidate rescans; a lost claim on our own ticket means a
// concurrent FindMatch paired us, so our new state is the answer.
func (c *Coordinator) pair(ctx context.Context, ticket *Ticket) (*FindMatchResult, error) {
	for attempt := 0; attempt < pairingAttempts; attempt++ {
		searching, err := c.tickets.GetSearchingByMode(ctx, ticket.Mode)
		if err != nil {
			return nil, fmt.Errorf("scan searching queue: %w", err)
		}

		candidate := oldestCandidate(searching, ticket)
		if candidate == nil {
			// Nobody to pair with. A concurrent pairing may have claimed
			// our ticket since we last saw it, so report the stored state
			// rather than the local copy.
			current, err := c.tickets.GetByID(ctx, ticket.ID)
			if err != nil {
				return nil, fmt.Errorf("reload own ticket: %w", err)
			}
			return c.snapshotResult(ctx, current)
		}

		match := NewMatch(ticket.Mode, [2]string{candidate.PlayerID, ticket.PlayerID}, c.now(), c.readyWindow)

		first, second := candidate, ticket
		if ticket.ID < candidate.ID {
			first, second = ticket, candidate
		}

		if err := c.tickets.MoveToPendingReady(ctx, first.ID, match.ID); err != nil {
			result, rescan, err := c.lostClaim(ctx, ticket, first, err)
			if rescan {
				continue
			}
			return result, err
		}

		if err := c.tickets.MoveToPendingReady(ctx, second.ID, match.ID); err != nil {
			if relErr := c.tickets.ReleaseToSearching(ctx, first.ID, match.ID); relErr != nil {
				c.logger.Error().Err(relErr).
					Str("ticket_id", first.ID).
					Msg("failed to release ticket after lost pairing race")
			}
			result, rescan, err := c.lostClaim(ctx, ticket, second, err)
			if rescan {
				continue
			}
			return result, err
		}

		if err := c.matches.Create(ctx, match); err != nil {
			// Both tickets are bound to a match that never materialized;
			// return them to the queue before surfacing the failure.
			for _, claimed := range []*Ticket{first, second} {
				if relErr := c.tickets.ReleaseToSearching(ctx, claimed.ID, match.ID); relErr != nil {
					c.logger.Error().Err(relErr).
						Str("ticket_id", claimed.ID).
						Str("match_id", match.ID).
						Msg("failed to release ticket after match create failure")
				}
			}
			return nil, fmt.Errorf("create match: %w", err)
		}

		ticket.State = TicketPendingReady
		ticket.MatchID = match.ID

		c.logger.Info().
			Str("match_id", match.ID).
			Str("mode", match.Mode).
			Strs("players", match.Players[:]).
			Time("ready_deadline", match.ReadyDeadline).
			Msg("match paired")

		c.notifier.MatchFound(candidate.PlayerID, match)
		c.notifier.MatchFound(ticket.PlayerID, match)

		return &FindMatchResult{Ticket: ticket.Clone(), Match: match.Clone(), Paired: true}, nil
	}

	return nil, Errorf(CodeConflict, "pairing contention for mode %s, retry", ticket.Mode)
}

// lostClaim maps a failed MoveToPendingReady during pairing. Losing the
// candidate means rescan; losing our own ticket means a concurrent
// FindMatch claimed it into another match and its snapshot is the answer.
func (c *Coordinator) lostClaim(ctx context.Context, own, lost *Ticket, claimErr error) (*FindMatchResult, bool, error) {
	if !errors.Is(claimErr, ErrConflict) && !errors.Is(claimErr, ErrTicketNotFound) {
		return nil, false, fmt.Errorf("claim ticket %s: %w", lost.ID, claimErr)
	}
	if lost.ID != own.ID {
		return nil, true, nil
	}
	current, err := c.tickets.GetByID(ctx, own.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload own ticket: %w", err)
	}
	result, err := c.snapshotResult(ctx, current)
	return result, false, err
}

// oldestCandidate picks the oldest Searching ticket not owned by the
// caller. The queue arrives enqueue-ordered; ties break on enqueue time
// ascending, then id, which the stores already guarantee.
func oldestCandidate(searching []*Ticket, own *Ticket) *Ticket {
	for _, t := range searching {
		if t.ID == own.ID || t.PlayerID == own.PlayerID {
			continue
		}
		return t
	}
	return nil
}

func (c *Coordinator) snapshotResult(ctx context.Context, ticket *Ticket) (*FindMatchResult, error) {
	result := &FindMatchResult{Ticket: ticket.Clone()}
	if ticket.State == TicketPendingReady && ticket.MatchID != "" {
		match, err := c.matches.GetByID(ctx, ticket.MatchID)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("ticket_id", ticket.ID).
				Str("match_id", ticket.MatchID).
				Msg("pending ticket references unloadable match")
		} else {
			result.Match = match
		}
	}
	return result, nil
}

// ReadyResult is the snapshot returned by AcknowledgeReady.
type ReadyResult struct {
	Match         *Match
	JustConfirmed bool
}

// AcknowledgeReady records the player's ready acknowledgement and confirms
// the match once both players acked before the deadline. The liveness gate
// is strict here: the ready window is time-critical, so a failure pushes a
// ReadyAcknowledgeFail notification directly as well as returning an error.
func (c *Coordinator) AcknowledgeReady(ctx context.Context, playerID, matchID string) (*ReadyResult, error) {
	if playerID == "" || matchID == "" {
		return nil, Errorf(CodeValidation, "player id and match id are required")
	}
	if !c.liveness.IsHealthy(playerID) {
		c.notifier.ReadyAcknowledgeFail(playerID, matchID, string(CodeUnhealthy))
		return nil, Errorf(CodeUnhealthy, "player %s has no live connection", playerID)
	}

	var (
		match         *Match
		justConfirmed bool
	)
	for attempt := 0; ; attempt++ {
		loaded, err := c.matches.GetByID(ctx, matchID)
		if err != nil {
			if errors.Is(err, ErrMatchNotFound) {
				return nil, Errorf(CodeNotFound, "match %s not found", matchID)
			}
			return nil, fmt.Errorf("load match: %w", err)
		}
		match = loaded

		before := len(match.ReadyAcks)
		if err := match.AcknowledgeReady(playerID); err != nil {
			return nil, err
		}
		justConfirmed = match.ConfirmIfAllReady()

		if len(match.ReadyAcks) == before && !justConfirmed {
			// Duplicate ack; nothing to persist.
			break
		}

		err = c.matches.Update(ctx, match)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("persist ready ack: %w", err)
		}
		if attempt+1 >= ackAttempts {
			return nil, Errorf(CodeConflict, "match %s is changing too fast, retry", matchID)
		}
	}

	if justConfirmed {
		c.logger.Info().
			Str("match_id", match.ID).
			Strs("players", match.Players[:]).
			Msg("match confirmed")
		c.consumeTickets(ctx, match)
		for _, p := range match.Players {
			c.notifier.MatchConfirmed(p, match)
		}
	} else if match.State == MatchAwaitingReady {
		for _, p := range match.Players {
			c.notifier.ReadyAcknowledged(p, match)
		}
	}

	return &ReadyResult{Match: match.Clone(), JustConfirmed: justConfirmed}, nil
}

// consumeTickets finalizes both participants' tickets after confirmation.
// Best-effort: a missing or already-consumed ticket is logged, not fatal.
func (c *Coordinator) consumeTickets(ctx context.Context, match *Match) {
	for _, playerID := range match.Players {
		ticket, err := c.tickets.GetOpenByPlayer(ctx, playerID, match.Mode)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("player_id", playerID).
				Str("match_id", match.ID).
				Msg("no open ticket to consume after confirmation")
			continue
		}
		if ticket.MatchID != match.ID {
			c.logger.Warn().
				Str("player_id", playerID).
				Str("ticket_id", ticket.ID).
				Str("ticket_match_id", ticket.MatchID).
				Str("match_id", match.ID).
				Msg("open ticket bound to a different match, skipping consume")
			continue
		}
		if _, err := c.tickets.Finalize(ctx, ticket.ID, TicketConsumed); err != nil {
			c.logger.Warn().Err(err).
				Str("ticket_id", ticket.ID).
				Msg("failed to consume ticket after confirmation")
		}
	}
}

// CancelResult is the snapshot returned by CancelMatch.
type CancelResult struct {
	Ticket    *Ticket
	Cancelled bool
}

// CancelMatch cancels the player's open ticket for a mode. Having no open
// ticket is an idempotent no-op. Cancelling a PendingReady ticket aborts
// the match and notifies the peer; the peer's own ticket stays PendingReady
// until the peer acts.
func (c *Coordinator) CancelMatch(ctx context.Context, playerID, mode string) (*CancelResult, error) {
	if playerID == "" || mode == "" {
		return nil, Errorf(CodeValidation, "player id and mode are required")
	}

	ticket, err := c.tickets.GetOpenByPlayer(ctx, playerID, mode)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return &CancelResult{}, nil
		}
		return nil, fmt.Errorf("load open ticket: %w", err)
	}

	if ticket.State == TicketPendingReady && ticket.MatchID != "" {
		c.abortForPeerCancel(ctx, playerID, ticket.MatchID)
	}

	changed, err := c.tickets.Finalize(ctx, ticket.ID, TicketCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel ticket: %w", err)
	}
	ticket.State = TicketCancelled

	if changed {
		c.logger.Info().
			Str("player_id", playerID).
			Str("ticket_id", ticket.ID).
			Str("mode", mode).
			Msg("ticket cancelled")
		c.notifier.TicketCancelled(playerID, ticket)
	}

	return &CancelResult{Ticket: ticket.Clone(), Cancelled: changed}, nil
}

// abortForPeerCancel aborts the requester's pending match and notifies the
// peer. Failures here never block the requester's own cancellation.
func (c *Coordinator) abortForPeerCancel(ctx context.Context, playerID, matchID string) {
	for attempt := 0; attempt < ackAttempts; attempt++ {
		match, err := c.matches.GetByID(ctx, matchID)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("match_id", matchID).
				Msg("pending ticket references unloadable match on cancel")
			return
		}

		if !match.Abort(AbortPeerCancel) {
			return
		}
		if err := c.matches.Update(ctx, match); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			c.logger.Error().Err(err).
				Str("match_id", matchID).
				Msg("failed to persist match abort")
			return
		}

		c.logger.Info().
			Str("match_id", match.ID).
			Str("cancelled_by", playerID).
			Msg("match aborted by peer cancel")

		peer, ok := match.Peer(playerID)
		if !ok {
			c.logger.Warn().
				Str("match_id", match.ID).
				Msg("no distinct peer to notify, skipping")
			return
		}
		c.notifier.MatchAborted(peer, match, AbortPeerCancel)
		return
	}
	c.logger.Error().
		Str("match_id", matchID).
		Msg("gave up aborting match after repeated conflicts")
}

// ExpireOverdue aborts every AwaitingReady match whose ready deadline has
// passed, reusing the abort path with the Timeout reason. Both tickets end
// Cancelled and both players are notified. Returns how many matches
// expired. The expiry sweeper drives this on a fixed interval.
func (c *Coordinator) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	due, err := c.matches.DueForExpiry(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("query due matches: %w", err)
	}

	expired := 0
	for _, match := range due {
		if !match.Abort(AbortTimeout) {
			continue
		}
		if err := c.matches.Update(ctx, match); err != nil {
			if errors.Is(err, ErrConflict) {
				// Confirmed or aborted concurrently; leave it be.
				continue
			}
			c.logger.Error().Err(err).
				Str("match_id", match.ID).
				Msg("failed to persist match expiry")
			continue
		}
		expired++

		c.logger.Info().
			Str("match_id", match.ID).
			Time("ready_deadline", match.ReadyDeadline).
			Msg("match expired, ready window elapsed")

		for _, playerID := range match.Players {
			ticket, err := c.tickets.GetOpenByPlayer(ctx, playerID, match.Mode)
			if err == nil && ticket.MatchID == match.ID {
				if _, err := c.tickets.Finalize(ctx, ticket.ID, TicketCancelled); err != nil {
					c.logger.Warn().Err(err).
						Str("ticket_id", ticket.ID).
						Msg("failed to cancel ticket on expiry")
				}
			}
			c.notifier.MatchAborted(playerID, match, AbortTimeout)
		}
	}
	return expired, nil
}
