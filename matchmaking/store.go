package matchmaking

import (
	"context"
	"time"
)

// TicketStore is the persisted state of in-flight ticket lifecycles.
//
// Every multi-step transition the coordinator performs is built from these
// operations, so implementations must make each one atomic: two concurrent
// FindMatch calls racing for the same ticket is the expected common case,
// and exactly one MoveToPendingReady may win.
type TicketStore interface {
	// Create persists a new Searching ticket. It fails with
	// ErrTicketAlreadyOpen when the player already holds an open ticket
	// for the mode, enforcing the one-open-ticket invariant.
	Create(ctx context.Context, t *Ticket) error

	// GetByID returns the ticket or ErrTicketNotFound.
	GetByID(ctx context.Context, id string) (*Ticket, error)

	// GetOpenByPlayer returns the player's open (Searching or
	// PendingReady) ticket for the mode, or ErrTicketNotFound.
	GetOpenByPlayer(ctx context.Context, playerID, mode string) (*Ticket, error)

	// GetSearchingByMode returns all Searching tickets for the mode in
	// enqueue order, oldest first.
	GetSearchingByMode(ctx context.Context, mode string) ([]*Ticket, error)

	// MoveToPendingReady atomically claims a Searching ticket for the
	// match. It fails with ErrConflict when the ticket is no longer
	// Searching, which callers handle by rescanning.
	MoveToPendingReady(ctx context.Context, ticketID, matchID string) error

	// ReleaseToSearching returns a PendingReady ticket claimed for the
	// given match back to the queue, compensating a failed pairing.
	ReleaseToSearching(ctx context.Context, ticketID, matchID string) error

	// Finalize moves an open ticket to a terminal state. It returns
	// false with a nil error when the ticket is already terminal, and
	// ErrConflict when the transition is invalid (Consumed is only
	// reachable from PendingReady).
	Finalize(ctx context.Context, ticketID string, state TicketState) (bool, error)
}

// MatchStore is the persisted state of in-flight matches.
type MatchStore interface {
	// Create persists a new AwaitingReady match.
	Create(ctx context.Context, m *Match) error

	// GetByID returns the match or ErrMatchNotFound.
	GetByID(ctx context.Context, id string) (*Match, error)

	// Update persists a mutated match guarded by its revision token,
	// failing with ErrConflict when the stored revision moved on. The
	// passed match's revision is bumped on success.
	Update(ctx context.Context, m *Match) error

	// DueForExpiry returns AwaitingReady matches whose ready deadline is
	// at or before now.
	DueForExpiry(ctx context.Context, now time.Time) ([]*Match, error)
}

// LivenessProbe is the connection-liveness capability the coordinator
// consumes: the player is connected and answered a ping recently.
type LivenessProbe interface {
	IsHealthy(playerID string) bool
}

// GameSessionProbe reports whether a player is already inside a running
// game session. Session allocation itself is an external collaborator.
type GameSessionProbe interface {
	HasActiveSession(playerID string) bool
}

// Notifier pushes matchmaking events to players. Implementations deliver
// best-effort; a missing connection is the implementation's concern.
type Notifier interface {
	MatchFound(playerID string, m *Match)
	MatchConfirmed(playerID string, m *Match)
	MatchAborted(playerID string, m *Match, reason AbortReason)
	ReadyAcknowledged(playerID string, m *Match)
	ReadyAcknowledgeFail(playerID, matchID, reason string)
	TicketCancelled(playerID string, t *Ticket)
}
