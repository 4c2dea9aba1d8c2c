package matchmaking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TicketState is the lifecycle state of a matchmaking ticket.
type TicketState uint8

const (
	TicketSearching TicketState = iota
	TicketPendingReady
	TicketConsumed
	TicketCancelled
	TicketFailed
)

func (s TicketState) String() string {
	switch s {
	case TicketSearching:
		return "searching"
	case TicketPendingReady:
		return "pending_ready"
	case TicketConsumed:
		return "consumed"
	case TicketCancelled:
		return "cancelled"
	case TicketFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Open reports whether the ticket still occupies the player's single
// open-ticket slot for its mode.
func (s TicketState) Open() bool {
	return s == TicketSearching || s == TicketPendingReady
}

// Terminal reports whether the ticket can never change state again.
func (s TicketState) Terminal() bool {
	return !s.Open()
}

// Ticket is a player's standing request to be matched in a given mode.
// At most one open ticket exists per (player, mode); the stores enforce
// the invariant, the transitions below define validity.
type Ticket struct {
	ID         string      `json:"id"`
	PlayerID   string      `json:"player_id"`
	Mode       string      `json:"mode"`
	State      TicketState `json:"state"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	MatchID    string      `json:"match_id,omitempty"`
}

// NewTicket creates a Searching ticket enqueued at now.
func NewTicket(playerID, mode string, now time.Time) *Ticket {
	return &Ticket{
		ID:         uuid.New().String(),
		PlayerID:   playerID,
		Mode:       mode,
		State:      TicketSearching,
		EnqueuedAt: now,
	}
}

// Clone returns an independent copy.
func (t *Ticket) Clone() *Ticket {
	clone := *t
	return &clone
}

// MoveToPendingReady binds the ticket to a match. Valid only from
// Searching; the store runs this under its compare-and-set guard so two
// concurrent pairings can never both claim the same ticket.
func (t *Ticket) MoveToPendingReady(matchID string) error {
	if t.State != TicketSearching {
		return fmt.Errorf("%w: ticket %s is %s, not searching", ErrConflict, t.ID, t.State)
	}
	t.State = TicketPendingReady
	t.MatchID = matchID
	return nil
}

// ReleaseToSearching undoes a PendingReady claim for the given match,
// compensating a pairing that could not complete.
func (t *Ticket) ReleaseToSearching(matchID string) error {
	if t.State != TicketPendingReady || t.MatchID != matchID {
		return fmt.Errorf("%w: ticket %s is %s (match %q), cannot release for match %q",
			ErrConflict, t.ID, t.State, t.MatchID, matchID)
	}
	t.State = TicketSearching
	t.MatchID = ""
	return nil
}

// Consume marks the ticket as spent by a confirmed match. Valid only from
// PendingReady.
func (t *Ticket) Consume() error {
	if t.State != TicketPendingReady {
		return fmt.Errorf("%w: ticket %s is %s, not pending ready", ErrConflict, t.ID, t.State)
	}
	t.State = TicketConsumed
	return nil
}

// Cancel moves an open ticket to Cancelled. Cancelling an already-terminal
// ticket is a no-op, never an error, so client retries stay harmless.
func (t *Ticket) Cancel() bool {
	if t.State.Terminal() {
		return false
	}
	t.State = TicketCancelled
	return true
}

// Fail moves an open ticket to Failed. Idempotent like Cancel.
func (t *Ticket) Fail() bool {
	if t.State.Terminal() {
		return false
	}
	t.State = TicketFailed
	return true
}
