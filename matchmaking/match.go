package matchmaking

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MatchState is the lifecycle state of a paired match.
type MatchState uint8

const (
	MatchAwaitingReady MatchState = iota
	MatchConfirmed
	MatchAborted
	MatchExpired
)

func (s MatchState) String() string {
	switch s {
	case MatchAwaitingReady:
		return "awaiting_ready"
	case MatchConfirmed:
		return "confirmed"
	case MatchAborted:
		return "aborted"
	case MatchExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// AbortReason explains why a match did not proceed.
type AbortReason string

const (
	AbortPeerCancel AbortReason = "peer_cancel"
	AbortTimeout    AbortReason = "timeout"
	AbortLiveness   AbortReason = "liveness_failure"
)

// Match is a paired set of two players progressing through the ready-check
// handshake. Revision is the optimistic-concurrency token checked by
// MatchStore.Update.
type Match struct {
	ID            string          `json:"id"`
	Mode          string          `json:"mode"`
	Players       [2]string       `json:"players"`
	State         MatchState      `json:"state"`
	ReadyAcks     map[string]bool `json:"ready_acks,omitempty"`
	ReadyDeadline time.Time       `json:"ready_deadline"`
	CreatedAt     time.Time       `json:"created_at"`
	AbortedFor    AbortReason     `json:"aborted_for,omitempty"`
	Revision      uint64          `json:"revision"`
}

// NewMatch creates an AwaitingReady match whose ready window closes at
// now + readyWindow.
func NewMatch(mode string, players [2]string, now time.Time, readyWindow time.Duration) *Match {
	return &Match{
		ID:            uuid.New().String(),
		Mode:          mode,
		Players:       players,
		State:         MatchAwaitingReady,
		ReadyAcks:     make(map[string]bool, 2),
		ReadyDeadline: now.Add(readyWindow),
		CreatedAt:     now,
	}
}

// Clone returns an independent copy.
func (m *Match) Clone() *Match {
	clone := *m
	clone.ReadyAcks = make(map[string]bool, len(m.ReadyAcks))
	for player := range m.ReadyAcks {
		clone.ReadyAcks[player] = true
	}
	return &clone
}

// IsParticipant reports whether the player is one of the two.
func (m *Match) IsParticipant(playerID string) bool {
	return m.Players[0] == playerID || m.Players[1] == playerID
}

// Peer returns the other participant. The second return is false when no
// distinct peer exists; callers log and skip instead of failing.
func (m *Match) Peer(playerID string) (string, bool) {
	for _, p := range m.Players {
		if p != playerID && p != "" {
			return p, true
		}
	}
	return "", false
}

// ReadyPlayers returns the acked participants in stable order.
func (m *Match) ReadyPlayers() []string {
	players := make([]string, 0, len(m.ReadyAcks))
	for p := range m.ReadyAcks {
		players = append(players, p)
	}
	sort.Strings(players)
	return players
}

// AcknowledgeReady records a participant's ready acknowledgement.
// A duplicate ack by the same player is a no-op, not an error; a
// non-participant fails with a validation error. Acks against a match
// whose window already closed fail with a conflict.
func (m *Match) AcknowledgeReady(playerID string) error {
	if !m.IsParticipant(playerID) {
		return Errorf(CodeValidation, "player %s is not a participant of match %s", playerID, m.ID)
	}
	switch m.State {
	case MatchAwaitingReady:
		if m.ReadyAcks == nil {
			m.ReadyAcks = make(map[string]bool, 2)
		}
		m.ReadyAcks[playerID] = true
		return nil
	case MatchConfirmed:
		// Both players already acked; treat the retry as a duplicate ack.
		return nil
	default:
		return Errorf(CodeConflict, "match %s is %s, ready window closed", m.ID, m.State)
	}
}

// ConfirmIfAllReady flips the match to Confirmed when both players have
// acked. It returns true exactly once, so callers fire confirmation side
// effects exactly once.
func (m *Match) ConfirmIfAllReady() bool {
	if m.State != MatchAwaitingReady {
		return false
	}
	if !m.ReadyAcks[m.Players[0]] || !m.ReadyAcks[m.Players[1]] {
		return false
	}
	m.State = MatchConfirmed
	return true
}

// Abort closes the ready window. Valid only from AwaitingReady; aborting
// a Confirmed or already-closed match is a no-op. A Timeout abort yields
// the Expired state, every other reason yields Aborted.
func (m *Match) Abort(reason AbortReason) bool {
	if m.State != MatchAwaitingReady {
		return false
	}
	if reason == AbortTimeout {
		m.State = MatchExpired
	} else {
		m.State = MatchAborted
	}
	m.AbortedFor = reason
	return true
}
