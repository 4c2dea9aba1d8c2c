// Package memory provides mutex-serialized in-memory implementations of
// the matchmaking store contracts. A single lock per store makes every
// operation atomic, which is exactly the compare-and-set behavior the
// coordinator's pairing loop depends on.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omidkianifarkingkode/flowcast/matchmaking"
)

// TicketStore is the in-memory TicketStore.
type TicketStore struct {
	mu   sync.Mutex
	byID map[string]*matchmaking.Ticket
}

// NewTicketStore creates an empty ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{byID: make(map[string]*matchmaking.Ticket)}
}

func (s *TicketStore) Create(_ context.Context, t *matchmaking.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.PlayerID == t.PlayerID && existing.Mode == t.Mode && existing.State.Open() {
			return fmt.Errorf("%w: player %s mode %s", matchmaking.ErrTicketAlreadyOpen, t.PlayerID, t.Mode)
		}
	}
	if _, exists := s.byID[t.ID]; exists {
		return fmt.Errorf("%w: ticket id %s", matchmaking.ErrConflict, t.ID)
	}
	s.byID[t.ID] = t.Clone()
	return nil
}

func (s *TicketStore) GetByID(_ context.Context, id string) (*matchmaking.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, matchmaking.ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (s *TicketStore) GetOpenByPlayer(_ context.Context, playerID, mode string) (*matchmaking.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.byID {
		if t.PlayerID == playerID && t.Mode == mode && t.State.Open() {
			return t.Clone(), nil
		}
	}
	return nil, matchmaking.ErrTicketNotFound
}

func (s *TicketStore) GetSearchingByMode(_ context.Context, mode string) ([]*matchmaking.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*matchmaking.Ticket
	for _, t := range s.byID {
		if t.Mode == mode && t.State == matchmaking.TicketSearching {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *TicketStore) MoveToPendingReady(_ context.Context, ticketID, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[ticketID]
	if !ok {
		return matchmaking.ErrTicketNotFound
	}
	return t.MoveToPendingReady(matchID)
}

func (s *TicketStore) ReleaseToSearching(_ context.Context, ticketID, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[ticketID]
	if !ok {
		return matchmaking.ErrTicketNotFound
	}
	return t.ReleaseToSearching(matchID)
}

func (s *TicketStore) Finalize(_ context.Context, ticketID string, state matchmaking.TicketState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[ticketID]
	if !ok {
		return false, matchmaking.ErrTicketNotFound
	}
	switch state {
	case matchmaking.TicketConsumed:
		if t.State.Terminal() {
			return false, nil
		}
		if err := t.Consume(); err != nil {
			return false, err
		}
		return true, nil
	case matchmaking.TicketCancelled:
		return t.Cancel(), nil
	case matchmaking.TicketFailed:
		return t.Fail(), nil
	default:
		return false, fmt.Errorf("%w: %s is not a terminal state", matchmaking.ErrConflict, state)
	}
}

// MatchStore is the in-memory MatchStore.
type MatchStore struct {
	mu   sync.Mutex
	byID map[string]*matchmaking.Match
}

// NewMatchStore creates an empty match store.
func NewMatchStore() *MatchStore {
	return &MatchStore{byID: make(map[string]*matchmaking.Match)}
}

func (s *MatchStore) Create(_ context.Context, m *matchmaking.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[m.ID]; exists {
		return fmt.Errorf("%w: match id %s", matchmaking.ErrConflict, m.ID)
	}
	s.byID[m.ID] = m.Clone()
	return nil
}

func (s *MatchStore) GetByID(_ context.Context, id string) (*matchmaking.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, matchmaking.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *MatchStore) Update(_ context.Context, m *matchmaking.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[m.ID]
	if !ok {
		return matchmaking.ErrMatchNotFound
	}
	if stored.Revision != m.Revision {
		return fmt.Errorf("%w: match %s revision %d, expected %d",
			matchmaking.ErrConflict, m.ID, stored.Revision, m.Revision)
	}
	m.Revision++
	s.byID[m.ID] = m.Clone()
	return nil
}

func (s *MatchStore) DueForExpiry(_ context.Context, now time.Time) ([]*matchmaking.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*matchmaking.Match
	for _, m := range s.byID {
		if m.State == matchmaking.MatchAwaitingReady && !m.ReadyDeadline.After(now) {
			due = append(due, m.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ReadyDeadline.Before(due[j].ReadyDeadline)
	})
	return due, nil
}
