// Package redis implements the matchmaking store contracts on Redis.
//
// Tickets and matches are stored as JSON values; the searching queue for
// each mode is a sorted set scored by enqueue time so the oldest waiter
// ranks first, and awaiting-ready matches sit in a deadline-scored sorted
// set for the expiry sweep. Every state transition runs inside a WATCH
// transaction, so a lost race surfaces as matchmaking.ErrConflict instead
// of a double pairing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/omidkianifarkingkode/flowcast/matchmaking"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the connection settings for the Redis backend.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces every key this store writes.
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a Redis client and pings it to verify connectivity.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// TicketStore is the Redis-backed TicketStore.
type TicketStore struct {
	rdb    *redis.Client
	prefix string
}

// NewTicketStore creates a ticket store on the client.
func NewTicketStore(rdb *redis.Client, keyPrefix string) *TicketStore {
	return &TicketStore{rdb: rdb, prefix: keyPrefix}
}

func (s *TicketStore) ticketKey(id string) string {
	return s.prefix + "ticket:" + id
}

func (s *TicketStore) openKey(playerID, mode string) string {
	return s.prefix + "ticket_open:" + playerID + ":" + mode
}

func (s *TicketStore) searchingKey(mode string) string {
	return s.prefix + "searching:" + mode
}

func (s *TicketStore) load(ctx context.Context, c redis.Cmdable, id string) (*matchmaking.Ticket, error) {
	data, err := c.Get(ctx, s.ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, matchmaking.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	var t matchmaking.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ticket %s: %w", id, err)
	}
	return &t, nil
}

func marshalTicket(t *matchmaking.Ticket) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal ticket %s: %w", t.ID, err)
	}
	return string(data), nil
}

func (s *TicketStore) Create(ctx context.Context, t *matchmaking.Ticket) error {
	openKey := s.openKey(t.PlayerID, t.Mode)
	payload, err := marshalTicket(t)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		existingID, err := tx.Get(ctx, openKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("check open slot: %w", err)
		}
		if err == nil && existingID != "" {
			return fmt.Errorf("%w: player %s mode %s holds ticket %s",
				matchmaking.ErrTicketAlreadyOpen, t.PlayerID, t.Mode, existingID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.ticketKey(t.ID), payload, 0)
			pipe.Set(ctx, openKey, t.ID, 0)
			pipe.ZAdd(ctx, s.searchingKey(t.Mode), redis.Z{
				Score:  float64(t.EnqueuedAt.UnixMilli()),
				Member: t.ID,
			})
			return nil
		})
		return err
	}, openKey)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: open slot contended for player %s", matchmaking.ErrConflict, t.PlayerID)
	}
	return err
}

func (s *TicketStore) GetByID(ctx context.Context, id string) (*matchmaking.Ticket, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *TicketStore) GetOpenByPlayer(ctx context.Context, playerID, mode string) (*matchmaking.Ticket, error) {
	id, err := s.rdb.Get(ctx, s.openKey(playerID, mode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, matchmaking.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open slot: %w", err)
	}

	t, err := s.load(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	if !t.State.Open() {
		// A finalize crashed between SET and DEL; treat as closed.
		return nil, matchmaking.ErrTicketNotFound
	}
	return t, nil
}

func (s *TicketStore) GetSearchingByMode(ctx context.Context, mode string) ([]*matchmaking.Ticket, error) {
	ids, err := s.rdb.ZRange(ctx, s.searchingKey(mode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range searching queue: %w", err)
	}

	out := make([]*matchmaking.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := s.load(ctx, s.rdb, id)
		if err != nil {
			if errors.Is(err, matchmaking.ErrTicketNotFound) {
				continue
			}
			return nil, err
		}
		// The queue can briefly lag a concurrent claim; filter on state.
		if t.State == matchmaking.TicketSearching {
			out = append(out, t)
		}
	}
	return out, nil
}

// mutate runs a ticket transition inside a WATCH transaction on the
// ticket key, persisting the mutated ticket plus any queue bookkeeping.
func (s *TicketStore) mutate(
	ctx context.Context,
	ticketID string,
	transition func(t *matchmaking.Ticket) error,
	bookkeeping func(pipe redis.Pipeliner, t *matchmaking.Ticket),
) error {
	key := s.ticketKey(ticketID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		t, err := s.load(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if err := transition(t); err != nil {
			return err
		}
		payload, err := marshalTicket(t)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			bookkeeping(pipe, t)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: ticket %s changed concurrently", matchmaking.ErrConflict, ticketID)
	}
	return err
}

func (s *TicketStore) MoveToPendingReady(ctx context.Context, ticketID, matchID string) error {
	return s.mutate(ctx, ticketID,
		func(t *matchmaking.Ticket) error { return t.MoveToPendingReady(matchID) },
		func(pipe redis.Pipeliner, t *matchmaking.Ticket) {
			pipe.ZRem(ctx, s.searchingKey(t.Mode), t.ID)
		})
}

func (s *TicketStore) ReleaseToSearching(ctx context.Context, ticketID, matchID string) error {
	return s.mutate(ctx, ticketID,
		func(t *matchmaking.Ticket) error { return t.ReleaseToSearching(matchID) },
		func(pipe redis.Pipeliner, t *matchmaking.Ticket) {
			pipe.ZAdd(ctx, s.searchingKey(t.Mode), redis.Z{
				Score:  float64(t.EnqueuedAt.UnixMilli()),
				Member: t.ID,
			})
		})
}

func (s *TicketStore) Finalize(ctx context.Context, ticketID string, state matchmaking.TicketState) (changed bool, err error) {
	err = s.mutate(ctx, ticketID,
		func(t *matchmaking.Ticket) error {
			switch state {
			case matchmaking.TicketConsumed:
				if t.State.Terminal() {
					return nil
				}
				if err := t.Consume(); err != nil {
					return err
				}
				changed = true
			case matchmaking.TicketCancelled:
				changed = t.Cancel()
			case matchmaking.TicketFailed:
				changed = t.Fail()
			default:
				return fmt.Errorf("%w: %s is not a terminal state", matchmaking.ErrConflict, state)
			}
			return nil
		},
		func(pipe redis.Pipeliner, t *matchmaking.Ticket) {
			if !changed {
				return
			}
			pipe.Del(ctx, s.openKey(t.PlayerID, t.Mode))
			pipe.ZRem(ctx, s.searchingKey(t.Mode), t.ID)
		})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// MatchStore is the Redis-backed MatchStore.
type MatchStore struct {
	rdb    *redis.Client
	prefix string
}

// NewMatchStore creates a match store on the client.
func NewMatchStore(rdb *redis.Client, keyPrefix string) *MatchStore {
	return &MatchStore{rdb: rdb, prefix: keyPrefix}
}

func (s *MatchStore) matchKey(id string) string {
	return s.prefix + "match:" + id
}

func (s *MatchStore) deadlineKey() string {
	return s.prefix + "match_deadlines"
}

func marshalMatch(m *matchmaking.Match) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal match %s: %w", m.ID, err)
	}
	return string(data), nil
}

func (s *MatchStore) load(ctx context.Context, c redis.Cmdable, id string) (*matchmaking.Match, error) {
	data, err := c.Get(ctx, s.matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, matchmaking.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	var m matchmaking.Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal match %s: %w", id, err)
	}
	return &m, nil
}

func (s *MatchStore) Create(ctx context.Context, m *matchmaking.Match) error {
	payload, err := marshalMatch(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.matchKey(m.ID), payload, 0)
		pipe.ZAdd(ctx, s.deadlineKey(), redis.Z{
			Score:  float64(m.ReadyDeadline.UnixMilli()),
			Member: m.ID,
		})
		return nil
	})
	return err
}

func (s *MatchStore) GetByID(ctx context.Context, id string) (*matchmaking.Match, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *MatchStore) Update(ctx context.Context, m *matchmaking.Match) error {
	key := s.matchKey(m.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.load(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		if stored.Revision != m.Revision {
			return fmt.Errorf("%w: match %s revision %d, expected %d",
				matchmaking.ErrConflict, m.ID, stored.Revision, m.Revision)
		}
		m.Revision++
		payload, err := marshalMatch(m)
		if err != nil {
			m.Revision--
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if m.State != matchmaking.MatchAwaitingReady {
				pipe.ZRem(ctx, s.deadlineKey(), m.ID)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		m.Revision--
		return fmt.Errorf("%w: match %s changed concurrently", matchmaking.ErrConflict, m.ID)
	}
	return err
}

func (s *MatchStore) DueForExpiry(ctx context.Context, now time.Time) ([]*matchmaking.Match, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.deadlineKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range deadlines: %w", err)
	}

	out := make([]*matchmaking.Match, 0, len(ids))
	for _, id := range ids {
		m, err := s.load(ctx, s.rdb, id)
		if err != nil {
			if errors.Is(err, matchmaking.ErrMatchNotFound) {
				continue
			}
			return nil, err
		}
		if m.State == matchmaking.MatchAwaitingReady {
			out = append(out, m)
		}
	}
	return out, nil
}
