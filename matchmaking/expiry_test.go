package matchmaking_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omidkianifarkingkode/flowcast/matchmaking"
)

func TestExpirySweeper_ExpiresOverdueMatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	match := pairPlayers(t, f, "alice", "bob")
	f.clock.Advance(time.Minute)

	sweeper := matchmaking.NewExpirySweeper(f.coordinator, 5*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		stored, err := f.matches.GetByID(ctx, match.ID)
		if err != nil {
			return false
		}
		return stored.State == matchmaking.MatchExpired
	}, time.Second, 10*time.Millisecond, "match never expired")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}

	assert.Equal(t, 1, f.notifier.count("match_aborted:alice:"))
	assert.Equal(t, 1, f.notifier.count("match_aborted:bob:"))
}
