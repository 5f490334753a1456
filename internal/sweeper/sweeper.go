// Package sweeper retires auctions whose deadline has passed, transitioning
// them to CLOSED with a derived winner and announcing each closure.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/events"
)

// Store is the slice of the ledger store the sweeper needs.
type Store interface {
	ListExpiredOpen(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	// CloseAuction performs the guarded OPEN -> CLOSED transition; the loser
	// of a concurrent race observes transitioned == false and does nothing.
	CloseAuction(ctx context.Context, id uuid.UUID) (winnerID *string, transitioned bool, err error)
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 15 * time.Second}
}

type Sweeper struct {
	store     Store
	publisher events.Publisher
	clock     clockwork.Clock
	config    Config
}

func New(store Store, publisher events.Publisher, clock clockwork.Clock, cfg Config) *Sweeper {
	return &Sweeper{
		store:     store,
		publisher: publisher,
		clock:     clock,
		config:    cfg,
	}
}

// Sweep closes every expired OPEN auction and returns how many transitions
// this call actually performed. Safe to invoke concurrently and repeatedly:
// each per-auction transition is conditional, so overlapping sweeps of the
// same auction close it exactly once and the count never double-reports.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpiredOpen(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired auctions: %w", err)
	}

	closed := 0
	for _, id := range ids {
		winnerID, transitioned, err := s.store.CloseAuction(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to close expired auction")
			continue
		}
		if !transitioned {
			// Another sweep or a lazy close on the bid path won the race.
			continue
		}
		closed++

		winner := "none"
		if winnerID != nil {
			winner = *winnerID
		}
		log.Info().
			Str("auction_id", id.String()).
			Str("winner_id", winner).
			Msg("auction closed")

		ev := events.AuctionClosed(id.String(), winnerID)
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to hand closure event to relay")
		}
	}

	if closed > 0 {
		log.Info().Int("closed", closed).Msg("sweep completed")
	}
	return closed, nil
}

// Run sweeps immediately, then on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.config.Interval).Msg("auction sweeper started")

	if _, err := s.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("sweep failed")
	}

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction sweeper shutting down")
			return
		case <-ticker.Chan():
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
