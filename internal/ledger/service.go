// Package ledger implements the bid ledger: validating and committing bids
// under concurrency while keeping a single authoritative price per auction.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flashbid/flashbid/internal/auction"
	"github.com/flashbid/flashbid/internal/events"
	"github.com/flashbid/flashbid/internal/models"
	"github.com/flashbid/flashbid/internal/ratelimit"
)

// AuctionStore is the slice of the ledger store the bid path needs.
type AuctionStore interface {
	CreateAuction(ctx context.Context, a models.Auction) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListOpenAuctions(ctx context.Context) ([]models.Auction, error)
	// CommitBid atomically inserts the bid and raises the auction price,
	// conditional on the price still matching expectedPrice. Returns
	// auction.ErrPriceConflict when the condition fails.
	CommitBid(ctx context.Context, bid models.Bid, expectedPrice float64) error
	// CloseAuction performs the guarded OPEN -> CLOSED transition.
	CloseAuction(ctx context.Context, id uuid.UUID) (winnerID *string, transitioned bool, err error)
}

// PlaceBidRequest is the ledger's call contract for a single bid.
type PlaceBidRequest struct {
	AuctionID  uuid.UUID
	BidderID   string
	BidderName string
	Amount     float64
}

// BidReceipt reports an accepted bid.
type BidReceipt struct {
	Bid      models.Bid
	NewPrice float64
}

type Service struct {
	store     AuctionStore
	limiter   ratelimit.Limiter
	publisher events.Publisher
	clock     clockwork.Clock
}

func NewService(store AuctionStore, limiter ratelimit.Limiter, publisher events.Publisher, clock clockwork.Clock) *Service {
	return &Service{
		store:     store,
		limiter:   limiter,
		publisher: publisher,
		clock:     clock,
	}
}

// MinIncrement returns the smallest allowed raise over price: the larger of
// one currency unit or 5% of price, rounded up to the cent.
func MinIncrement(price float64) float64 {
	pct := math.Ceil(price*5) / 100
	if pct < 1.0 {
		return 1.0
	}
	return pct
}

// PlaceBid validates and commits a single bid. Validation short-circuits in
// a fixed order: missing auction, closed, expired, self-bid, rate limit,
// minimum increment. The commit is a conditional write; if it loses a race
// the whole read-validate-write pass is retried once before surfacing
// ErrConflict. A committed bid is never rolled back by event delivery
// problems; the hand-off to the relay is best-effort.
func (s *Service) PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidReceipt, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		receipt, err := s.tryPlaceBid(ctx, req)
		if errors.Is(err, auction.ErrPriceConflict) {
			lastErr = err
			log.Debug().
				Str("auction_id", req.AuctionID.String()).
				Str("bidder_id", req.BidderID).
				Int("attempt", attempt+1).
				Msg("bid commit conflicted, retrying")
			continue
		}
		return receipt, err
	}
	return nil, fmt.Errorf("%w: %w", ErrConflict, lastErr)
}

func (s *Service) tryPlaceBid(ctx context.Context, req PlaceBidRequest) (*BidReceipt, error) {
	a, err := s.store.GetAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}

	if !a.IsOpen() {
		return nil, ErrAuctionClosed
	}

	now := s.clock.Now()
	if a.Expired(now) {
		// Lazy closure: a bid that discovers a past-deadline auction retires
		// it through the same guarded transition the sweeper uses.
		s.closeExpired(ctx, a.ID)
		return nil, ErrAuctionExpired
	}

	if req.BidderID == a.SellerID {
		return nil, ErrSelfBid
	}

	wait, err := s.limiter.Remaining(ctx, req.BidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if wait > 0 {
		return nil, &RateLimitedError{RetryAfter: wait}
	}

	minBid := a.CurrentPrice + MinIncrement(a.CurrentPrice)
	if req.Amount < minBid {
		return nil, &BidTooLowError{MinimumBid: minBid}
	}

	bid := models.Bid{
		ID:         uuid.New(),
		AuctionID:  a.ID,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     req.Amount,
		CreatedAt:  now,
	}
	if err := s.store.CommitBid(ctx, bid, a.CurrentPrice); err != nil {
		return nil, err
	}

	if err := s.limiter.MarkAccepted(ctx, req.BidderID); err != nil {
		log.Warn().Err(err).Str("bidder_id", req.BidderID).Msg("failed to record rate limit marker")
	}

	s.publish(ctx, events.BidPlaced(a.ID.String(), bid.Amount, bid.BidderID, bid.BidderName, now))

	log.Info().
		Str("auction_id", a.ID.String()).
		Str("bidder_id", bid.BidderID).
		Float64("amount", bid.Amount).
		Msg("bid accepted")

	return &BidReceipt{Bid: bid, NewPrice: bid.Amount}, nil
}

// closeExpired runs the guarded closure and announces it. Both steps are
// side effects of a rejected bid; neither can fail the rejection itself.
func (s *Service) closeExpired(ctx context.Context, id uuid.UUID) {
	winnerID, transitioned, err := s.store.CloseAuction(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to lazily close expired auction")
		return
	}
	if !transitioned {
		return
	}
	log.Info().Str("auction_id", id.String()).Msg("expired auction closed on bid path")
	s.publish(ctx, events.AuctionClosed(id.String(), winnerID))
}

// CreateAuction validates and stores a new listing, then announces it.
func (s *Service) CreateAuction(ctx context.Context, a models.Auction) (*models.Auction, error) {
	if a.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidAuction)
	}
	if a.SellerID == "" {
		return nil, fmt.Errorf("%w: sellerId is required", ErrInvalidAuction)
	}
	if a.StartPrice <= 0 {
		return nil, fmt.Errorf("%w: startPrice must be positive", ErrInvalidAuction)
	}
	if !a.EndsAt.After(s.clock.Now()) {
		return nil, fmt.Errorf("%w: endsAt must be in the future", ErrInvalidAuction)
	}

	a.ID = uuid.New()
	created, err := s.store.CreateAuction(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	data, _ := json.Marshal(created)
	s.publish(ctx, events.AuctionCreated(created.ID.String(), data))

	return created, nil
}

// GetAuction returns a single auction.
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return s.store.GetAuction(ctx, id)
}

// ListOpenAuctions returns all OPEN auctions, soonest deadline first.
func (s *Service) ListOpenAuctions(ctx context.Context) ([]models.Auction, error) {
	return s.store.ListOpenAuctions(ctx)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("auction_id", ev.AuctionID).
			Msg("failed to hand event to relay")
	}
}
