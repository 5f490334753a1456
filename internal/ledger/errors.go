package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Business-rule errors returned by PlaceBid, in validation order. Storage
// lookups surface auction.ErrNotFound for a missing auction.
var (
	ErrAuctionClosed  = errors.New("auction is closed")
	ErrAuctionExpired = errors.New("auction has ended")
	ErrSelfBid        = errors.New("seller cannot bid on own auction")
	ErrRateLimited    = errors.New("bidding too fast")
	ErrBidTooLow      = errors.New("bid amount too low")

	// ErrConflict is the generic failure surfaced when a bid still cannot
	// commit after the single transparent retry.
	ErrConflict = errors.New("bid conflicted with a concurrent bid")

	// ErrInvalidAuction covers bad create-auction input.
	ErrInvalidAuction = errors.New("invalid auction")
)

// RateLimitedError carries the wait remaining before the bidder's next bid
// can be accepted. It unwraps to ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("bidding too fast, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// BidTooLowError carries the minimum acceptable amount. It unwraps to
// ErrBidTooLow.
type BidTooLowError struct {
	MinimumBid float64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount too low, minimum is %.2f", e.MinimumBid)
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }
