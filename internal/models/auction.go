package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus defines the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusOpen   AuctionStatus = "OPEN"
	AuctionStatusClosed AuctionStatus = "CLOSED"
)

// Auction represents a single listing. CurrentPrice equals StartPrice until
// the first accepted bid, then always the amount of the highest accepted bid.
type Auction struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	StartPrice   float64       `json:"startPrice"`
	CurrentPrice float64       `json:"currentPrice"`
	Status       AuctionStatus `json:"status"`
	EndsAt       time.Time     `json:"endsAt"`
	SellerID     string        `json:"sellerId"`
	WinnerID     *string       `json:"winnerId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// IsOpen reports whether the auction still accepts bids, ignoring the deadline.
func (a *Auction) IsOpen() bool {
	return a.Status == AuctionStatusOpen
}

// Expired reports whether the auction deadline has passed at the given instant.
func (a *Auction) Expired(now time.Time) bool {
	return !a.EndsAt.After(now)
}
