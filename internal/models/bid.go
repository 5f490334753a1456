package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid is an immutable record of an accepted bid. There is no stored "winning"
// flag; the winning bid is the one whose amount equals the auction's current
// price.
type Bid struct {
	ID         uuid.UUID `json:"id"`
	AuctionID  uuid.UUID `json:"auctionId"`
	BidderID   string    `json:"bidderId"`
	BidderName string    `json:"bidderName,omitempty"`
	Amount     float64   `json:"amount"`
	CreatedAt  time.Time `json:"createdAt"`
}
