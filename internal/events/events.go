// Package events defines the wire protocol shared by the bid ledger, the
// broadcast relay, and relay clients: the outbound event envelope, inbound
// client messages, subscription targets, and event publishers.
package events

import (
	"encoding/json"
	"time"
)

// EventType tags an outbound (server -> client) message.
type EventType string

const (
	EventTypeConnected      EventType = "CONNECTED"
	EventTypePong           EventType = "PONG"
	EventTypeBidPlaced      EventType = "BID_PLACED"
	EventTypeAuctionCreated EventType = "AUCTION_CREATED"
	EventTypeAuctionUpdated EventType = "AUCTION_UPDATED"
	EventTypeAuctionClosed  EventType = "AUCTION_CLOSED"
)

// MessageType tags an inbound (client -> server) message.
type MessageType string

const (
	MessageTypeAuth        MessageType = "AUTH"
	MessageTypeSubscribe   MessageType = "SUBSCRIBE"
	MessageTypeUnsubscribe MessageType = "UNSUBSCRIBE"
	MessageTypePing        MessageType = "PING"
)

// Event is the envelope for every server -> client message and for bodies
// posted to the relay's /broadcast ingress. Fields beyond Type are populated
// per event type; an empty AuctionID marks a global announcement delivered to
// every connection.
type Event struct {
	Type       EventType       `json:"type"`
	AuctionID  string          `json:"auctionId,omitempty"`
	NewPrice   float64         `json:"newPrice,omitempty"`
	BidderID   string          `json:"bidderId,omitempty"`
	BidderName string          `json:"bidderName,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is a control message sent by a connected viewer.
type ClientMessage struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"userId,omitempty"`
	AuctionID string      `json:"auctionId,omitempty"`
}

// BidPlaced builds the price-change event emitted after an accepted bid.
func BidPlaced(auctionID string, newPrice float64, bidderID, bidderName string, at time.Time) Event {
	return Event{
		Type:       EventTypeBidPlaced,
		AuctionID:  auctionID,
		NewPrice:   newPrice,
		BidderID:   bidderID,
		BidderName: bidderName,
		Timestamp:  &at,
	}
}

// AuctionClosed builds the closure event. winnerID may be nil when the
// auction closed without bids.
func AuctionClosed(auctionID string, winnerID *string) Event {
	data, _ := json.Marshal(struct {
		WinnerID *string `json:"winnerId"`
	}{WinnerID: winnerID})
	return Event{
		Type:      EventTypeAuctionClosed,
		AuctionID: auctionID,
		Data:      data,
	}
}

// AuctionCreated builds the new-listing announcement event.
func AuctionCreated(auctionID string, data json.RawMessage) Event {
	return Event{
		Type:      EventTypeAuctionCreated,
		AuctionID: auctionID,
		Data:      data,
	}
}
