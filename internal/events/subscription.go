package events

// Wildcard is the wire sentinel a client sends to subscribe to every auction.
// It exists only at the protocol boundary; in process the target is the
// tagged Subscription value.
const Wildcard = "*"

// Subscription identifies a fan-out target: a specific auction or all of them.
// The zero value is not meaningful; construct via SubscribeAll or SubscribeTo.
type Subscription struct {
	all       bool
	auctionID string
}

// SubscribeAll returns the subscription covering every auction.
func SubscribeAll() Subscription {
	return Subscription{all: true}
}

// SubscribeTo returns the subscription for a single auction.
func SubscribeTo(auctionID string) Subscription {
	return Subscription{auctionID: auctionID}
}

// ParseSubscription maps a wire auctionId field to a Subscription, treating
// the wildcard sentinel as the all-auctions target.
func ParseSubscription(raw string) Subscription {
	if raw == Wildcard {
		return SubscribeAll()
	}
	return SubscribeTo(raw)
}

// IsAll reports whether the subscription covers every auction.
func (s Subscription) IsAll() bool {
	return s.all
}

// AuctionID returns the specific auction target, or "" for the all-auctions
// subscription.
func (s Subscription) AuctionID() string {
	if s.all {
		return ""
	}
	return s.auctionID
}

// Wire returns the auctionId value sent in SUBSCRIBE/UNSUBSCRIBE messages.
func (s Subscription) Wire() string {
	if s.all {
		return Wildcard
	}
	return s.auctionID
}

// Matches reports whether an event tagged with auctionID should be delivered
// under this subscription.
func (s Subscription) Matches(auctionID string) bool {
	return s.all || s.auctionID == auctionID
}
