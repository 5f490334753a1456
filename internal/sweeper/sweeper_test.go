package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbid/flashbid/internal/events"
)

type fakeAuction struct {
	endsAt time.Time
	closed bool
	winner *string
}

// fakeStore mirrors the repository's guarded transition: CloseAuction flips
// OPEN to CLOSED under a lock and reports whether this call did the flip.
type fakeStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*fakeAuction
}

func newFakeStore() *fakeStore {
	return &fakeStore{auctions: make(map[uuid.UUID]*fakeAuction)}
}

func (s *fakeStore) add(endsAt time.Time, winner *string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.auctions[id] = &fakeAuction{endsAt: endsAt, winner: winner}
	return id
}

func (s *fakeStore) ListExpiredOpen(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, a := range s.auctions {
		if !a.closed && !a.endsAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) CloseAuction(_ context.Context, id uuid.UUID) (*string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.auctions[id]
	if a.closed {
		return nil, false, nil
	}
	a.closed = true
	return a.winner, true, nil
}

func (s *fakeStore) isClosed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auctions[id].closed
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func TestSweep_ClosesOnlyExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	pub := &capturePublisher{}

	winner := "B7"
	expired := store.add(clock.Now().Add(-time.Minute), &winner)
	atDeadline := store.add(clock.Now(), nil)
	live := store.add(clock.Now().Add(time.Hour), nil)

	s := New(store, pub, clock, DefaultConfig())
	closed, err := s.Sweep(context.Background())
	require.NoError(t, err)

	// endsAt <= now counts as expired, so the at-deadline auction goes too.
	assert.Equal(t, 2, closed)
	assert.True(t, store.isClosed(expired))
	assert.True(t, store.isClosed(atDeadline))
	assert.False(t, store.isClosed(live))

	evs := pub.all()
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, events.EventTypeAuctionClosed, ev.Type)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	pub := &capturePublisher{}
	store.add(clock.Now().Add(-time.Minute), nil)

	s := New(store, pub, clock, DefaultConfig())

	closed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	// Nothing left to do; the closed auction is not re-closed or re-announced.
	closed, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.Len(t, pub.all(), 1)
}

func TestSweep_ConcurrentSweepsCloseOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	pub := &capturePublisher{}
	for i := 0; i < 10; i++ {
		store.add(clock.Now().Add(-time.Minute), nil)
	}

	s := New(store, pub, clock, DefaultConfig())

	var wg sync.WaitGroup
	counts := make([]int, 4)
	errs := make([]error, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], errs[i] = s.Sweep(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for i, n := range counts {
		require.NoError(t, errs[i])
		total += n
	}
	assert.Equal(t, 10, total, "each closure must be counted by exactly one sweep")
	assert.Len(t, pub.all(), 10)
}

func TestSweep_WinnerAnnounced(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	pub := &capturePublisher{}

	winner := "B3"
	withBids := store.add(clock.Now().Add(-time.Minute), &winner)
	noBids := store.add(clock.Now().Add(-time.Minute), nil)

	s := New(store, pub, clock, DefaultConfig())
	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	byAuction := make(map[string]events.Event)
	for _, ev := range pub.all() {
		byAuction[ev.AuctionID] = ev
	}
	assert.JSONEq(t, `{"winnerId":"B3"}`, string(byAuction[withBids.String()].Data))
	assert.JSONEq(t, `{"winnerId":null}`, string(byAuction[noBids.String()].Data))
}

func TestRun_SweepsOnStartAndOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore()
	pub := &capturePublisher{}
	first := store.add(clock.Now().Add(-time.Minute), nil)

	s := New(store, pub, clock, Config{Interval: 15 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Initial sweep happens before the first tick.
	require.Eventually(t, func() bool { return store.isClosed(first) },
		time.Second, 5*time.Millisecond)

	// An auction expiring later is picked up by the next tick.
	second := store.add(clock.Now().Add(10*time.Second), nil)
	clock.BlockUntil(1)
	clock.Advance(15 * time.Second)

	require.Eventually(t, func() bool { return store.isClosed(second) },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
