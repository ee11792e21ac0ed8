package notifier

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"

	"kestrel-bid-engine/internal/ports/outbound"
)

func newTestHub() *FanoutHub {
	return NewFanoutHub(FanoutHubParams{Logger: zerolog.Nop()})
}

func bidEvent(auctionID uuid.UUID, seq uint64) outbound.Event {
	return outbound.Event{
		Type:      outbound.EventTypeBidAccepted,
		AuctionID: auctionID,
		Sequence:  seq,
	}
}

func TestPublish_DeliversInSequenceOrder(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	auctionID := uuid.New()

	eventChan := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "client-1", eventChan))

	for seq := uint64(1); seq <= 5; seq++ {
		assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, seq)))
	}

	for want := uint64(1); want <= 5; want++ {
		ev := <-eventChan
		check.Equal(t, want, ev.Sequence)
	}
}

func TestPublish_LateJoinerSeesOnlyLaterEvents(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	auctionID := uuid.New()

	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 1)))

	eventChan := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "late", eventChan))
	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 2)))

	ev := <-eventChan
	check.Equal(t, uint64(2), ev.Sequence)
	check.Equal(t, 0, len(eventChan))
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	auctionID := uuid.New()

	slow := make(chan outbound.Event, 1)
	fast := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "slow", slow))
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "fast", fast))

	// Nobody drains slow; its queue fills after one event.
	for seq := uint64(1); seq <= 4; seq++ {
		assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, seq)))
	}

	// The fast subscriber got everything, in order.
	for want := uint64(1); want <= 4; want++ {
		ev := <-fast
		check.Equal(t, want, ev.Sequence)
	}

	// The slow subscriber was detached rather than skipped past: it holds
	// the events it received with no gap, then a closed channel.
	check.Equal(t, uint64(1), (<-slow).Sequence)
	_, open := <-slow
	check.False(t, open)
	check.False(t, hub.IsSubscribed(ctx, auctionID, "slow"))
	check.True(t, hub.IsSubscribed(ctx, auctionID, "fast"))
}

func TestUnsubscribe_DoesNotAffectOthers(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	auctionID := uuid.New()

	first := make(chan outbound.Event, 8)
	second := make(chan outbound.Event, 8)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "first", first))
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "second", second))

	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 1)))
	assert.Nil(t, hub.Unsubscribe(ctx, auctionID, "first"))
	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 2)))

	check.Equal(t, uint64(1), (<-second).Sequence)
	check.Equal(t, uint64(2), (<-second).Sequence)

	check.Equal(t, 1, len(first))
	check.False(t, hub.IsSubscribed(ctx, auctionID, "first"))
}

func TestSubscribe_OneChannelAcrossAuctions(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	eventChan := make(chan outbound.Event, 8)
	assert.Nil(t, hub.Subscribe(ctx, first, "client", eventChan))
	assert.Nil(t, hub.Subscribe(ctx, second, "client", eventChan))

	assert.Nil(t, hub.Publish(ctx, first, bidEvent(first, 1)))
	assert.Nil(t, hub.Publish(ctx, second, bidEvent(second, 1)))

	got := map[uuid.UUID]bool{}
	got[(<-eventChan).AuctionID] = true
	got[(<-eventChan).AuctionID] = true
	check.True(t, got[first])
	check.True(t, got[second])
}

func TestDetachClient_RemovesEverywhereAndClosesOnce(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	eventChan := make(chan outbound.Event, 8)
	assert.Nil(t, hub.Subscribe(ctx, first, "client", eventChan))
	assert.Nil(t, hub.Subscribe(ctx, second, "client", eventChan))

	hub.DetachClient("client")
	hub.DetachClient("client")

	_, open := <-eventChan
	check.False(t, open)
	check.False(t, hub.IsSubscribed(ctx, first, "client"))
	check.Equal(t, 0, hub.SubscriberCount(first))
	check.Equal(t, 0, hub.SubscriberCount(second))

	// Publishing to an auction with no subscribers is a no-op.
	check.Nil(t, hub.Publish(ctx, first, bidEvent(first, 1)))
}

func TestPublish_ReconnectingSubscriberMissesNothingForOthers(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()
	ctx := context.Background()
	auctionID := uuid.New()

	stable := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "stable", stable))

	flappy := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "flappy", flappy))
	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 1)))
	hub.DetachClient("flappy")

	flappy2 := make(chan outbound.Event, 16)
	assert.Nil(t, hub.Subscribe(ctx, auctionID, "flappy", flappy2))
	assert.Nil(t, hub.Publish(ctx, auctionID, bidEvent(auctionID, 2)))

	check.Equal(t, uint64(1), (<-stable).Sequence)
	check.Equal(t, uint64(2), (<-stable).Sequence)
	check.Equal(t, uint64(2), (<-flappy2).Sequence)
}
