package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kestrel-bid-engine/internal/ports/outbound"
)

// EventRelay mirrors published events to an external channel (Redis pub/sub).
// Best effort; the hub remains the authoritative delivery path.
type EventRelay interface {
	Relay(ctx context.Context, event outbound.Event) error
}

// subscriberClient is one connected client: a single bounded event channel
// shared across every auction the client watches.
type subscriberClient struct {
	eventChan chan outbound.Event
	auctions  map[uuid.UUID]bool
}

// FanoutHub delivers ledger-change events to per-auction subscribers.
// Publish is called while the publisher holds the ledger's exclusive access,
// so events for one auction arrive here already in sequence order; each
// subscriber's bounded channel preserves that order. A subscriber that
// cannot keep up is detached rather than skipped past, so an attached client
// never observes a gap.
type FanoutHub struct {
	mu         sync.RWMutex
	clients    map[string]*subscriberClient       // clientID -> client
	byAuction  map[uuid.UUID]map[string]bool      // auctionID -> clientIDs
	relay      EventRelay
	relayQueue chan outbound.Event
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

type FanoutHubParams struct {
	Relay          EventRelay
	RelayQueueSize int
	Logger         zerolog.Logger
}

// NewFanoutHub creates the in-process fan-out hub.
func NewFanoutHub(params FanoutHubParams) *FanoutHub {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := params.RelayQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	hub := &FanoutHub{
		clients:    make(map[string]*subscriberClient),
		byAuction:  make(map[uuid.UUID]map[string]bool),
		relay:      params.Relay,
		relayQueue: make(chan outbound.Event, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		logger:     params.Logger.With().Str("component", "fanout_hub").Logger(),
	}

	if hub.relay != nil {
		hub.wg.Add(1)
		go hub.relayLoop()
	}

	return hub
}

// Subscribe attaches a client's event channel to an auction. All of a
// client's subscriptions share the one channel.
func (h *FanoutHub) Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		client = &subscriberClient{
			eventChan: eventChan,
			auctions:  make(map[uuid.UUID]bool),
		}
		h.clients[clientID] = client
	}
	if client.auctions[auctionID] {
		return nil
	}

	client.auctions[auctionID] = true
	if h.byAuction[auctionID] == nil {
		h.byAuction[auctionID] = make(map[string]bool)
	}
	h.byAuction[auctionID][clientID] = true

	h.logger.Debug().
		Str("client_id", clientID).
		Str("auction_id", auctionID.String()).
		Msg("Client subscribed to auction")
	return nil
}

// Unsubscribe detaches a client from one auction. The client's channel stays
// open; only DetachClient or Close ends it.
func (h *FanoutHub) Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	delete(client.auctions, auctionID)
	if subs := h.byAuction[auctionID]; subs != nil {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(h.byAuction, auctionID)
		}
	}

	h.logger.Debug().
		Str("client_id", clientID).
		Str("auction_id", auctionID.String()).
		Msg("Client unsubscribed from auction")
	return nil
}

// Publish delivers an event to every subscriber of the auction. Sends are
// non-blocking: a full subscriber queue marks that subscriber for detachment
// instead of stalling the publisher or any other subscriber.
func (h *FanoutHub) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	var overflowed []string

	h.mu.RLock()
	for clientID := range h.byAuction[auctionID] {
		client := h.clients[clientID]
		if client == nil {
			continue
		}
		select {
		case client.eventChan <- event:
		default:
			overflowed = append(overflowed, clientID)
		}
	}
	h.mu.RUnlock()

	for _, clientID := range overflowed {
		h.logger.Warn().
			Str("client_id", clientID).
			Str("auction_id", auctionID.String()).
			Uint64("sequence", event.Sequence).
			Msg("Subscriber queue overflow, detaching")
		h.DetachClient(clientID)
	}

	if h.relay != nil {
		select {
		case h.relayQueue <- event:
		default:
			h.logger.Warn().Str("auction_id", auctionID.String()).Msg("Relay queue full, dropping mirrored event")
		}
	}

	return nil
}

// IsSubscribed checks whether a client is attached to an auction.
func (h *FanoutHub) IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	return ok && client.auctions[auctionID]
}

// DetachClient removes a client from every auction and closes its channel.
// The hub owns channel closing so overflow detachment and connection
// teardown cannot race into a double close.
func (h *FanoutHub) DetachClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(clientID)
}

func (h *FanoutHub) detachLocked(clientID string) {
	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	for auctionID := range client.auctions {
		if subs := h.byAuction[auctionID]; subs != nil {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.byAuction, auctionID)
			}
		}
	}
	close(client.eventChan)
	delete(h.clients, clientID)
}

// SubscriberCount reports how many clients are attached to an auction.
func (h *FanoutHub) SubscriberCount(auctionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byAuction[auctionID])
}

func (h *FanoutHub) relayLoop() {
	defer h.wg.Done()

	for {
		select {
		case event := <-h.relayQueue:
			if err := h.relay.Relay(h.ctx, event); err != nil {
				h.logger.Error().Err(err).
					Str("auction_id", event.AuctionID.String()).
					Msg("Failed to relay event")
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// Close detaches all clients and stops the relay loop.
func (h *FanoutHub) Close() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for clientID := range h.clients {
		h.detachLocked(clientID)
	}
}
