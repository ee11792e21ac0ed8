package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"kestrel-bid-engine/internal/domain/ledger"
	"kestrel-bid-engine/internal/domain/shared"
	"kestrel-bid-engine/internal/ports/inbound"
	"kestrel-bid-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientDetacher removes a client from the fan-out hub everywhere at once.
// The hub owns the event channel and closes it during detach.
type ClientDetacher interface {
	DetachClient(clientID string)
}

// WsHandler manages WebSocket connections and message routing
type WsHandler struct {
	clients       map[string]*WsClient // clientID -> Client
	clientsMu     sync.RWMutex
	eventChannels map[string]chan outbound.Event // clientID -> local event channel
	channelsMu    sync.RWMutex
	upgrader      websocket.Upgrader
	engine        inbound.Engine
	notifier      outbound.Notifier
	detacher      ClientDetacher
	queueSize     int
	logger        zerolog.Logger
}

type WsHandlerParams struct {
	Upgrader websocket.Upgrader
	Engine   inbound.Engine
	Notifier outbound.Notifier
	Detacher ClientDetacher
	// SubscriberQueueSize is the per-client event buffer.
	SubscriberQueueSize int
	Logger              zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(params WsHandlerParams) *WsHandler {
	queueSize := params.SubscriberQueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	return &WsHandler{
		clients:       make(map[string]*WsClient),
		eventChannels: make(map[string]chan outbound.Event),
		upgrader:      params.Upgrader,
		engine:        params.Engine,
		notifier:      params.Notifier,
		detacher:      params.Detacher,
		queueSize:     queueSize,
		logger:        params.Logger.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket handles WebSocket connection upgrades
func (handler *WsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	bidderIDStr := r.URL.Query().Get("bidder_id")
	if bidderIDStr == "" {
		http.Error(w, "bidder_id is required", http.StatusBadRequest)
		return
	}

	bidderID, err := uuid.Parse(bidderIDStr)
	if err != nil {
		http.Error(w, "invalid bidder_id format", http.StatusBadRequest)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	// Create new client
	client := NewClient(WsClientParams{
		BidderID: bidderID,
		Conn:     conn,
		Handler:  handler,
		Logger:   handler.logger,
	})

	// Register client
	handler.registerClient(client)

	// Create local event channel for this client
	handler.createEventChannel(client.id)

	// Start client message handling
	client.Start()

	// Start forwarding fan-out events for this client
	go handler.listenForClientEvents(client)

	// Wait for client to disconnect
	go func() {
		<-client.ctx.Done()
		handler.unregisterClient(client)
	}()

	handler.logger.Info().Str("client_id", client.id).Str("bidder_id", client.bidderID.String()).Msg("WebSocket client connected")
}

// createEventChannel creates a local event channel for a client
func (handler *WsHandler) createEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	if eventChan, exists := handler.eventChannels[clientID]; exists {
		return eventChan
	}

	eventChan := make(chan outbound.Event, handler.queueSize)
	handler.eventChannels[clientID] = eventChan

	handler.logger.Debug().Str("client_id", clientID).Msg("Created local event channel for client")
	return eventChan
}

func (handler *WsHandler) getEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.RLock()
	defer handler.channelsMu.RUnlock()

	return handler.eventChannels[clientID]
}

func (handler *WsHandler) registerClient(client *WsClient) {
	handler.clientsMu.Lock()
	defer handler.clientsMu.Unlock()
	handler.clients[client.id] = client
	handler.logger.Debug().Str("client_id", client.id).Int("total_clients", len(handler.clients)).Msg("Client registered")
}

func (handler *WsHandler) unregisterClient(client *WsClient) {
	handler.clientsMu.Lock()
	delete(handler.clients, client.id)
	totalClients := len(handler.clients)
	handler.clientsMu.Unlock()

	// The hub owns the event channel: detaching removes the client from
	// every auction and closes the channel exactly once.
	handler.detacher.DetachClient(client.id)

	handler.channelsMu.Lock()
	delete(handler.eventChannels, client.id)
	handler.channelsMu.Unlock()

	// Stop the client
	client.Stop()

	handler.logger.Info().Str("client_id", client.id).Str("bidder_id", client.bidderID.String()).Int("total_clients", totalClients).Msg("WebSocket client disconnected")
}

// listenForClientEvents forwards ordered fan-out events to the socket
func (handler *WsHandler) listenForClientEvents(client *WsClient) {
	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		handler.logger.Error().Str("client_id", client.id).Msg("No event channel found for client")
		return
	}

	handler.logger.Debug().Str("client_id", client.id).Msg("Event listener started for client")

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				// Hub detached this client (disconnect or overflow).
				handler.logger.Debug().Str("client_id", client.id).Msg("Event channel closed, stopping event listener")
				return
			}
			wsMessage := handler.convertEventToMessage(event)

			if err := client.Send(wsMessage); err != nil {
				handler.logger.Error().
					Err(err).Str("client_id", client.id).Msg("Failed to send event to WebSocket client")
			}

		case <-client.ctx.Done():
			handler.logger.Debug().Str("client_id", client.id).Msg("Client disconnected, stopping event listener")
			return
		}
	}
}

func (handler *WsHandler) HandleClientMessage(client *WsClient, msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe:
		return handler.handleSubscribe(client, msg)

	case MessageTypeUnsubscribe:
		return handler.handleUnsubscribe(client, msg)

	case MessageTypePlaceBid:
		return handler.handlePlaceBid(client, msg)

	case MessageTypeCreateAuction:
		return handler.handleCreateAuction(client, msg)

	case MessageTypeGetAuction:
		return handler.handleGetAuction(client, msg)

	case MessageTypeListAuctions:
		return handler.handleListAuctions(client, msg)

	case MessageTypeGetBidLog:
		return handler.handleGetBidLog(client, msg)

	case MessageTypeCancelAuction:
		return handler.handleCancelAuction(client, msg)

	default:
		handler.logger.Warn().Str("client_id", client.id).Str("message_type", string(msg.Type)).Msg("Unknown message type from client")
		return shared.ErrUnknownMessageType
	}
}

func (handler *WsHandler) convertEventToMessage(event outbound.Event) *ServerMessage {
	msg := &ServerMessage{
		AuctionID: &event.AuctionID,
		Data:      make(map[string]interface{}, len(event.Data)+3),
		Timestamp: event.Timestamp,
	}

	switch event.Type {
	case outbound.EventTypeBidAccepted:
		msg.Type = MessageTypeBidAccepted
	case outbound.EventTypeAuctionClosed:
		msg.Type = MessageTypeAuctionClosed
	case outbound.EventTypeAuctionCanceled:
		msg.Type = MessageTypeAuctionCanceled
	default:
		msg.Type = MessageTypeAuctionSnapshot
	}

	for k, v := range event.Data {
		msg.Data[k] = v
	}
	msg.Data["sequence"] = event.Sequence
	msg.Data["current_price"] = event.CurrentPrice
	if event.LeaderID != nil {
		msg.Data["leader_id"] = event.LeaderID.String()
	}

	return msg
}

// GetConnectedClients returns the number of connected clients
func (handler *WsHandler) GetConnectedClients() int {
	handler.clientsMu.RLock()
	defer handler.clientsMu.RUnlock()
	return len(handler.clients)
}

func (handler *WsHandler) handleSubscribe(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		handler.logger.Error().Str("client_id", client.id).Msg("No event channel found for client")
		return shared.ErrClientEventChannelNotFound
	}

	if err := handler.notifier.Subscribe(ctx, *msg.AuctionID, client.id, eventChan); err != nil {
		handler.logger.Error().Err(err).Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Failed to subscribe to auction")
		return err
	}

	response := NewServerMessage(MessageTypeAuctionSnapshot)
	response.AuctionID = msg.AuctionID
	response.Data["status"] = "subscribed"

	// Include the current state so the subscriber has a baseline before
	// the first live event arrives.
	if snap, err := handler.engine.GetAuction(ctx, *msg.AuctionID); err == nil {
		handler.fillSnapshotData(response, snap)
	}

	handler.logger.Info().Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Client subscribed to auction")
	return client.Send(response)
}

// handleUnsubscribe handles unsubscription from auction events
func (handler *WsHandler) handleUnsubscribe(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	if err := handler.notifier.Unsubscribe(ctx, *msg.AuctionID, client.id); err != nil {
		return err
	}

	// Send confirmation
	response := NewServerMessage(MessageTypeAuctionSnapshot)
	response.AuctionID = msg.AuctionID
	response.Data["status"] = "unsubscribed"

	handler.logger.Info().Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Client unsubscribed from auction")
	return client.Send(response)
}

// handlePlaceBid handles bid placement
func (handler *WsHandler) handlePlaceBid(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	amount, ok := msg.Data["amount"].(float64)
	if !ok {
		return shared.ErrInvalidAmount
	}

	ctx := context.Background()

	bidRequest := inbound.PlaceBidRequest{
		AuctionID: *msg.AuctionID,
		BidderID:  client.bidderID,
		Amount:    amount,
	}

	receipt, err := handler.engine.TryBid(ctx, bidRequest)
	if err != nil {
		// Every rejection maps to a stable reason; the receipt still
		// carries the current price when the engine knows it.
		rejection := NewBidRejectedMessage(*msg.AuctionID, shared.ReasonFor(err), receipt.CurrentPrice)
		return client.Send(rejection)
	}

	handler.logger.Info().
		Str("auction_id", msg.AuctionID.String()).
		Str("bidder_id", client.bidderID.String()).
		Float64("amount", amount).
		Uint64("sequence", receipt.Sequence).
		Msg("Bid accepted")

	response := NewServerMessage(MessageTypeBidAccepted)
	response.AuctionID = msg.AuctionID
	response.Data["sequence"] = receipt.Sequence
	response.Data["current_price"] = receipt.CurrentPrice
	return client.Send(response)
}

// handleCreateAuction handles auction creation
func (handler *WsHandler) handleCreateAuction(client *WsClient, msg *ClientMessage) error {
	ctx := context.Background()

	startTimeStr, ok := msg.Data["start_time"].(string)
	if !ok {
		return shared.ErrStartTimeRequired
	}

	endTimeStr, ok := msg.Data["end_time"].(string)
	if !ok {
		return shared.ErrEndTimeRequired
	}

	startingPrice, ok := msg.Data["starting_price"].(float64)
	if !ok {
		return shared.ErrStartingPriceRequired
	}

	minIncrement, ok := msg.Data["min_increment"].(float64)
	if !ok {
		return shared.ErrMinIncrementRequired
	}

	auctionRequest := inbound.CreateAuctionRequest{
		StartTime:     startTimeStr,
		EndTime:       endTimeStr,
		StartingPrice: startingPrice,
		MinIncrement:  minIncrement,
	}

	snap, err := handler.engine.CreateAuction(ctx, auctionRequest)
	if err != nil {
		errorMsg := NewErrorMessage(err.Error(), nil)
		return client.Send(errorMsg)
	}

	response := handler.createSnapshotResponse(snap, MessageTypeAuctionCreated)

	handler.logger.Info().Str("auction_id", snap.ID.String()).Str("bidder_id", client.bidderID.String()).Msg("Auction created successfully")
	return client.Send(response)
}

// handleGetAuction handles getting auction details
func (handler *WsHandler) handleGetAuction(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	snap, err := handler.engine.GetAuction(ctx, *msg.AuctionID)
	if err != nil {
		errorMsg := NewErrorMessage(err.Error(), msg.AuctionID)
		return client.Send(errorMsg)
	}

	response := handler.createSnapshotResponse(snap, MessageTypeAuctionSnapshot)

	return client.Send(response)
}

// handleListAuctions handles listing auctions
func (handler *WsHandler) handleListAuctions(client *WsClient, msg *ClientMessage) error {
	ctx := context.Background()

	snapshots := handler.engine.ListAuctions(ctx)

	auctions := make([]map[string]interface{}, 0, len(snapshots))
	for _, snap := range snapshots {
		auctions = append(auctions, snapshotData(snap))
	}

	response := NewServerMessage(MessageTypeAuctionSnapshot)
	response.Data["auctions"] = auctions
	response.Data["count"] = len(auctions)

	return client.Send(response)
}

// handleGetBidLog returns the accepted-bid log for one auction
func (handler *WsHandler) handleGetBidLog(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	bids, err := handler.engine.GetBidLog(ctx, *msg.AuctionID)
	if err != nil {
		errorMsg := NewErrorMessage(err.Error(), msg.AuctionID)
		return client.Send(errorMsg)
	}

	entries := make([]map[string]interface{}, 0, len(bids))
	for _, bid := range bids {
		entries = append(entries, map[string]interface{}{
			"bidder_id":   bid.BidderID.String(),
			"amount":      bid.Amount,
			"sequence":    bid.Sequence,
			"accepted_at": bid.AcceptedAt.Format(time.RFC3339),
		})
	}

	response := NewServerMessage(MessageTypeBidLog)
	response.AuctionID = msg.AuctionID
	response.Data["bids"] = entries
	response.Data["count"] = len(entries)

	return client.Send(response)
}

// handleCancelAuction handles the administrative terminal transition
func (handler *WsHandler) handleCancelAuction(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	if err := handler.engine.CancelAuction(ctx, *msg.AuctionID); err != nil {
		if errors.Is(err, shared.ErrAuctionTerminal) {
			errorMsg := NewErrorMessage("auction already finished", msg.AuctionID)
			return client.Send(errorMsg)
		}
		errorMsg := NewErrorMessage(err.Error(), msg.AuctionID)
		return client.Send(errorMsg)
	}

	handler.logger.Info().Str("auction_id", msg.AuctionID.String()).Str("client_id", client.id).Msg("Auction canceled")

	response := NewServerMessage(MessageTypeAuctionCanceled)
	response.AuctionID = msg.AuctionID
	return client.Send(response)
}

func (handler *WsHandler) createSnapshotResponse(snap ledger.Snapshot, msgType MessageType) *ServerMessage {
	response := NewServerMessage(msgType)
	response.AuctionID = &snap.ID
	handler.fillSnapshotData(response, snap)
	return response
}

func (handler *WsHandler) fillSnapshotData(response *ServerMessage, snap ledger.Snapshot) {
	for k, v := range snapshotData(snap) {
		response.Data[k] = v
	}
}

func snapshotData(snap ledger.Snapshot) map[string]interface{} {
	data := map[string]interface{}{
		"auction_id":     snap.ID.String(),
		"state":          string(snap.State),
		"start_time":     snap.StartTime.Format(time.RFC3339),
		"end_time":       snap.EndTime.Format(time.RFC3339),
		"starting_price": snap.StartingPrice,
		"min_increment":  snap.MinIncrement,
		"current_price":  snap.CurrentPrice,
		"sequence":       snap.Sequence,
	}
	if snap.LeaderID != nil {
		data["leader_id"] = snap.LeaderID.String()
	}
	return data
}
