// Package websocket pushes live player and score updates to spectators.
//
// Clients subscribe to topics: TopicLivePlayers for every live player
// update, LivePlayerTopic(id) for a single session and LeaderboardTopic(mode)
// for new score entries in a mode.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/metrics"
)

// Message types
const (
	MessageTypeLivePlayerUpdate  = "live_player_update"
	MessageTypeLivePlayerRemoved = "live_player_removed"
	MessageTypeScoreSubmitted    = "score_submitted"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// TopicLivePlayers receives every live player update and removal.
const TopicLivePlayers = "live-players"

// LivePlayerTopic is the topic for a single live session.
func LivePlayerTopic(id string) string {
	return "live:" + id
}

// LeaderboardTopic is the topic for new score entries in a mode.
func LeaderboardTopic(mode domain.Mode) string {
	return "leaderboard:" + mode.String()
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LivePlayerRemoved is the payload of a removal notification
type LivePlayerRemoved struct {
	ID string `json:"id"`
}

type outbound struct {
	topics  []string
	message *Message
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by topic
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *outbound
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	upgrader websocket.Upgrader
	metrics  metrics.Recorder
	logger   *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub. Browser connections are accepted only from
// allowedOrigins; "*" allows any origin.
func NewHub(allowedOrigins []string, rec metrics.Recorder, logger *slog.Logger) *Hub {
	if rec == nil {
		rec = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *outbound, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: rec,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			n := len(h.allClients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(n)
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all topic subscriptions
				for topic, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, topic)
						}
					}
				}
				client.closeSend()
			}
			n := len(h.allClients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(n)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, connected := h.allClients[req.client]; connected {
				if _, ok := h.clients[req.topic]; !ok {
					h.clients[req.topic] = make(map[*Client]bool)
				}
				h.clients[req.topic][req.client] = true
				req.client.sendAck(MessageTypeSubscribed, req.topic)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "topic", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.topic]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.topic)
				}
			}
			if _, connected := h.allClients[req.client]; connected {
				req.client.sendAck(MessageTypeUnsubscribed, req.topic)
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "topic", req.topic)

		case out := <-h.broadcast:
			h.broadcastMessage(out)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		client.closeSend()
	}
	h.allClients = make(map[*Client]bool)
	h.clients = make(map[string]map[*Client]bool)
}

// broadcastMessage sends a message once to every client subscribed to any of its topics
func (h *Hub) broadcastMessage(out *outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(out.message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	sent := make(map[*Client]bool)
	for _, topic := range out.topics {
		for client := range h.clients[topic] {
			if sent[client] {
				continue
			}
			sent[client] = true
			select {
			case client.send <- data:
			default:
				// Client's buffer is full, skip
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

func (h *Hub) enqueue(out *outbound) {
	select {
	case h.broadcast <- out:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", out.message.Type)
	}
}

// BroadcastLivePlayerUpdate notifies spectators of a heartbeat
func (h *Hub) BroadcastLivePlayerUpdate(state domain.LivePlayerState) {
	h.enqueue(&outbound{
		topics: []string{TopicLivePlayers, LivePlayerTopic(state.ID)},
		message: &Message{
			Type:      MessageTypeLivePlayerUpdate,
			Topic:     LivePlayerTopic(state.ID),
			Data:      state,
			Timestamp: time.Now(),
		},
	})
}

// BroadcastLivePlayerRemoved notifies spectators that a session ended or expired
func (h *Hub) BroadcastLivePlayerRemoved(id string) {
	h.enqueue(&outbound{
		topics: []string{TopicLivePlayers, LivePlayerTopic(id)},
		message: &Message{
			Type:      MessageTypeLivePlayerRemoved,
			Topic:     LivePlayerTopic(id),
			Data:      LivePlayerRemoved{ID: id},
			Timestamp: time.Now(),
		},
	})
}

// BroadcastScore notifies leaderboard subscribers of a new entry
func (h *Hub) BroadcastScore(entry domain.ScoreEntry) {
	topic := LeaderboardTopic(entry.Mode)
	h.enqueue(&outbound{
		topics: []string{topic},
		message: &Message{
			Type:      MessageTypeScoreSubmitted,
			Topic:     topic,
			Data:      entry,
			Timestamp: time.Now(),
		},
	})
}

// Register adds a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a topic; the client is acknowledged once it is subscribed
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a topic
func (h *Hub) GetSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
