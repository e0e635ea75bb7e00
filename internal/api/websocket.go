// Package api provides WebSocket functionality for real-time updates.
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/observability"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeProgress   MessageType = "simulation:progress"
	MsgTypeComplete   MessageType = "simulation:complete"
	MsgTypeSubscribed MessageType = "subscribed"
	MsgTypePong       MessageType = "pong"
	MsgTypeError      MessageType = "error"
	MsgTypeHeartbeat  MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// ChannelSimulations carries events of every run. Events of one run are
// also published on SimulationChannel(id).
const ChannelSimulations = "simulations"

// SimulationChannel returns the channel of a single run
func SimulationChannel(id string) string {
	return "simulation:" + id
}

// WSMessage is a WebSocket message.
type WSMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CompletionEvent is the payload of a simulation:complete message
type CompletionEvent struct {
	ID     string `json:"id"`
	Engine string `json:"engine"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetWebSocketClients(count)
			h.logger.Debug("Client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				// Remove from all channels
				client.mu.RLock()
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
				client.mu.RUnlock()
			}
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetWebSocketClients(count)
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	msg := WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	}

	data, _ := json.Marshal(msg)

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel publishes a message to a channel.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	msgBytes, err := encode(msgType, channel, "", data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- msgBytes:
			default:
			}
		}
	}
}

// BroadcastProgress publishes a trial progress update of a run.
func (h *Hub) BroadcastProgress(p types.Progress) {
	h.PublishToChannel(ChannelSimulations, MsgTypeProgress, p)
	h.PublishToChannel(SimulationChannel(p.ID), MsgTypeProgress, p)
}

// BroadcastComplete publishes the end of a run.
func (h *Hub) BroadcastComplete(event CompletionEvent) {
	h.PublishToChannel(ChannelSimulations, MsgTypeComplete, event)
	h.PublishToChannel(SimulationChannel(event.ID), MsgTypeComplete, event)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(msgType MessageType, channel, id string, data interface{}) ([]byte, error) {
	msg := WSMessage{
		ID:        id,
		Type:      msgType,
		Channel:   channel,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = dataBytes
	}
	return json.Marshal(msg)
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump pumps messages from the WebSocket to the hub.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			c.reply(MsgTypeError, "", "", map[string]string{"error": "invalid message"})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
			c.reply(MsgTypeSubscribed, msg.Channel, msg.ID, nil)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		case MsgTypePing:
			c.reply(MsgTypePong, "", msg.ID, nil)
		default:
			c.reply(MsgTypeError, "", msg.ID, map[string]string{"error": "unknown message type " + string(msg.Type)})
		}
	}
}

// reply queues a direct answer to this client. It runs on the read pump,
// before unregistering closes send.
func (c *Client) reply(msgType MessageType, channel, id string, data interface{}) {
	msgBytes, err := encode(msgType, channel, id, data)
	if err != nil {
		c.hub.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	select {
	case c.send <- msgBytes:
	default:
	}
}

// WritePump pumps messages from the hub to the WebSocket, one message per
// frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
