// Package notifications delivers site events to websocket subscribers and an
// optional outbound webhook.
package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HubConfig holds websocket tuning for the Hub.
type HubConfig struct {
	// PingInterval is how often clients are pinged.
	PingInterval time.Duration
	// WriteTimeout bounds a single write to a client.
	WriteTimeout time.Duration
	// ReadTimeout is how long a client may stay silent (pongs included).
	ReadTimeout time.Duration
	// SendBufferSize is the number of events queued per client before it is skipped.
	SendBufferSize int
}

// DefaultHubConfig returns a HubConfig with sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		SendBufferSize: 64,
	}
}

type client struct {
	id      uuid.UUID
	channel string
	conn    *websocket.Conn
	send    chan models.SiteEvent
	hub     *Hub
}

// Hub fans site events out to websocket clients subscribed to a channel.
type Hub struct {
	config   HubConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]map[uuid.UUID]*client
	closed   bool
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, logger zerolog.Logger) *Hub {
	return &Hub{
		config: cfg,
		logger: logger.With().Str("component", "ws_hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		channels: make(map[string]map[uuid.UUID]*client),
	}
}

// Notify implements Sink. Clients whose buffer is full miss the event.
func (h *Hub) Notify(_ context.Context, event models.SiteEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.channels[event.Channel] {
		select {
		case c.send <- event:
		default:
			h.logger.Warn().
				Str("client_id", c.id.String()).
				Str("channel", event.Channel).
				Msg("client send buffer full, dropping event")
		}
	}
	return nil
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Serve upgrades the request and streams events of channel to the client
// until it disconnects or the hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:      uuid.New(),
		channel: channel,
		conn:    conn,
		send:    make(chan models.SiteEvent, h.config.SendBufferSize),
		hub:     h,
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.channels[c.channel] == nil {
		h.channels[c.channel] = make(map[uuid.UUID]*client)
	}
	h.channels[c.channel][c.id] = c
	h.logger.Debug().Str("client_id", c.id.String()).Str("channel", c.channel).Msg("client connected")
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.channels[c.channel]
	if !ok {
		return
	}
	if _, ok := clients[c.id]; !ok {
		return
	}
	delete(clients, c.id)
	if len(clients) == 0 {
		delete(h.channels, c.channel)
	}
	close(c.send)
	h.logger.Debug().Str("client_id", c.id.String()).Str("channel", c.channel).Msg("client disconnected")
}

// ClientCount returns the number of clients subscribed to channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Close disconnects every client. Later Serve calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.channels {
		for _, c := range clients {
			close(c.send)
		}
	}
	h.channels = make(map[string]map[uuid.UUID]*client)
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				c.hub.logger.Error().Err(err).Str("event", string(event.Type)).Msg("failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
