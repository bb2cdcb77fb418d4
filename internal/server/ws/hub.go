package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen the
// positions it follows. Positions are position keys; Channels are raw bus
// channel names.
type subscribeMsg struct {
	Action    string   `json:"action"` // "subscribe" or "unsubscribe"
	Positions []string `json:"positions"`
	Channels  []string `json:"channels"`
}

// Hub relays recomputed position graphs from the signal bus to connected
// WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries a message along with the channel it belongs to so the
// hub can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a new WebSocket hub that bridges a SignalBus to connected
// WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration and message broadcasting, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	go h.subscribe(ctx, domain.SeriesPattern)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe follows a bus pattern and forwards every payload to the
// broadcast loop, tagged with the position channel it concerns.
func (h *Hub) subscribe(ctx context.Context, pattern string) {
	msgCh, err := h.bus.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", pattern),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", pattern),
				)
				return
			}
			channel, ok := seriesChannelOf(data)
			if !ok {
				h.logger.Warn("ws: unroutable series payload")
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// seriesChannelOf extracts the position key of a series update payload and
// returns the channel it was published on.
func seriesChannelOf(data []byte) (string, bool) {
	var probe struct {
		Graphs struct {
			Key string `json:"key"`
		} `json:"graphs"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	key, err := domain.ParsePositionKey(probe.Graphs.Key)
	if err != nil {
		return "", false
	}
	return domain.SeriesChannel(key), true
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients follow every position until they send a
// subscribe message. A ?position=<key> query narrows the initial set.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	initial := r.URL.Query()["position"]
	if len(initial) == 0 {
		c.subs[domain.SeriesPattern] = true
	} else {
		c.handleSubscription(subscribeMsg{Action: "subscribe", Positions: initial})
	}

	if !h.join(c) {
		conn.Close()
		return
	}
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// join hands c to the event loop. It reports false once the hub has
// stopped.
func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave removes c from the event loop. After Run returns it is a no-op.
func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the
// client. The first explicit subscribe replaces the follow-everything
// default. Malformed position keys are ignored.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := append([]string(nil), msg.Channels...)
	for _, p := range msg.Positions {
		key, err := domain.ParsePositionKey(p)
		if err != nil {
			continue
		}
		channels = append(channels, domain.SeriesChannel(key))
	}

	switch msg.Action {
	case "subscribe":
		if len(channels) > 0 {
			delete(c.subs, domain.SeriesPattern)
		}
		for _, ch := range channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range channels {
			delete(c.subs, ch)
		}
	}
}

// sendInitialStatus pushes a small JSON envelope so clients can mark the
// connection healthy before any series update arrives.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"event": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
			"subscriptions":  c.subscriptions(),
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	// Wildcard match: "series:*" matches "series:10-0xabc-1".
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}

	return false
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
