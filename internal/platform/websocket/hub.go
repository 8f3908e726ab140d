// Package websocket pushes bus events to browser clients. Each client
// names the topics it wants (people it manages, cases it watches) and
// receives every event published to them.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/events"
)

// ClientMessage is an inbound request from a connected client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected listener. Its bus subscriptions are created
// and torn down as it subscribes and unsubscribes; everything funnels
// into one outbound channel so the write pump stays single-threaded.
type Client struct {
	ID   string
	send chan []byte
	bus  *events.Bus

	mu   sync.Mutex
	subs map[string]*events.Subscription
	done chan struct{}
}

func newClient(bus *events.Bus) *Client {
	return &Client{
		ID:   uuid.New().String(),
		send: make(chan []byte, 256),
		bus:  bus,
		subs: make(map[string]*events.Subscription),
		done: make(chan struct{}),
	}
}

// Subscribe attaches the client to topics it is not yet on.
func (c *Client) Subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		if _, ok := c.subs[topic]; ok {
			continue
		}
		sub := c.bus.Subscribe(topic)
		c.subs[topic] = sub
		go c.forward(sub)
	}
}

// Unsubscribe detaches the client from topics.
func (c *Client) Unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		if sub, ok := c.subs[topic]; ok {
			sub.Cancel()
			delete(c.subs, topic)
		}
	}
}

// Topics returns the client's current subscriptions.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

func (c *Client) forward(sub *events.Subscription) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
				// Slow client; drop rather than block the bus.
			}
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	for topic, sub := range c.subs {
		sub.Cancel()
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		c.Subscribe(msg.Topics)
	case "unsubscribe":
		c.Unsubscribe(msg.Topics)
	}
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections and pumps events to clients.
type Handler struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewHandler(bus *events.Bus, logger zerolog.Logger) *Handler {
	return &Handler{bus: bus, logger: logger, clients: make(map[string]*Client)}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := newClient(h.bus)
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.logger.Debug().Str("client_id", client.ID).Msg("websocket client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		h.mu.Unlock()
		client.close()
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		client.handleMessage(msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for {
		select {
		case <-client.done:
			return
		case message := <-client.send:
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}
