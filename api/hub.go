package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viktsys/marketcache/models"
	"go.uber.org/zap"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// StockUpdate is the message pushed to websocket clients for every live batch.
type StockUpdate struct {
	Type string                  `json:"type"`
	Data map[string]models.Quote `json:"data"`
}

func newStockUpdate(quotes []models.Quote) StockUpdate {
	data := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		data[q.Symbol] = q
	}
	return StockUpdate{Type: "stock_update", Data: data}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	out  chan StockUpdate
}

// Hub broadcasts quote batches to websocket clients. It satisfies
// publish.Publisher so the live feed can fan out to it directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	// greeting returns the quotes sent to a client right after it connects.
	greeting func() map[string]models.Quote
	log      *zap.Logger
}

// NewHub builds a hub. greeting may be nil.
func NewHub(greeting func() map[string]models.Quote, log *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[*client]struct{}),
		greeting: greeting,
		log:      log.Named("hub"),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish never blocks: a client whose buffer is full misses the batch.
func (h *Hub) Publish(_ context.Context, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	msg := newStockUpdate(quotes)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
			h.log.Debug("dropping update for slow client", zap.String("remote", c.conn.RemoteAddr().String()))
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.out)
		delete(h.clients, c)
	}
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.out)
		delete(h.clients, c)
	}
}

// ServeWS upgrades the request and streams updates until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, out: make(chan StockUpdate, clientBuffer)}
	if h.greeting != nil {
		if quotes := h.greeting(); len(quotes) > 0 {
			c.out <- StockUpdate{Type: "stock_update", Data: quotes}
		}
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound messages and keeps the read deadline fresh.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
