package sink

import (
	"net/http"
	"sync"
	"time"

	"TrafficLens/internal/metrics"
	"TrafficLens/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub broadcasts events to WebSocket observers. A client whose queue is
// full is disconnected rather than slowing down the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.Named("ws-hub"),
		metrics: m,
	}
}

// ServeHTTP upgrades the request and registers the observer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueLen)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.Observers.Set(float64(n))
	h.logger.Info("Observer connected", zap.String("remote", conn.RemoteAddr().String()), zap.Int("observers", n))

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.Observers.Set(float64(n))
}

// readPump discards client messages and keeps the read deadline alive.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Info("Observer disconnected unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (h *Hub) broadcast(msg []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow observer", zap.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// PublishSnapshot implements model.Sink.
func (h *Hub) PublishSnapshot(snap model.StatsSnapshot) {
	msg, err := encodeSnapshot(snap)
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	h.broadcast(msg)
}

// PublishAnomaly implements model.Sink.
func (h *Hub) PublishAnomaly(a model.Anomaly) {
	msg, err := encodeAnomaly(a)
	if err != nil {
		h.logger.Error("Failed to encode anomaly", zap.Error(err))
		return
	}
	h.broadcast(msg)
}

// Close disconnects every observer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	h.metrics.Observers.Set(0)
}
