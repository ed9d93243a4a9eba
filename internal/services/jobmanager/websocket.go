package jobmanager

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// JobWSHub fans job events out to connected WebSocket clients.
type JobWSHub struct {
	clients    map[*JobWSClient]bool
	broadcast  chan models.JobEvent
	register   chan *JobWSClient
	unregister chan *JobWSClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *common.Logger
}

// JobWSClient represents a connected WebSocket client.
type JobWSClient struct {
	hub  *JobWSHub
	conn *websocket.Conn
	send chan []byte
}

// NewJobWSHub creates a new WebSocket hub.
func NewJobWSHub(logger *common.Logger) *JobWSHub {
	return &JobWSHub{
		clients:    make(map[*JobWSClient]bool),
		broadcast:  make(chan models.JobEvent, wsSendBuffer),
		register:   make(chan *JobWSClient),
		unregister: make(chan *JobWSClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Reset reopens a stopped hub. It must not be called while Run is active.
func (h *JobWSHub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		h.done = make(chan struct{})
	default:
	}
}

func (h *JobWSHub) doneChan() chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}

// Run is the hub's event loop; it returns after Stop.
func (h *JobWSHub) Run() {
	done := h.doneChan()
	for {
		select {
		case <-done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", n).Msg("WebSocket client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("Failed to marshal job event")
				continue
			}
			h.fanOut(data)
		}
	}
}

// fanOut delivers data to every client, dropping clients whose buffer is full.
func (h *JobWSHub) fanOut(data []byte) {
	h.mu.RLock()
	var slow []*JobWSClient
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
	h.logger.Warn().Int("dropped", len(slow)).Msg("Dropped slow WebSocket clients")
}

func (h *JobWSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Stop signals the hub's event loop to exit.
func (h *JobWSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast queues a job event for all connected clients without blocking.
func (h *JobWSHub) Broadcast(event models.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("type", event.Type).Msg("WebSocket broadcast channel full, dropping event")
	}
}

// ServeWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *JobWSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &JobWSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.doneChan():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *JobWSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends queued events and keepalive pings to the connection.
func (c *JobWSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so close frames and pongs are processed.
func (c *JobWSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.doneChan():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
