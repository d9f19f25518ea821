package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sendBuffer = 64

// Conn is one editor WebSocket connection.
type Conn struct {
	ID   string
	ws   *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

func (c *Conn) write(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(messageType, data)
}

type directMessage struct {
	conn *Conn
	data []byte
}

// Hub tracks editor connections and fans messages out to them. Every
// mutation goes through Run's loop, which alone closes send channels.
type Hub struct {
	log        *slog.Logger
	conns      map[string]*Conn
	register   chan *Conn
	unregister chan *Conn
	broadcast  chan []byte
	direct     chan directMessage
	count      chan chan int
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub returns a Hub; call Run to start it.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		conns:      make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage, 256),
		count:      make(chan chan int),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until Stop, then closes every connection's send
// channel.
func (h *Hub) Run() {
	defer close(h.done)
	defer func() {
		for id, c := range h.conns {
			h.drop(id, c)
		}
	}()
	for {
		select {
		case <-h.stop:
			return
		case c := <-h.register:
			h.conns[c.ID] = c
			h.log.Debug("editor connected", "conn", c.ID)
		case c := <-h.unregister:
			if _, ok := h.conns[c.ID]; ok {
				h.drop(c.ID, c)
				h.log.Debug("editor disconnected", "conn", c.ID)
			}
		case data := <-h.broadcast:
			for id, c := range h.conns {
				h.deliver(id, c, data)
			}
		case m := <-h.direct:
			if _, ok := h.conns[m.conn.ID]; ok {
				h.deliver(m.conn.ID, m.conn, m.data)
			}
		case reply := <-h.count:
			reply <- len(h.conns)
		}
	}
}

func (h *Hub) deliver(id string, c *Conn, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn("editor too slow, dropping connection", "conn", id)
		h.drop(id, c)
	}
}

func (h *Hub) drop(id string, c *Conn) {
	delete(h.conns, id)
	close(c.send)
}

// Stop ends Run and waits for it to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) newConn(ws *websocket.Conn) *Conn {
	return &Conn{ID: uuid.NewString(), ws: ws, send: make(chan []byte, sendBuffer)}
}

// Register adds c. It returns false if the hub has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its send channel.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues data for every connection.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// SendTo queues data for a single connection.
func (h *Hub) SendTo(c *Conn, data []byte) {
	select {
	case h.direct <- directMessage{c, data}:
	case <-h.done:
	}
}

// Count returns the number of live connections, or 0 once the hub has
// stopped.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
