package daemon

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vinscan/internal/api"
	"vinscan/internal/logging"
	"vinscan/internal/scanner"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Broadcaster fans scanner events out to websocket subscribers. Slow
// subscribers are disconnected rather than allowed to block publishers.
type Broadcaster struct {
	logger   *slog.Logger
	snapshot func() *scanner.Status

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewBroadcaster builds a broadcaster. snapshot, when set, seeds each new
// subscriber with the current session status.
func NewBroadcaster(logger *slog.Logger, snapshot func() *scanner.Status) *Broadcaster {
	return &Broadcaster{
		logger:   logging.NewComponentLogger(logger, "stream"),
		snapshot: snapshot,
		clients:  make(map[*client]struct{}),
	}
}

// AddClient registers conn and sends it a hello frame.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	hello := api.StreamMessage{Type: api.StreamHello, Time: time.Now().UTC().Format(time.RFC3339Nano)}
	if b.snapshot != nil {
		if st := b.snapshot(); st != nil && st.Session != nil {
			ss := api.FromSessionStatus(*st.Session)
			hello.Status = &ss
		}
	}
	data, err := json.Marshal(hello)

	c := newClient(conn)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return c
	}
	b.clients[c] = struct{}{}
	if err == nil {
		c.send <- data
	}
	return c
}

// RemoveClient unregisters c and closes its connection.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Publish implements scanner.Publisher.
func (b *Broadcaster) Publish(event scanner.Event) {
	b.broadcast(api.FromEvent(event))
}

func (b *Broadcaster) broadcast(msg api.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("stream marshal failed", logging.Error(err))
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("stream subscriber too slow, disconnecting",
			logging.String(logging.FieldEventType, "stream_client_dropped"),
		)
		b.RemoveClient(c)
	}
}

// ClientCount reports connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
