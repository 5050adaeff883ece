package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/logging"
)

const writeTimeout = 5 * time.Second

// Event is one receiver status update as published to bridge clients.
type Event struct {
	Host    string `json:"host"`
	Zone    string `json:"zone"`
	Command string `json:"command"`
	Value   any    `json:"value"`
}

// Bridge fans receiver updates out to WebSocket subscribers. Home
// automation systems subscribe here instead of speaking eISCP
// themselves.
type Bridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

// New builds an empty bridge.
func New() *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are local automation processes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and registers the client for events.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[conn] = true
	count := len(b.clients)
	b.mu.Unlock()

	logging.Info("Bridge client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", count))

	// Subscribers only listen; the read loop exists to notice the close.
	go b.readUntilClose(conn)
}

func (b *Bridge) readUntilClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.drop(conn)
}

func (b *Bridge) drop(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close()
}

// Publish sends an event to every subscriber. Clients that fail the
// write are dropped.
func (b *Bridge) Publish(ev Event) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logging.Debug("Dropping bridge client",
				zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			b.drop(conn)
		}
	}
}

// PublishUpdate publishes a translated receiver update.
func (b *Bridge) PublishUpdate(host string, u commands.Update) {
	b.Publish(Event{Host: host, Zone: u.Zone, Command: u.Command, Value: u.Value})
}

// ClientCount returns the number of connected subscribers.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects all subscribers and rejects new ones.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.clients = make(map[*websocket.Conn]bool)
	b.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
	}
}
