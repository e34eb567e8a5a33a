// README: WebSocket hub holding this process's push connections.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
	registryWait   = 5 * time.Second
)

// EventHeartbeat is the client message that keeps presence (and a driver's online flag) alive.
const EventHeartbeat = "heartbeat"

// Heartbeater re-arms a user's online flag; riders are expected to be ignored.
type Heartbeater interface {
	Heartbeat(ctx context.Context, userID types.ID) error
}

type client struct {
	id     string
	userID types.ID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

type Hub struct {
	registry presence.Registry
	drivers  Heartbeater
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	// pingEvery is how often the write pump pings; each pong refreshes presence.
	pingEvery time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(registry presence.Registry, drivers Heartbeater, log logrus.FieldLogger) *Hub {
	return &Hub{
		registry: registry,
		drivers:  drivers,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[string]*client),
		pingEvery: pingPeriod,
	}
}

// Serve upgrades the request and registers the connection for userID. The pumps keep
// running after Serve returns.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID types.ID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryWait)
	defer cancel()
	if err := h.registry.AddConnection(ctx, userID, c.id); err != nil {
		_ = conn.Close()
		return err
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.PresenceConnections.Inc()
	h.log.WithFields(logrus.Fields{"user_id": userID, "handle": c.id}).Info("push connection opened")

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) Deliver(handleID string, msg []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[handleID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		h.log.WithFields(logrus.Fields{"user_id": c.userID, "handle": c.id}).Warn("send buffer full")
		return false
	}
}

// Connections returns the number of handles held by this hub.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	c.once.Do(func() {
		close(c.done)
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		metrics.PresenceConnections.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), registryWait)
		defer cancel()
		if err := h.registry.RemoveConnection(ctx, c.userID, c.id); err != nil {
			h.log.WithError(err).WithField("user_id", c.userID).Warn("remove presence")
		}
		_ = c.conn.Close()
		h.log.WithFields(logrus.Fields{"user_id": c.userID, "handle": c.id}).Info("push connection closed")
	})
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		h.refreshPresence(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("user_id", c.userID).Debug("push connection read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.Event == EventHeartbeat {
			h.heartbeat(c)
		}
	}
}

func (h *Hub) refreshPresence(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), registryWait)
	defer cancel()
	if err := h.registry.Refresh(ctx, c.userID); err != nil {
		h.log.WithError(err).WithField("user_id", c.userID).Warn("refresh presence")
	}
}

func (h *Hub) heartbeat(c *client) {
	h.refreshPresence(c)
	ctx, cancel := context.WithTimeout(context.Background(), registryWait)
	defer cancel()
	if err := h.drivers.Heartbeat(ctx, c.userID); err != nil {
		h.log.WithError(err).WithField("user_id", c.userID).Warn("driver heartbeat")
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingEvery)
	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
