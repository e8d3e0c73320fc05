package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

const writeTimeout = 5 * time.Second

// Client wraps a WebSocket connection of one peer node.
type Client struct {
	conn *websocket.Conn
	// gorilla connections support one concurrent writer.
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub fans invalidation events out to the peer nodes subscribed to this node.
// A peer may hold several connections (e.g. during a reconnect).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // peer node id -> set of clients
	maxPerPeer int
}

var _ foldercache.Broadcaster = (*Hub)(nil)

// NewHub creates a new Hub with a per-peer connection limit.
func NewHub(maxPerPeer int) *Hub {
	if maxPerPeer <= 0 {
		maxPerPeer = 4
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerPeer: maxPerPeer,
	}
}

// Register adds a WebSocket connection for the given peer.
// If the per-peer limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(peer string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	peerClients, ok := h.clients[peer]
	if !ok {
		peerClients = make(map[*Client]struct{})
		h.clients[peer] = peerClients
	}

	if len(peerClients) >= h.maxPerPeer {
		logrus.WithField("peer", peer).Warnf("websocket: peer exceeded max connections (%d), closing new connection", h.maxPerPeer)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this peer"),
			// Zero deadline: best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	peerClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given peer and closes the connection.
func (h *Hub) Unregister(peer string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if peerClients, ok := h.clients[peer]; ok {
		delete(peerClients, client)
		if len(peerClients) == 0 {
			delete(h.clients, peer)
		}
	}

	_ = client.conn.Close()
}

// Publish sends the event to every connected peer except the one it came from.
// Delivery is best effort: a failing connection is dropped and the event is not retried.
func (h *Hub) Publish(ev foldercache.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Error("websocket: failed to encode invalidation event")
		return
	}

	type target struct {
		peer   string
		client *Client
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for peer, peerClients := range h.clients {
		if peer == ev.Origin {
			continue
		}
		for client := range peerClients {
			targets = append(targets, target{peer: peer, client: client})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.client.write(msg); err != nil {
			logrus.WithError(err).WithField("peer", t.peer).Warn("websocket: failed to deliver invalidation event")
			go h.Unregister(t.peer, t.client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a peer.
func (h *Hub) ActiveConnections(peer string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[peer])
}

// Close drops every peer connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for peer, peerClients := range h.clients {
		for client := range peerClients {
			_ = client.conn.Close()
		}
		delete(h.clients, peer)
	}
}
