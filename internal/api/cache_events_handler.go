package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/auth"
	ws "github.com/vdavid/mailfolders/internal/websocket"
)

// CacheEventsHandler handles the /api/v1/cache/events endpoint. Peer nodes subscribe to it to
// receive folder cache invalidations published by this node.
type CacheEventsHandler struct {
	hub *ws.Hub
	// token is the shared peer secret. When empty, any token ValidateToken accepts will do.
	token string
}

// NewCacheEventsHandler creates a new CacheEventsHandler instance.
func NewCacheEventsHandler(hub *ws.Hub, token string) *CacheEventsHandler {
	return &CacheEventsHandler{
		hub:   hub,
		token: token,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Peers are other server nodes, not browsers.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub under the
// peer's node id (?node=...). The token is read from the ?token= query parameter or from the
// Authorization header.
func (h *CacheEventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
			token = strings.TrimSpace(strings.Join(fields[1:], " "))
		}
	}

	if !h.authorized(token) {
		logrus.Debug("CacheEventsHandler: Peer token rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	node := r.URL.Query().Get("node")
	if node == "" {
		http.Error(w, "node is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("peer", node).Warn("CacheEventsHandler: Failed to upgrade connection")
		return
	}

	client := h.hub.Register(node, conn)
	if client == nil {
		return
	}
	logrus.WithField("peer", node).Info("CacheEventsHandler: Peer subscribed")

	go h.readLoop(node, client)
}

func (h *CacheEventsHandler) authorized(token string) bool {
	if token == "" {
		return false
	}
	if h.token == "" {
		_, err := auth.ValidateToken(token)
		return err == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

// readLoop drains the connection until the peer goes away, then unregisters it.
// Peers never send anything meaningful; reading is what notices a closed connection.
func (h *CacheEventsHandler) readLoop(node string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(node, client)
	logrus.WithField("peer", node).Debug("CacheEventsHandler: Peer unsubscribed")
}
