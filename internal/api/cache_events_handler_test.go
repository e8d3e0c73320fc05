package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/foldercache"
	ws "github.com/vdavid/mailfolders/internal/websocket"
)

func TestCacheEventsHandler(t *testing.T) {
	hub := ws.NewHub(2)
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(NewCacheEventsHandler(hub, "peer-secret").Handle))
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http")

	t.Run("rejects bad requests", func(t *testing.T) {
		tests := []struct {
			name   string
			query  string
			header http.Header
			code   int
		}{
			{"no token", "?node=node-b", nil, http.StatusUnauthorized},
			{"wrong token", "?node=node-b&token=guess", nil, http.StatusUnauthorized},
			{"wrong bearer", "?node=node-b", http.Header{"Authorization": {"Bearer guess"}}, http.StatusUnauthorized},
			{"no node", "?token=peer-secret", nil, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, resp, err := websocket.DefaultDialer.Dial(base+tt.query, tt.header)
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, tt.code, resp.StatusCode)
			})
		}
	})

	t.Run("delivers events to subscribed peers", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(base+"?node=node-b", http.Header{"Authorization": {"Bearer peer-secret"}})
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.Eventually(t, func() bool { return hub.ActiveConnections("node-b") == 1 }, 2*time.Second, 10*time.Millisecond)

		accountID := 0
		hub.Publish(foldercache.Event{Region: foldercache.Region, UserID: "alice", ContextID: 1, AccountID: &accountID, Key: "1/alice/0", Origin: "node-a"})

		var ev foldercache.Event
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "1/alice/0", ev.Key)
		require.NotNil(t, ev.AccountID)
		assert.Equal(t, 0, *ev.AccountID)
	})

	t.Run("unregisters peers that disconnect", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"?node=node-c&token=peer-secret", nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return hub.ActiveConnections("node-c") == 1 }, 2*time.Second, 10*time.Millisecond)

		_ = conn.Close()
		assert.Eventually(t, func() bool { return hub.ActiveConnections("node-c") == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestCacheEventsHandler_WithoutSharedToken(t *testing.T) {
	handler := NewCacheEventsHandler(ws.NewHub(1), "")

	assert.False(t, handler.authorized(""))
	assert.True(t, handler.authorized("any-token"))
}
