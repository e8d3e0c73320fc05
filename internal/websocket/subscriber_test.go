package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"go.uber.org/goleak"
)

type eventLog struct {
	mu     sync.Mutex
	events []foldercache.Event
}

func (l *eventLog) add(ev foldercache.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []foldercache.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]foldercache.Event(nil), l.events...)
}

func TestSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(4)
	var gotNode, gotAuth string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotNode = r.URL.Query().Get("node")
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		client := hub.Register(gotNode, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unregister(gotNode, client)
				return
			}
		}
	}))

	log := &eventLog{}
	peer := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/cache/events"
	sub := NewSubscriber([]string{peer}, "node-a", "secret", log.add)
	sub.Start(context.Background())

	waitForConnections(t, hub, "node-a", 1)
	hub.Publish(foldercache.Event{Region: foldercache.Region, UserID: "alice", ContextID: 1, Key: "1/alice", Origin: "node-b"})

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1/alice", log.snapshot()[0].Key)

	mu.Lock()
	assert.Equal(t, "node-a", gotNode)
	assert.Equal(t, "Bearer secret", gotAuth)
	mu.Unlock()

	sub.Close()
	hub.Close()
	server.Close()
}

func TestSubscriber_CloseWhileUnreachable(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := NewSubscriber([]string{"ws://127.0.0.1:1/api/v1/cache/events"}, "node-a", "", func(foldercache.Event) {})
	sub.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestSubscriber_PeerURL(t *testing.T) {
	sub := NewSubscriber(nil, "node a", "", nil)

	got, err := sub.peerURL("ws://node-b:11764/api/v1/cache/events?x=1")
	require.NoError(t, err)
	assert.Equal(t, "ws://node-b:11764/api/v1/cache/events?node=node+a&x=1", got)
}
