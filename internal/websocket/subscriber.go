package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
)

// Subscriber keeps one WebSocket connection per peer node open and hands every received
// invalidation event to a callback. Lost connections are re-dialed with exponential backoff.
type Subscriber struct {
	peers  []string
	nodeID string
	token  string
	handle func(foldercache.Event)
	dialer *websocket.Dialer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber creates a Subscriber for the given ws:// peer URLs. nodeID is sent so peers do
// not echo this node's own events back.
func NewSubscriber(peers []string, nodeID, token string, handle func(foldercache.Event)) *Subscriber {
	return &Subscriber{
		peers:  peers,
		nodeID: nodeID,
		token:  token,
		handle: handle,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Start connects to every peer in the background.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, peer := range s.peers {
		s.wg.Add(1)
		go func(peer string) {
			defer s.wg.Done()
			s.run(ctx, peer)
		}(peer)
	}
}

// Close disconnects from all peers and waits for the background goroutines.
func (s *Subscriber) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Subscriber) run(ctx context.Context, peer string) {
	log := logrus.WithField("peer", peer)
	delay := minReconnectDelay

	for {
		connected, err := s.listen(ctx, peer)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = minReconnectDelay
		}
		log.WithError(err).WithField("retry_in", delay).Warn("websocket: invalidation stream lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// listen dials peer and reads events until the connection fails.
func (s *Subscriber) listen(ctx context.Context, peer string) (bool, error) {
	target, err := s.peerURL(peer)
	if err != nil {
		return false, err
	}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, err
	}

	defer conn.Close()
	// Unblocks ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logrus.WithField("peer", peer).Info("websocket: subscribed to invalidation stream")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var ev foldercache.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			logrus.WithError(err).WithField("peer", peer).Warn("websocket: skipping malformed invalidation event")
			continue
		}
		s.handle(ev)
	}
}

func (s *Subscriber) peerURL(peer string) (string, error) {
	u, err := url.Parse(peer)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("node", s.nodeID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
