package imap

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// workerClientSet manages multiple connections for a single account.
// Uses a semaphore to limit concurrent connections (max 3 by default).
type workerClientSet struct {
	clients   []*pooledClient
	semaphore chan struct{} // Limits concurrent connections
	mu        sync.Mutex
}

// acquire gets a client from the set, blocking if at max capacity.
// Returns the client (locked) and a release function that must be called when done.
// If no client is available, returns nil and the caller should create a new one.
func (s *workerClientSet) acquire() (*pooledClient, func()) {
	// Block until a slot is available
	s.semaphore <- struct{}{}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Find an available client (not in use)
	for _, pc := range s.clients {
		// Client is available if we can acquire its lock immediately
		if pc.TryLock() {
			// Keep it locked - caller will unlock when done
			return pc, func() {
				pc.UpdateLastUsed()
				pc.Unlock()
				<-s.semaphore // Release semaphore slot
			}
		}
	}

	// No available client - caller will need to create one
	<-s.semaphore // Release semaphore slot temporarily
	return nil, func() {}
}

// addClient adds a new client to the set.
func (s *workerClientSet) addClient(pc *pooledClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, pc)
}

// remove drops pc from the set without closing it.
func (s *workerClientSet) remove(pc *pooledClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.clients {
		if c == pc {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return true
		}
	}
	return false
}

// close closes all clients in the set.
func (s *workerClientSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pc := range s.clients {
		if pc.TryLock() {
			if err := pc.GetClient().Logout(); err != nil {
				logrus.WithError(err).Debug("Failed to logout worker client")
			}
			pc.Unlock()
		} else {
			// In use: close the connection underneath the holder, whose next command fails.
			_ = pc.GetClient().Terminate()
		}
	}
	s.clients = nil
}
