package realtime

import (
	"sync"

	"markethub/pkg/logger"
)

// ConnectionRegistry tracks live connections and their associated users
type ConnectionRegistry struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		clients: make(map[string]*Client),
	}
}

// Register adds a client. A duplicate id closes the previous connection first.
func (r *ConnectionRegistry) Register(client *Client) {
	r.mu.Lock()
	if existing, ok := r.clients[client.id]; ok && existing != client {
		logger.Get().InfoWith("connection id already registered, closing old connection", "connID", client.id)
		_ = existing.Close()
	}
	r.clients[client.id] = client
	r.mu.Unlock()
}

// SetUser associates a user identity with a connection
func (r *ConnectionRegistry) SetUser(connID, userID string) error {
	r.mu.RLock()
	client, ok := r.clients[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	client.setUserID(userID)
	return nil
}

// Unregister removes a connection. Unknown ids are a no-op.
func (r *ConnectionRegistry) Unregister(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	r.mu.Unlock()
}

// Get returns the client for a connection id
func (r *ConnectionRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[connID]
	return client, ok
}

// UserOf returns the user associated with a connection, if any
func (r *ConnectionRegistry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	client, ok := r.clients[connID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	userID := client.UserID()
	return userID, userID != ""
}

// Count returns the number of live connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns a snapshot of all live clients
func (r *ConnectionRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}
