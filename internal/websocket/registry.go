package websocket

import (
	"sync"
)

// Registry tracks every open socket, registered or not, so the server can
// report connection counts and close everything on shutdown. Who a socket
// belongs to is the presence registry's concern.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

func (r *Registry) Add(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	r.connections[conn.ID()] = conn
	r.mu.Unlock()
	return nil
}

// Remove is idempotent.
func (r *Registry) Remove(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	if existing, ok := r.connections[conn.ID()]; ok && existing == conn {
		delete(r.connections, conn.ID())
	}
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every tracked socket. Read pumps observe the close and
// run their own disconnect cleanup.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
